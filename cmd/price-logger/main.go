// Command price-logger connects to every configured venue and records
// every quote to disk via internal/recorder, without running the
// detector, risk gate, or order router. It exists to build the
// historical quote archive backtest later replays.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/taku247/omg-tool/internal/config"
	"github.com/taku247/omg-tool/internal/ingestion"
	"github.com/taku247/omg-tool/internal/pricecache"
	"github.com/taku247/omg-tool/internal/recorder"
	"github.com/taku247/omg-tool/internal/venue"
	"github.com/taku247/omg-tool/pkg/types"
)

var venueKeys = map[string]types.VenueId{
	"hyperliquid": types.Hyperliquid,
	"bybit":       types.Bybit,
	"binance":     types.Binance,
	"gate":        types.Gateio,
	"bitget":      types.Bitget,
	"kucoin":      types.KuCoin,
}

func main() {
	var (
		symbolsFlag  = pflag.StringSlice("symbols", nil, "symbols to record, e.g. BTC,ETH (required)")
		exchangesArg = pflag.StringSlice("exchanges", nil, "venues to record from (default: all configured)")
		intervalSec  = pflag.Int("interval", 0, "accepted but ignored: adapters always stream continuously")
		compress     = pflag.Bool("compress", false, "gzip-compress the CSV output")
		logLevel     = pflag.String("log-level", "info", "log level (debug|info|warn|error)")
	)
	pflag.Parse()

	opts := &slog.HandlerOptions{Level: parseLogLevel(*logLevel)}
	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ARB_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}

	symbols := make([]types.SymbolId, 0, len(*symbolsFlag))
	for _, s := range *symbolsFlag {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, types.SymbolId(strings.ToUpper(s)))
		}
	}
	if len(symbols) == 0 {
		logger.Error("--symbols is required")
		os.Exit(1)
	}
	symbolTable := make(map[string]types.SymbolId, len(symbols))
	for _, s := range symbols {
		symbolTable[string(s)] = s
	}

	wanted := *exchangesArg
	adapters := make(map[types.VenueId]venue.Adapter)
	for key, exCfg := range cfg.Exchanges {
		key = strings.ToLower(key)
		if len(wanted) > 0 && !containsFold(wanted, key) {
			continue
		}
		v, ok := venueKeys[key]
		if !ok {
			logger.Warn("unrecognized exchange key, skipping", "key", key)
			continue
		}
		fees := cfg.FeesFor(key)
		defaultFees := types.Fees{
			MakerBps: decimal.NewFromFloat(fees.Maker),
			TakerBps: decimal.NewFromFloat(fees.Taker),
		}
		adapters[v] = venue.NewHyperliquidAdapter(v, exCfg, symbolTable, defaultFees, logger)
	}
	if len(adapters) == 0 {
		logger.Error("no venues to record from; check configs/config.yaml exchanges or --exchanges")
		os.Exit(1)
	}

	outputDir := cfg.PriceLogger.OutputDir
	if outputDir == "" {
		outputDir = "data/price_logs"
	}
	recCfg := recorder.DefaultConfig(outputDir)
	recCfg.Compress = *compress || cfg.PriceLogger.Compress
	if cfg.PriceLogger.PriceChangeThreshold > 0 {
		recCfg.DeltaThresh = decimal.NewFromFloat(cfg.PriceLogger.PriceChangeThreshold)
	}
	rec := recorder.New(recCfg)
	defer rec.Close()

	cache := pricecache.New()
	hub := ingestion.New(logger, ingestion.DefaultQueueSize)

	ctx, cancel := context.WithCancel(context.Background())
	for v, adapter := range adapters {
		hub.Add(ctx, v, adapter, symbols)
	}

	go func() {
		for q := range hub.Subscribe() {
			if !cache.Update(q) {
				continue
			}
			if err := rec.Record(q); err != nil {
				logger.Warn("failed to record quote", "venue", q.Venue, "symbol", q.Symbol, "error", err)
			}
		}
	}()

	if *intervalSec > 0 {
		logger.Info("polling interval configured but ignored: adapters stream continuously", "interval_sec", *intervalSec)
	}

	logger.Info("price logger started", "venues", len(adapters), "symbols", len(symbols), "output_dir", outputDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	hub.Stop(ingestion.DefaultShutdownGrace)
	if err := rec.Close(); err != nil {
		logger.Error("failed to close recorder cleanly", "error", err)
	}
}

func containsFold(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), want) {
			return true
		}
	}
	return false
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

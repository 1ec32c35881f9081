// Command monitor runs the live arbitrage engine: it connects every
// configured venue, detects cross-venue spreads, and opens/closes
// positions under the risk gate, optionally serving a live dashboard.
//
// Architecture:
//
//	main.go                 — entry point: loads config, starts the engine, waits for SIGINT/SIGTERM
//	internal/engine          — orchestrator: wires cache/hub/detector/risk/router/manager
//	internal/venue           — per-exchange REST+WS adapters
//	internal/ingestion       — reconnect-supervised quote fan-out
//	internal/detector        — cross-venue spread scanner
//	internal/risk            — ordered validation gate + exposure bookkeeping
//	internal/position        — position lifecycle state machine
//	internal/orderrouter     — idempotent order submission + lifecycle monitor
//	internal/monitorapi      — optional HTTP/WebSocket operator dashboard
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/taku247/omg-tool/internal/config"
	"github.com/taku247/omg-tool/internal/engine"
	"github.com/taku247/omg-tool/internal/monitorapi"
	"github.com/taku247/omg-tool/internal/venue"
	"github.com/taku247/omg-tool/pkg/types"
)

// venueKeys maps a config.Exchanges key to its canonical VenueId.
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
		symbolsFlag  = pflag.StringSlice("symbols", nil, "symbols to trade, e.g. BTC,ETH (required)")
		durationFlag = pflag.Int("duration", 0, "run for N seconds then shut down (0 = run until signal)")
		logLevel     = pflag.String("log-level", "", "override configured log level (debug|info|warn|error)")
		dataDir      = pflag.String("data-dir", "", "directory for position/risk persistence (empty disables it)")
		profile      = pflag.String("profile", "", "named arbitrage threshold profile (conservative|aggressive|test)")
	)
	pflag.Parse()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ARB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	levelName := cfg.Logging.Level
	if *logLevel != "" {
		levelName = *logLevel
	}
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(levelName)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	symbols := resolveSymbols(*symbolsFlag)
	if len(symbols) < 1 {
		logger.Error("no symbols given; pass --symbols")
		os.Exit(1)
	}

	symbolTable := make(map[string]types.SymbolId, len(symbols))
	for _, s := range symbols {
		symbolTable[string(s)] = s
	}

	adapters := make(map[types.VenueId]venue.Adapter, len(cfg.Exchanges))
	for key, exCfg := range cfg.Exchanges {
		v, ok := venueKeys[strings.ToLower(key)]
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
	if len(adapters) < 2 {
		logger.Error("at least two venues must be configured for cross-venue arbitrage", "configured", len(adapters))
		os.Exit(1)
	}

	eng, err := engine.New(*cfg, engine.Dependencies{
		Adapters: adapters,
		Symbols:  symbols,
		DataDir:  *dataDir,
		Profile:  *profile,
	}, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var dashboard *monitorapi.Server
	if cfg.Dashboard.Enabled {
		dashboard = monitorapi.NewServer(cfg.Dashboard, eng, *cfg, logger)
		go func() {
			if err := dashboard.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	eng.Start()

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("arbitrage monitor started", "venues", len(adapters), "symbols", len(symbols), "dry_run", cfg.DryRun)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var timeout <-chan time.Time
	if *durationFlag > 0 {
		timeout = time.After(time.Duration(*durationFlag) * time.Second)
	}

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-timeout:
		logger.Info("duration elapsed, shutting down")
	}

	if dashboard != nil {
		if err := dashboard.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}
	eng.Stop()
}

// resolveSymbols normalizes the operator-supplied --symbols flag. This
// system has no market-discovery step, so the operator must name symbols
// explicitly; an empty result is rejected by the caller.
func resolveSymbols(explicit []string) []types.SymbolId {
	out := make([]types.SymbolId, 0, len(explicit))
	for _, s := range explicit {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, types.SymbolId(strings.ToUpper(s)))
		}
	}
	return out
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

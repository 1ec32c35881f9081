// Command backtest replays recorded quote history through the same
// detector/risk/position pipeline the live monitor uses, filling every
// order instantly at the replayed price adjusted by a fixed slippage
// assumption, and prints a PnL report at the end.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/taku247/omg-tool/internal/config"
	"github.com/taku247/omg-tool/internal/detector"
	"github.com/taku247/omg-tool/internal/orderrouter"
	"github.com/taku247/omg-tool/internal/position"
	"github.com/taku247/omg-tool/internal/pricecache"
	"github.com/taku247/omg-tool/internal/recorder"
	"github.com/taku247/omg-tool/internal/risk"
	"github.com/taku247/omg-tool/internal/venue"
	"github.com/taku247/omg-tool/pkg/types"
)

const dateLayout = "2006-01-02"

func main() {
	var (
		dataDir     = pflag.String("data-dir", "data/price_logs", "directory of recorded quote logs")
		startFlag   = pflag.String("start", "", "replay window start, YYYY-MM-DD (required)")
		endFlag     = pflag.String("end", "", "replay window end, YYYY-MM-DD (required)")
		symbolsFlag = pflag.StringSlice("symbols", nil, "symbols to replay (default: all recorded)")
		feeFlag     = pflag.Float64("fee", 0.0006, "flat taker fee rate applied to every simulated fill")
		slipFlag    = pflag.Float64("slippage", 0.0005, "flat slippage fraction applied against the taker on each fill")
		minSpread   = pflag.Float64("min-spread", 0.005, "minimum gross spread fraction the detector requires")
		exitPct     = pflag.Float64("exit", 0.001, "spread convergence fraction that triggers a close")
		maxPosUSD   = pflag.Float64("max-position", 5000, "maximum USD notional per position")
		minProfit   = pflag.Float64("min-profit", 5, "minimum expected USD profit the detector requires")
		logLevel    = pflag.String("log-level", "warn", "log level (debug|info|warn|error)")
	)
	pflag.Parse()

	opts := &slog.HandlerOptions{Level: parseLogLevel(*logLevel)}
	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))

	if *startFlag == "" || *endFlag == "" {
		logger.Error("--start and --end are required, format YYYY-MM-DD")
		os.Exit(1)
	}
	start, err := time.Parse(dateLayout, *startFlag)
	if err != nil {
		logger.Error("invalid --start", "error", err)
		os.Exit(1)
	}
	end, err := time.Parse(dateLayout, *endFlag)
	if err != nil {
		logger.Error("invalid --end", "error", err)
		os.Exit(1)
	}
	end = end.Add(24 * time.Hour)

	symbols := make([]types.SymbolId, 0, len(*symbolsFlag))
	for _, s := range *symbolsFlag {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, types.SymbolId(strings.ToUpper(s)))
		}
	}

	fee := decimal.NewFromFloat(*feeFlag)
	riskCfg := config.RiskConfig{
		MaxPositionSize:     *maxPosUSD,
		MaxTotalExposure:    *maxPosUSD * 20,
		MaxPositionsPerSym:  5,
		MaxTotalPositions:   20,
		MaxSlippagePct:      *slipFlag * 100 * 4,
		MinNetSpread:        0,
		MaxPositionDuration: 24 * 3600,
		CooldownPeriod:      0,
		MaxDailyLoss:        *maxPosUSD * 50,
		MaxDrawdown:         *maxPosUSD * 50,
		StopLossPct:         *slipFlag * 100 * 10,
		MaxExchangeExposure: *maxPosUSD * 20,
		MinExchangeBalance:  0,
	}

	cache := pricecache.New()
	det := detector.New(detector.Config{
		MinSpreadPct:    decimal.NewFromFloat(*minSpread * 100),
		MaxPositionSize: decimal.NewFromFloat(*maxPosUSD),
		MinProfitUsd:    decimal.NewFromFloat(*minProfit),
	}, cache)
	gate := risk.New(riskCfg)

	adapters := make(map[types.VenueId]venue.Adapter)
	sim := newSimRegistry(fee, *slipFlag)
	feesByVenue := make(map[types.VenueId]decimal.Decimal)
	for _, v := range []types.VenueId{types.Hyperliquid, types.Bybit, types.Binance, types.Gateio, types.Bitget, types.KuCoin} {
		adapters[v] = sim.adapterFor(v)
		feesByVenue[v] = fee
	}
	router := orderrouter.New(adapters, logger)

	posCfg := position.FromRiskConfig(riskCfg)
	posCfg.ExitTargetPct = decimal.NewFromFloat(*exitPct * 100)
	manager := position.New(posCfg, router, cache, feesByVenue, logger)

	balances := risk.Balances{}
	for _, v := range []types.VenueId{types.Hyperliquid, types.Bybit, types.Binance, types.Gateio, types.Bitget, types.KuCoin} {
		balances[v] = map[string]types.Balance{
			"USDT": {Asset: "USDT", Free: decimal.NewFromFloat(*maxPosUSD * 100)},
		}
	}

	replayer := recorder.NewReplayer(recorder.ReplayConfig{
		Dir:     *dataDir,
		From:    start,
		To:      end,
		Symbols: symbols,
		Speed:   recorder.SpeedMax,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runErr error
	var runWg sync.WaitGroup
	runWg.Add(1)
	go func() {
		defer runWg.Done()
		runErr = replayer.Run(ctx)
	}()

	var processed int
	var now time.Time
	for q := range replayer.Quotes() {
		now = q.Time()
		sim.observe(q)
		if !cache.Update(q) {
			continue
		}
		processed++

		for _, pos := range manager.ActivePositions() {
			live, ok := manager.Get(pos.ID)
			if !ok {
				continue
			}
			if reason, should := manager.ShouldClose(live, now); should {
				if err := manager.Close(ctx, live, reason); err != nil {
					logger.Warn("simulated close failed", "position", live.ID, "error", err)
				} else {
					gate.Closed(live)
				}
			}
		}

		for _, opp := range det.OnQuote(q.Symbol) {
			// Simulated venues also hold ample base-asset inventory, so the
			// sell leg passes the sufficient-balance rule.
			for _, v := range []types.VenueId{opp.BuyVenue, opp.SellVenue} {
				if _, ok := balances[v][string(opp.Symbol)]; !ok {
					balances[v][string(opp.Symbol)] = types.Balance{Asset: string(opp.Symbol), Free: decimal.NewFromFloat(*maxPosUSD * 100)}
				}
			}
			active := manager.ActivePositions()
			if ok, _ := gate.Validate(opp, active, balances, now); !ok {
				continue
			}
			pos, err := manager.Open(ctx, opp)
			if err != nil {
				logger.Warn("simulated open failed", "symbol", opp.Symbol, "error", err)
				continue
			}
			gate.Opened(pos)
		}
	}
	runWg.Wait()
	if runErr != nil {
		logger.Error("replay failed", "error", runErr)
		os.Exit(1)
	}

	for _, pos := range manager.CloseAll(ctx) {
		gate.Closed(pos)
	}

	printReport(manager.Snapshot(), processed, start, end)
}

func printReport(positions []*types.ArbitragePosition, quotesProcessed int, start, end time.Time) {
	var closed, open int
	var realized, fees decimal.Decimal
	var wins int
	for _, p := range positions {
		if p.Status == types.PositionClosed {
			closed++
			realized = realized.Add(p.RealizedPnl)
			fees = fees.Add(p.FeesPaid)
			if p.RealizedPnl.IsPositive() {
				wins++
			}
		} else if p.IsOpen() {
			open++
		}
	}

	fmt.Println("=== backtest report ===")
	fmt.Printf("window:           %s to %s\n", start.Format(dateLayout), end.Format(dateLayout))
	fmt.Printf("quotes processed: %d\n", quotesProcessed)
	fmt.Printf("positions opened: %d\n", len(positions))
	fmt.Printf("positions closed: %d (still open: %d)\n", closed, open)
	if closed > 0 {
		fmt.Printf("win rate:         %.1f%%\n", 100*float64(wins)/float64(closed))
	}
	fmt.Printf("total fees paid:  %s\n", fees.StringFixed(2))
	fmt.Printf("realized pnl:     %s\n", realized.StringFixed(2))
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

// Package engine is the central orchestrator: it wires VenueAdapters,
// IngestionHub, PriceCache, Detector, RiskGate, PositionManager and
// OrderRouter into one CoreHandle and drives the quote → opportunity →
// position pipeline end to end for the live monitor.
//
// Lifecycle: New() → Start() → [runs until Stop()] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taku247/omg-tool/internal/config"
	"github.com/taku247/omg-tool/internal/detector"
	"github.com/taku247/omg-tool/internal/ingestion"
	"github.com/taku247/omg-tool/internal/orderrouter"
	"github.com/taku247/omg-tool/internal/position"
	"github.com/taku247/omg-tool/internal/pricecache"
	"github.com/taku247/omg-tool/internal/recorder"
	"github.com/taku247/omg-tool/internal/risk"
	"github.com/taku247/omg-tool/internal/store"
	"github.com/taku247/omg-tool/internal/venue"
	"github.com/taku247/omg-tool/pkg/types"
)

const (
	closeWatchInterval   = 1 * time.Second
	balanceRefreshPeriod = 30 * time.Second
	riskSweepPeriod      = 1 * time.Minute
	persistPeriod        = 10 * time.Second
	balanceFetchTimeout  = 10 * time.Second
)

// Dependencies are the wiring inputs the caller supplies to New alongside
// the config. cmd/monitor is the only CLI that builds an Engine; the
// price-logger and backtest CLIs wire their components directly.
type Dependencies struct {
	Adapters map[types.VenueId]venue.Adapter // nil/empty for pure-replay runs
	Symbols  []types.SymbolId
	DataDir  string             // empty disables position/risk persistence
	Recorder *recorder.Recorder // nil disables quote recording
	Profile  string             // arbitrage threshold profile, "" for default
}

// Engine is the CoreHandle of §9: the explicit struct owning config,
// PriceCache, IngestionHub, RiskGate, and PositionManager that replaces a
// global singleton. Constructed once at startup and passed to every
// component that needs it.
type Engine struct {
	cfg      config.Config
	logger   *slog.Logger
	adapters map[types.VenueId]venue.Adapter
	symbols  []types.SymbolId

	cache    *pricecache.Cache
	hub      *ingestion.Hub
	detector *detector.Detector
	risk     *risk.Gate
	router   *orderrouter.Router
	manager  *position.Manager
	recorder *recorder.Recorder
	store    *store.Store

	balMu    sync.RWMutex
	balances risk.Balances

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs and wires every component. It does not start any
// goroutines; call Start for that.
func New(cfg config.Config, deps Dependencies, logger *slog.Logger) (*Engine, error) {
	logger = logger.With("component", "engine")

	cache := pricecache.New()

	th := cfg.ThresholdFor(deps.Profile)
	det := detector.New(detector.Config{
		MinSpreadPct:    decimal.NewFromFloat(th.MinSpreadThreshold),
		MaxPositionSize: decimal.NewFromFloat(th.MaxPositionSize),
		MinProfitUsd:    decimal.NewFromFloat(th.MinProfitThreshold),
	}, cache)

	riskGate := risk.New(cfg.Risk)
	router := orderrouter.New(deps.Adapters, logger)

	feesByVenue := make(map[types.VenueId]decimal.Decimal, len(deps.Adapters))
	for v := range deps.Adapters {
		feesByVenue[v] = decimal.NewFromFloat(cfg.FeesFor(string(v)).Taker)
	}
	manager := position.New(position.FromRiskConfig(cfg.Risk), router, cache, feesByVenue, logger)

	var st *store.Store
	if deps.DataDir != "" {
		var err error
		st, err = store.Open(deps.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open position store: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		adapters: deps.Adapters,
		symbols:  deps.Symbols,
		cache:    cache,
		hub:      ingestion.New(logger, ingestion.DefaultQueueSize),
		detector: det,
		risk:     riskGate,
		router:   router,
		manager:  manager,
		recorder: deps.Recorder,
		store:    st,
		balances: make(risk.Balances),
		ctx:      ctx,
		cancel:   cancel,
	}

	if st != nil {
		positions, err := st.LoadPositions()
		if err != nil {
			logger.Warn("failed to load persisted positions", "error", err)
		} else if len(positions) > 0 {
			e.manager.Restore(positions)
			logger.Info("restored persisted positions", "count", len(positions))
		}
	}

	return e, nil
}

// Start launches every background goroutine: adapter supervision, the
// quote→opportunity→position pipeline, the close watcher, balance
// refresh, risk maintenance (auto-unblock sweep, daily reset), and
// (if a store was configured) periodic persistence.
//
// The pipeline subscribes to the hub, and the first balance snapshot is
// fetched, before any adapter is added, so quotes an adapter pushes as
// soon as it connects are neither missed nor checked against an empty
// balance table.
func (e *Engine) Start() {
	quotes := e.hub.Subscribe()
	if len(e.adapters) > 0 {
		e.refreshBalances()
	}
	for v, adapter := range e.adapters {
		e.hub.Add(e.ctx, v, adapter, e.symbols)
	}

	e.spawn(func() { e.consumeQuotes(quotes) })
	e.spawn(e.closeWatcher)
	e.spawn(e.riskMaintenance)
	if len(e.adapters) > 0 {
		e.spawn(e.balanceRefresher)
	}
	if e.store != nil {
		e.spawn(e.persistLoop)
	}

	e.logger.Info("engine started", "venues", len(e.adapters), "symbols", len(e.symbols))
}

func (e *Engine) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// consumeQuotes is the main pipeline: every quote is written into the
// cache, optionally recorded, then re-scanned by the detector; qualifying
// opportunities are evaluated against the risk gate and, if accepted,
// opened.
func (e *Engine) consumeQuotes(quotes <-chan types.Quote) {
	for q := range quotes {
		if !e.cache.Update(q) {
			continue
		}
		if e.recorder != nil {
			if err := e.recorder.Record(q); err != nil {
				e.logger.Warn("failed to record quote", "venue", q.Venue, "symbol", q.Symbol, "error", err)
			}
		}
		for _, opp := range e.detector.OnQuote(q.Symbol) {
			e.evaluateOpportunity(opp)
		}
	}
}

// evaluateOpportunity validates opp against the risk gate and, if
// accepted, opens a position for it.
func (e *Engine) evaluateOpportunity(opp types.Opportunity) {
	active := e.manager.ActivePositions()
	ok, reason := e.risk.Validate(opp, active, e.balancesSnapshot(), time.Now().UTC())
	if !ok {
		e.logger.Debug("opportunity rejected", "opportunity", opp.ID, "symbol", opp.Symbol, "reason", reason)
		return
	}

	pos, err := e.manager.Open(e.ctx, opp)
	if err != nil {
		e.logger.Error("failed to open position", "opportunity", opp.ID, "error", err)
		return
	}
	e.risk.Opened(pos)
	e.logger.Info("position opened", "position", pos.ID, "symbol", pos.Symbol, "long", pos.LongVenue, "short", pos.ShortVenue, "size", pos.Size)
}

// closeWatcher re-evaluates every active position's close triggers on
// every tick and unwinds the ones that qualify.
func (e *Engine) closeWatcher() {
	ticker := time.NewTicker(closeWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			for _, snap := range e.manager.ActivePositions() {
				live, ok := e.manager.Get(snap.ID)
				if !ok {
					continue
				}
				reason, should := e.manager.ShouldClose(live, now)
				if !should {
					continue
				}
				if err := e.manager.Close(e.ctx, live, reason); err != nil {
					e.logger.Error("failed to close position", "position", live.ID, "reason", reason, "error", err)
					continue
				}
				e.risk.Closed(live)
			}
		}
	}
}

// balanceRefresher periodically refreshes the per-venue balance snapshot
// the risk gate's sufficient-balance check consults.
func (e *Engine) balanceRefresher() {
	e.refreshBalances()

	ticker := time.NewTicker(balanceRefreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.refreshBalances()
		}
	}
}

func (e *Engine) refreshBalances() {
	next := make(risk.Balances, len(e.adapters))
	for v, adapter := range e.adapters {
		ctx, cancel := context.WithTimeout(e.ctx, balanceFetchTimeout)
		bal, err := adapter.FetchBalances(ctx)
		cancel()
		if err != nil {
			e.logger.Warn("failed to refresh balances", "venue", v, "error", err)
			continue
		}
		next[v] = bal
	}

	e.balMu.Lock()
	e.balances = next
	e.balMu.Unlock()
}

func (e *Engine) balancesSnapshot() risk.Balances {
	e.balMu.RLock()
	defer e.balMu.RUnlock()
	return e.balances
}

// riskMaintenance sweeps auto-unblock expirations and resets daily
// counters at UTC midnight, mirroring the teacher's periodic-ticker
// kill-switch-clearing pattern.
func (e *Engine) riskMaintenance() {
	sweep := time.NewTicker(riskSweepPeriod)
	defer sweep.Stop()

	lastDay := time.Now().UTC().YearDay()

	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-sweep.C:
			e.risk.SweepExpiredBlocks()
			if d := now.UTC().YearDay(); d != lastDay {
				e.risk.ResetDaily()
				e.cache.ClearDay()
				lastDay = d
			}
		}
	}
}

// persistLoop periodically snapshots active positions and risk state to
// the store, so a restart can resume without losing open exposure.
func (e *Engine) persistLoop() {
	ticker := time.NewTicker(persistPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.persistState()
		}
	}
}

func (e *Engine) persistState() {
	for _, pos := range e.manager.ActivePositions() {
		if err := e.store.SavePosition(pos); err != nil {
			e.logger.Error("failed to persist position", "position", pos.ID, "error", err)
		}
	}
	if err := e.store.SaveRiskState(e.risk.GetSnapshot()); err != nil {
		e.logger.Error("failed to persist risk state", "error", err)
	}
}

// Stop force-closes every live position as a safety net, stops ingestion,
// persists final state, and waits for every goroutine to exit.
func (e *Engine) Stop() {
	e.logger.Info("shutting down")

	for _, pos := range e.manager.CloseAll(context.Background()) {
		e.risk.Closed(pos)
	}

	e.cancel()
	e.hub.Stop(ingestion.DefaultShutdownGrace)
	e.wg.Wait()

	if e.store != nil {
		e.persistFinal()
		if err := e.store.Close(); err != nil {
			e.logger.Error("failed to close store", "error", err)
		}
	}

	e.logger.Info("shutdown complete")
}

// persistFinal writes the final position/risk snapshot and drops the
// on-disk record for any position that reached a terminal CLOSED state,
// so a restart only restores genuinely live exposure.
func (e *Engine) persistFinal() {
	for _, pos := range e.manager.Snapshot() {
		if pos.Status == types.PositionClosed {
			if err := e.store.DeletePosition(pos.ID); err != nil {
				e.logger.Error("failed to remove closed position record", "position", pos.ID, "error", err)
			}
			continue
		}
		if err := e.store.SavePosition(pos); err != nil {
			e.logger.Error("failed to persist position on shutdown", "position", pos.ID, "error", err)
		}
	}
	if err := e.store.SaveRiskState(e.risk.GetSnapshot()); err != nil {
		e.logger.Error("failed to persist risk state on shutdown", "error", err)
	}
}

// PositionsSnapshot exposes every tracked position, for CLI reporting and
// the operator dashboard.
func (e *Engine) PositionsSnapshot() []*types.ArbitragePosition {
	return e.manager.Snapshot()
}

// RiskSnapshot exposes the risk gate's current bookkeeping state.
func (e *Engine) RiskSnapshot() risk.Snapshot {
	return e.risk.GetSnapshot()
}

// ConnectionEvents exposes adapter connect/disconnect events.
func (e *Engine) ConnectionEvents() <-chan ingestion.ConnectionEvent {
	return e.hub.ConnectionEvents()
}

// The Engine exposes no separate feed of detector opportunities; their
// effect is visible only through PositionsSnapshot and RiskSnapshot.

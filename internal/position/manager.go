// Package position implements PositionManager (C7): the lifecycle of an
// ArbitragePosition from accepted Opportunity through paired order
// submission, partial-fill reconciliation, and close on convergence,
// timeout, stop-loss, or operator force.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/taku247/omg-tool/internal/config"
	"github.com/taku247/omg-tool/internal/orderrouter"
	"github.com/taku247/omg-tool/internal/pricecache"
	"github.com/taku247/omg-tool/pkg/types"
)

const orderAckTimeout = 10 * time.Second

// DefaultExitTargetPct is the spread-convergence target a new position
// carries unless overridden.
var DefaultExitTargetPct = decimal.NewFromFloat(0.1)

// Config are the PositionManager's tunable close thresholds.
type Config struct {
	MaxPositionAge time.Duration // default 24h, timeout close
	StopLossPct    decimal.Decimal
	ExitTargetPct  decimal.Decimal
}

// DefaultConfig mirrors §4.7/§6 defaults.
func DefaultConfig() Config {
	return Config{
		MaxPositionAge: 24 * time.Hour,
		StopLossPct:    decimal.NewFromFloat(2.0),
		ExitTargetPct:  DefaultExitTargetPct,
	}
}

// FromRiskConfig derives a position Config from the risk section of the
// loaded operator config, so CLIs need not duplicate the numbers.
func FromRiskConfig(r config.RiskConfig) Config {
	cfg := DefaultConfig()
	if r.MaxPositionDuration > 0 {
		cfg.MaxPositionAge = r.MaxPositionDurationDuration()
	}
	if r.StopLossPct > 0 {
		cfg.StopLossPct = decimal.NewFromFloat(r.StopLossPct)
	}
	return cfg
}

// CloseReason names why a position is being unwound.
type CloseReason string

const (
	CloseConvergence CloseReason = "convergence"
	CloseTimeout     CloseReason = "timeout"
	CloseStopLoss    CloseReason = "stop_loss"
	CloseForced      CloseReason = "forced"
)

// Manager owns the set of open ArbitragePositions, is the sole mutator of
// that map, and drives each position's state machine. OpenPositions is
// observed elsewhere via Snapshot/ActivePositions (immutable copies), never the live
// map.
type Manager struct {
	cfg    Config
	router *orderrouter.Router
	cache  *pricecache.Cache
	logger *slog.Logger

	mu        sync.Mutex
	positions map[string]*types.ArbitragePosition
	closing   map[string]bool // in-flight close dedup: two triggers collapse to one

	feesByVenue map[types.VenueId]decimal.Decimal // taker fee fraction, for PnL/fee accounting
}

// New constructs a Manager. feesByVenue supplies the taker-fee fraction
// charged on each leg for PnL/fee bookkeeping.
func New(cfg Config, router *orderrouter.Router, cache *pricecache.Cache, feesByVenue map[types.VenueId]decimal.Decimal, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		router:      router,
		cache:       cache,
		logger:      logger.With("component", "position-manager"),
		positions:   make(map[string]*types.ArbitragePosition),
		closing:     make(map[string]bool),
		feesByVenue: feesByVenue,
	}
}

// Open creates and opens a new ArbitragePosition for an accepted
// Opportunity: submits buy on BuyVenue and sell on SellVenue concurrently
// with deterministic client order ids, waits for both acks bounded by
// orderAckTimeout, and reconciles any fill-size mismatch.
func (m *Manager) Open(ctx context.Context, opp types.Opportunity) (*types.ArbitragePosition, error) {
	pos := &types.ArbitragePosition{
		ID:            uuid.NewString(),
		OpportunityID: opp.ID,
		Symbol:        opp.Symbol,
		LongVenue:     opp.BuyVenue,
		ShortVenue:    opp.SellVenue,
		Size:          opp.RecommendedSize,
		EntrySpread:   opp.SpreadPct,
		ExitTargetPct: m.exitTarget(),
		Status:        types.PositionPending,
		CreatedAt:     time.Now().UTC(),
	}

	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.mu.Unlock()

	pos.Status = types.PositionOpening

	ackCtx, cancel := context.WithTimeout(ctx, orderAckTimeout)
	defer cancel()

	var longOrder, shortOrder types.Order
	var longErr, shortErr error
	g, gctx := errgroup.WithContext(ackCtx)
	g.Go(func() error {
		longOrder, longErr = m.router.Place(gctx, pos.LongVenue, pos.Symbol, types.Buy, pos.Size, types.Market, nil, pos.ID+"_long", nil)
		return nil
	})
	g.Go(func() error {
		shortOrder, shortErr = m.router.Place(gctx, pos.ShortVenue, pos.Symbol, types.Sell, pos.Size, types.Market, nil, pos.ID+"_short", nil)
		return nil
	})
	_ = g.Wait()

	return m.settleOpen(ctx, pos, longOrder, longErr, shortOrder, shortErr)
}

// settleOpen applies §4.7's success/reject/reconcile rules once both legs'
// submission results are known.
func (m *Manager) settleOpen(ctx context.Context, pos *types.ArbitragePosition, longOrder types.Order, longErr error, shortOrder types.Order, shortErr error) (*types.ArbitragePosition, error) {
	pos.LongOrder = &longOrder
	pos.ShortOrder = &shortOrder

	switch {
	case longErr != nil && shortErr != nil:
		pos.Status = types.PositionFailed
		pos.ErrorMsg = fmt.Sprintf("both legs rejected: long=%v short=%v", longErr, shortErr)
		return pos, fmt.Errorf("open position %s: %w", pos.ID, longErr)

	case longErr != nil:
		// Long leg rejected; flatten the short leg if it filled, else cancel it.
		m.flattenOrCancel(ctx, pos, pos.ShortVenue, shortOrder, types.Sell)
		pos.Status = types.PositionFailed
		pos.ErrorMsg = fmt.Sprintf("long leg rejected: %v", longErr)
		return pos, fmt.Errorf("open position %s: %w", pos.ID, longErr)

	case shortErr != nil:
		m.flattenOrCancel(ctx, pos, pos.LongVenue, longOrder, types.Buy)
		pos.Status = types.PositionFailed
		pos.ErrorMsg = fmt.Sprintf("short leg rejected: %v", shortErr)
		return pos, fmt.Errorf("open position %s: %w", pos.ID, shortErr)
	}

	if !longOrder.Status.IsFilledOrPartial() || !shortOrder.Status.IsFilledOrPartial() {
		pos.Status = types.PositionFailed
		pos.ErrorMsg = "one or both legs did not fill"
		return pos, fmt.Errorf("open position %s: legs did not fill", pos.ID)
	}

	if !longOrder.Filled.Equal(shortOrder.Filled) {
		reconciled, err := m.reconcile(ctx, pos, longOrder, shortOrder)
		if err != nil {
			pos.Status = types.PositionFailed
			pos.ErrorMsg = fmt.Sprintf("reconciliation failed: %v", err)
			m.logger.Error("RECONCILIATION FAILED: residual exposure", "position", pos.ID, "error", err)
			return pos, fmt.Errorf("open position %s: reconciliation: %w", pos.ID, err)
		}
		longOrder, shortOrder = reconciled[0], reconciled[1]
		pos.LongOrder = &longOrder
		pos.ShortOrder = &shortOrder
	}

	now := time.Now().UTC()
	pos.Size = longOrder.Filled
	pos.Status = types.PositionOpen
	pos.OpenedAt = &now
	return pos, nil
}

// flattenOrCancel cancels orderin-flight, or if it already filled, submits
// an opposing market order to flatten the unwanted exposure immediately.
func (m *Manager) flattenOrCancel(ctx context.Context, pos *types.ArbitragePosition, v types.VenueId, order types.Order, side types.Side) {
	if order.Status.IsFilledOrPartial() && order.Filled.IsPositive() {
		flattenID := pos.ID + "_" + string(side) + "_flatten"
		if _, err := m.router.Place(ctx, v, pos.Symbol, side.Opposite(), order.Filled, types.Market, nil, flattenID, nil); err != nil {
			m.logger.Error("failed to flatten filled leg after other leg rejected", "position", pos.ID, "venue", v, "error", err)
		}
		return
	}
	if order.ID != "" {
		if _, err := m.router.Cancel(ctx, v, order.ID, pos.Symbol); err != nil {
			m.logger.Error("failed to cancel leg after other leg rejected", "position", pos.ID, "venue", v, "error", err)
		}
	}
}

// reconcile equalizes asymmetric fills: cancel the larger leg's residual,
// then if sizes still differ, issue a correcting market order on the
// smaller-filled leg to match. Returns [longOrder, shortOrder] updated.
func (m *Manager) reconcile(ctx context.Context, pos *types.ArbitragePosition, longOrder, shortOrder types.Order) ([2]types.Order, error) {
	var zero [2]types.Order

	if longOrder.Filled.GreaterThan(shortOrder.Filled) {
		if longOrder.ID != "" {
			_, _ = m.router.Cancel(ctx, pos.LongVenue, longOrder.ID, pos.Symbol)
		}
	} else if shortOrder.Filled.GreaterThan(longOrder.Filled) {
		if shortOrder.ID != "" {
			_, _ = m.router.Cancel(ctx, pos.ShortVenue, shortOrder.ID, pos.Symbol)
		}
	}

	if longOrder.Filled.Equal(shortOrder.Filled) {
		return [2]types.Order{longOrder, shortOrder}, nil
	}

	diff := longOrder.Filled.Sub(shortOrder.Filled)
	if diff.IsPositive() {
		// Long overfilled relative to short: correct by selling more on short.
		corrected, err := m.router.Place(ctx, pos.ShortVenue, pos.Symbol, types.Sell, diff, types.Market, nil, pos.ID+"_short_correct", nil)
		if err != nil || !corrected.Status.IsFilledOrPartial() {
			return zero, fmt.Errorf("correcting short fill: %w", err)
		}
		shortOrder.Filled = shortOrder.Filled.Add(corrected.Filled)
	} else {
		corrected, err := m.router.Place(ctx, pos.LongVenue, pos.Symbol, types.Buy, diff.Abs(), types.Market, nil, pos.ID+"_long_correct", nil)
		if err != nil || !corrected.Status.IsFilledOrPartial() {
			return zero, fmt.Errorf("correcting long fill: %w", err)
		}
		longOrder.Filled = longOrder.Filled.Add(corrected.Filled)
	}

	if !longOrder.Filled.Equal(shortOrder.Filled) {
		return zero, fmt.Errorf("filled sizes still differ after correction: long=%s short=%s", longOrder.Filled, shortOrder.Filled)
	}

	return [2]types.Order{longOrder, shortOrder}, nil
}

// exitTarget returns the configured exit target, or DefaultExitTargetPct
// if unset.
func (m *Manager) exitTarget() decimal.Decimal {
	if m.cfg.ExitTargetPct.IsZero() {
		return DefaultExitTargetPct
	}
	return m.cfg.ExitTargetPct
}

// ShouldClose evaluates every close trigger for pos against the current
// cache state and now, returning the first qualifying reason.
func (m *Manager) ShouldClose(pos *types.ArbitragePosition, now time.Time) (CloseReason, bool) {
	if pos.Status != types.PositionOpen {
		return "", false
	}

	if pos.OpenedAt != nil && now.Sub(*pos.OpenedAt) >= m.cfg.MaxPositionAge {
		return CloseTimeout, true
	}

	if spread, ok := m.currentSpread(pos); ok {
		if spread.Abs().LessThanOrEqual(pos.ExitTargetPct) {
			return CloseConvergence, true
		}
	}

	unrealized := m.unrealizedPnl(pos)
	posValue := pos.PositionValue()
	stopLossThreshold := m.cfg.StopLossPct.Div(decimal.NewFromInt(100)).Mul(posValue).Neg()
	if posValue.IsPositive() && unrealized.LessThanOrEqual(stopLossThreshold) {
		return CloseStopLoss, true
	}

	return "", false
}

// currentSpread recomputes the entry-direction spread from the cache:
// (currentSell.bid - currentBuy.ask) / currentBuy.ask * 100.
func (m *Manager) currentSpread(pos *types.ArbitragePosition) (decimal.Decimal, bool) {
	buy, ok1 := m.cache.Get(pos.Symbol, pos.LongVenue)
	sell, ok2 := m.cache.Get(pos.Symbol, pos.ShortVenue)
	if !ok1 || !ok2 || buy.Ask.IsZero() {
		return decimal.Zero, false
	}
	return sell.Bid.Sub(buy.Ask).Div(buy.Ask).Mul(decimal.NewFromInt(100)), true
}

// unrealizedPnl marks the open position to the current cache quotes.
func (m *Manager) unrealizedPnl(pos *types.ArbitragePosition) decimal.Decimal {
	buy, ok1 := m.cache.Get(pos.Symbol, pos.LongVenue)
	sell, ok2 := m.cache.Get(pos.Symbol, pos.ShortVenue)
	if !ok1 || !ok2 || pos.LongOrder == nil || pos.LongOrder.Price == nil || pos.ShortOrder == nil || pos.ShortOrder.Price == nil {
		return decimal.Zero
	}
	longPnl := buy.Bid.Sub(*pos.LongOrder.Price).Mul(pos.Size)
	shortPnl := pos.ShortOrder.Price.Sub(sell.Ask).Mul(pos.Size)
	return longPnl.Add(shortPnl)
}

// Close unwinds pos: issues two opposing orders concurrently, reconciles
// on asymmetric fills, and computes realized PnL. Two concurrent close
// triggers for the same position collapse to one close operation.
func (m *Manager) Close(ctx context.Context, pos *types.ArbitragePosition, reason CloseReason) error {
	m.mu.Lock()
	if m.closing[pos.ID] {
		m.mu.Unlock()
		return nil
	}
	m.closing[pos.ID] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.closing, pos.ID)
		m.mu.Unlock()
	}()

	pos.Status = types.PositionClosing

	ackCtx, cancel := context.WithTimeout(ctx, orderAckTimeout)
	defer cancel()

	var closeLong, closeShort types.Order
	var longErr, shortErr error
	g, gctx := errgroup.WithContext(ackCtx)
	g.Go(func() error {
		closeLong, longErr = m.router.Place(gctx, pos.LongVenue, pos.Symbol, types.Sell, pos.Size, types.Market, nil, pos.ID+"_close_long", nil)
		return nil
	})
	g.Go(func() error {
		closeShort, shortErr = m.router.Place(gctx, pos.ShortVenue, pos.Symbol, types.Buy, pos.Size, types.Market, nil, pos.ID+"_close_short", nil)
		return nil
	})
	_ = g.Wait()

	if longErr != nil || shortErr != nil {
		pos.Status = types.PositionFailed
		pos.ErrorMsg = fmt.Sprintf("close leg rejected: long=%v short=%v", longErr, shortErr)
		return fmt.Errorf("close position %s: long=%v short=%v", pos.ID, longErr, shortErr)
	}

	if !closeLong.Filled.Equal(closeShort.Filled) {
		reconciled, err := m.reconcileClose(ctx, pos, closeLong, closeShort)
		if err != nil {
			pos.Status = types.PositionFailed
			pos.ErrorMsg = fmt.Sprintf("close reconciliation failed: %v", err)
			m.logger.Error("RECONCILIATION FAILED on close: residual exposure", "position", pos.ID, "error", err)
			return fmt.Errorf("close position %s: reconciliation: %w", pos.ID, err)
		}
		closeLong, closeShort = reconciled[0], reconciled[1]
	}

	pos.CloseLongOrder = &closeLong
	pos.CloseShortOrder = &closeShort

	now := time.Now().UTC()
	pos.ClosedAt = &now
	pos.RealizedPnl = m.realizedPnl(pos, closeLong, closeShort)
	pos.Status = types.PositionClosed

	m.logger.Info("position closed", "position", pos.ID, "reason", reason, "realized_pnl", pos.RealizedPnl)
	return nil
}

// reconcileClose mirrors reconcile but issues close-direction correcting
// orders (opposite sides from the open-side reconcile).
func (m *Manager) reconcileClose(ctx context.Context, pos *types.ArbitragePosition, closeLong, closeShort types.Order) ([2]types.Order, error) {
	var zero [2]types.Order

	if closeLong.Filled.GreaterThan(closeShort.Filled) {
		if closeLong.ID != "" {
			_, _ = m.router.Cancel(ctx, pos.LongVenue, closeLong.ID, pos.Symbol)
		}
	} else if closeShort.Filled.GreaterThan(closeLong.Filled) {
		if closeShort.ID != "" {
			_, _ = m.router.Cancel(ctx, pos.ShortVenue, closeShort.ID, pos.Symbol)
		}
	}

	if closeLong.Filled.Equal(closeShort.Filled) {
		return [2]types.Order{closeLong, closeShort}, nil
	}

	diff := closeLong.Filled.Sub(closeShort.Filled)
	if diff.IsPositive() {
		corrected, err := m.router.Place(ctx, pos.ShortVenue, pos.Symbol, types.Buy, diff, types.Market, nil, pos.ID+"_close_short_correct", nil)
		if err != nil || !corrected.Status.IsFilledOrPartial() {
			return zero, fmt.Errorf("correcting close-short fill: %w", err)
		}
		closeShort.Filled = closeShort.Filled.Add(corrected.Filled)
	} else {
		corrected, err := m.router.Place(ctx, pos.LongVenue, pos.Symbol, types.Sell, diff.Abs(), types.Market, nil, pos.ID+"_close_long_correct", nil)
		if err != nil || !corrected.Status.IsFilledOrPartial() {
			return zero, fmt.Errorf("correcting close-long fill: %w", err)
		}
		closeLong.Filled = closeLong.Filled.Add(corrected.Filled)
	}

	if !closeLong.Filled.Equal(closeShort.Filled) {
		return zero, fmt.Errorf("close fills still differ after correction: long=%s short=%s", closeLong.Filled, closeShort.Filled)
	}
	return [2]types.Order{closeLong, closeShort}, nil
}

// realizedPnl = (closeLongPx - openLongPx)*size + (openShortPx - closeShortPx)*size - feesPaid,
// per §4.7.
func (m *Manager) realizedPnl(pos *types.ArbitragePosition, closeLong, closeShort types.Order) decimal.Decimal {
	if pos.LongOrder == nil || pos.LongOrder.Price == nil || pos.ShortOrder == nil || pos.ShortOrder.Price == nil ||
		closeLong.Price == nil || closeShort.Price == nil {
		return decimal.Zero
	}

	size := pos.Size
	longLeg := closeLong.Price.Sub(*pos.LongOrder.Price).Mul(size)
	shortLeg := pos.ShortOrder.Price.Sub(*closeShort.Price).Mul(size)

	fees := m.totalFees(pos, closeLong, closeShort)
	pos.FeesPaid = fees

	return longLeg.Add(shortLeg).Sub(fees)
}

// totalFees sums the taker fee fraction across all four legs (open long,
// open short, close long, close short), each charged on its own notional.
func (m *Manager) totalFees(pos *types.ArbitragePosition, closeLong, closeShort types.Order) decimal.Decimal {
	fee := func(v types.VenueId, price *decimal.Decimal, size decimal.Decimal) decimal.Decimal {
		if price == nil {
			return decimal.Zero
		}
		rate, ok := m.feesByVenue[v]
		if !ok {
			return decimal.Zero
		}
		return price.Mul(size).Mul(rate)
	}

	total := decimal.Zero
	if pos.LongOrder != nil {
		total = total.Add(fee(pos.LongVenue, pos.LongOrder.Price, pos.Size))
	}
	if pos.ShortOrder != nil {
		total = total.Add(fee(pos.ShortVenue, pos.ShortOrder.Price, pos.Size))
	}
	total = total.Add(fee(pos.LongVenue, closeLong.Price, pos.Size))
	total = total.Add(fee(pos.ShortVenue, closeShort.Price, pos.Size))
	return total
}

// Snapshot returns copies of every currently-tracked position (any status).
func (m *Manager) Snapshot() []*types.ArbitragePosition {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*types.ArbitragePosition, 0, len(m.positions))
	for _, p := range m.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// ActivePositions returns copies of positions whose status is OPEN or
// CLOSING (i.e. currently holding live exposure) — the slice RiskGate's
// Validate consults for its position-count rules.
func (m *Manager) ActivePositions() []*types.ArbitragePosition {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.ArbitragePosition
	for _, p := range m.positions {
		if p.IsOpen() {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// CloseAll forces every open position closed — the shutdown/operator
// "close-all" mode from §5's cancellation propagation. ActivePositions
// returns copies, so each one is re-resolved through Get before Close is
// called on it; Close mutates its argument in place and that mutation must
// land on the live record, not a throwaway copy, or the position manager's
// own map keeps reporting OPEN after the venue exposure has been flattened.
// Returns every live position it attempted to close, so the caller can
// reconcile them against the risk gate (Manager itself holds no risk
// reference) via risk.Closed, regardless of whether the close succeeded.
func (m *Manager) CloseAll(ctx context.Context) []*types.ArbitragePosition {
	var touched []*types.ArbitragePosition
	for _, snap := range m.ActivePositions() {
		live, ok := m.Get(snap.ID)
		if !ok {
			continue
		}
		if err := m.Close(ctx, live, CloseForced); err != nil {
			m.logger.Error("forced close failed", "position", live.ID, "error", err)
		}
		touched = append(touched, live)
	}
	return touched
}

// Get returns the live position by id, if tracked.
func (m *Manager) Get(id string) (*types.ArbitragePosition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	return p, ok
}

// Restore re-adopts positions loaded from persistence, e.g. on startup
// after a restart. Only OPEN or CLOSING positions carry live exposure and
// are worth restoring; anything else is a terminal record kept only for
// the store's own history.
func (m *Manager) Restore(positions []*types.ArbitragePosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range positions {
		if p.IsOpen() {
			m.positions[p.ID] = p
		}
	}
}

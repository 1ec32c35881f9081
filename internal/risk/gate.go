// Package risk implements the RiskGate: a stateful, ordered validator that
// accepts or rejects each Opportunity against exposure, cooldown, slippage,
// balance, and daily-loss limits, and tracks the exposure/PnL bookkeeping
// those checks depend on.
package risk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/internal/config"
	"github.com/taku247/omg-tool/pkg/types"
)

// Balances is a venue -> asset -> Balance lookup, supplied by the caller on
// each Validate call (the gate does not fetch balances itself).
type Balances map[types.VenueId]map[string]types.Balance

// blockedEntry tracks a timed block with its scheduled auto-unblock time.
type blockedEntry struct {
	until time.Time
}

// Gate is the stateful risk validator. All state is protected by mu; reads
// and writes both go through it so Validate, Opened, Closed, and the
// periodic unblock sweep never race.
type Gate struct {
	mu sync.Mutex

	params config.RiskConfig

	exposureBySymbol map[types.SymbolId]decimal.Decimal
	exposureByVenue  map[types.VenueId]decimal.Decimal
	dailyPnl         decimal.Decimal
	drawdownToday    decimal.Decimal
	lastTradeTime    map[types.SymbolId]time.Time

	blockedSymbols map[types.SymbolId]blockedEntry
	blockedVenues  map[types.VenueId]blockedEntry
}

// New constructs a Gate from risk config.
func New(params config.RiskConfig) *Gate {
	return &Gate{
		params:           params,
		exposureBySymbol: make(map[types.SymbolId]decimal.Decimal),
		exposureByVenue:  make(map[types.VenueId]decimal.Decimal),
		lastTradeTime:    make(map[types.SymbolId]time.Time),
		blockedSymbols:   make(map[types.SymbolId]blockedEntry),
		blockedVenues:    make(map[types.VenueId]blockedEntry),
	}
}

// Validate runs the full ordered rule set from the risk gate design against
// opp, given the current active positions and per-venue balances. Returns
// (true, "") on acceptance, or (false, reason) on the first failing rule.
func (g *Gate) Validate(opp types.Opportunity, activePositions []*types.ArbitragePosition, balances Balances, now time.Time) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sweepExpiredBlocksLocked(now)

	positionValue := opp.PositionValue()

	// 1. position size
	if positionValue.GreaterThan(decimal.NewFromFloat(g.params.MaxPositionSize)) {
		return false, fmt.Sprintf("position size too large: %s", positionValue)
	}

	// 2. per-symbol position count
	symbolCount := 0
	for _, p := range activePositions {
		if p.Symbol == opp.Symbol {
			symbolCount++
		}
	}
	if symbolCount >= g.params.MaxPositionsPerSym {
		return false, fmt.Sprintf("too many positions for %s: %d", opp.Symbol, symbolCount)
	}

	// 3. total position count
	if len(activePositions) >= g.params.MaxTotalPositions {
		return false, fmt.Sprintf("too many total positions: %d", len(activePositions))
	}

	// 4. total exposure
	totalExposure := decimal.Zero
	for _, v := range g.exposureBySymbol {
		totalExposure = totalExposure.Add(v)
	}
	if totalExposure.Add(positionValue).GreaterThan(decimal.NewFromFloat(g.params.MaxTotalExposure)) {
		return false, fmt.Sprintf("total exposure limit exceeded: %s", totalExposure.Add(positionValue))
	}

	// 5. per-venue exposure, both legs
	maxVenueExposure := decimal.NewFromFloat(g.params.MaxExchangeExposure)
	buyExposure := g.exposureByVenue[opp.BuyVenue]
	sellExposure := g.exposureByVenue[opp.SellVenue]
	if buyExposure.Add(positionValue).GreaterThan(maxVenueExposure) ||
		sellExposure.Add(positionValue).GreaterThan(maxVenueExposure) {
		return false, "exchange exposure limit exceeded"
	}

	// 6. slippage
	maxSlippage := decimal.NewFromFloat(g.params.MaxSlippagePct)
	if opp.SlippageBuy != nil && opp.SlippageBuy.GreaterThan(maxSlippage) {
		return false, fmt.Sprintf("buy slippage too high: %s%%", *opp.SlippageBuy)
	}
	if opp.SlippageSell != nil && opp.SlippageSell.GreaterThan(maxSlippage) {
		return false, fmt.Sprintf("sell slippage too high: %s%%", *opp.SlippageSell)
	}

	// 7. net spread
	if opp.NetSpread().LessThan(decimal.NewFromFloat(g.params.MinNetSpread)) {
		return false, fmt.Sprintf("net spread too low: %s%%", opp.NetSpread())
	}

	// 8. cooldown
	if last, ok := g.lastTradeTime[opp.Symbol]; ok {
		if now.Sub(last) < g.params.CooldownDuration() {
			return false, fmt.Sprintf("cooldown period active for %s", opp.Symbol)
		}
	}

	// 9. daily loss
	if g.dailyPnl.LessThanOrEqual(decimal.NewFromFloat(-g.params.MaxDailyLoss)) {
		return false, fmt.Sprintf("daily loss limit reached: %s", g.dailyPnl)
	}

	// 10. drawdown
	if g.drawdownToday.GreaterThanOrEqual(decimal.NewFromFloat(g.params.MaxDrawdown)) {
		return false, fmt.Sprintf("max drawdown reached: %s", g.drawdownToday)
	}

	// 11. blocked lists
	if _, blocked := g.blockedSymbols[opp.Symbol]; blocked {
		return false, "symbol is blocked"
	}
	if _, blocked := g.blockedVenues[opp.BuyVenue]; blocked {
		return false, "buy venue is blocked"
	}
	if _, blocked := g.blockedVenues[opp.SellVenue]; blocked {
		return false, "sell venue is blocked"
	}

	// 12. balance sufficiency
	if ok, reason := g.checkSufficientBalance(opp, balances); !ok {
		return false, reason
	}

	return true, ""
}

// checkSufficientBalance mirrors the source's simplified symbol-splitting
// check: the buy venue must have enough quote-asset balance to cover the
// position plus the configured minimum venue balance, and the sell venue
// must hold enough base asset to deliver size.
func (g *Gate) checkSufficientBalance(opp types.Opportunity, balances Balances) (bool, string) {
	base, quote := splitSymbol(string(opp.Symbol))

	buyBal := balances[opp.BuyVenue]
	sellBal := balances[opp.SellVenue]

	requiredQuote := opp.PositionValue().Add(decimal.NewFromFloat(g.params.MinExchangeBalance))
	if bal, ok := buyBal[quote]; !ok || bal.Free.LessThan(requiredQuote) {
		return false, "insufficient balance"
	}

	if bal, ok := sellBal[base]; !ok || bal.Free.LessThan(opp.RecommendedSize) {
		return false, "insufficient balance"
	}

	return true, "risk check passed"
}

// splitSymbol derives base/quote asset names from a canonical symbol,
// mirroring the source's best-effort USDT/USD stripping.
func splitSymbol(symbol string) (base, quote string) {
	s := strings.ReplaceAll(symbol, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	switch {
	case strings.HasSuffix(s, "USDT"):
		return strings.TrimSuffix(s, "USDT"), "USDT"
	case strings.HasSuffix(s, "USD"):
		return strings.TrimSuffix(s, "USD"), "USD"
	default:
		return s, "USDT"
	}
}

// Opened updates exposure bookkeeping and last-trade time after a position
// is successfully opened.
func (g *Gate) Opened(pos *types.ArbitragePosition) {
	g.mu.Lock()
	defer g.mu.Unlock()

	value := pos.PositionValue()
	// Tracked once per leg, keyed by symbol on one side and by venue on the
	// other, so total-by-symbol and total-by-venue both equal the sum of
	// capital locked at every venue across every open position.
	g.exposureBySymbol[pos.Symbol] = g.exposureBySymbol[pos.Symbol].Add(value).Add(value)
	g.exposureByVenue[pos.LongVenue] = g.exposureByVenue[pos.LongVenue].Add(value)
	g.exposureByVenue[pos.ShortVenue] = g.exposureByVenue[pos.ShortVenue].Add(value)
	g.lastTradeTime[pos.Symbol] = time.Now().UTC()
}

// Closed updates exposure, daily PnL, and drawdown bookkeeping after a
// position is closed.
func (g *Gate) Closed(pos *types.ArbitragePosition) {
	g.mu.Lock()
	defer g.mu.Unlock()

	value := pos.PositionValue()
	g.exposureBySymbol[pos.Symbol] = decimal.Max(decimal.Zero, g.exposureBySymbol[pos.Symbol].Sub(value).Sub(value))
	g.exposureByVenue[pos.LongVenue] = decimal.Max(decimal.Zero, g.exposureByVenue[pos.LongVenue].Sub(value))
	g.exposureByVenue[pos.ShortVenue] = decimal.Max(decimal.Zero, g.exposureByVenue[pos.ShortVenue].Sub(value))

	g.dailyPnl = g.dailyPnl.Add(pos.RealizedPnl)
	if pos.RealizedPnl.IsNegative() {
		loss := pos.RealizedPnl.Abs()
		if loss.GreaterThan(g.drawdownToday) {
			g.drawdownToday = loss
		}
	}
}

// BlockSymbol temporarily blocks a symbol from new positions. duration
// defaults to the configured block_duration_minutes when zero.
func (g *Gate) BlockSymbol(symbol types.SymbolId, duration time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if duration <= 0 {
		duration = g.params.BlockDuration()
	}
	g.blockedSymbols[symbol] = blockedEntry{until: time.Now().UTC().Add(duration)}
}

// BlockVenue temporarily blocks a venue from new positions.
func (g *Gate) BlockVenue(venue types.VenueId, duration time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if duration <= 0 {
		duration = g.params.BlockDuration()
	}
	g.blockedVenues[venue] = blockedEntry{until: time.Now().UTC().Add(duration)}
}

// sweepExpiredBlocksLocked clears every blocked entry whose scheduled
// unblock time has passed. Must be called with mu held. This is the actual
// auto-unblock behavior the source only stubbed with a comment.
func (g *Gate) sweepExpiredBlocksLocked(now time.Time) {
	for s, e := range g.blockedSymbols {
		if !now.Before(e.until) {
			delete(g.blockedSymbols, s)
		}
	}
	for v, e := range g.blockedVenues {
		if !now.Before(e.until) {
			delete(g.blockedVenues, v)
		}
	}
}

// SweepExpiredBlocks is the exported form used by a periodic ticker so
// blocks clear even without an intervening Validate call.
func (g *Gate) SweepExpiredBlocks() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepExpiredBlocksLocked(time.Now().UTC())
}

// ResetDaily clears daily PnL and drawdown accounting. Called once per UTC
// day by the owning CoreHandle.
func (g *Gate) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyPnl = decimal.Zero
	g.drawdownToday = decimal.Zero
}

// Snapshot is a read-only view of the gate's current state, for
// observability (dashboard, logs).
type Snapshot struct {
	ExposureBySymbol map[types.SymbolId]decimal.Decimal
	ExposureByVenue  map[types.VenueId]decimal.Decimal
	DailyPnl         decimal.Decimal
	DrawdownToday    decimal.Decimal
	BlockedSymbols   []types.SymbolId
	BlockedVenues    []types.VenueId
}

// GetSnapshot returns a copy of the gate's bookkeeping state.
func (g *Gate) GetSnapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Snapshot{
		ExposureBySymbol: make(map[types.SymbolId]decimal.Decimal, len(g.exposureBySymbol)),
		ExposureByVenue:  make(map[types.VenueId]decimal.Decimal, len(g.exposureByVenue)),
		DailyPnl:         g.dailyPnl,
		DrawdownToday:    g.drawdownToday,
	}
	for k, v := range g.exposureBySymbol {
		s.ExposureBySymbol[k] = v
	}
	for k, v := range g.exposureByVenue {
		s.ExposureByVenue[k] = v
	}
	for sym := range g.blockedSymbols {
		s.BlockedSymbols = append(s.BlockedSymbols, sym)
	}
	for v := range g.blockedVenues {
		s.BlockedVenues = append(s.BlockedVenues, v)
	}
	return s
}

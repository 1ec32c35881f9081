// Package detector scans every venue pair for a symbol on each quote update
// and emits Opportunity values that clear a spread/profit threshold.
package detector

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/internal/pricecache"
	"github.com/taku247/omg-tool/pkg/types"
)

// Config are the Detector's tunable thresholds, immutable for the life of
// the process (§9's CoreHandle owns one copy).
type Config struct {
	MinSpreadPct    decimal.Decimal
	MaxPositionSize decimal.Decimal // USD
	MinProfitUsd    decimal.Decimal
}

// Detector evaluates PriceCache on every update and returns the qualifying
// Opportunity values from OnQuote.
type Detector struct {
	cfg   Config
	cache *pricecache.Cache

	counter uint64 // monotonic opportunity id source

	mu sync.Mutex // serializes the scan itself (single logical writer)
}

// New constructs a Detector reading from cache with the given thresholds.
func New(cfg Config, cache *pricecache.Cache) *Detector {
	return &Detector{cfg: cfg, cache: cache}
}

// OnQuote re-scans every venue pair for q.Symbol and returns the qualifying
// opportunities in spreadPct descending order. Callers invoke this after
// the triggering quote has already been written into the cache, per the
// "detector invoked after cache update" ordering guarantee.
func (d *Detector) OnQuote(symbol types.SymbolId) []types.Opportunity {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.cache.Snapshot(symbol)
	if len(snap) < 2 {
		return nil
	}

	venues := make([]types.VenueId, 0, len(snap))
	for v := range snap {
		venues = append(venues, v)
	}

	var found []types.Opportunity
	for i := 0; i < len(venues); i++ {
		for j := i + 1; j < len(venues); j++ {
			a, b := snap[venues[i]], snap[venues[j]]
			if opp, ok := d.checkDirection(symbol, a, b); ok {
				found = append(found, opp)
			}
			if opp, ok := d.checkDirection(symbol, b, a); ok {
				found = append(found, opp)
			}
		}
	}

	sortBySpreadDesc(found)
	return found
}

// checkDirection evaluates buying on buy.Venue and selling on sell.Venue.
func (d *Detector) checkDirection(symbol types.SymbolId, buy, sell types.Quote) (types.Opportunity, bool) {
	if !sell.Bid.GreaterThan(buy.Ask) {
		return types.Opportunity{}, false
	}

	spreadPct := sell.Bid.Sub(buy.Ask).Div(buy.Ask).Mul(decimal.NewFromInt(100))
	if spreadPct.LessThan(d.cfg.MinSpreadPct) {
		return types.Opportunity{}, false
	}

	size := d.optimalSize(buy, sell)
	expectedProfit := sell.Bid.Sub(buy.Ask).Mul(size)
	if expectedProfit.LessThan(d.cfg.MinProfitUsd) {
		return types.Opportunity{}, false
	}

	ts := buy.TsNanos
	if sell.TsNanos > ts {
		ts = sell.TsNanos
	}

	return types.Opportunity{
		ID:              d.nextID(),
		Symbol:          symbol,
		BuyVenue:        buy.Venue,
		SellVenue:       sell.Venue,
		BuyPrice:        buy.Ask,
		SellPrice:       sell.Bid,
		SpreadPct:       spreadPct,
		RecommendedSize: size,
		ExpectedProfit:  expectedProfit,
		TsNanos:         ts,
	}, true
}

// optimalSize is min(maxPositionSizeUsd, 0.1*min(buyVol24h,sellVol24h)*buy.ask) / buy.ask.
// If either venue lacks volume24h, maxPositionSizeUsd is substituted for the
// volume-derived cap.
func (d *Detector) optimalSize(buy, sell types.Quote) decimal.Decimal {
	volCap := d.cfg.MaxPositionSize
	if buy.Volume24h != nil && sell.Volume24h != nil {
		minVol := decimal.Min(*buy.Volume24h, *sell.Volume24h)
		volCap = minVol.Mul(decimal.NewFromFloat(0.1)).Mul(buy.Ask)
	}

	sizeCap := decimal.Min(d.cfg.MaxPositionSize, volCap)
	return sizeCap.Div(buy.Ask)
}

func (d *Detector) nextID() string {
	n := atomic.AddUint64(&d.counter, 1)
	return fmt.Sprintf("ARB_%06d", n)
}

// sortBySpreadDesc sorts opportunities by SpreadPct descending, stable so
// ties preserve scan order.
func sortBySpreadDesc(opps []types.Opportunity) {
	for i := 1; i < len(opps); i++ {
		for j := i; j > 0 && opps[j].SpreadPct.GreaterThan(opps[j-1].SpreadPct); j-- {
			opps[j], opps[j-1] = opps[j-1], opps[j]
		}
	}
}

// FeeAdjustedMinSpreadPct computes a fee-safe floor for minSpreadPct: the
// base threshold plus 2.5x the worst round-trip taker-fee pair among
// venues. This is a startup-time helper, not something the Detector
// consults per-quote; operators call it once to choose a safer
// Config.MinSpreadPct.
func FeeAdjustedMinSpreadPct(baseThresholdPct decimal.Decimal, takerFeesByVenue map[types.VenueId]decimal.Decimal) decimal.Decimal {
	if len(takerFeesByVenue) < 2 {
		return baseThresholdPct
	}

	venues := make([]types.VenueId, 0, len(takerFeesByVenue))
	for v := range takerFeesByVenue {
		venues = append(venues, v)
	}

	maxRoundTripPct := decimal.Zero
	hundred := decimal.NewFromInt(100)
	for i := 0; i < len(venues); i++ {
		for j := i + 1; j < len(venues); j++ {
			roundTrip := takerFeesByVenue[venues[i]].Add(takerFeesByVenue[venues[j]]).Mul(hundred)
			if roundTrip.GreaterThan(maxRoundTripPct) {
				maxRoundTripPct = roundTrip
			}
		}
	}

	safetyMargin := maxRoundTripPct.Mul(decimal.NewFromFloat(2.5))
	return baseThresholdPct.Add(safetyMargin)
}

package pricecache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/pkg/types"
)

func quote(venue types.VenueId, bid, ask float64, ts int64) types.Quote {
	return types.Quote{
		Venue:   venue,
		Symbol:  "BTC",
		Bid:     decimal.NewFromFloat(bid),
		Ask:     decimal.NewFromFloat(ask),
		TsNanos: ts,
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	t.Parallel()

	c := New()
	c.Update(quote(types.Hyperliquid, 100, 101, 1000))
	c.Update(quote(types.Bybit, 102, 103, 1000))

	snap := c.Snapshot("BTC")
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d, want 2", len(snap))
	}
	if q := snap[types.Hyperliquid]; !q.Bid.Equal(decimal.NewFromFloat(100)) {
		t.Errorf("hyperliquid bid = %v, want 100", q.Bid)
	}
}

func TestUpdateIgnoresStaleWrite(t *testing.T) {
	t.Parallel()

	c := New()
	c.Update(quote(types.Hyperliquid, 100, 101, 2000))
	stored := c.Update(quote(types.Hyperliquid, 999, 1000, 1000))
	if stored {
		t.Error("stale write should not be stored")
	}

	q, _ := c.Get("BTC", types.Hyperliquid)
	if !q.Bid.Equal(decimal.NewFromFloat(100)) {
		t.Errorf("bid after stale write = %v, want unchanged 100", q.Bid)
	}
}

func TestSnapshotIsImmutableCopy(t *testing.T) {
	t.Parallel()

	c := New()
	c.Update(quote(types.Hyperliquid, 100, 101, 1000))

	snap := c.Snapshot("BTC")
	delete(snap, types.Hyperliquid)

	again := c.Snapshot("BTC")
	if len(again) != 1 {
		t.Error("mutating a returned snapshot must not affect the cache")
	}
}

func TestClearDay(t *testing.T) {
	t.Parallel()

	c := New()
	c.Update(quote(types.Hyperliquid, 100, 101, 1000))
	c.ClearDay()

	if snap := c.Snapshot("BTC"); snap != nil {
		t.Errorf("expected nil snapshot after ClearDay, got %v", snap)
	}
}

func TestIsStale(t *testing.T) {
	t.Parallel()

	c := New()
	c.Update(quote(types.Hyperliquid, 100, 101, time.Now().UnixNano()))

	if c.IsStale("BTC", types.Hyperliquid, time.Hour) {
		t.Error("fresh quote should not be stale")
	}
	if !c.IsStale("BTC", types.Bybit, time.Hour) {
		t.Error("missing quote should be reported stale")
	}
}

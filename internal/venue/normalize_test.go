package venue

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/pkg/types"
)

func TestAcceptBookRejectsCrossQuotedFrame(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(types.Hyperliquid, map[string]types.SymbolId{"BTC": "BTC"})
	now := time.Now()

	if ok := n.AcceptBook("BTC", decimal.NewFromInt(101), decimal.NewFromInt(100), now); ok {
		t.Fatal("bid > ask should be rejected as cross-quoted")
	}
	if n.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", n.Dropped())
	}
}

func TestAcceptBookEnforcesMinimumGap(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(types.Hyperliquid, nil)
	now := time.Now()

	if ok := n.AcceptBook("BTC", decimal.NewFromInt(100), decimal.NewFromInt(101), now); !ok {
		t.Fatal("first book update should be accepted")
	}
	if ok := n.AcceptBook("BTC", decimal.NewFromInt(100), decimal.NewFromInt(101), now.Add(50*time.Millisecond)); ok {
		t.Fatal("book update within 200ms gap should be rejected")
	}
	if ok := n.AcceptBook("BTC", decimal.NewFromInt(100), decimal.NewFromInt(101), now.Add(250*time.Millisecond)); !ok {
		t.Fatal("book update after gap elapses should be accepted")
	}
}

func TestTickerSynthesisSuppressedWhileBookIsFresh(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(types.Hyperliquid, nil)
	now := time.Now()
	n.AcceptBook("BTC", decimal.NewFromInt(100), decimal.NewFromInt(101), now)

	if ok := n.AcceptTickerSynthesis("BTC", now.Add(100*time.Millisecond)); ok {
		t.Fatal("ticker synthesis should be suppressed within the 500ms book-fresh window")
	}
	if ok := n.AcceptTickerSynthesis("BTC", now.Add(600*time.Millisecond)); !ok {
		t.Fatal("ticker synthesis should be allowed once the book-fresh window elapses")
	}
}

func TestCanonicalMapsKnownAndRejectsUnknownSymbols(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(types.Bybit, map[string]types.SymbolId{"BTCUSDT": "BTC"})

	got, ok := n.Canonical("BTCUSDT")
	if !ok || got != "BTC" {
		t.Fatalf("Canonical(BTCUSDT) = %q,%v, want BTC,true", got, ok)
	}

	if _, ok := n.Canonical("DOGEUSDT"); ok {
		t.Error("unmapped venue symbol should not resolve")
	}
}

func TestSynthesizeFromLastProducesTightSpread(t *testing.T) {
	t.Parallel()

	last := decimal.NewFromInt(1000)
	q := SynthesizeFromLast(types.Hyperliquid, "BTC", last, 42)

	wantHalf := decimal.NewFromFloat(0.5) // 0.05% of 1000
	if !q.Ask.Sub(last).Equal(wantHalf) {
		t.Errorf("ask-last = %s, want %s", q.Ask.Sub(last), wantHalf)
	}
	if !last.Sub(q.Bid).Equal(wantHalf) {
		t.Errorf("last-bid = %s, want %s", last.Sub(q.Bid), wantHalf)
	}
	if !q.Valid() {
		t.Error("synthesized quote should satisfy bid<=ask invariant")
	}
}

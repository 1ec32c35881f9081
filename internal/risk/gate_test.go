package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/internal/config"
	"github.com/taku247/omg-tool/pkg/types"
)

func testParams() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionSize:      10000,
		MaxTotalExposure:     50000,
		MaxPositionsPerSym:   3,
		MaxTotalPositions:    10,
		MaxSlippagePct:       0.5,
		MinNetSpread:         0.2,
		MaxPositionDuration:  24 * 3600,
		CooldownPeriod:       300,
		MaxDailyLoss:         1000,
		MaxDrawdown:          5000,
		StopLossPct:          2.0,
		MaxExchangeExposure:  20000,
		MinExchangeBalance:   1000,
		BlockDurationMinutes: 60,
	}
}

func testOpp() types.Opportunity {
	return types.Opportunity{
		Symbol:          "BTC",
		BuyVenue:        "Hyperliquid",
		SellVenue:       "Bybit",
		BuyPrice:        decimal.NewFromFloat(100),
		SellPrice:       decimal.NewFromFloat(100.5),
		SpreadPct:       decimal.NewFromFloat(0.5),
		RecommendedSize: decimal.NewFromFloat(10),
		ExpectedProfit:  decimal.NewFromFloat(5),
	}
}

func ampleBalances() Balances {
	return Balances{
		"Hyperliquid": {"USDT": {Asset: "USDT", Free: decimal.NewFromInt(100000)}},
		"Bybit":       {"BTC": {Asset: "BTC", Free: decimal.NewFromInt(1000)}},
	}
}

func TestValidateAcceptsWithinLimits(t *testing.T) {
	t.Parallel()

	g := New(testParams())
	ok, reason := g.Validate(testOpp(), nil, ampleBalances(), time.Now().UTC())
	if !ok {
		t.Fatalf("expected acceptance, got rejection: %s", reason)
	}
}

func TestValidateRejectsCooldown(t *testing.T) {
	g := New(testParams())
	opp := testOpp()

	now := time.Now().UTC()
	ok, _ := g.Validate(opp, nil, ampleBalances(), now)
	if !ok {
		t.Fatal("first opportunity should be accepted")
	}
	g.Opened(&types.ArbitragePosition{
		Symbol: opp.Symbol, LongVenue: opp.BuyVenue, ShortVenue: opp.SellVenue,
		Size: opp.RecommendedSize, LongOrder: &types.Order{Price: ptr(opp.BuyPrice)},
	})

	ok, reason := g.Validate(opp, nil, ampleBalances(), now.Add(100*time.Second))
	if ok {
		t.Fatal("second opportunity within cooldown should be rejected")
	}
	if reason != "cooldown period active for BTC" {
		t.Errorf("reason = %q, want cooldown message", reason)
	}
}

func TestValidateRejectsTooManyPositionsForSymbol(t *testing.T) {
	t.Parallel()

	g := New(testParams())
	opp := testOpp()

	active := []*types.ArbitragePosition{
		{Symbol: "BTC"}, {Symbol: "BTC"}, {Symbol: "BTC"},
	}

	ok, reason := g.Validate(opp, active, ampleBalances(), time.Now().UTC())
	if ok {
		t.Fatal("should reject when symbol already has max positions")
	}
	if reason == "" {
		t.Error("expected a rejection reason")
	}
}

func TestValidateRejectsInsufficientBalance(t *testing.T) {
	t.Parallel()

	g := New(testParams())
	opp := testOpp()

	balances := Balances{
		"Hyperliquid": {"USDT": {Asset: "USDT", Free: decimal.NewFromInt(1)}},
		"Bybit":       {"BTC": {Asset: "BTC", Free: decimal.NewFromInt(1000)}},
	}

	ok, _ := g.Validate(opp, nil, balances, time.Now().UTC())
	if ok {
		t.Fatal("should reject with insufficient quote balance")
	}
}

func TestBlockSymbolAutoUnblocks(t *testing.T) {
	t.Parallel()

	g := New(testParams())
	g.BlockSymbol("BTC", 10*time.Millisecond)

	opp := testOpp()
	ok, _ := g.Validate(opp, nil, ampleBalances(), time.Now().UTC())
	if ok {
		t.Fatal("blocked symbol should reject immediately")
	}

	time.Sleep(20 * time.Millisecond)
	ok, reason := g.Validate(opp, nil, ampleBalances(), time.Now().UTC())
	if !ok {
		t.Fatalf("block should have auto-expired: %s", reason)
	}
}

func TestOpenedAndClosedExposureInvariant(t *testing.T) {
	t.Parallel()

	g := New(testParams())
	pos := &types.ArbitragePosition{
		Symbol: "BTC", LongVenue: "Hyperliquid", ShortVenue: "Bybit",
		Size: decimal.NewFromFloat(10), LongOrder: &types.Order{Price: ptr(decimal.NewFromFloat(100))},
	}

	g.Opened(pos)
	snap := g.GetSnapshot()

	var venueSum, symbolSum decimal.Decimal
	for _, v := range snap.ExposureByVenue {
		venueSum = venueSum.Add(v)
	}
	for _, v := range snap.ExposureBySymbol {
		symbolSum = symbolSum.Add(v)
	}
	if !venueSum.Equal(symbolSum) {
		t.Errorf("sum(exposureByVenue)=%s != sum(exposureBySymbol)=%s", venueSum, symbolSum)
	}

	pos.RealizedPnl = decimal.NewFromFloat(-50)
	g.Closed(pos)
	snap = g.GetSnapshot()
	if !snap.DailyPnl.Equal(decimal.NewFromFloat(-50)) {
		t.Errorf("dailyPnl = %s, want -50", snap.DailyPnl)
	}
	if !snap.DrawdownToday.Equal(decimal.NewFromFloat(50)) {
		t.Errorf("drawdownToday = %s, want 50", snap.DrawdownToday)
	}
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

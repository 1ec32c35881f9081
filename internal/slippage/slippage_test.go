package slippage

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/pkg/types"
)

func level(price, size float64) types.PriceLevel {
	return types.PriceLevel{Price: decimal.NewFromFloat(price), Size: decimal.NewFromFloat(size)}
}

func TestEstimateBuyWalksAsksAscending(t *testing.T) {
	t.Parallel()

	book := types.OrderBook{
		Asks: []types.PriceLevel{level(100, 1), level(101, 1)},
	}

	pct := Estimate(book, types.Buy, decimal.NewFromFloat(1.5))
	want := decimal.NewFromFloat(100).Mul(decimal.NewFromFloat(1)).
		Add(decimal.NewFromFloat(101).Mul(decimal.NewFromFloat(0.5))).
		Div(decimal.NewFromFloat(1.5)).Sub(decimal.NewFromFloat(100)).Div(decimal.NewFromFloat(100)).Mul(decimal.NewFromInt(100))

	if !pct.Round(8).Equal(want.Round(8)) {
		t.Errorf("slippage = %v, want %v", pct, want)
	}
}

func TestEstimateExactlyExhaustedIsFinite(t *testing.T) {
	t.Parallel()

	book := types.OrderBook{Asks: []types.PriceLevel{level(100, 2)}}

	pct := Estimate(book, types.Buy, decimal.NewFromFloat(2))
	if IsInfeasible(pct) {
		t.Error("size exactly matching book depth should be feasible")
	}
}

func TestEstimateOneUnitMoreIsInfeasible(t *testing.T) {
	t.Parallel()

	book := types.OrderBook{Asks: []types.PriceLevel{level(100, 2)}}

	pct := Estimate(book, types.Buy, decimal.NewFromFloat(2.0001))
	if !IsInfeasible(pct) {
		t.Error("size exceeding book depth should be infeasible")
	}
}

func TestEstimateSellWalksBidsDescending(t *testing.T) {
	t.Parallel()

	book := types.OrderBook{
		Bids: []types.PriceLevel{level(100, 1), level(99, 1)},
	}

	pct := Estimate(book, types.Sell, decimal.NewFromFloat(1.5))
	if IsInfeasible(pct) {
		t.Fatal("should be feasible")
	}
	if pct.LessThan(decimal.Zero) {
		t.Error("slippage percent should be non-negative (absolute)")
	}
}

func TestEstimateEmptyBookIsInfeasible(t *testing.T) {
	t.Parallel()

	pct := Estimate(types.OrderBook{}, types.Buy, decimal.NewFromFloat(1))
	if !IsInfeasible(pct) {
		t.Error("empty book should be infeasible")
	}
}

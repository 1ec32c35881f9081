// Package slippage estimates the average fill price and slippage percent
// for a hypothetical order walked against a depth snapshot. It is a pure
// function of its inputs — no state, no I/O.
package slippage

import (
	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/pkg/types"
)

// Infeasible is the sentinel slippage percentage returned when the book
// cannot absorb the requested size. RiskGate treats any estimate at or
// above this as an outright rejection.
var Infeasible = decimal.NewFromInt(999)

// Estimate walks book on the side implied by side (BUY walks asks
// ascending, SELL walks bids descending), accumulating cost until size is
// filled. Returns Infeasible if the book is exhausted first.
func Estimate(book types.OrderBook, side types.Side, size decimal.Decimal) decimal.Decimal {
	var levels []types.PriceLevel
	switch side {
	case types.Buy:
		levels = book.Asks
	case types.Sell:
		levels = book.Bids
	}

	if len(levels) == 0 || size.IsZero() {
		return Infeasible
	}

	bestPrice := levels[0].Price
	remaining := size
	totalCost := decimal.Zero

	for _, lvl := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := decimal.Min(remaining, lvl.Size)
		totalCost = totalCost.Add(take.Mul(lvl.Price))
		remaining = remaining.Sub(take)
	}

	if remaining.GreaterThan(decimal.Zero) {
		return Infeasible
	}

	avgFill := totalCost.Div(size)
	return avgFill.Sub(bestPrice).Abs().Div(bestPrice).Mul(decimal.NewFromInt(100))
}

// IsInfeasible reports whether an estimate returned the sentinel value.
func IsInfeasible(pct decimal.Decimal) bool {
	return pct.GreaterThanOrEqual(Infeasible)
}

// Package venue hides per-exchange wire encoding behind one uniform
// Adapter contract, and ships a single sketched concrete implementation
// (Hyperliquid-shaped REST+WS) that the rest of the venue set can be
// modeled after.
package venue

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/pkg/types"
)

// QuoteHandler is invoked for every normalized quote an adapter produces.
// Multiple handlers may be registered; invocation order matches
// registration order.
type QuoteHandler func(types.Quote)

// Adapter is the uniform contract every venue integration must satisfy.
type Adapter interface {
	// Venue identifies which exchange this adapter talks to.
	Venue() types.VenueId

	// Connect establishes transport and subscribes to order-book and
	// ticker streams for symbols. It starts a background decoder and
	// returns once the initial subscription has been sent.
	Connect(ctx context.Context, symbols []types.SymbolId) error

	// Disconnect closes the transport cleanly and stops background work.
	Disconnect() error

	// OnQuote registers cb to be invoked for every normalized quote.
	OnQuote(cb QuoteHandler)

	// SnapshotTicker performs a one-shot REST fetch, used for sanity
	// checks and cold start.
	SnapshotTicker(ctx context.Context, symbol types.SymbolId) (types.Quote, error)

	// SnapshotBook performs a REST depth snapshot for slippage estimation.
	SnapshotBook(ctx context.Context, symbol types.SymbolId, depth int) (types.OrderBook, error)

	// PlaceOrder submits an order. price is nil for MARKET orders.
	PlaceOrder(ctx context.Context, symbol types.SymbolId, side types.Side, qty decimal.Decimal, typ types.OrderType, price *decimal.Decimal, clientOrderID string) (types.Order, error)

	// CancelOrder cancels a resting order, returning whether it was
	// successfully cancelled.
	CancelOrder(ctx context.Context, orderID string, symbol types.SymbolId) (bool, error)

	// FetchOrder fetches the current state of a single order.
	FetchOrder(ctx context.Context, orderID string, symbol types.SymbolId) (types.Order, error)

	// FetchOpenOrders fetches every open order, optionally scoped to symbol.
	FetchOpenOrders(ctx context.Context, symbol *types.SymbolId) ([]types.Order, error)

	// FetchBalances fetches per-asset free/locked balances.
	FetchBalances(ctx context.Context) (map[string]types.Balance, error)

	// FetchPositions fetches venue-reported open positions.
	FetchPositions(ctx context.Context) ([]types.AccountPosition, error)

	// TradingFees returns the maker/taker rates for symbol, from static
	// config unless the venue exposes live values.
	TradingFees(symbol types.SymbolId) types.Fees
}

package main

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taku247/omg-tool/internal/venue"
	"github.com/taku247/omg-tool/pkg/types"
)

// simRegistry hands out one simAdapter per venue, all sharing the same
// last-quote table so a fill can be priced against whatever the replay
// stream most recently delivered for that venue+symbol.
type simRegistry struct {
	fee  decimal.Decimal
	slip decimal.Decimal

	mu   sync.RWMutex
	last map[types.VenueId]map[types.SymbolId]types.Quote
}

func newSimRegistry(fee decimal.Decimal, slip float64) *simRegistry {
	return &simRegistry{
		fee:  fee,
		slip: decimal.NewFromFloat(slip),
		last: make(map[types.VenueId]map[types.SymbolId]types.Quote),
	}
}

func (r *simRegistry) observe(q types.Quote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byVenue, ok := r.last[q.Venue]
	if !ok {
		byVenue = make(map[types.SymbolId]types.Quote)
		r.last[q.Venue] = byVenue
	}
	byVenue[q.Symbol] = q
}

func (r *simRegistry) quote(v types.VenueId, symbol types.SymbolId) (types.Quote, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byVenue, ok := r.last[v]
	if !ok {
		return types.Quote{}, false
	}
	q, ok := byVenue[symbol]
	return q, ok
}

func (r *simRegistry) adapterFor(v types.VenueId) venue.Adapter {
	return &simAdapter{v: v, reg: r}
}

// simAdapter fills every order immediately at the last replayed quote for
// its venue, adjusted by a fixed slippage fraction against the taker.
type simAdapter struct {
	v   types.VenueId
	reg *simRegistry
	cb  venue.QuoteHandler
}

func (a *simAdapter) Venue() types.VenueId { return a.v }

func (a *simAdapter) Connect(ctx context.Context, symbols []types.SymbolId) error { return nil }
func (a *simAdapter) Disconnect() error                                           { return nil }
func (a *simAdapter) OnQuote(cb venue.QuoteHandler)                               { a.cb = cb }

func (a *simAdapter) SnapshotTicker(ctx context.Context, symbol types.SymbolId) (types.Quote, error) {
	q, _ := a.reg.quote(a.v, symbol)
	return q, nil
}

func (a *simAdapter) SnapshotBook(ctx context.Context, symbol types.SymbolId, depth int) (types.OrderBook, error) {
	return types.OrderBook{}, nil
}

func (a *simAdapter) PlaceOrder(ctx context.Context, symbol types.SymbolId, side types.Side, qty decimal.Decimal, typ types.OrderType, price *decimal.Decimal, clientOrderID string) (types.Order, error) {
	q, ok := a.reg.quote(a.v, symbol)
	var fillPrice decimal.Decimal
	switch {
	case ok && side == types.Buy:
		fillPrice = q.Ask.Mul(decimal.NewFromInt(1).Add(a.reg.slip))
	case ok && side == types.Sell:
		fillPrice = q.Bid.Mul(decimal.NewFromInt(1).Sub(a.reg.slip))
	case price != nil:
		fillPrice = *price
	default:
		fillPrice = decimal.Zero
	}
	fee := fillPrice.Mul(qty).Mul(a.reg.fee)

	return types.Order{
		ID:            uuid.NewString(),
		ClientOrderID: clientOrderID,
		Venue:         a.v,
		Symbol:        symbol,
		Side:          side,
		Type:          typ,
		Price:         &fillPrice,
		Quantity:      qty,
		Filled:        qty,
		Status:        types.OrderFilled,
		Fee:           &fee,
	}, nil
}

func (a *simAdapter) CancelOrder(ctx context.Context, orderID string, symbol types.SymbolId) (bool, error) {
	return true, nil
}

func (a *simAdapter) FetchOrder(ctx context.Context, orderID string, symbol types.SymbolId) (types.Order, error) {
	return types.Order{ID: orderID, Status: types.OrderFilled}, nil
}

func (a *simAdapter) FetchOpenOrders(ctx context.Context, symbol *types.SymbolId) ([]types.Order, error) {
	return nil, nil
}

func (a *simAdapter) FetchBalances(ctx context.Context) (map[string]types.Balance, error) {
	return nil, nil
}

func (a *simAdapter) FetchPositions(ctx context.Context) ([]types.AccountPosition, error) {
	return nil, nil
}

func (a *simAdapter) TradingFees(symbol types.SymbolId) types.Fees {
	return types.Fees{MakerBps: a.reg.fee, TakerBps: a.reg.fee}
}

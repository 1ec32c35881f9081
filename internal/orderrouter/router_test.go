package orderrouter

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/internal/venue"
	"github.com/taku247/omg-tool/pkg/types"
)

// stubAdapter is a minimal venue.Adapter for router tests.
type stubAdapter struct {
	mu         sync.Mutex
	placeCalls int
	order      types.Order
	fetchSeq   []types.OrderStatus
	fetchIdx   int
}

func (s *stubAdapter) Venue() types.VenueId                                        { return types.Hyperliquid }
func (s *stubAdapter) Connect(ctx context.Context, symbols []types.SymbolId) error { return nil }
func (s *stubAdapter) Disconnect() error                                           { return nil }
func (s *stubAdapter) OnQuote(cb venue.QuoteHandler)                               {}
func (s *stubAdapter) SnapshotTicker(ctx context.Context, symbol types.SymbolId) (types.Quote, error) {
	return types.Quote{}, nil
}
func (s *stubAdapter) SnapshotBook(ctx context.Context, symbol types.SymbolId, depth int) (types.OrderBook, error) {
	return types.OrderBook{}, nil
}

func (s *stubAdapter) PlaceOrder(ctx context.Context, symbol types.SymbolId, side types.Side, qty decimal.Decimal, typ types.OrderType, price *decimal.Decimal, clientOrderID string) (types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placeCalls++
	s.order = types.Order{
		ID: "venue-order-1", ClientOrderID: clientOrderID, Symbol: symbol, Side: side,
		Type: typ, Quantity: qty, Status: types.OrderOpen,
	}
	return s.order, nil
}

func (s *stubAdapter) CancelOrder(ctx context.Context, orderID string, symbol types.SymbolId) (bool, error) {
	return true, nil
}

func (s *stubAdapter) FetchOrder(ctx context.Context, orderID string, symbol types.SymbolId) (types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.order
	if s.fetchIdx < len(s.fetchSeq) {
		o.Status = s.fetchSeq[s.fetchIdx]
		s.fetchIdx++
	}
	return o, nil
}
func (s *stubAdapter) FetchOpenOrders(ctx context.Context, symbol *types.SymbolId) ([]types.Order, error) {
	return nil, nil
}
func (s *stubAdapter) FetchBalances(ctx context.Context) (map[string]types.Balance, error) {
	return nil, nil
}
func (s *stubAdapter) FetchPositions(ctx context.Context) ([]types.AccountPosition, error) {
	return nil, nil
}
func (s *stubAdapter) TradingFees(symbol types.SymbolId) types.Fees { return types.Fees{} }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPlaceIsIdempotentOnClientOrderID(t *testing.T) {
	adapter := &stubAdapter{}
	r := New(map[types.VenueId]venue.Adapter{types.Hyperliquid: adapter}, testLogger())

	ctx := context.Background()
	qty := decimal.NewFromInt(1)

	o1, err := r.Place(ctx, types.Hyperliquid, "BTC", types.Buy, qty, types.Market, nil, "pos1_long", nil)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	o2, err := r.Place(ctx, types.Hyperliquid, "BTC", types.Buy, qty, types.Market, nil, "pos1_long", nil)
	if err != nil {
		t.Fatalf("Place (dup): %v", err)
	}

	if adapter.placeCalls != 1 {
		t.Errorf("placeCalls = %d, want 1 (idempotent)", adapter.placeCalls)
	}
	if o1.ID != o2.ID {
		t.Errorf("duplicate Place returned different order: %+v vs %+v", o1, o2)
	}
}

func TestPlaceUnknownVenueRejected(t *testing.T) {
	r := New(map[types.VenueId]venue.Adapter{}, testLogger())
	_, err := r.Place(context.Background(), types.Bybit, "BTC", types.Buy, decimal.NewFromInt(1), types.Market, nil, "x", nil)
	if err == nil {
		t.Fatal("expected error for unregistered venue")
	}
}

func TestMonitorInvokesOnFilled(t *testing.T) {
	adapter := &stubAdapter{fetchSeq: []types.OrderStatus{types.OrderFilled}}
	r := New(map[types.VenueId]venue.Adapter{types.Hyperliquid: adapter}, testLogger()).
		WithPollInterval(20*time.Millisecond, time.Second)

	filled := make(chan types.Order, 1)
	lc := &Lifecycle{OnFilled: func(o types.Order) { filled <- o }}

	// WithPollInterval above shortens the 5s poll, so the monitor that
	// Place always spawns observes the fill quickly.
	_, err := r.Place(context.Background(), types.Hyperliquid, "BTC", types.Buy, decimal.NewFromInt(1), types.Market, nil, "pos1_long", lc)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}

	select {
	case o := <-filled:
		if !o.Status.IsFilledOrPartial() {
			t.Errorf("expected filled/partial status, got %s", o.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnFilled never invoked within poll window")
	}
}

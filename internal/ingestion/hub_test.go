package ingestion

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/internal/venue"
	"github.com/taku247/omg-tool/pkg/types"
)

// fakeAdapter is a minimal venue.Adapter used to drive the Hub in tests
// without any real transport.
type fakeAdapter struct {
	venue    types.VenueId
	handlers []venue.QuoteHandler
	connErr  error
	connects int
}

func (f *fakeAdapter) Venue() types.VenueId { return f.venue }

func (f *fakeAdapter) Connect(ctx context.Context, symbols []types.SymbolId) error {
	f.connects++
	return f.connErr
}

func (f *fakeAdapter) Disconnect() error { return nil }

func (f *fakeAdapter) OnQuote(cb venue.QuoteHandler) {
	f.handlers = append(f.handlers, cb)
}

func (f *fakeAdapter) emit(q types.Quote) {
	for _, h := range f.handlers {
		h(q)
	}
}

func (f *fakeAdapter) SnapshotTicker(ctx context.Context, symbol types.SymbolId) (types.Quote, error) {
	return types.Quote{}, nil
}
func (f *fakeAdapter) SnapshotBook(ctx context.Context, symbol types.SymbolId, depth int) (types.OrderBook, error) {
	return types.OrderBook{}, nil
}
func (f *fakeAdapter) PlaceOrder(ctx context.Context, symbol types.SymbolId, side types.Side, qty decimal.Decimal, typ types.OrderType, price *decimal.Decimal, clientOrderID string) (types.Order, error) {
	return types.Order{}, nil
}
func (f *fakeAdapter) CancelOrder(ctx context.Context, orderID string, symbol types.SymbolId) (bool, error) {
	return true, nil
}
func (f *fakeAdapter) FetchOrder(ctx context.Context, orderID string, symbol types.SymbolId) (types.Order, error) {
	return types.Order{}, nil
}
func (f *fakeAdapter) FetchOpenOrders(ctx context.Context, symbol *types.SymbolId) ([]types.Order, error) {
	return nil, nil
}
func (f *fakeAdapter) FetchBalances(ctx context.Context) (map[string]types.Balance, error) {
	return nil, nil
}
func (f *fakeAdapter) FetchPositions(ctx context.Context) ([]types.AccountPosition, error) {
	return nil, nil
}
func (f *fakeAdapter) TradingFees(symbol types.SymbolId) types.Fees { return types.Fees{} }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHubDispatchInRegistrationOrder(t *testing.T) {
	h := New(testLogger(), 16)
	adapter := &fakeAdapter{venue: types.Hyperliquid}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub1 := h.Subscribe()
	sub2 := h.Subscribe()

	h.Add(ctx, types.Hyperliquid, adapter, []types.SymbolId{"BTC"})

	// Give the supervisor a moment to call Connect and register the handler.
	deadline := time.After(time.Second)
	for len(adapter.handlers) == 0 {
		select {
		case <-deadline:
			t.Fatal("adapter handler never registered")
		case <-time.After(time.Millisecond):
		}
	}

	q := types.Quote{Venue: types.Hyperliquid, Symbol: "BTC", Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101), TsNanos: 1}
	adapter.emit(q)

	select {
	case got := <-sub1:
		if got.Symbol != "BTC" {
			t.Errorf("sub1 got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("sub1 did not receive quote")
	}
	select {
	case got := <-sub2:
		if got.Symbol != "BTC" {
			t.Errorf("sub2 got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("sub2 did not receive quote")
	}
}

func TestHubOverflowDropsNewestWithoutBlockingProducer(t *testing.T) {
	h := New(testLogger(), 2)
	adapter := &fakeAdapter{venue: types.Hyperliquid}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := h.Subscribe()
	h.Add(ctx, types.Hyperliquid, adapter, []types.SymbolId{"BTC"})

	deadline := time.After(time.Second)
	for len(adapter.handlers) == 0 {
		select {
		case <-deadline:
			t.Fatal("adapter handler never registered")
		case <-time.After(time.Millisecond):
		}
	}

	// Fill the queue of size 2, then send three more: none may block, and
	// the three overflow quotes are the ones dropped.
	for i := 0; i < 5; i++ {
		adapter.emit(types.Quote{Venue: types.Hyperliquid, Symbol: "BTC", Bid: decimal.NewFromInt(int64(i)), Ask: decimal.NewFromInt(int64(i + 1)), TsNanos: int64(i)})
	}

	// Should be able to drain exactly the two buffered quotes, oldest
	// first, without deadlock.
	drained := 0
	for {
		select {
		case q := <-sub:
			if !q.Bid.Equal(decimal.NewFromInt(int64(drained))) {
				t.Fatalf("drained quote %d has bid %s, want %d (newest should be dropped)", drained, q.Bid, drained)
			}
			drained++
		case <-time.After(100 * time.Millisecond):
			if drained != 2 {
				t.Fatalf("drained %d quotes, want 2 (the queue capacity)", drained)
			}
			return
		}
	}
}

func TestHubStopDrainsWithinGrace(t *testing.T) {
	h := New(testLogger(), 16)
	adapter := &fakeAdapter{venue: types.Hyperliquid}

	ctx := context.Background()
	h.Add(ctx, types.Hyperliquid, adapter, []types.SymbolId{"BTC"})

	start := time.Now()
	h.Stop(200 * time.Millisecond)
	if time.Since(start) > time.Second {
		t.Fatal("Stop took far longer than grace period")
	}
}

func TestHubReconnectOnConnectFailure(t *testing.T) {
	h := New(testLogger(), 16)
	adapter := &fakeAdapter{venue: types.Hyperliquid, connErr: context.DeadlineExceeded}

	ctx, cancel := context.WithCancel(context.Background())
	h.Add(ctx, types.Hyperliquid, adapter, []types.SymbolId{"BTC"})

	deadline := time.After(2 * time.Second)
	for adapter.connects < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 2 connect attempts, got %d", adapter.connects)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	h.Stop(time.Second)
}

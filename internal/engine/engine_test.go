package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taku247/omg-tool/internal/config"
	"github.com/taku247/omg-tool/internal/venue"
	"github.com/taku247/omg-tool/pkg/types"
)

// fakeAdapter connects instantly, pushes one fixed quote, fills every order
// immediately at fillAt, and reports ample balances on both legs.
type fakeAdapter struct {
	v      types.VenueId
	quote  types.Quote
	fillAt decimal.Decimal
	cb     venue.QuoteHandler
}

func (f *fakeAdapter) Venue() types.VenueId { return f.v }

func (f *fakeAdapter) Connect(ctx context.Context, symbols []types.SymbolId) error {
	if f.cb != nil {
		f.cb(f.quote)
	}
	return nil
}
func (f *fakeAdapter) Disconnect() error             { return nil }
func (f *fakeAdapter) OnQuote(cb venue.QuoteHandler) { f.cb = cb }
func (f *fakeAdapter) SnapshotTicker(ctx context.Context, symbol types.SymbolId) (types.Quote, error) {
	return f.quote, nil
}
func (f *fakeAdapter) SnapshotBook(ctx context.Context, symbol types.SymbolId, depth int) (types.OrderBook, error) {
	return types.OrderBook{}, nil
}
func (f *fakeAdapter) PlaceOrder(ctx context.Context, symbol types.SymbolId, side types.Side, qty decimal.Decimal, typ types.OrderType, price *decimal.Decimal, clientOrderID string) (types.Order, error) {
	px := f.fillAt
	return types.Order{
		ID: "ord-" + clientOrderID, ClientOrderID: clientOrderID, Venue: f.v, Symbol: symbol,
		Side: side, Type: typ, Price: &px, Quantity: qty, Filled: qty, Status: types.OrderFilled,
	}, nil
}
func (f *fakeAdapter) CancelOrder(ctx context.Context, orderID string, symbol types.SymbolId) (bool, error) {
	return true, nil
}
func (f *fakeAdapter) FetchOrder(ctx context.Context, orderID string, symbol types.SymbolId) (types.Order, error) {
	return types.Order{ID: orderID, Status: types.OrderFilled}, nil
}
func (f *fakeAdapter) FetchOpenOrders(ctx context.Context, symbol *types.SymbolId) ([]types.Order, error) {
	return nil, nil
}
func (f *fakeAdapter) FetchBalances(ctx context.Context) (map[string]types.Balance, error) {
	huge := decimal.NewFromInt(1_000_000)
	return map[string]types.Balance{
		"USDT": {Asset: "USDT", Free: huge},
		"BTC":  {Asset: "BTC", Free: huge},
	}, nil
}
func (f *fakeAdapter) FetchPositions(ctx context.Context) ([]types.AccountPosition, error) {
	return nil, nil
}
func (f *fakeAdapter) TradingFees(symbol types.SymbolId) types.Fees { return types.Fees{} }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.Arbitrage.MinSpreadThreshold = 0.01
	cfg.Arbitrage.MaxPositionSize = 10_000
	cfg.Arbitrage.MinProfitThreshold = 0.01
	cfg.Risk.MaxPositionSize = 10_000
	cfg.Risk.MaxPositionsPerSym = 5
	cfg.Risk.MaxTotalPositions = 5
	cfg.Risk.MaxTotalExposure = 100_000
	cfg.Risk.MaxExchangeExposure = 100_000
	cfg.Risk.MaxSlippagePct = 5
	cfg.Risk.MinNetSpread = 0
	cfg.Risk.MaxDailyLoss = 100_000
	cfg.Risk.MaxDrawdown = 100_000
	cfg.Risk.MinExchangeBalance = 0
	return cfg
}

func TestNewWiresWithoutStore(t *testing.T) {
	e, err := New(testConfig(), Dependencies{Symbols: []types.SymbolId{"BTC"}}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.store != nil {
		t.Fatalf("expected nil store when DataDir is empty")
	}
}

func TestStartOpensPositionFromQuotes(t *testing.T) {
	now := time.Now().UnixNano()

	hl := &fakeAdapter{
		v:      types.Hyperliquid,
		fillAt: decimal.NewFromInt(100),
		quote: types.Quote{
			Venue: types.Hyperliquid, Symbol: "BTC",
			Bid: decimal.NewFromFloat(99.9), Ask: decimal.NewFromInt(100), TsNanos: now,
		},
	}
	bybit := &fakeAdapter{
		v:      types.Bybit,
		fillAt: decimal.NewFromInt(101),
		quote: types.Quote{
			Venue: types.Bybit, Symbol: "BTC",
			Bid: decimal.NewFromInt(101), Ask: decimal.NewFromFloat(101.1), TsNanos: now + 1,
		},
	}

	e, err := New(testConfig(), Dependencies{
		Adapters: map[types.VenueId]venue.Adapter{types.Hyperliquid: hl, types.Bybit: bybit},
		Symbols:  []types.SymbolId{"BTC"},
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.Start()
	defer e.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(e.PositionsSnapshot()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	snap := e.PositionsSnapshot()
	if len(snap) == 0 {
		t.Fatalf("expected at least one position to be opened")
	}
	pos := snap[0]
	if pos.Status != types.PositionOpen && pos.Status != types.PositionClosing {
		t.Errorf("position status = %s, want OPEN or CLOSING", pos.Status)
	}
}

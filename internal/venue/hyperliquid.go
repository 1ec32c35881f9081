package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/taku247/omg-tool/internal/config"
	"github.com/taku247/omg-tool/internal/errs"
	"github.com/taku247/omg-tool/pkg/types"
)

const (
	hlReconnectBaseDelay = 1 * time.Second
	hlReconnectMaxDelay  = 30 * time.Second
	hlMaxReconnectTries  = 3
	hlPingInterval       = 50 * time.Second
	hlReadDeadline       = 90 * time.Second
	hlWriteDeadline      = 10 * time.Second
)

// HyperliquidAdapter is a REST+WebSocket venue adapter sketched against a
// Hyperliquid-shaped public API: a single subscribe-multiplex WS channel
// keyed by {type, coin}, plus a conventional REST surface for snapshots,
// order management, and account state. Other venues in the configured fee
// table reuse this same shape; only their base URLs and symbol tables
// differ.
type HyperliquidAdapter struct {
	venue  types.VenueId
	http   *resty.Client
	signer *Signer
	rl     *RateLimiter
	norm   *Normalizer
	logger *slog.Logger

	wsURL string

	mu       sync.Mutex
	conn     *websocket.Conn
	symbols  []types.SymbolId
	handlers []QuoteHandler
	closing  bool
	fees     map[types.SymbolId]types.Fees

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHyperliquidAdapter builds an adapter from venue config and a static
// table mapping venue-native coin names to canonical symbols. v is the
// VenueId this instance reports as and tags every quote/order with —
// every configured venue instantiates this same adapter shape, differing
// only in v, cfg, and symbolTable.
func NewHyperliquidAdapter(v types.VenueId, cfg config.ExchangeConfig, symbolTable map[string]types.SymbolId, defaultFees types.Fees, logger *slog.Logger) *HyperliquidAdapter {
	httpClient := resty.New().
		SetBaseURL(cfg.RestBaseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	rl := cfg.RateLimit
	if (rl == config.RateLimitConfig{}) {
		rl = config.DefaultRateLimit()
	}

	fees := make(map[types.SymbolId]types.Fees)
	for _, sym := range symbolTable {
		fees[sym] = defaultFees
	}

	return &HyperliquidAdapter{
		venue:  v,
		http:   httpClient,
		signer: NewSigner(cfg.APIKey, cfg.APISecret),
		rl:     NewRateLimiter(rl),
		norm:   NewNormalizer(v, symbolTable),
		logger: logger.With("component", "venue."+strings.ToLower(string(v))),
		wsURL:  cfg.WSBaseURL,
		fees:   fees,
		stopCh: make(chan struct{}),
	}
}

func (a *HyperliquidAdapter) Venue() types.VenueId { return a.venue }

// OnQuote registers cb. Invocation order matches registration order.
func (a *HyperliquidAdapter) OnQuote(cb QuoteHandler) {
	a.mu.Lock()
	a.handlers = append(a.handlers, cb)
	a.mu.Unlock()
}

// Connect starts the reconnect-supervised read loop in the background and
// returns immediately. Dialing the WS transport and subscribing happen
// inside that loop, so Connect does not wait for them and always returns
// nil; dial and subscribe failures are retried by the loop, not reported
// to the caller.
func (a *HyperliquidAdapter) Connect(ctx context.Context, symbols []types.SymbolId) error {
	a.mu.Lock()
	a.symbols = symbols
	a.closing = false
	a.mu.Unlock()

	go a.runLoop(ctx)
	return nil
}

// Disconnect closes the transport cleanly and stops background work.
func (a *HyperliquidAdapter) Disconnect() error {
	a.mu.Lock()
	a.closing = true
	conn := a.conn
	a.mu.Unlock()

	a.stopOnce.Do(func() { close(a.stopCh) })
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// runLoop supervises the WS connection, reconnecting with exponential
// backoff capped at hlMaxReconnectTries per cycle, 1s base, factor 2.
func (a *HyperliquidAdapter) runLoop(ctx context.Context) {
	delay := hlReconnectBaseDelay
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		default:
		}

		if err := a.connectAndRead(ctx); err != nil {
			a.logger.Warn("websocket session ended", "error", err, "attempt", attempts+1)
		}

		a.mu.Lock()
		closing := a.closing
		a.mu.Unlock()
		if closing {
			return
		}

		attempts++
		if attempts > hlMaxReconnectTries {
			attempts = 0
			delay = hlReconnectBaseDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > hlReconnectMaxDelay {
			delay = hlReconnectMaxDelay
		}
	}
}

func (a *HyperliquidAdapter) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.wsURL, nil)
	if err != nil {
		return errs.New(errs.TransportError, "venue.connect", err)
	}

	a.mu.Lock()
	a.conn = conn
	symbols := a.symbols
	a.mu.Unlock()

	defer conn.Close()

	for _, sym := range symbols {
		if err := a.subscribe(conn, "l2Book", string(sym)); err != nil {
			return err
		}
		if err := a.subscribe(conn, "trades", string(sym)); err != nil {
			return err
		}
	}

	pingDone := make(chan struct{})
	go a.pingLoop(conn, pingDone)
	defer close(pingDone)

	conn.SetReadDeadline(time.Now().Add(hlReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(hlReadDeadline))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(hlReadDeadline))
		a.dispatchMessage(msg)
	}
}

func (a *HyperliquidAdapter) subscribe(conn *websocket.Conn, channel, coin string) error {
	msg := wsSubscribeMsg{
		Method: "subscribe",
		Subscription: wsSubscription{
			Type: channel,
			Coin: coin,
		},
	}
	conn.SetWriteDeadline(time.Now().Add(hlWriteDeadline))
	return conn.WriteJSON(msg)
}

func (a *HyperliquidAdapter) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(hlPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(hlWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type wsSubscribeMsg struct {
	Method       string         `json:"method"`
	Subscription wsSubscription `json:"subscription"`
}

type wsSubscription struct {
	Type string `json:"type"`
	Coin string `json:"coin,omitempty"`
}

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsBookData struct {
	Coin   string      `json:"coin"`
	Levels [][]wsLevel `json:"levels"` // [0]=bids, [1]=asks
	Time   int64       `json:"time"`
}

type wsLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
}

func (a *HyperliquidAdapter) dispatchMessage(raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		a.logger.Warn("decode error, dropping frame", "error", err)
		return
	}

	switch env.Channel {
	case "l2Book":
		a.handleBook(env.Data)
	default:
		// Unrecognized channel payload, not our concern; ignore.
	}
}

func (a *HyperliquidAdapter) handleBook(raw json.RawMessage) {
	var data wsBookData
	if err := json.Unmarshal(raw, &data); err != nil {
		a.logger.Warn("decode error in l2Book frame, dropping", "error", err)
		return
	}
	if len(data.Levels) != 2 || len(data.Levels[0]) == 0 || len(data.Levels[1]) == 0 {
		return
	}

	symbol, ok := a.norm.Canonical(data.Coin)
	if !ok {
		a.norm.MarkUnknownSymbol()
		return
	}

	bid, err1 := decimal.NewFromString(data.Levels[0][0].Px)
	ask, err2 := decimal.NewFromString(data.Levels[1][0].Px)
	if err1 != nil || err2 != nil {
		a.logger.Warn("malformed price in l2Book frame, dropping")
		return
	}

	tsNanos := data.Time * int64(time.Millisecond)
	now := time.Unix(0, tsNanos)
	if tsNanos == 0 {
		now = time.Now()
		tsNanos = now.UnixNano()
	}

	if !a.norm.AcceptBook(symbol, bid, ask, now) {
		return
	}

	q := types.Quote{
		Venue:   a.venue,
		Symbol:  symbol,
		Bid:     bid,
		Ask:     ask,
		TsNanos: tsNanos,
	}

	a.mu.Lock()
	handlers := append([]QuoteHandler(nil), a.handlers...)
	a.mu.Unlock()

	for _, h := range handlers {
		h(q)
	}
}

// SnapshotTicker performs a one-shot REST fetch.
func (a *HyperliquidAdapter) SnapshotTicker(ctx context.Context, symbol types.SymbolId) (types.Quote, error) {
	if err := a.rl.Book.Wait(ctx); err != nil {
		return types.Quote{}, err
	}

	var result struct {
		Bid string `json:"bid"`
		Ask string `json:"ask"`
		Ts  int64  `json:"ts"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("coin", string(symbol)).
		SetResult(&result).
		Get("/ticker")
	if err != nil {
		return types.Quote{}, errs.New(errs.TransportError, "venue.snapshotTicker", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.Quote{}, errs.New(errs.TransportError, "venue.snapshotTicker",
			fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}

	bid, err1 := decimal.NewFromString(result.Bid)
	ask, err2 := decimal.NewFromString(result.Ask)
	if err1 != nil || err2 != nil {
		return types.Quote{}, errs.New(errs.DecodeError, "venue.snapshotTicker", fmt.Errorf("malformed price fields"))
	}

	return types.Quote{
		Venue:   a.venue,
		Symbol:  symbol,
		Bid:     bid,
		Ask:     ask,
		TsNanos: result.Ts * int64(time.Millisecond),
	}, nil
}

// SnapshotBook performs a REST depth snapshot for slippage estimation.
func (a *HyperliquidAdapter) SnapshotBook(ctx context.Context, symbol types.SymbolId, depth int) (types.OrderBook, error) {
	if err := a.rl.Book.Wait(ctx); err != nil {
		return types.OrderBook{}, err
	}

	var result struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("coin", string(symbol)).
		SetQueryParam("depth", fmt.Sprintf("%d", depth)).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return types.OrderBook{}, errs.New(errs.TransportError, "venue.snapshotBook", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.OrderBook{}, errs.New(errs.TransportError, "venue.snapshotBook",
			fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}

	book := types.OrderBook{Symbol: symbol, TsNanos: time.Now().UnixNano()}
	for _, lvl := range result.Bids {
		px, e1 := decimal.NewFromString(lvl[0])
		sz, e2 := decimal.NewFromString(lvl[1])
		if e1 != nil || e2 != nil {
			continue
		}
		book.Bids = append(book.Bids, types.PriceLevel{Price: px, Size: sz})
	}
	for _, lvl := range result.Asks {
		px, e1 := decimal.NewFromString(lvl[0])
		sz, e2 := decimal.NewFromString(lvl[1])
		if e1 != nil || e2 != nil {
			continue
		}
		book.Asks = append(book.Asks, types.PriceLevel{Price: px, Size: sz})
	}
	return book, nil
}

type placeOrderRequest struct {
	Coin          string `json:"coin"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price,omitempty"`
	Size          string `json:"size"`
	ClientOrderID string `json:"clientOrderId"`
}

type placeOrderResponse struct {
	OrderID  string `json:"orderId"`
	Status   string `json:"status"`
	Filled   string `json:"filled"`
	AvgPrice string `json:"avgPrice"`
}

// PlaceOrder submits an order, HMAC-signed.
func (a *HyperliquidAdapter) PlaceOrder(ctx context.Context, symbol types.SymbolId, side types.Side, qty decimal.Decimal, typ types.OrderType, price *decimal.Decimal, clientOrderID string) (types.Order, error) {
	if err := a.rl.Order.Wait(ctx); err != nil {
		return types.Order{}, err
	}

	req := placeOrderRequest{
		Coin:          string(symbol),
		Side:          string(side),
		Type:          string(typ),
		Size:          qty.String(),
		ClientOrderID: clientOrderID,
	}
	if price != nil {
		req.Price = price.String()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return types.Order{}, errs.New(errs.DecodeError, "venue.placeOrder", err)
	}
	headers := a.signer.Headers(http.MethodPost, "/orders", string(body))

	var result placeOrderResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return types.Order{}, errs.New(errs.TransportError, "venue.placeOrder", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return types.Order{}, errs.New(errs.NotAuthenticated, "venue.placeOrder", fmt.Errorf("unauthorized"))
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return types.Order{}, errs.New(errs.RateLimited, "venue.placeOrder", fmt.Errorf("rate limited"))
	}
	if resp.StatusCode() != http.StatusOK {
		return types.Order{}, errs.New(errs.OrderRejectedErr, "venue.placeOrder",
			fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}

	filled, _ := decimal.NewFromString(result.Filled)

	// Position/PnL bookkeeping keys off Order.Price, so it must carry the
	// venue-reported fill price, not the (nil, for MARKET) request price.
	fillPrice := price
	if avg, err := decimal.NewFromString(result.AvgPrice); err == nil && !avg.IsZero() {
		fillPrice = &avg
	}

	return types.Order{
		ID:            result.OrderID,
		ClientOrderID: clientOrderID,
		Venue:         a.venue,
		Symbol:        symbol,
		Side:          side,
		Type:          typ,
		Price:         fillPrice,
		Quantity:      qty,
		Filled:        filled,
		Status:        types.OrderStatus(result.Status),
		TsNanos:       time.Now().UnixNano(),
	}, nil
}

// CancelOrder cancels a resting order.
func (a *HyperliquidAdapter) CancelOrder(ctx context.Context, orderID string, symbol types.SymbolId) (bool, error) {
	if err := a.rl.Cancel.Wait(ctx); err != nil {
		return false, err
	}

	path := fmt.Sprintf("/orders/%s", orderID)
	headers := a.signer.Headers(http.MethodDelete, path, "")

	resp, err := a.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Delete(path)
	if err != nil {
		return false, errs.New(errs.TransportError, "venue.cancelOrder", err)
	}
	return resp.StatusCode() == http.StatusOK, nil
}

// FetchOrder fetches the current state of a single order.
func (a *HyperliquidAdapter) FetchOrder(ctx context.Context, orderID string, symbol types.SymbolId) (types.Order, error) {
	if err := a.rl.Book.Wait(ctx); err != nil {
		return types.Order{}, err
	}

	headers := a.signer.Headers(http.MethodGet, "/orders/"+orderID, "")
	var result placeOrderResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/orders/" + orderID)
	if err != nil {
		return types.Order{}, errs.New(errs.TransportError, "venue.fetchOrder", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.Order{}, errs.New(errs.TransportError, "venue.fetchOrder",
			fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}

	filled, _ := decimal.NewFromString(result.Filled)
	return types.Order{
		ID:      result.OrderID,
		Symbol:  symbol,
		Filled:  filled,
		Status:  types.OrderStatus(result.Status),
		TsNanos: time.Now().UnixNano(),
	}, nil
}

// FetchOpenOrders fetches every open order, optionally scoped to symbol.
func (a *HyperliquidAdapter) FetchOpenOrders(ctx context.Context, symbol *types.SymbolId) ([]types.Order, error) {
	if err := a.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	req := a.http.R().SetContext(ctx)
	if symbol != nil {
		req = req.SetQueryParam("coin", string(*symbol))
	}
	headers := a.signer.Headers(http.MethodGet, "/openOrders", "")

	var results []placeOrderResponse
	resp, err := req.SetHeaders(headers).SetResult(&results).Get("/openOrders")
	if err != nil {
		return nil, errs.New(errs.TransportError, "venue.fetchOpenOrders", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errs.New(errs.TransportError, "venue.fetchOpenOrders",
			fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}

	out := make([]types.Order, 0, len(results))
	for _, r := range results {
		filled, _ := decimal.NewFromString(r.Filled)
		out = append(out, types.Order{ID: r.OrderID, Filled: filled, Status: types.OrderStatus(r.Status)})
	}
	return out, nil
}

// FetchBalances fetches per-asset free/locked balances.
func (a *HyperliquidAdapter) FetchBalances(ctx context.Context) (map[string]types.Balance, error) {
	if err := a.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	headers := a.signer.Headers(http.MethodGet, "/balances", "")
	var results []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&results).
		Get("/balances")
	if err != nil {
		return nil, errs.New(errs.TransportError, "venue.fetchBalances", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errs.New(errs.TransportError, "venue.fetchBalances",
			fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}

	out := make(map[string]types.Balance, len(results))
	for _, r := range results {
		free, _ := decimal.NewFromString(r.Free)
		locked, _ := decimal.NewFromString(r.Locked)
		out[r.Asset] = types.Balance{Asset: r.Asset, Free: free, Locked: locked}
	}
	return out, nil
}

// FetchPositions fetches venue-reported open positions.
func (a *HyperliquidAdapter) FetchPositions(ctx context.Context) ([]types.AccountPosition, error) {
	if err := a.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	headers := a.signer.Headers(http.MethodGet, "/positions", "")
	var results []struct {
		Coin       string `json:"coin"`
		Side       string `json:"side"`
		Size       string `json:"size"`
		EntryPrice string `json:"entryPx"`
		Unrealized string `json:"unrealizedPnl"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&results).
		Get("/positions")
	if err != nil {
		return nil, errs.New(errs.TransportError, "venue.fetchPositions", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errs.New(errs.TransportError, "venue.fetchPositions",
			fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}

	out := make([]types.AccountPosition, 0, len(results))
	for _, r := range results {
		size, _ := decimal.NewFromString(r.Size)
		entry, _ := decimal.NewFromString(r.EntryPrice)
		unreal, _ := decimal.NewFromString(r.Unrealized)
		symbol, ok := a.norm.Canonical(r.Coin)
		if !ok {
			continue
		}
		out = append(out, types.AccountPosition{
			Symbol:        symbol,
			Side:          types.Side(r.Side),
			Size:          size,
			EntryPrice:    entry,
			UnrealizedPnl: unreal,
		})
	}
	return out, nil
}

// TradingFees returns the static configured maker/taker rates for symbol.
func (a *HyperliquidAdapter) TradingFees(symbol types.SymbolId) types.Fees {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fees[symbol]
}

var _ Adapter = (*HyperliquidAdapter)(nil)

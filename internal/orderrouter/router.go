// Package orderrouter is a thin, venue-neutral routing layer over
// VenueAdapters: idempotent submission keyed by clientOrderId, and a
// short-lived order monitor that polls status to terminal state and
// invokes lifecycle callbacks.
package orderrouter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/internal/errs"
	"github.com/taku247/omg-tool/internal/venue"
	"github.com/taku247/omg-tool/pkg/types"
)

const (
	monitorPollInterval = 5 * time.Second
	monitorMaxWait      = 5 * time.Minute
)

// Lifecycle groups the callbacks invoked as an order's monitor observes
// state transitions: placed (ack received), filled (terminal, any fill),
// cancelled, failed (rejected or timed out).
type Lifecycle struct {
	OnPlaced    func(types.Order)
	OnFilled    func(types.Order)
	OnCancelled func(types.Order)
	OnFailed    func(types.Order, error)
}

// Router dispatches order submission/cancellation/status to the adapter
// registered for each venue, de-duplicating submissions by clientOrderId
// and supervising each order to a terminal state.
type Router struct {
	logger   *slog.Logger
	adapters map[types.VenueId]venue.Adapter

	pollInterval time.Duration
	maxWait      time.Duration

	mu     sync.Mutex
	byCOID map[string]types.Order // clientOrderId -> last known state, idempotency cache
}

// New constructs a Router over the given venue -> adapter set, polling
// order status every 5s up to a 5 minute terminal-state wait per §4.8.
func New(adapters map[types.VenueId]venue.Adapter, logger *slog.Logger) *Router {
	return &Router{
		logger:       logger.With("component", "order-router"),
		adapters:     adapters,
		pollInterval: monitorPollInterval,
		maxWait:      monitorMaxWait,
		byCOID:       make(map[string]types.Order),
	}
}

// WithPollInterval overrides the monitor's poll interval and max wait,
// primarily so tests can exercise the monitor loop without real-time
// waits. Must be called before any Place.
func (r *Router) WithPollInterval(poll, maxWait time.Duration) *Router {
	r.pollInterval = poll
	r.maxWait = maxWait
	return r
}

// Place submits an order idempotently: a second call with the same
// clientOrderID returns the cached order state without re-submitting to
// the venue. On a fresh submission it spawns the monitor loop and invokes
// lifecycle callbacks as the order progresses (lc may be nil).
func (r *Router) Place(ctx context.Context, v types.VenueId, symbol types.SymbolId, side types.Side, qty decimal.Decimal, typ types.OrderType, price *decimal.Decimal, clientOrderID string, lc *Lifecycle) (types.Order, error) {
	r.mu.Lock()
	if existing, ok := r.byCOID[clientOrderID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.mu.Unlock()

	adapter, ok := r.adapters[v]
	if !ok {
		return types.Order{}, errs.New(errs.OrderRejectedErr, "Place", errUnknownVenue(v))
	}

	order, err := adapter.PlaceOrder(ctx, symbol, side, qty, typ, price, clientOrderID)
	if err != nil {
		return types.Order{}, errs.New(errs.OrderRejectedErr, "Place", err)
	}

	r.mu.Lock()
	r.byCOID[clientOrderID] = order
	r.mu.Unlock()

	if lc != nil && lc.OnPlaced != nil {
		lc.OnPlaced(order)
	}

	go r.monitor(adapter, symbol, clientOrderID, order, lc)

	return order, nil
}

// Cancel best-effort cancels orderID on venue. Concurrent terminal
// transitions (a fill racing a cancel) are resolved by the monitor
// treating the first terminal status observed as authoritative.
func (r *Router) Cancel(ctx context.Context, v types.VenueId, orderID string, symbol types.SymbolId) (bool, error) {
	adapter, ok := r.adapters[v]
	if !ok {
		return false, errs.New(errs.OrderRejectedErr, "Cancel", errUnknownVenue(v))
	}
	return adapter.CancelOrder(ctx, orderID, symbol)
}

// Get returns the last known state for clientOrderID, if any order has
// been placed through this router for it.
func (r *Router) Get(clientOrderID string) (types.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byCOID[clientOrderID]
	return o, ok
}

// monitor polls an order's status every monitorPollInterval until it
// reaches a terminal state or monitorMaxWait elapses, updating the
// idempotency cache and invoking lifecycle callbacks on the first terminal
// transition observed.
func (r *Router) monitor(adapter venue.Adapter, symbol types.SymbolId, clientOrderID string, order types.Order, lc *Lifecycle) {
	if order.Status.IsTerminal() {
		r.settle(clientOrderID, order, lc)
		return
	}

	deadline := time.Now().Add(r.maxWait)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		if time.Now().After(deadline) {
			r.logger.Warn("order monitor timed out waiting for terminal state", "client_order_id", clientOrderID)
			order.Status = types.OrderExpired
			r.settle(clientOrderID, order, lc)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		latest, err := adapter.FetchOrder(ctx, order.ID, symbol)
		cancel()
		if err != nil {
			r.logger.Warn("order status poll failed", "client_order_id", clientOrderID, "error", err)
			continue
		}

		r.mu.Lock()
		r.byCOID[clientOrderID] = latest
		r.mu.Unlock()

		if latest.Status.IsTerminal() {
			r.settle(clientOrderID, latest, lc)
			return
		}
	}
}

// settle invokes the terminal lifecycle callback exactly once, treating
// the first terminal status observed as authoritative.
func (r *Router) settle(clientOrderID string, order types.Order, lc *Lifecycle) {
	r.mu.Lock()
	r.byCOID[clientOrderID] = order
	r.mu.Unlock()

	if lc == nil {
		return
	}
	switch order.Status {
	case types.OrderFilled, types.OrderPartiallyFilled:
		if lc.OnFilled != nil {
			lc.OnFilled(order)
		}
	case types.OrderCancelled:
		if lc.OnCancelled != nil {
			lc.OnCancelled(order)
		}
	case types.OrderRejected, types.OrderExpired:
		if lc.OnFailed != nil {
			kind := errs.TimeoutErr
			if order.Status == types.OrderRejected {
				kind = errs.OrderRejectedErr
			}
			lc.OnFailed(order, errs.New(kind, "monitor", nil))
		}
	}
}

type unknownVenueError struct {
	venue types.VenueId
}

func (e *unknownVenueError) Error() string {
	return "order router: no adapter registered for venue " + string(e.venue)
}

func errUnknownVenue(v types.VenueId) error {
	return &unknownVenueError{venue: v}
}

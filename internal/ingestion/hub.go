// Package ingestion owns the set of VenueAdapters, supervises reconnect
// with capped exponential backoff, and fans out normalized quotes to
// bounded per-subscriber queues with an explicit drop-newest overflow
// policy. It is the Go-channel realization of §9's "callback graphs as
// message passing" design note: one bounded channel per subscriber.
package ingestion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/taku247/omg-tool/internal/venue"
	"github.com/taku247/omg-tool/pkg/types"
)

// DefaultQueueSize is the default per-subscriber bounded queue capacity.
const DefaultQueueSize = 200_000

// DefaultShutdownGrace bounds how long Stop waits for queues to drain.
const DefaultShutdownGrace = 5 * time.Second

const (
	backoffBase      = time.Second
	backoffFactor    = 2
	attemptsPerCycle = 3
)

// ConnectionEvent reports an adapter transitioning between connected and
// disconnected, for operator observability.
type ConnectionEvent struct {
	Venue     types.VenueId
	Connected bool
	Err       error
	At        time.Time
}

// subscriber is one fan-out destination: a bounded channel plus bookkeeping
// for the rate-limited overflow warning. mu also serializes offer against
// close so a send can never race a closed channel.
type subscriber struct {
	ch           chan types.Quote
	lastWarnAt   time.Time
	droppedSince int
	closed       bool
	mu           sync.Mutex
}

func newSubscriber(size int) *subscriber {
	return &subscriber{ch: make(chan types.Quote, size)}
}

// offer attempts a non-blocking send. On a full queue it drops the newest
// quote and logs a rate-limited warning (at most once per second) rather
// than stalling the producer. A no-op once close has been called, so a
// supervisor goroutine racing shutdown can never send on a closed channel.
func (s *subscriber) offer(q types.Quote, logger *slog.Logger) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	select {
	case s.ch <- q:
		s.mu.Unlock()
		return
	default:
	}

	s.droppedSince++
	now := time.Now()
	shouldWarn := now.Sub(s.lastWarnAt) >= time.Second
	if shouldWarn {
		s.lastWarnAt = now
	}
	dropped := s.droppedSince
	if shouldWarn {
		s.droppedSince = 0
	}
	s.mu.Unlock()

	if shouldWarn {
		logger.Warn("subscriber queue full, dropping newest quote", "symbol", q.Symbol, "venue", q.Venue, "dropped_since_last_warning", dropped)
	}
}

// close marks the subscriber closed and closes its channel, unblocking any
// range loop reading from it. Safe to call at most once per subscriber;
// Hub.Stop only ever calls it once per entry in h.subs.
func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// adapterEntry is one registered adapter and its supervision state.
type adapterEntry struct {
	venue   types.VenueId
	adapter venue.Adapter
	symbols []types.SymbolId
	cancel  context.CancelFunc
}

// Hub owns the adapter set, supervises reconnect, and fans out quotes.
type Hub struct {
	logger    *slog.Logger
	queueSize int

	mu          sync.Mutex
	adapters    []*adapterEntry
	subs        []*subscriber
	connEventCh chan ConnectionEvent

	wg       sync.WaitGroup
	stopped  bool
	stopOnce sync.Once
}

// New constructs an empty Hub. queueSize <= 0 selects DefaultQueueSize.
func New(logger *slog.Logger, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		logger:      logger.With("component", "ingestion-hub"),
		queueSize:   queueSize,
		connEventCh: make(chan ConnectionEvent, 256),
	}
}

// Subscribe registers a new bounded-queue subscriber and returns its
// receive-only channel. Subscribers are invoked in registration order for
// quotes from the same (venue, symbol).
func (h *Hub) Subscribe() <-chan types.Quote {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub := newSubscriber(h.queueSize)
	h.subs = append(h.subs, sub)
	return sub.ch
}

// ConnectionEvents returns the channel of ConnectionFailed/ConnectionRestored
// events emitted as adapters drop and recover.
func (h *Hub) ConnectionEvents() <-chan ConnectionEvent {
	return h.connEventCh
}

// Add registers venue's adapter, wires its quote callback into the fan-out,
// and starts a supervisor goroutine that connects it and restarts it on
// failure with capped exponential backoff (3 attempts per cycle, 1s base,
// factor 2), per §4.2.
func (h *Hub) Add(ctx context.Context, v types.VenueId, adapter venue.Adapter, symbols []types.SymbolId) {
	adapter.OnQuote(func(q types.Quote) {
		h.dispatch(q)
	})

	supCtx, cancel := context.WithCancel(ctx)
	entry := &adapterEntry{venue: v, adapter: adapter, symbols: symbols, cancel: cancel}

	h.mu.Lock()
	h.adapters = append(h.adapters, entry)
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.supervise(supCtx, entry)
	}()
}

// dispatch invokes every subscriber in registration order for q.
func (h *Hub) dispatch(q types.Quote) {
	h.mu.Lock()
	subs := make([]*subscriber, len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()

	for _, s := range subs {
		s.offer(q, h.logger)
	}
}

// supervise connects the adapter and, on disconnect/failure, retries with
// capped exponential backoff. Each backoff cycle is capped at
// attemptsPerCycle attempts before the cycle's delay resets; the supervisor
// otherwise keeps retrying indefinitely until ctx is cancelled, emitting
// ConnectionFailed/ConnectionRestored events along the way.
func (h *Hub) supervise(ctx context.Context, entry *adapterEntry) {
	attempt := 0
	connected := false

	for {
		select {
		case <-ctx.Done():
			_ = entry.adapter.Disconnect()
			return
		default:
		}

		err := entry.adapter.Connect(ctx, entry.symbols)
		if err == nil {
			if !connected {
				h.emitConn(ConnectionEvent{Venue: entry.venue, Connected: true, At: time.Now().UTC()})
			}
			connected = true
			attempt = 0
			// Connect() in the sketched adapter returns as soon as its
			// background loop is started (dialing, subscribing and decoding
			// all happen there); block here on ctx so the supervisor
			// notices external cancellation rather than busy-looping.
			<-ctx.Done()
			_ = entry.adapter.Disconnect()
			return
		}

		if connected {
			h.emitConn(ConnectionEvent{Venue: entry.venue, Connected: false, Err: err, At: time.Now().UTC()})
		}
		connected = false
		h.logger.Error("adapter connect failed", "venue", entry.venue, "attempt", attempt+1, "error", err)

		attempt++
		cycleAttempt := attempt % attemptsPerCycle
		if cycleAttempt == 0 {
			cycleAttempt = attemptsPerCycle
		}
		delay := backoffBase
		for i := 1; i < cycleAttempt; i++ {
			delay *= backoffFactor
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (h *Hub) emitConn(evt ConnectionEvent) {
	select {
	case h.connEventCh <- evt:
	default:
		h.logger.Warn("connection event channel full, dropping event", "venue", evt.Venue)
	}
}

// Stop cancels every adapter's supervisor, waits up to grace for in-flight
// work to finish, and closes every subscriber channel so consumers ranging
// over Subscribe()'s channel unblock instead of hanging forever. Returns
// once every adapter has disconnected (or the grace period elapses,
// whichever comes first) and subscribers are closed.
func (h *Hub) Stop(grace time.Duration) {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.stopped = true
		for _, e := range h.adapters {
			e.cancel()
		}
		h.mu.Unlock()

		done := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(done)
		}()

		if grace <= 0 {
			grace = DefaultShutdownGrace
		}
		select {
		case <-done:
		case <-time.After(grace):
			h.logger.Warn("shutdown grace period elapsed before adapters drained")
		}

		h.mu.Lock()
		subs := make([]*subscriber, len(h.subs))
		copy(subs, h.subs)
		h.mu.Unlock()
		for _, s := range subs {
			s.close()
		}
	})
}

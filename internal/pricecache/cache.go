// Package pricecache maintains the latest normalized Quote per (symbol,
// venue), with monotonic per-venue timestamps and torn-read-free snapshot
// reads for the Detector and position close monitors.
package pricecache

import (
	"sync"
	"time"

	"github.com/taku247/omg-tool/pkg/types"
)

// Cache is the two-level symbol -> venue -> Quote map. Quote values are
// replaced wholesale, never mutated in place, so a reader holding a copy
// taken under RLock never observes a torn struct.
type Cache struct {
	mu   sync.RWMutex
	data map[types.SymbolId]map[types.VenueId]types.Quote
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		data: make(map[types.SymbolId]map[types.VenueId]types.Quote),
	}
}

// Update writes q if it is newer than (or there is no) prior quote for
// (q.Symbol, q.Venue). Stale writes (TsNanos not after the stored value)
// are silently ignored. Returns true if the quote was stored.
func (c *Cache) Update(q types.Quote) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	venues, ok := c.data[q.Symbol]
	if !ok {
		venues = make(map[types.VenueId]types.Quote)
		c.data[q.Symbol] = venues
	}

	if prior, exists := venues[q.Venue]; exists && q.TsNanos <= prior.TsNanos {
		return false
	}

	venues[q.Venue] = q
	return true
}

// Snapshot returns an immutable copy of every venue's latest quote for
// symbol. The returned map is safe to range over without holding any lock.
func (c *Cache) Snapshot(symbol types.SymbolId) map[types.VenueId]types.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	venues, ok := c.data[symbol]
	if !ok {
		return nil
	}
	out := make(map[types.VenueId]types.Quote, len(venues))
	for v, q := range venues {
		out[v] = q
	}
	return out
}

// Get returns the latest quote for (symbol, venue), if any.
func (c *Cache) Get(symbol types.SymbolId, venue types.VenueId) (types.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	venues, ok := c.data[symbol]
	if !ok {
		return types.Quote{}, false
	}
	q, ok := venues[venue]
	return q, ok
}

// Symbols returns every symbol currently tracked, in no particular order.
func (c *Cache) Symbols() []types.SymbolId {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]types.SymbolId, 0, len(c.data))
	for s := range c.data {
		out = append(out, s)
	}
	return out
}

// ClearDay drops every cached entry — called on UTC day rollover per the
// cache's "no eviction during normal operation; entries are cleared on day
// rollover" contract.
func (c *Cache) ClearDay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[types.SymbolId]map[types.VenueId]types.Quote)
}

// IsStale reports whether the newest quote for (symbol, venue) is older
// than maxAge relative to now.
func (c *Cache) IsStale(symbol types.SymbolId, venue types.VenueId, maxAge time.Duration) bool {
	q, ok := c.Get(symbol, venue)
	if !ok {
		return true
	}
	return time.Since(q.Time()) > maxAge
}

package venue

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/pkg/types"
)

// StreamKind distinguishes the three venue feed kinds an adapter normalizes,
// each carrying its own minimum inter-event gap.
type StreamKind int

const (
	StreamTicker StreamKind = iota
	StreamBook
	StreamTrade
)

var minGap = map[StreamKind]time.Duration{
	StreamTicker: 500 * time.Millisecond,
	StreamBook:   200 * time.Millisecond,
	StreamTrade:  100 * time.Millisecond,
}

// bookFreshWindow bounds how long a book-derived quote remains authoritative
// over a ticker-derived synthesis for the same (venue, symbol).
const bookFreshWindow = 500 * time.Millisecond

// Normalizer applies the venue-independent normalization rules shared by
// every adapter: symbol-table lookup, cross-quote rejection, per-stream-kind
// rate gating, and ticker-vs-book precedence.
type Normalizer struct {
	venue       types.VenueId
	symbolTable map[string]types.SymbolId // venue symbol -> canonical

	mu          sync.Mutex
	lastEventAt map[streamKey]time.Time
	lastBookAt  map[types.SymbolId]time.Time

	dropped uint64 // cross-quoted / unknown-symbol frames discarded, for metrics
}

type streamKey struct {
	symbol types.SymbolId
	kind   StreamKind
}

// NewNormalizer builds a Normalizer for venue using symbolTable to map
// venue-native symbols (e.g. "BTCUSDT") to canonical short form ("BTC").
func NewNormalizer(v types.VenueId, symbolTable map[string]types.SymbolId) *Normalizer {
	return &Normalizer{
		venue:       v,
		symbolTable: symbolTable,
		lastEventAt: make(map[streamKey]time.Time),
		lastBookAt:  make(map[types.SymbolId]time.Time),
	}
}

// Canonical maps a venue-native symbol to its canonical form. ok is false
// for unknown symbols, which callers must discard.
func (n *Normalizer) Canonical(venueSymbol string) (types.SymbolId, bool) {
	s, ok := n.symbolTable[venueSymbol]
	return s, ok
}

// AcceptBook applies book-stream gating and marks symbol as having a fresh
// book-derived quote, used later by AcceptTickerSynthesis to decide whether
// a ticker-only update may synthesize a quote.
func (n *Normalizer) AcceptBook(symbol types.SymbolId, bid, ask decimal.Decimal, now time.Time) bool {
	if bid.GreaterThan(ask) {
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()
		return false
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	key := streamKey{symbol, StreamBook}
	if last, ok := n.lastEventAt[key]; ok && now.Sub(last) < minGap[StreamBook] {
		return false
	}
	n.lastEventAt[key] = now
	n.lastBookAt[symbol] = now
	return true
}

// AcceptTickerSynthesis reports whether a ticker-only update (no book side
// data) is allowed to synthesize a quote for symbol at now: only when no
// book-derived quote has landed within bookFreshWindow, and only if the
// ticker stream's own gap has elapsed.
func (n *Normalizer) AcceptTickerSynthesis(symbol types.SymbolId, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if last, ok := n.lastBookAt[symbol]; ok && now.Sub(last) < bookFreshWindow {
		return false
	}

	key := streamKey{symbol, StreamTicker}
	if last, ok := n.lastEventAt[key]; ok && now.Sub(last) < minGap[StreamTicker] {
		return false
	}
	n.lastEventAt[key] = now
	return true
}

// AcceptTrade applies trade-stream gating.
func (n *Normalizer) AcceptTrade(symbol types.SymbolId, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := streamKey{symbol, StreamTrade}
	if last, ok := n.lastEventAt[key]; ok && now.Sub(last) < minGap[StreamTrade] {
		return false
	}
	n.lastEventAt[key] = now
	return true
}

// SynthesizeFromLast builds a tight +/-0.05% spread quote around last,
// the ticker-only fallback used when no book-derived quote is available.
func SynthesizeFromLast(v types.VenueId, symbol types.SymbolId, last decimal.Decimal, tsNanos int64) types.Quote {
	half := decimal.NewFromFloat(0.0005) // 0.05%
	spread := last.Mul(half)
	return types.Quote{
		Venue:   v,
		Symbol:  symbol,
		Bid:     last.Sub(spread),
		Ask:     last.Add(spread),
		Last:    &last,
		TsNanos: tsNanos,
	}
}

// Dropped returns the running count of frames discarded for being
// cross-quoted or unresolvable to a canonical symbol.
func (n *Normalizer) Dropped() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// MarkUnknownSymbol records a frame discarded because its venue symbol had
// no canonical mapping.
func (n *Normalizer) MarkUnknownSymbol() {
	n.mu.Lock()
	n.dropped++
	n.mu.Unlock()
}

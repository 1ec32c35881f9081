package recorder

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/taku247/omg-tool/pkg/types"
)

// windowKey identifies one row of a synchronized export: a fixed time
// bucket for one symbol.
type windowKey struct {
	winStart time.Time
	symbol   types.SymbolId
}

// ExportSynchronized buckets every recorded row for the given venues and
// symbols under dir into fixed windows and writes a wide CSV: one row per
// (window, symbol), one bid/ask column pair per venue, per §4.9.1. It is a
// reporting convenience over the stored rows, not a separate storage path.
func ExportSynchronized(dir string, venues []types.VenueId, symbols []types.SymbolId, window time.Duration) (io.WriterTo, error) {
	rp := NewReplayer(ReplayConfig{Dir: dir, Venues: venues, Symbols: symbols, Speed: SpeedMax})

	files, err := rp.matchFiles()
	if err != nil {
		return nil, err
	}

	buckets := make(map[windowKey]map[types.VenueId]types.Quote)

	for _, path := range files {
		rr, err := newRowReader(path)
		if err != nil {
			return nil, fmt.Errorf("open export file %s: %w", path, err)
		}
		for {
			q, ok, err := rr.next()
			if err != nil {
				rr.Close()
				return nil, err
			}
			if !ok {
				break
			}
			if !rp.matchesFilter(q) {
				continue
			}
			k := windowKey{winStart: q.Time().Truncate(window), symbol: q.Symbol}
			if buckets[k] == nil {
				buckets[k] = make(map[types.VenueId]types.Quote)
			}
			// Last write per (window, symbol, venue) wins: the most recent
			// quote observed in that window is the representative one.
			buckets[k][q.Venue] = q
		}
		rr.Close()
	}

	orderedVenues := venues
	if len(orderedVenues) == 0 {
		seen := map[types.VenueId]bool{}
		for k := range buckets {
			for v := range buckets[k] {
				if !seen[v] {
					seen[v] = true
					orderedVenues = append(orderedVenues, v)
				}
			}
		}
		sort.Slice(orderedVenues, func(i, j int) bool { return orderedVenues[i] < orderedVenues[j] })
	}

	keys := make([]windowKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].winStart.Equal(keys[j].winStart) {
			return keys[i].winStart.Before(keys[j].winStart)
		}
		return keys[i].symbol < keys[j].symbol
	})

	return &synchronizedExport{venues: orderedVenues, keys: keys, buckets: buckets}, nil
}

// synchronizedExport implements io.WriterTo over the bucketed rows built
// by ExportSynchronized.
type synchronizedExport struct {
	venues  []types.VenueId
	keys    []windowKey
	buckets map[windowKey]map[types.VenueId]types.Quote
}

func (e *synchronizedExport) WriteTo(w io.Writer) (int64, error) {
	cnt := &countingWriter{w: w}
	cw := csv.NewWriter(cnt)

	header := []string{"window_start", "symbol"}
	for _, v := range e.venues {
		header = append(header, string(v)+"_bid", string(v)+"_ask")
	}
	if err := cw.Write(header); err != nil {
		return cnt.n, err
	}

	for _, k := range e.keys {
		row := []string{k.winStart.Format(time.RFC3339), string(k.symbol)}
		byVenue := e.buckets[k]
		for _, v := range e.venues {
			if q, ok := byVenue[v]; ok {
				row = append(row, q.Bid.String(), q.Ask.String())
			} else {
				row = append(row, "", "")
			}
		}
		if err := cw.Write(row); err != nil {
			return cnt.n, err
		}
	}
	cw.Flush()
	return cnt.n, cw.Error()
}

// countingWriter tracks bytes written so WriteTo can honor io.WriterTo's
// byte-count contract.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

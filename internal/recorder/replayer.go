package recorder

import (
	"compress/gzip"
	"container/heap"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/taku247/omg-tool/pkg/types"
)

// Speed selects how a Replayer paces quote delivery.
type Speed int

const (
	// SpeedRealtime sleeps between quotes to match the recorded spacing.
	SpeedRealtime Speed = iota
	// SpeedMax delivers every quote with no pacing delay.
	SpeedMax
)

// ReplayConfig selects the files and pacing a Replayer reads.
type ReplayConfig struct {
	Dir     string // root passed to the Recorder that produced the logs
	From    time.Time
	To      time.Time
	Venues  []types.VenueId // empty means all venues found under Dir
	Symbols []types.SymbolId
	Speed   Speed
}

// Replayer reads one or more recorded quote logs back in ascending
// timestamp order, merge-sorted across files, and delivers them through
// Quotes() the same shape IngestionHub.Subscribe() does for live feeds.
type Replayer struct {
	cfg ReplayConfig
	out chan types.Quote
}

// NewReplayer constructs a Replayer over cfg. Call Run to start streaming.
func NewReplayer(cfg ReplayConfig) *Replayer {
	return &Replayer{cfg: cfg, out: make(chan types.Quote, 4096)}
}

// Quotes returns the channel quotes are delivered on, in ascending
// timestamp order across every matched file. Closed when Run returns.
func (rp *Replayer) Quotes() <-chan types.Quote {
	return rp.out
}

// Run streams every matching quote to Quotes() in timestamp order,
// pacing according to cfg.Speed, until the files are exhausted or ctx is
// done. It closes the output channel on return.
func (rp *Replayer) Run(ctx context.Context) error {
	defer close(rp.out)

	files, err := rp.matchFiles()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	readers := make([]*rowReader, 0, len(files))
	defer func() {
		for _, rr := range readers {
			rr.Close()
		}
	}()

	pq := &quoteHeap{}
	heap.Init(pq)

	for _, path := range files {
		rr, err := newRowReader(path)
		if err != nil {
			return fmt.Errorf("open replay file %s: %w", path, err)
		}
		readers = append(readers, rr)
		if q, ok, err := rr.next(); err != nil {
			return err
		} else if ok {
			heap.Push(pq, heapItem{quote: q, reader: rr})
		}
	}

	var lastTs time.Time
	first := true

	for pq.Len() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item := heap.Pop(pq).(heapItem)
		q := item.quote

		if rp.inRange(q) && rp.matchesFilter(q) {
			if rp.cfg.Speed == SpeedRealtime && !first {
				if gap := q.Time().Sub(lastTs); gap > 0 {
					select {
					case <-time.After(gap):
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			select {
			case rp.out <- q:
			case <-ctx.Done():
				return ctx.Err()
			}
			lastTs = q.Time()
			first = false
		}

		if nq, ok, err := item.reader.next(); err != nil {
			return err
		} else if ok {
			heap.Push(pq, heapItem{quote: nq, reader: item.reader})
		}
	}

	return nil
}

func (rp *Replayer) inRange(q types.Quote) bool {
	t := q.Time()
	if !rp.cfg.From.IsZero() && t.Before(rp.cfg.From) {
		return false
	}
	if !rp.cfg.To.IsZero() && t.After(rp.cfg.To) {
		return false
	}
	return true
}

func (rp *Replayer) matchesFilter(q types.Quote) bool {
	if len(rp.cfg.Venues) > 0 && !containsVenue(rp.cfg.Venues, q.Venue) {
		return false
	}
	if len(rp.cfg.Symbols) > 0 && !containsSymbol(rp.cfg.Symbols, q.Symbol) {
		return false
	}
	return true
}

func containsVenue(list []types.VenueId, v types.VenueId) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsSymbol(list []types.SymbolId, s types.SymbolId) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// matchFiles walks cfg.Dir for per-day subdirectories overlapping
// [From, To] and returns every *.csv / *.csv.gz file found under them.
func (rp *Replayer) matchFiles() ([]string, error) {
	entries, err := os.ReadDir(rp.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("read replay dir %s: %w", rp.cfg.Dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		day, err := time.Parse("20060102", e.Name())
		if err == nil {
			if !rp.cfg.From.IsZero() && day.Before(rp.cfg.From.Truncate(24*time.Hour)) {
				continue
			}
			if !rp.cfg.To.IsZero() && day.After(rp.cfg.To) {
				continue
			}
		}

		sub := filepath.Join(rp.cfg.Dir, e.Name())
		inner, err := os.ReadDir(sub)
		if err != nil {
			continue
		}
		for _, f := range inner {
			name := f.Name()
			if filepath.Ext(name) == ".csv" || filepath.Ext(strimGz(name)) == ".csv" {
				files = append(files, filepath.Join(sub, name))
			}
		}
	}
	return files, nil
}

func strimGz(name string) string {
	const suffix = ".gz"
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		return name[:len(name)-len(suffix)]
	}
	return name
}

// rowReader streams parsed quotes from one CSV (optionally gzip) file.
type rowReader struct {
	f   *os.File
	gz  *gzip.Reader
	r   *csv.Reader
	hdr bool
}

func newRowReader(path string) (*rowReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rr := &rowReader{f: f}

	var src io.Reader = f
	if filepath.Ext(path) == ".gz" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		rr.gz = gz
		src = gz
	}
	rr.r = csv.NewReader(src)
	rr.r.FieldsPerRecord = -1
	return rr, nil
}

func (rr *rowReader) next() (types.Quote, bool, error) {
	for {
		row, err := rr.r.Read()
		if err == io.EOF {
			return types.Quote{}, false, nil
		}
		if err != nil {
			return types.Quote{}, false, fmt.Errorf("read csv row: %w", err)
		}
		if !rr.hdr {
			rr.hdr = true
			if len(row) > 0 && row[0] == "timestamp" {
				continue
			}
		}
		q, err := parseRow(row)
		if err != nil {
			return types.Quote{}, false, err
		}
		return q, true, nil
	}
}

func (rr *rowReader) Close() {
	if rr.gz != nil {
		rr.gz.Close()
	}
	rr.f.Close()
}

// heapItem pairs the next pending quote from a reader with that reader,
// for the timestamp-ordered merge across files.
type heapItem struct {
	quote  types.Quote
	reader *rowReader
}

type quoteHeap []heapItem

func (h quoteHeap) Len() int            { return len(h) }
func (h quoteHeap) Less(i, j int) bool  { return h[i].quote.TsNanos < h[j].quote.TsNanos }
func (h quoteHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *quoteHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *quoteHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

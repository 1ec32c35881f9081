// Package recorder implements the quote log Recorder and its Replayer
// counterpart (C9): append-only per-day, per-venue CSV quote logs with
// optional gzip and delta-mode recording, and deterministic replay over
// the same fan-out interface the live hub uses.
package recorder

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/pkg/types"
)

// csvHeader is the quote log file format from §6.
var csvHeader = []string{"timestamp", "exchange", "symbol", "bid", "ask", "bid_size", "ask_size", "last", "mark_price", "volume_24h"}

// Config controls where and how the Recorder writes.
type Config struct {
	OutputDir   string // root, e.g. "data/price_logs"
	Compress    bool
	DeltaMode   bool
	DeltaThresh decimal.Decimal // relative threshold, default 1e-5
}

// DefaultConfig mirrors §6/§9 defaults.
func DefaultConfig(outputDir string) Config {
	return Config{
		OutputDir:   outputDir,
		DeltaThresh: decimal.NewFromFloat(1e-5),
	}
}

// perVenueFile tracks one open rotation target: the day it was opened for,
// its writer, and (delta mode) the last-written quote per symbol.
type perVenueFile struct {
	day       string // YYYYMMDD, UTC
	f         *os.File
	gz        *gzip.Writer
	w         *csv.Writer
	lastWrote map[types.SymbolId]types.Quote
}

// Recorder appends every normalized quote it observes to a per-day,
// per-venue CSV file, rotating at UTC midnight.
type Recorder struct {
	cfg Config

	mu    sync.Mutex
	files map[types.VenueId]*perVenueFile
}

// New constructs a Recorder writing under cfg.OutputDir.
func New(cfg Config) *Recorder {
	if cfg.DeltaThresh.IsZero() {
		cfg.DeltaThresh = decimal.NewFromFloat(1e-5)
	}
	return &Recorder{cfg: cfg, files: make(map[types.VenueId]*perVenueFile)}
}

// Record writes q, rotating the target file if the UTC day has changed
// since it was opened, and applying delta-mode filtering if configured.
func (r *Recorder) Record(q types.Quote) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	day := q.Time().Format("20060102")

	pf, ok := r.files[q.Venue]
	if !ok || pf.day != day {
		if pf != nil {
			r.closeLocked(pf)
		}
		var err error
		pf, err = r.openLocked(q.Venue, day)
		if err != nil {
			return err
		}
		r.files[q.Venue] = pf
	}

	if r.cfg.DeltaMode {
		if prior, seen := pf.lastWrote[q.Symbol]; seen && !r.changedEnough(prior, q) {
			return nil
		}
	}

	if err := r.writeRow(pf.w, q); err != nil {
		return fmt.Errorf("write quote row: %w", err)
	}
	pf.w.Flush()
	if pf.lastWrote == nil {
		pf.lastWrote = make(map[types.SymbolId]types.Quote)
	}
	pf.lastWrote[q.Symbol] = q
	return pf.w.Error()
}

// changedEnough reports whether q's bid or ask moved by more than
// cfg.DeltaThresh relative to prior, per delta-mode recording.
func (r *Recorder) changedEnough(prior, q types.Quote) bool {
	rel := func(a, b decimal.Decimal) decimal.Decimal {
		if a.IsZero() {
			return decimal.NewFromInt(1)
		}
		return b.Sub(a).Abs().Div(a)
	}
	return rel(prior.Bid, q.Bid).GreaterThan(r.cfg.DeltaThresh) || rel(prior.Ask, q.Ask).GreaterThan(r.cfg.DeltaThresh)
}

// dirFor returns the per-day directory for day (YYYYMMDD).
func (r *Recorder) dirFor(day string) string {
	return filepath.Join(r.cfg.OutputDir, day)
}

// pathFor returns the file path for (venue, day), honoring compression.
func (r *Recorder) pathFor(v types.VenueId, day string) string {
	name := fmt.Sprintf("%s_prices_%s.csv", v.Lower(), day)
	if r.cfg.Compress {
		name += ".gz"
	}
	return filepath.Join(r.dirFor(day), name)
}

func (r *Recorder) openLocked(v types.VenueId, day string) (*perVenueFile, error) {
	if err := os.MkdirAll(r.dirFor(day), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	path := r.pathFor(v, day)
	existing, statErr := os.Stat(path)
	writeHeader := statErr != nil || existing.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}

	pf := &perVenueFile{day: day, f: f, lastWrote: make(map[types.SymbolId]types.Quote)}

	var dest io.Writer = f
	if r.cfg.Compress {
		pf.gz = gzip.NewWriter(f)
		dest = pf.gz
	}
	pf.w = csv.NewWriter(dest)

	if writeHeader {
		if err := pf.w.Write(csvHeader); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
		pf.w.Flush()
	}

	return pf, nil
}

func (r *Recorder) closeLocked(pf *perVenueFile) {
	pf.w.Flush()
	if pf.gz != nil {
		pf.gz.Close()
	}
	pf.f.Close()
}

// Close flushes and closes every open file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pf := range r.files {
		r.closeLocked(pf)
	}
	r.files = make(map[types.VenueId]*perVenueFile)
	return nil
}

// writeRow encodes q as one CSV row per §6's column layout.
func (r *Recorder) writeRow(w *csv.Writer, q types.Quote) error {
	row := []string{
		q.Time().Format("2006-01-02T15:04:05.000000Z07:00"),
		string(q.Venue),
		string(q.Symbol),
		q.Bid.String(),
		q.Ask.String(),
		"", // bid_size: not carried on Quote; reserved column per §6's header
		"", // ask_size
		optionalDecimalString(q.Last),
		optionalDecimalString(q.MarkPrice),
		optionalDecimalString(q.Volume24h),
	}
	return w.Write(row)
}

func optionalDecimalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// parseRow is the inverse of writeRow, used by the Replayer.
func parseRow(row []string) (types.Quote, error) {
	if len(row) < 10 {
		return types.Quote{}, fmt.Errorf("row has %d columns, want 10", len(row))
	}

	ts, err := time.Parse("2006-01-02T15:04:05.000000Z07:00", row[0])
	if err != nil {
		// Tolerate a bare "Z" (no sub-second digits) if a recorder ever
		// wrote one.
		ts, err = time.Parse(time.RFC3339, row[0])
		if err != nil {
			return types.Quote{}, fmt.Errorf("parse timestamp %q: %w", row[0], err)
		}
	}

	bid, err := decimal.NewFromString(row[3])
	if err != nil {
		return types.Quote{}, fmt.Errorf("parse bid %q: %w", row[3], err)
	}
	ask, err := decimal.NewFromString(row[4])
	if err != nil {
		return types.Quote{}, fmt.Errorf("parse ask %q: %w", row[4], err)
	}

	q := types.Quote{
		Venue:   types.VenueId(row[1]),
		Symbol:  types.SymbolId(row[2]),
		Bid:     bid,
		Ask:     ask,
		TsNanos: ts.UnixNano(),
	}
	if v, err := parseOptionalDecimal(row[7]); err == nil {
		q.Last = v
	}
	if v, err := parseOptionalDecimal(row[8]); err == nil {
		q.MarkPrice = v
	}
	if v, err := parseOptionalDecimal(row[9]); err == nil {
		q.Volume24h = v
	}
	return q, nil
}

func parseOptionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Package store provides crash-safe restart persistence for ArbitragePositions
// and RiskGate bookkeeping using JSON files.
//
// Each position is stored as a separate file: pos_<id>.json. Risk state is
// stored as a single risk_state.json. Writes use atomic file replacement
// (write to .tmp, then rename) to prevent corruption from partial writes or
// crashes mid-save. The engine calls SavePosition for active positions
// periodically and on shutdown, LoadPositions on startup to restore open
// exposure, and SaveRiskState alongside each save; this package has no
// reader for the saved risk state.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/taku247/omg-tool/internal/risk"
	"github.com/taku247/omg-tool/pkg/types"
)

// Store persists positions and risk state to JSON files in a designated
// directory. All operations are mutex-protected to prevent concurrent file
// corruption.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

func (s *Store) writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return os.Rename(tmp, path)
}

// SavePosition atomically persists pos. It writes to a .tmp file first,
// then renames over the target so the file is never left partially
// written (crash-safe).
func (s *Store) SavePosition(pos *types.ArbitragePosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, "pos_"+pos.ID+".json")
	if err := s.writeAtomic(path, pos); err != nil {
		return fmt.Errorf("save position %s: %w", pos.ID, err)
	}
	return nil
}

// DeletePosition removes the persisted record for a closed/failed
// position id. Missing files are not an error.
func (s *Store) DeletePosition(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, "pos_"+id+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete position %s: %w", id, err)
	}
	return nil
}

// LoadPositions restores every persisted position from disk, used on
// startup to rebuild OpenPositions before live trading resumes. Positions
// already CLOSED or FAILED are included; callers filter as needed.
func (s *Store) LoadPositions() ([]*types.ArbitragePosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read store dir: %w", err)
	}

	var out []*types.ArbitragePosition
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "pos_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var pos types.ArbitragePosition
		if err := json.Unmarshal(data, &pos); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", name, err)
		}
		out = append(out, &pos)
	}
	return out, nil
}

// riskStateFile is the JSON shape persisted for the risk gate: exposure and
// PnL bookkeeping survive a restart, blocked lists do not (auto-unblock
// timestamps would otherwise need restart-aware clock handling).
type riskStateFile struct {
	ExposureBySymbol map[types.SymbolId]string `json:"exposure_by_symbol"`
	ExposureByVenue  map[types.VenueId]string  `json:"exposure_by_venue"`
	DailyPnl         string                    `json:"daily_pnl"`
	DrawdownToday    string                    `json:"drawdown_today"`
}

// SaveRiskState atomically persists the gate's current bookkeeping snapshot.
func (s *Store) SaveRiskState(snap risk.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := riskStateFile{
		ExposureBySymbol: make(map[types.SymbolId]string, len(snap.ExposureBySymbol)),
		ExposureByVenue:  make(map[types.VenueId]string, len(snap.ExposureByVenue)),
		DailyPnl:         snap.DailyPnl.String(),
		DrawdownToday:    snap.DrawdownToday.String(),
	}
	for k, v := range snap.ExposureBySymbol {
		f.ExposureBySymbol[k] = v.String()
	}
	for k, v := range snap.ExposureByVenue {
		f.ExposureByVenue[k] = v.String()
	}

	path := filepath.Join(s.dir, "risk_state.json")
	if err := s.writeAtomic(path, f); err != nil {
		return fmt.Errorf("save risk state: %w", err)
	}
	return nil
}

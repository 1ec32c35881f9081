package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/internal/config"
	"github.com/taku247/omg-tool/internal/risk"
	"github.com/taku247/omg-tool/pkg/types"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionSize:     10000,
		MaxTotalExposure:    50000,
		MaxPositionsPerSym:  3,
		MaxTotalPositions:   10,
		MaxSlippagePct:      0.5,
		MinNetSpread:        0.1,
		CooldownPeriod:      300,
		MaxDailyLoss:        1000,
		MaxDrawdown:         5000,
		MaxExchangeExposure: 20000,
		MinExchangeBalance:  1000,
	}
}

func TestSaveAndLoadPositions(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pos := &types.ArbitragePosition{
		ID:          "pos1",
		Symbol:      "BTC",
		LongVenue:   types.Hyperliquid,
		ShortVenue:  types.Bybit,
		Size:        decimal.NewFromFloat(1.5),
		Status:      types.PositionOpen,
		RealizedPnl: decimal.NewFromFloat(12.34),
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.SavePosition(pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	loaded, err := s.LoadPositions()
	if err != nil {
		t.Fatalf("LoadPositions: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("len(loaded) = %d, want 1", len(loaded))
	}
	if loaded[0].ID != pos.ID || !loaded[0].Size.Equal(pos.Size) {
		t.Errorf("loaded = %+v, want match of %+v", loaded[0], pos)
	}
}

func TestLoadPositionsEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadPositions()
	if err != nil {
		t.Fatalf("LoadPositions: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("expected empty, got %d entries", len(loaded))
	}
}

func TestDeletePosition(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pos := &types.ArbitragePosition{ID: "pos1", Symbol: "BTC", Size: decimal.NewFromInt(1)}
	if err := s.SavePosition(pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}
	if err := s.DeletePosition("pos1"); err != nil {
		t.Fatalf("DeletePosition: %v", err)
	}

	loaded, err := s.LoadPositions()
	if err != nil {
		t.Fatalf("LoadPositions: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("expected position removed, got %d entries", len(loaded))
	}

	if err := s.DeletePosition("does-not-exist"); err != nil {
		t.Errorf("DeletePosition of missing id should be a no-op, got %v", err)
	}
}

func TestSaveRiskState(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	gate := risk.New(testRiskConfig())
	opp := types.Opportunity{
		Symbol:          "BTC",
		BuyVenue:        types.Hyperliquid,
		SellVenue:       types.Bybit,
		RecommendedSize: decimal.NewFromInt(1),
		BuyPrice:        decimal.NewFromInt(100),
	}
	pos := &types.ArbitragePosition{
		Symbol:     opp.Symbol,
		LongVenue:  opp.BuyVenue,
		ShortVenue: opp.SellVenue,
		Size:       opp.RecommendedSize,
		LongOrder:  &types.Order{Price: &opp.BuyPrice},
	}
	gate.Opened(pos)

	if err := s.SaveRiskState(gate.GetSnapshot()); err != nil {
		t.Fatalf("SaveRiskState: %v", err)
	}
}

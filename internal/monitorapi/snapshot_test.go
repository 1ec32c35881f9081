package monitorapi

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taku247/omg-tool/internal/config"
	"github.com/taku247/omg-tool/internal/risk"
	"github.com/taku247/omg-tool/pkg/types"
)

type fakeProvider struct {
	positions []*types.ArbitragePosition
	risk      risk.Snapshot
}

func (f *fakeProvider) PositionsSnapshot() []*types.ArbitragePosition { return f.positions }
func (f *fakeProvider) RiskSnapshot() risk.Snapshot                   { return f.risk }

func TestBuildSnapshotAggregatesPnl(t *testing.T) {
	opened := time.Now().Add(-time.Minute)
	provider := &fakeProvider{
		positions: []*types.ArbitragePosition{
			{
				ID: "ARB_1", Symbol: "BTC", Status: types.PositionOpen,
				LongVenue: types.Hyperliquid, ShortVenue: types.Bybit,
				Size: decimal.NewFromInt(1), EntrySpread: decimal.NewFromFloat(1.2),
				RealizedPnl: decimal.Zero, UnrealizedPnl: decimal.NewFromFloat(12.5),
				OpenedAt: &opened,
			},
			{
				ID: "ARB_2", Symbol: "ETH", Status: types.PositionClosed,
				LongVenue: types.Bybit, ShortVenue: types.Hyperliquid,
				Size: decimal.NewFromInt(2), EntrySpread: decimal.NewFromFloat(0.8),
				RealizedPnl: decimal.NewFromFloat(7.25), UnrealizedPnl: decimal.Zero,
			},
		},
		risk: risk.Snapshot{
			ExposureBySymbol: map[types.SymbolId]decimal.Decimal{"BTC": decimal.NewFromInt(100)},
			ExposureByVenue:  map[types.VenueId]decimal.Decimal{types.Hyperliquid: decimal.NewFromInt(100)},
			DailyPnl:         decimal.NewFromFloat(19.75),
			BlockedSymbols:   []types.SymbolId{"ETH"},
		},
	}

	snap := BuildSnapshot(provider, config.Config{})

	if len(snap.Positions) != 2 {
		t.Fatalf("positions = %d, want 2", len(snap.Positions))
	}
	if snap.TotalRealizedPnl != 7.25 {
		t.Errorf("TotalRealizedPnl = %v, want 7.25", snap.TotalRealizedPnl)
	}
	if snap.TotalUnrealizedPnl != 12.5 {
		t.Errorf("TotalUnrealizedPnl = %v, want 12.5", snap.TotalUnrealizedPnl)
	}
	if snap.TotalPnl != 19.75 {
		t.Errorf("TotalPnl = %v, want 19.75", snap.TotalPnl)
	}
	if snap.Risk.DailyPnl != 19.75 {
		t.Errorf("Risk.DailyPnl = %v, want 19.75", snap.Risk.DailyPnl)
	}
	if len(snap.Risk.BlockedSymbols) != 1 || snap.Risk.BlockedSymbols[0] != "ETH" {
		t.Errorf("BlockedSymbols = %v, want [ETH]", snap.Risk.BlockedSymbols)
	}
}

package monitorapi

import (
	"time"

	"github.com/taku247/omg-tool/internal/config"
	"github.com/taku247/omg-tool/internal/risk"
	"github.com/taku247/omg-tool/pkg/types"
)

// SnapshotProvider is the subset of *engine.Engine the dashboard needs;
// declaring it narrowly here keeps monitorapi independent of engine's
// full API and avoids an import cycle risk if engine ever wants to surface
// dashboard events itself.
type SnapshotProvider interface {
	PositionsSnapshot() []*types.ArbitragePosition
	RiskSnapshot() risk.Snapshot
}

// BuildSnapshot aggregates provider state into one DashboardSnapshot.
func BuildSnapshot(provider SnapshotProvider, cfg config.Config) DashboardSnapshot {
	positions := provider.PositionsSnapshot()
	statuses := make([]PositionStatus, 0, len(positions))

	var totalRealized, totalUnrealized float64
	for _, p := range positions {
		s := toPositionStatus(p)
		statuses = append(statuses, s)
		totalRealized += s.RealizedPnl
		totalUnrealized += s.UnrealizedPnl
	}

	return DashboardSnapshot{
		Timestamp:          time.Now(),
		Positions:          statuses,
		TotalRealizedPnl:   totalRealized,
		TotalUnrealizedPnl: totalUnrealized,
		TotalPnl:           totalRealized + totalUnrealized,
		Risk:               toRiskStatus(provider.RiskSnapshot()),
		Config:             NewConfigSummary(cfg),
	}
}

func toPositionStatus(p *types.ArbitragePosition) PositionStatus {
	size, _ := p.Size.Float64()
	realized, _ := p.RealizedPnl.Float64()
	unrealized, _ := p.UnrealizedPnl.Float64()
	entrySpread, _ := p.EntrySpread.Float64()

	return PositionStatus{
		ID:            p.ID,
		Symbol:        string(p.Symbol),
		Status:        string(p.Status),
		LongVenue:     string(p.LongVenue),
		ShortVenue:    string(p.ShortVenue),
		Size:          size,
		EntrySpread:   entrySpread,
		RealizedPnl:   realized,
		UnrealizedPnl: unrealized,
		OpenedAt:      p.OpenedAt,
		ClosedAt:      p.ClosedAt,
		CloseReason:   p.ErrorMsg,
	}
}

func toRiskStatus(snap risk.Snapshot) RiskStatus {
	bySymbol := make(map[string]float64, len(snap.ExposureBySymbol))
	for s, v := range snap.ExposureBySymbol {
		f, _ := v.Float64()
		bySymbol[string(s)] = f
	}
	byVenue := make(map[string]float64, len(snap.ExposureByVenue))
	for v, val := range snap.ExposureByVenue {
		f, _ := val.Float64()
		byVenue[string(v)] = f
	}
	blockedSymbols := make([]string, 0, len(snap.BlockedSymbols))
	for _, s := range snap.BlockedSymbols {
		blockedSymbols = append(blockedSymbols, string(s))
	}
	blockedVenues := make([]string, 0, len(snap.BlockedVenues))
	for _, v := range snap.BlockedVenues {
		blockedVenues = append(blockedVenues, string(v))
	}

	dailyPnl, _ := snap.DailyPnl.Float64()
	drawdown, _ := snap.DrawdownToday.Float64()

	return RiskStatus{
		ExposureBySymbol: bySymbol,
		ExposureByVenue:  byVenue,
		DailyPnl:         dailyPnl,
		DrawdownToday:    drawdown,
		BlockedSymbols:   blockedSymbols,
		BlockedVenues:    blockedVenues,
	}
}

// Package monitorapi is the optional live operator dashboard: a small
// HTTP server exposing a health check, a point-in-time snapshot, and a
// WebSocket stream of snapshot/position/risk events.
package monitorapi

import (
	"time"

	"github.com/taku247/omg-tool/internal/config"
)

// DashboardSnapshot is the complete point-in-time dashboard state.
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Positions []PositionStatus `json:"positions"`

	TotalRealizedPnl   float64 `json:"total_realized_pnl"`
	TotalUnrealizedPnl float64 `json:"total_unrealized_pnl"`
	TotalPnl           float64 `json:"total_pnl"`

	Risk   RiskStatus    `json:"risk"`
	Config ConfigSummary `json:"config"`
}

// PositionStatus is one ArbitragePosition's dashboard-facing view.
type PositionStatus struct {
	ID            string     `json:"id"`
	Symbol        string     `json:"symbol"`
	Status        string     `json:"status"`
	LongVenue     string     `json:"long_venue"`
	ShortVenue    string     `json:"short_venue"`
	Size          float64    `json:"size"`
	EntrySpread   float64    `json:"entry_spread_pct"`
	RealizedPnl   float64    `json:"realized_pnl"`
	UnrealizedPnl float64    `json:"unrealized_pnl"`
	OpenedAt      *time.Time `json:"opened_at,omitempty"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	CloseReason   string     `json:"close_reason,omitempty"` // set from ErrorMsg when a leg failed or needed reconciliation
}

// RiskStatus is the risk gate's bookkeeping state, dashboard-facing.
type RiskStatus struct {
	ExposureBySymbol map[string]float64 `json:"exposure_by_symbol"`
	ExposureByVenue  map[string]float64 `json:"exposure_by_venue"`
	DailyPnl         float64            `json:"daily_pnl"`
	DrawdownToday    float64            `json:"drawdown_today"`
	BlockedSymbols   []string           `json:"blocked_symbols"`
	BlockedVenues    []string           `json:"blocked_venues"`
}

// ConfigSummary is the operator-relevant subset of the loaded config.
type ConfigSummary struct {
	MinSpreadThreshold float64 `json:"min_spread_threshold"`
	MaxPositionSize    float64 `json:"max_position_size"`
	MinProfitThreshold float64 `json:"min_profit_threshold"`

	MaxTotalExposure    float64 `json:"max_total_exposure"`
	MaxExchangeExposure float64 `json:"max_exchange_exposure"`
	MaxDailyLoss        float64 `json:"max_daily_loss"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxTotalPositions   int     `json:"max_total_positions"`

	DryRun bool `json:"dry_run"`
}

// NewConfigSummary builds a ConfigSummary from the loaded operator config.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		MinSpreadThreshold:  cfg.Arbitrage.MinSpreadThreshold,
		MaxPositionSize:     cfg.Arbitrage.MaxPositionSize,
		MinProfitThreshold:  cfg.Arbitrage.MinProfitThreshold,
		MaxTotalExposure:    cfg.Risk.MaxTotalExposure,
		MaxExchangeExposure: cfg.Risk.MaxExchangeExposure,
		MaxDailyLoss:        cfg.Risk.MaxDailyLoss,
		MaxDrawdown:         cfg.Risk.MaxDrawdown,
		MaxTotalPositions:   cfg.Risk.MaxTotalPositions,
		DryRun:              cfg.DryRun,
	}
}

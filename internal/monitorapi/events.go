package monitorapi

import "time"

// DashboardEvent wraps every event pushed to connected WebSocket clients.
type DashboardEvent struct {
	Type      string      `json:"type"` // "snapshot", "position", "risk"
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// PositionEvent carries one position's state. It is pushed only when
// Server.BroadcastPosition is called; nothing in the engine calls it on
// its own.
type PositionEvent struct {
	Position PositionStatus `json:"position"`
}

// RiskEvent carries the risk state with a reason string. It is pushed only
// when Server.BroadcastRisk is called; nothing in the engine calls it on
// its own.
type RiskEvent struct {
	Reason string     `json:"reason"`
	Risk   RiskStatus `json:"risk"`
}

func newPositionEvent(p PositionStatus) DashboardEvent {
	return DashboardEvent{Type: "position", Timestamp: time.Now(), Data: PositionEvent{Position: p}}
}

func newRiskEvent(reason string, r RiskStatus) DashboardEvent {
	return DashboardEvent{Type: "risk", Timestamp: time.Now(), Data: RiskEvent{Reason: reason, Risk: r}}
}

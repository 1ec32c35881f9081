package monitorapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/taku247/omg-tool/internal/config"
)

// Server runs the dashboard's HTTP and WebSocket surface.
type Server struct {
	cfg      config.DashboardConfig
	provider SnapshotProvider
	fullCfg  config.Config
	hub      *Hub
	handlers *handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the mux, hub and handlers but does not start listening.
func NewServer(cfg config.DashboardConfig, provider SnapshotProvider, fullCfg config.Config, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	h := newHandlers(provider, fullCfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/api/snapshot", h.handleSnapshot)
	mux.HandleFunc("/ws", h.handleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		fullCfg:  fullCfg,
		hub:      hub,
		handlers: h,
		server:   httpServer,
		logger:   logger.With("component", "monitorapi-server"),
	}
}

// Start runs the hub loop and blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// BroadcastSnapshot pushes a fresh full snapshot to every connected client.
func (s *Server) BroadcastSnapshot() {
	snapshot := BuildSnapshot(s.provider, s.fullCfg)
	s.hub.BroadcastEvent(DashboardEvent{Type: "snapshot", Timestamp: snapshot.Timestamp, Data: snapshot})
}

// BroadcastPosition pushes an incremental position-change event.
func (s *Server) BroadcastPosition(p PositionStatus) {
	s.hub.BroadcastEvent(newPositionEvent(p))
}

// BroadcastRisk pushes an incremental risk-state event.
func (s *Server) BroadcastRisk(reason string, r RiskStatus) {
	s.hub.BroadcastEvent(newRiskEvent(reason, r))
}

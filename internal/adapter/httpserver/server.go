// Package httpserver exposes the WebSocket endpoint, the internal broadcast
// API for the business layer, and the operational surface (health, stats,
// metrics).
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/projectpulse/projectpulse/internal/domain"
	"github.com/projectpulse/projectpulse/internal/platform/config"
	"github.com/projectpulse/projectpulse/internal/realtime"
)

// ProjectService is the slice of the project repository the API needs beyond
// the broadcast engine.
type ProjectService interface {
	CreateProject(ctx context.Context, projectID, clientID, title string) (*domain.Project, error)
	GetProjectReport(ctx context.Context, projectID string) (json.RawMessage, error)
}

// VerifyConnection decides whether an incoming WebSocket upgrade is allowed.
// The default accepts unconditionally; real authentication must replace it
// before production use.
type VerifyConnection func(r *http.Request) bool

// AcceptAll is the placeholder verification policy.
func AcceptAll(*http.Request) bool { return true }

type Server struct {
	echo   *echo.Echo
	config *config.Config

	hub         *realtime.Hub
	broadcaster *realtime.Broadcaster
	projects    ProjectService
	verify      VerifyConnection

	metricsHandler http.Handler
	healthChecks   []HealthCheck
	startTime      time.Time
}

func NewServer(cfg *config.Config, hub *realtime.Hub, broadcaster *realtime.Broadcaster, projects ProjectService, verify VerifyConnection, metricsHandler http.Handler, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if verify == nil {
		verify = AcceptAll
	}

	srv := &Server{
		echo:           e,
		config:         cfg,
		hub:            hub,
		broadcaster:    broadcaster,
		projects:       projects,
		verify:         verify,
		metricsHandler: metricsHandler,
		healthChecks:   healthChecks,
		startTime:      time.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

package httpserver

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/projectpulse/projectpulse/internal/platform/version"
)

// HealthCheck is a named probe against a backing dependency. Checks are run
// in order by the readiness and startup endpoints; the first failure is
// reported.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	return s.runChecks(ctx, c)
}

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := time.Since(s.startTime).Seconds()
	return c.JSON(200, map[string]any{
		"status":      "ok",
		"uptime":      uptime,
		"connections": s.hub.ClientCount(),
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	return s.runChecks(ctx, c)
}

func (s *Server) runChecks(ctx context.Context, c echo.Context) error {
	for _, check := range s.healthChecks {
		if err := check.Check(ctx); err != nil {
			return c.JSON(503, map[string]any{
				"status":       "unhealthy",
				"failed_check": check.Name,
				"error":        err.Error(),
			})
		}
	}
	return c.JSON(200, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(200, version.Get())
}

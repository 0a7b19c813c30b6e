package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/projectpulse/projectpulse/internal/errors"
	"github.com/projectpulse/projectpulse/internal/platform/correlation"
)

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware())
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(errors.Middleware())

	s.echo.GET("/ws/consulting", s.handleWebSocket)

	rateLimiter := newRateLimiter(s.config.APIRatePerSecond, s.config.APIBurst)
	api := s.echo.Group("/api", rateLimiter)
	api.POST("/projects", s.handleCreateProject)
	api.POST("/projects/:id/progress", s.handlePushProgress)
	api.POST("/projects/:id/status", s.handlePushStatus)
	api.POST("/projects/:id/complete", s.handlePushCompletion)
	api.GET("/projects/:id/report", s.handleGetReport)
	api.GET("/stats", s.handleStats)

	s.registerHealthRoutes()
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/metrics", echo.WrapHandler(s.metricsHandler))
}

// correlationMiddleware tags every request context with a correlation ID so
// log lines emitted while serving it can be tied together.
func correlationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := correlation.WithID(req.Context(), correlation.NewID())
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.Info("Request", attrs...)
			return nil
		},
	})
}

// Package http exposes the render engine over HTTP: the catch-all page
// route, the pending-result and reasoning-stream handoffs, and the admin
// history API.
package http

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/gerkensm/vaporvibe/internal/service"
)

// NewServer creates and configures the engine's HTTP server.
func NewServer(orch *service.Orchestrator, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogMethod: true,
		LogURI:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				"method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))

	h := NewHandler(orch, logger)
	h.RegisterRoutes(e)

	return e
}

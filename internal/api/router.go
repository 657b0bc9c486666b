package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/vithaluntold/accute1-sub000/internal/logging"
	"github.com/vithaluntold/accute1-sub000/internal/services"
)

// RouterConfig collects what NewRouter mounts.
type RouterConfig struct {
	Engine      *services.Engine
	Store       Pinger
	Logger      *logging.Logger
	ServiceName string
	Version     string
	// Auth guards /api/v1. Nil leaves the group open, which only tests do.
	Auth echo.MiddlewareFunc
}

// NewRouter builds the echo instance: tracing, request logging, panic
// recovery, problem+json errors, /health and the /api/v1 routes.
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = ErrorHandler(cfg.Logger)

	e.Use(otelecho.Middleware(cfg.ServiceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				cfg.Logger.Warn("request", append(args, "error", v.Error)...)
				return nil
			}
			cfg.Logger.Info("request", args...)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	h := NewHandler(cfg.Store, cfg.ServiceName, cfg.Version)
	e.GET("/health", h.HandleHealth)

	g := e.Group("/api/v1")
	if cfg.Auth != nil {
		g.Use(cfg.Auth)
	}
	NewServer(cfg.Engine).Register(g)
	return e
}

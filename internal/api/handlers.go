package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vithaluntold/accute1-sub000/internal/apperr"
	"github.com/vithaluntold/accute1-sub000/internal/logging"
)

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the unauthenticated operational endpoints.
type Handler struct {
	store   Pinger
	service string
	version string
}

// NewHandler creates a new Handler.
func NewHandler(store Pinger, service, version string) *Handler {
	return &Handler{store: store, service: service, version: version}
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Storage   string    `json:"storage"`
}

// HandleHealth reports service health. An unreachable store answers 503.
// (GET /health)
func (h *Handler) HandleHealth(c echo.Context) error {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   h.service,
		Version:   h.version,
		Storage:   "ok",
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		status.Status = "degraded"
		status.Storage = err.Error()
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Status   int            `json:"status"`
	Detail   string         `json:"detail"`
	Instance string         `json:"instance,omitempty"`
	Code     apperr.Code    `json:"code,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// problemFor maps an error to the problem document sent to the client.
// Unclassified errors are reported as 500 without their text.
func problemFor(err error) ProblemDetails {
	var coded *apperr.Error
	if errors.As(err, &coded) {
		p := ProblemDetails{Type: "about:blank", Detail: coded.Message, Code: coded.Code, Details: coded.Details}
		switch coded.Code {
		case apperr.CodeValidation:
			p.Status = http.StatusBadRequest
		case apperr.CodeNotFound:
			p.Status = http.StatusNotFound
		case apperr.CodeConflict:
			p.Status = http.StatusConflict
		default:
			p.Status = http.StatusInternalServerError
		}
		p.Title = http.StatusText(p.Status)
		return p
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		detail := http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			detail = msg
		}
		return ProblemDetails{Type: "about:blank", Title: http.StatusText(he.Code), Status: he.Code, Detail: detail}
	}

	return ProblemDetails{
		Type:   "about:blank",
		Title:  http.StatusText(http.StatusInternalServerError),
		Status: http.StatusInternalServerError,
		Detail: "internal error",
	}
}

// ErrorHandler renders every handler error as application/problem+json.
func ErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		problem := problemFor(err)
		problem.Instance = c.Request().URL.Path
		if problem.Status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", c.Request().Method, "path", problem.Instance, "error", err)
		}

		c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(problem.Status)
		} else {
			err = c.JSON(problem.Status, problem)
		}
		if err != nil {
			logger.Error("failed to write error response", "error", err)
		}
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"

	"onboarding/backend/internal/logging"
	"onboarding/backend/internal/services"
	"onboarding/backend/pkg/models"
)

const problemContentType = "application/problem+json"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler returns the service health. It answers 503 when the store is
// unreachable.
func HealthHandler(service, version string, db Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		status := models.HealthStatus{
			Status:    "ok",
			Service:   service,
			Version:   version,
			Timestamp: time.Now().UTC(),
			Checks:    map[string]string{"database": "ok"},
		}
		code := http.StatusOK
		if err := db.Ping(c.Request().Context()); err != nil {
			status.Status = "degraded"
			status.Checks["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, status)
	}
}

// statusFor maps an engine error kind to its HTTP status.
func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindValidation, services.KindConflict:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders every error as an RFC 7807 Problem Details body.
// Engine errors keep their message; storage details of internal errors are
// logged but never returned.
func ErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		detail := "internal error"
		var kind string

		var serr *services.Error
		var herr *echo.HTTPError
		switch {
		case errors.As(err, &serr):
			status = statusFor(serr.Kind)
			kind = serr.Kind.String()
			detail = serr.Message
			if serr.Kind == services.KindValidation {
				detail = serr.Error()
			}
		case errors.As(err, &herr):
			status = herr.Code
			detail = fmt.Sprint(herr.Message)
		}

		req := c.Request()
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"method", req.Method,
				"path", req.URL.Path,
				"error", err)
		}

		problem := models.ProblemDetails{
			Type:     "about:blank",
			Title:    http.StatusText(status),
			Status:   status,
			Detail:   detail,
			Instance: req.URL.Path,
		}
		if kind != "" {
			problem.Type = "urn:onboarding:error:" + kind
		}
		if sc := trace.SpanContextFromContext(req.Context()); sc.HasTraceID() {
			problem.TraceID = sc.TraceID().String()
		}

		if req.Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		body, merr := json.Marshal(problem)
		if merr != nil {
			_ = c.String(http.StatusInternalServerError, "failed to encode error")
			return
		}
		_ = c.Blob(status, problemContentType, body)
	}
}

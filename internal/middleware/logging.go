// Package middleware provides Echo middleware for logging, metrics, rate
// limiting and security.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Requests for quiet paths (health checks, scrapes) are logged at debug.
// Server errors log at error and upstream blocks (403) at warn so they
// stand out from normal traffic. Query strings are never logged.
func RequestLogger(logger *slog.Logger, quiet ...string) echo.MiddlewareFunc {
	logger = logger.With("component", "http")
	quietPaths := make(map[string]bool, len(quiet))
	for _, p := range quiet {
		quietPaths[p] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			switch {
			case quietPaths[req.URL.Path]:
				level = slog.LevelDebug
			case res.Status >= http.StatusInternalServerError:
				level = slog.LevelError
			case res.Status == http.StatusForbidden:
				level = slog.LevelWarn
			}

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"route", c.Path(),
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if err != nil {
				attrs = append(attrs, "err", err.Error())
			}

			logger.Log(req.Context(), level, "request", attrs...)

			return err
		}
	}
}

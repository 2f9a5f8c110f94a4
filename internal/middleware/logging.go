// Package middleware provides Echo middleware for logging, security,
// and metrics.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"legacy-site-proxy/internal/metrics"
)

// RequestLogger returns an Echo middleware that logs each request with
// slog. The prefixes set resolves the request path to a site label so
// log lines can be filtered per proxied site.
func RequestLogger(logger *slog.Logger, prefixes map[string]bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			logger.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"site", metrics.NormalizeSite(req.URL.Path, prefixes),
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}

package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"legacy-site-proxy/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus
// metrics for each inbound request. The prefixes set bounds the site
// label to the configured site table.
func MetricsMiddleware(m *metrics.Metrics, prefixes map[string]bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			// Resolve the actual status code. When a handler returns an
			// *echo.HTTPError, the response status hasn't been written yet;
			// Echo's central error handler will do that later. We inspect
			// the error to get the correct code for metrics.
			statusCode := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				}
			}

			status := strconv.Itoa(statusCode)
			method := metrics.NormalizeMethod(c.Request().Method)
			site := metrics.NormalizeSite(c.Request().URL.Path, prefixes)
			duration := time.Since(start).Seconds()

			m.RequestsTotal.WithLabelValues(method, status, site).Inc()
			m.RequestDuration.WithLabelValues(method, status, site).Observe(duration)

			return err
		}
	}
}

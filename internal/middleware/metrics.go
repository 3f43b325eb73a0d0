package middleware

import (
	"github.com/labstack/echo/v4"

	"eventhub-proxy/internal/metrics"
)

// MetricsMiddleware records every inbound request against the mount it
// arrived on. The status is resolved after Echo's error handling would
// apply, so 4xx/5xx returned as errors are counted correctly.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			done := m.TrackRequest(req.Method, req.URL.Path)

			err := next(c)
			done(responseStatus(c, err))
			return err
		}
	}
}

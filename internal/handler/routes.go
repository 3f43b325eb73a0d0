package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eventhub-proxy/internal/config"
	"eventhub-proxy/internal/metrics"
	"eventhub-proxy/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// m may be nil when metrics are disabled.
func RegisterRoutes(
	e *echo.Echo,
	cfg *config.Config,
	proxy *ProxyHandler,
	health *HealthHandler,
	diag *DiagnosticsHandler,
	m *metrics.Metrics,
) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	mounts := []string{cfg.Mounts.API, cfg.Mounts.Static}
	if cfg.Diagnostics.Enabled {
		mounts = append(mounts, cfg.Diagnostics.Path)
	}
	e.Pre(middleware.CORS(cfg.CORS, mounts...))

	e.Any(cfg.Mounts.API, proxy.HandleAPI)
	e.Any(cfg.Mounts.API+"/*", proxy.HandleAPI)
	e.Any(cfg.Mounts.Static+"/*", proxy.HandleStatic)

	if cfg.Diagnostics.Enabled {
		e.GET(cfg.Diagnostics.Path, diag.Check)
	}

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}

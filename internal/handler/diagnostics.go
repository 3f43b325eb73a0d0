package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"eventhub-proxy/internal/config"
	"eventhub-proxy/internal/service"
)

// DiagnosticsHandler exposes a manual upstream connectivity check. It is only
// routed when diagnostics are enabled in config.
type DiagnosticsHandler struct {
	service      *service.ProxyService
	upstreamPath string
	logger       *slog.Logger
}

// NewDiagnosticsHandler creates a DiagnosticsHandler.
func NewDiagnosticsHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *DiagnosticsHandler {
	return &DiagnosticsHandler{
		service:      svc,
		upstreamPath: cfg.Diagnostics.UpstreamPath,
		logger:       logger.With("component", "diagnostics_handler"),
	}
}

// Check calls the configured upstream path and reports what came back.
func (h *DiagnosticsHandler) Check(c echo.Context) error {
	res, err := h.service.CheckUpstream(c.Request().Context(), h.upstreamPath)
	if err != nil {
		h.logger.Error("diagnostic check failed", "err", err, "upstream_path", h.upstreamPath)
		return writeProxyError(c, err)
	}

	h.logger.Info("diagnostic check",
		"upstream_path", res.UpstreamPath,
		"upstream_status", res.UpstreamStatus,
		"duration_ms", res.DurationMillis,
	)
	return c.JSON(http.StatusOK, res)
}

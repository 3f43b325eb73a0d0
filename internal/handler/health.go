package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"eventhub-proxy/internal/model"
	"eventhub-proxy/internal/service"
)

// Version is the build version, injected as its own type.
type Version string

// StatusResponse is the body of /healthz and /proxy/status.
type StatusResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version,omitempty"`
	Mounts  []MountStatus `json:"mounts,omitempty"`
}

// MountStatus tells an operator where a mount forwards to.
type MountStatus struct {
	Mount  string `json:"mount"`
	Target string `json:"target"`
}

// HealthHandler serves liveness and status.
type HealthHandler struct {
	status StatusResponse
}

// NewHealthHandler precomputes the status body; the routing table does not
// change after start.
func NewHealthHandler(svc *service.ProxyService, v Version) *HealthHandler {
	routes := []model.Route{svc.APIRoute(), svc.StaticRoute()}

	mounts := make([]MountStatus, 0, len(routes))
	for _, r := range routes {
		mounts = append(mounts, MountStatus{
			Mount:  r.Mount,
			Target: svc.BuildUpstreamURL(r, r.Mount),
		})
	}

	return &HealthHandler{
		status: StatusResponse{Status: "ok", Version: string(v), Mounts: mounts},
	}
}

// Healthz is the liveness check. It never contacts the upstream.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

// Status reports the build version and each mount's upstream target.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.status)
}

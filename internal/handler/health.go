package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"inference-gateway-go/internal/config"
	"inference-gateway-go/internal/monitor"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	monitor *monitor.Monitor
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, mon *monitor.Monitor, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, monitor: mon, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatusResponse is the body of the gateway status endpoint.
type StatusResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	UpstreamURL    string `json:"upstream_url"`
	AbortChannel   bool   `json:"abort_channel"`
	CancelPolicy   string `json:"cancel_policy"`
	ActiveRequests int    `json:"active_requests"`
	AbortsSent     int64  `json:"aborts_sent"`
}

// Status returns gateway status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:         "ok",
		Version:        string(h.version),
		UpstreamURL:    redactURL(h.cfg.Upstream.BaseURL),
		AbortChannel:   h.cfg.Upstream.AbortURL != "",
		CancelPolicy:   h.monitor.Policy().String(),
		ActiveRequests: h.monitor.Active(),
		AbortsSent:     h.monitor.AbortsSent(),
	})
}

func redactURL(raw string) string {
	return userinfoPattern.ReplaceAllString(raw, "${1}[REDACTED]@")
}

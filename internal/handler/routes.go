package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inference-gateway-go/internal/config"
	"inference-gateway-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Every path not
// reserved by the gateway itself is forwarded upstream, including the abort and
// metrics paths when those features are off.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, gateway *GatewayHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/gateway/status", health.Status)
	if cfg.Cancellation.OperatorAbort {
		e.POST("/gateway/abort/:id", gateway.Abort)
	}

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/*", gateway.Handle)
}

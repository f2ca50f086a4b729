package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatgpt-proxy-go/internal/config"
	"chatgpt-proxy-go/internal/credential"
	"chatgpt-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance and points
// the credential probe at the proxy route. The metrics parameter is optional.
func RegisterRoutes(
	e *echo.Echo,
	cfg *config.Config,
	proxy *ProxyHandler,
	health *HealthHandler,
	admin *AdminHandler,
	ctrl *credential.Controller,
	m *metrics.Metrics,
) {
	docs := NewDocsHandler(e)

	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)
	e.GET("/docs/routes", docs.Routes)

	if admin.Enabled() {
		e.POST("/moderation/update_info", admin.UpdateInfo)
		e.GET("/moderation/status", admin.Status)
	}

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	routes := proxy.Register(e, cfg.Upstream.PathPrefix)
	// Without trust the route only works for clients bringing their own
	// token, so it is not advertised.
	if !cfg.Credentials.Trust {
		docs.Hide(routes...)
	}

	ctrl.Attach(e, proxy.Prefix())
}

package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Static routes win over the prefix captures, so fixed paths stay
// reachable whatever the site table contains.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, home *HomeHandler, health *HealthHandler) {
	e.GET("/", home.Index)
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.Any("/:prefix", proxy.Handle)
	e.Any("/:prefix/*", proxy.Handle)
}

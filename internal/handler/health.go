package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"legacy-site-proxy/internal/registry"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	reg     *registry.Registry
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(reg *registry.Registry, v Version) *HealthHandler {
	return &HealthHandler{reg: reg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information including the served sites.
func (h *HealthHandler) Status(c echo.Context) error {
	sites := h.reg.Sites()
	prefixes := make([]string, 0, len(sites))
	for _, s := range sites {
		prefixes = append(prefixes, s.Prefix)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": string(h.version),
		"sites":   prefixes,
	})
}

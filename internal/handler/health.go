package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"webrelay/internal/config"
	"webrelay/internal/guard"
)

// Version is a string type for dependency injection of the build version.
type Version string

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status                 string `json:"status"`
	Version                string `json:"version"`
	PublicURL              string `json:"public_url"`
	BlockedHosts           int    `json:"blocked_hosts"`
	NavigateTimeoutSeconds int    `json:"navigate_timeout_seconds"`
	ResourceTimeoutSeconds int    `json:"resource_timeout_seconds"`
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	guard   *guard.Guard
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, g *guard.Guard, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, guard: g, version: v}
}

// Healthz returns a simple OK response for liveness checks.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:                 "ok",
		Version:                string(h.version),
		PublicURL:              h.cfg.Server.PublicURL,
		BlockedHosts:           h.guard.Size(),
		NavigateTimeoutSeconds: h.cfg.Fetch.NavigateTimeoutSeconds,
		ResourceTimeoutSeconds: h.cfg.Fetch.ResourceTimeoutSeconds,
	})
}

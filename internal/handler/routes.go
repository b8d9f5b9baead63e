package handler

import (
	"github.com/labstack/echo/v4"

	"webrelay/internal/rewrite"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)

	e.GET(rewrite.NavigatePath, proxy.Navigate)
	e.GET(rewrite.ResourcePath, proxy.Resource)
}

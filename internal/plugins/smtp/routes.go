package smtp

import "github.com/labstack/echo/v4"

// RegisterRoutes sets up SMTP diagnostics on the admin route group.
func RegisterRoutes(adminGroup *echo.Group, h *Handler) {
	adminGroup.GET("/smtp", h.Status)
	adminGroup.POST("/smtp/test", h.TestConnection)
}

package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/gatekeeper/internal/middleware"
	"github.com/keyxmakerx/gatekeeper/internal/plugins/smtp"
	"github.com/keyxmakerx/gatekeeper/internal/ratelimit"
)

// ActionLogin is the rate-limit action for admin login attempts.
const ActionLogin = "admin_login"

// RegisterRoutes sets up the admin routes. Login and logout are public;
// everything else sits behind RequireAdmin. metricsHandler serves the
// Prometheus scrape endpoint. Returns the gated group so other plugins
// can register additional admin routes.
func RegisterRoutes(e *echo.Echo, h *Handler, limiter *ratelimit.Limiter, metricsHandler http.Handler, smtpHandler *smtp.Handler) *echo.Group {
	e.POST("/admin/login", h.Login, middleware.RateLimit(limiter, ActionLogin))
	e.POST("/admin/logout", h.Logout)

	admin := e.Group("/admin", h.gate.RequireAdmin())
	admin.GET("/session", h.Session)

	if metricsHandler != nil {
		admin.GET("/metrics", echo.WrapHandler(metricsHandler))
	}

	// SMTP diagnostics (delegates to SMTP plugin handler).
	if smtpHandler != nil {
		smtp.RegisterRoutes(admin, smtpHandler)
	}

	return admin
}

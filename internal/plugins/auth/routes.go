package auth

import (
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/gatekeeper/internal/middleware"
	"github.com/keyxmakerx/gatekeeper/internal/ratelimit"
	"github.com/keyxmakerx/gatekeeper/internal/token"
)

// Rate-limit actions applied to the public auth endpoints. They must have
// a rule in the limiter (see ratelimit.DefaultRules).
const (
	ActionLogin     = "login"
	ActionRegister  = "register"
	ActionOTPVerify = "otp_verify"
	ActionOTPResend = "otp_resend"
)

// RegisterRoutes sets up the auth API under /api/auth. Credential and code
// endpoints are rate-limited per client IP; session endpoints require a
// valid access cookie.
func RegisterRoutes(e *echo.Echo, h *Handler, tokens *token.Service, limiter *ratelimit.Limiter) {
	g := e.Group("/api/auth")

	// Public routes -- no session required.
	g.POST("/register", h.Register, middleware.RateLimit(limiter, ActionRegister))
	g.POST("/login", h.Login, middleware.RateLimit(limiter, ActionLogin))
	g.POST("/otp/verify", h.VerifyOTP, middleware.RateLimit(limiter, ActionOTPVerify))
	g.POST("/otp/resend", h.ResendOTP, middleware.RateLimit(limiter, ActionOTPResend))
	g.POST("/refresh", h.Refresh)
	g.POST("/logout", h.Logout)

	// Authenticated routes.
	authed := g.Group("", RequireAuth(tokens))
	authed.GET("/session", h.Session)
	authed.PUT("/profile", h.UpdateProfile)
}

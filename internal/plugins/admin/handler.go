package admin

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/gatekeeper/internal/apperror"
	"github.com/keyxmakerx/gatekeeper/internal/metrics"
)

// LoginRequest carries the shared secret, as JSON or a form field.
type LoginRequest struct {
	Secret string `json:"secret" form:"secret"`
}

// Handler serves the admin login endpoints.
type Handler struct {
	gate    *Gate
	metrics metrics.Recorder
}

// NewHandler creates a new admin handler.
func NewHandler(gate *Gate, rec metrics.Recorder) *Handler {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Handler{gate: gate, metrics: rec}
}

// Login exchanges the shared secret for the admin cookie (POST /admin/login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	if !h.gate.Check(req.Secret) {
		h.metrics.RecordAdminLogin(false)
		slog.Warn("failed admin login", slog.String("ip", c.RealIP()))
		return apperror.NewUnauthorized("invalid admin secret")
	}

	h.metrics.RecordAdminLogin(true)
	slog.Info("admin logged in", slog.String("ip", c.RealIP()))
	h.gate.SetCookie(c)
	return c.JSON(http.StatusOK, map[string]bool{"admin": true})
}

// Logout clears the admin cookie (POST /admin/logout).
func (h *Handler) Logout(c echo.Context) error {
	h.gate.ClearCookie(c)
	return c.NoContent(http.StatusNoContent)
}

// Session reports whether the caller holds a valid admin cookie
// (GET /admin/session). Requires RequireAdmin.
func (h *Handler) Session(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"admin": true})
}

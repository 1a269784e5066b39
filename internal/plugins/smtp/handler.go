package smtp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Handler exposes mail diagnostics to the admin area. The caller mounts it
// behind the admin gate.
type Handler struct {
	service SMTPService
}

// NewHandler creates a new SMTP handler.
func NewHandler(service SMTPService) *Handler {
	return &Handler{service: service}
}

// Status returns the redacted relay configuration (GET /admin/smtp).
func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Status())
}

// TestConnection dials the relay, negotiates TLS and authenticates without
// sending anything (POST /admin/smtp/test).
func (h *Handler) TestConnection(c echo.Context) error {
	start := time.Now()
	err := h.service.TestConnection(c.Request().Context())
	elapsed := time.Since(start)

	status := h.service.Status()
	if err != nil {
		slog.Warn("smtp connection test failed",
			slog.String("host", status.Host),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err),
		)
		return err
	}

	slog.Info("smtp connection test passed",
		slog.String("host", status.Host),
		slog.Duration("elapsed", elapsed),
	)
	return c.JSON(http.StatusOK, TestResult{
		Status:    "ok",
		Host:      status.Host,
		LatencyMS: elapsed.Milliseconds(),
	})
}

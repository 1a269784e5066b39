package middleware

import (
	"log/slog"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/gatekeeper/internal/apperror"
	"github.com/keyxmakerx/gatekeeper/internal/ratelimit"
)

// HeaderRateLimitRemaining reports how many requests the client has left in
// the current window.
const HeaderRateLimitRemaining = "X-RateLimit-Remaining"

// RateLimit returns middleware that admits requests for action through the
// limiter, keyed on the client IP. Admitted requests carry
// X-RateLimit-Remaining; denials become 429 with Retry-After.
//
// A counter store failure is logged and the request is let through: an
// unreachable Redis must not lock every user out of login.
func RateLimit(limiter *ratelimit.Limiter, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()

			d, err := limiter.Allow(c.Request().Context(), action, ip)
			if err != nil {
				slog.Error("rate limiter unavailable, admitting request",
					slog.String("action", action),
					slog.String("ip", ip),
					slog.Any("error", err),
				)
				return next(c)
			}

			if !d.Allowed {
				slog.Warn("rate limit exceeded",
					slog.String("action", action),
					slog.String("ip", ip),
					slog.Duration("retry_after", d.RetryAfter),
				)
				return apperror.NewRateLimited(d.RetryAfter)
			}
			c.Response().Header().Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
			return next(c)
		}
	}
}

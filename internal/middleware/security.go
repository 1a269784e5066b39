package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders returns middleware that sets security-related HTTP headers
// on every response. The service only speaks JSON, so the CSP forbids
// everything and responses carrying credentials are never cached.
//
// TLS is terminated by the reverse proxy; HSTS is only sent when hsts is
// true (production) so local HTTP development keeps working.
func SecurityHeaders(hsts bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")

			// Session and admin responses set cookies; keep them out of shared caches.
			h.Set("Cache-Control", "no-store")

			return next(c)
		}
	}
}

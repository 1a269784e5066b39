// Package admin guards the operator endpoints behind a single shared
// secret. There is no per-admin identity: whoever presents ADMIN_SECRET
// gets a cookie carrying it, and every admin request re-compares that
// cookie against the configured secret.
package admin

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/gatekeeper/internal/apperror"
	"github.com/keyxmakerx/gatekeeper/internal/secret"
)

// Cookie names. The __Host- prefix makes browsers insist on Secure, Path=/
// and no Domain, which only works over HTTPS.
const (
	CookieNameProduction  = "__Host-gk_admin"
	CookieNameDevelopment = "gk_admin_dev"

	cookieTTL = 7 * 24 * time.Hour
)

// Gate compares presented secrets with the configured one.
type Gate struct {
	secret     string
	production bool
}

// NewGate creates the gate. An empty secret closes it: every comparison fails.
func NewGate(adminSecret string, production bool) *Gate {
	if adminSecret == "" {
		slog.Warn("ADMIN_SECRET is empty; admin endpoints are closed")
	}
	return &Gate{secret: adminSecret, production: production}
}

// CookieName returns the admin cookie name for the deployment posture.
func (g *Gate) CookieName() string {
	if g.production {
		return CookieNameProduction
	}
	return CookieNameDevelopment
}

// Check reports whether presented equals the configured secret, in
// constant time.
func (g *Gate) Check(presented string) bool {
	return secret.EqualSecret(presented, g.secret)
}

// SetCookie writes the admin cookie. Its value is the secret itself.
func (g *Gate) SetCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     g.CookieName(),
		Value:    g.secret,
		Path:     "/",
		MaxAge:   int(cookieTTL / time.Second),
		Expires:  time.Now().Add(cookieTTL),
		HttpOnly: true,
		Secure:   g.production || c.IsTLS(),
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie expires the admin cookie.
func (g *Gate) ClearCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     g.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   g.production || c.IsTLS(),
		SameSite: http.SameSiteStrictMode,
	})
}

// RequireAdmin returns middleware that admits only requests whose admin
// cookie matches the configured secret. Presence alone is not enough.
func (g *Gate) RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cookie, err := c.Cookie(g.CookieName())
			if err != nil || !g.Check(cookie.Value) {
				return apperror.NewUnauthorized("admin authentication required")
			}
			return next(c)
		}
	}
}

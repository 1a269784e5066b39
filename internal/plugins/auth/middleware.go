package auth

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/gatekeeper/internal/apperror"
	"github.com/keyxmakerx/gatekeeper/internal/token"
)

// contextKeyClaims holds the verified session. Other packages read it
// through GetClaims.
const contextKeyClaims = "auth_claims"

// RequireAuth returns middleware that verifies the access cookie and
// injects its claims into the request context. Downstream handlers trust
// the subject; the profile cookie is never consulted here.
func RequireAuth(tokens *token.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := cookieValue(c, AccessCookieName)
			if raw == "" {
				return apperror.NewUnauthorized("authentication required")
			}

			claims, err := tokens.VerifyContext(c.Request().Context(), raw, token.KindAccess)
			if err != nil {
				mapped := unauthorizedFromToken(err)
				if apperror.Is(mapped, apperror.TypeDependency) {
					slog.Error("token denylist unavailable", slog.Any("error", err))
				}
				return mapped
			}

			c.Set(contextKeyClaims, claims)
			return next(c)
		}
	}
}

// --- Exported getter for other plugins ---

// GetClaims returns the verified access token claims, or nil when
// RequireAuth was not applied.
func GetClaims(c echo.Context) *token.Claims {
	claims, ok := c.Get(contextKeyClaims).(*token.Claims)
	if !ok {
		return nil
	}
	return claims
}

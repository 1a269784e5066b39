package auth

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/gatekeeper/internal/token"
)

// Cookie names. All three share cookiePath so clearing always targets the
// cookies that were set.
const (
	AccessCookieName  = "gk_access"
	RefreshCookieName = "gk_refresh"
	ProfileCookieName = "gk_profile"

	cookiePath = "/"
)

// CookiePolicy decides the attributes of the session cookies.
type CookiePolicy struct {
	// Secure forces the Secure attribute (production). Plain-HTTP
	// development still gets Secure when the request arrived over TLS.
	Secure bool

	// ProfileTTL is the snapshot cookie lifetime. It matches the refresh
	// token so the snapshot outlives every access token of the session.
	ProfileTTL time.Duration
}

// NewCookiePolicy returns the policy for the deployment posture.
func NewCookiePolicy(production bool, profileTTL time.Duration) CookiePolicy {
	return CookiePolicy{Secure: production, ProfileTTL: profileTTL}
}

func (p CookiePolicy) secure(c echo.Context) bool {
	return p.Secure || c.IsTLS()
}

// SetSession writes the access and refresh cookies. Each cookie lives
// exactly as long as the token it carries.
func (p CookiePolicy) SetSession(c echo.Context, access, refresh token.Issued) {
	c.SetCookie(p.tokenCookie(c, AccessCookieName, access))
	c.SetCookie(p.tokenCookie(c, RefreshCookieName, refresh))
}

func (p CookiePolicy) tokenCookie(c echo.Context, name string, issued token.Issued) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    issued.Token,
		Path:     cookiePath,
		MaxAge:   int(issued.TTL / time.Second),
		Expires:  issued.ExpiresAt,
		HttpOnly: true,
		Secure:   p.secure(c),
		SameSite: http.SameSiteLaxMode,
	}
}

// SetProfile writes the client-readable snapshot cookie. It is not
// HttpOnly so the UI can render the user's name without a round trip.
func (p CookiePolicy) SetProfile(c echo.Context, snap ProfileSnapshot) error {
	value, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     ProfileCookieName,
		Value:    value,
		Path:     cookiePath,
		MaxAge:   int(p.ProfileTTL / time.Second),
		Secure:   p.secure(c),
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires all three cookies.
func (p CookiePolicy) Clear(c echo.Context) {
	for _, name := range []string{AccessCookieName, RefreshCookieName, ProfileCookieName} {
		c.SetCookie(&http.Cookie{
			Name:     name,
			Value:    "",
			Path:     cookiePath,
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: name != ProfileCookieName,
			Secure:   p.secure(c),
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// ReadProfile decodes the snapshot cookie. A missing or garbled cookie
// returns nil; the snapshot is a cache and is simply rewritten.
func ReadProfile(c echo.Context) *ProfileSnapshot {
	cookie, err := c.Cookie(ProfileCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	snap, err := decodeSnapshot(cookie.Value)
	if err != nil {
		return nil
	}
	return snap
}

// cookieValue returns the named cookie's value or "".
func cookieValue(c echo.Context, name string) string {
	cookie, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// encodeSnapshot renders the snapshot as URL-encoded JSON, which keeps it
// inside the cookie-octet character set.
func encodeSnapshot(snap ProfileSnapshot) (string, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	return url.QueryEscape(string(raw)), nil
}

func decodeSnapshot(value string) (*ProfileSnapshot, error) {
	raw, err := url.QueryUnescape(value)
	if err != nil {
		return nil, err
	}
	var snap ProfileSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

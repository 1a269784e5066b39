package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/gatekeeper/internal/apperror"
	"github.com/keyxmakerx/gatekeeper/internal/ratelimit"
)

type handlerFixture struct {
	*authFixture
	handler *Handler
	otps    *memOTPRepo
	mail    *mockMailSender
	echo    *echo.Echo
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := newAuthFixture(t)
	otps := newMemOTPRepo()
	otp := NewOTPService(otps, f.repo, f.hasher, OTPConfig{TTL: 10 * time.Minute, MaxAttempts: 8}, nil)
	mail := &mockMailSender{}
	reg := NewRegistrationService(f.repo, otp, f.hasher, mail, time.Second, nil)
	h := NewHandler(f.service, reg, otp, NewCookiePolicy(false, 7*24*time.Hour))

	e := echo.New()
	// Mirrors the application error handler closely enough for status checks.
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			_ = c.JSON(appErr.Code, map[string]string{"type": appErr.Type})
			return
		}
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			_ = c.NoContent(httpErr.Code)
			return
		}
		_ = c.NoContent(http.StatusInternalServerError)
	}

	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.DefaultRules(), nil)
	RegisterRoutes(e, h, f.tokens, limiter)

	return &handlerFixture{authFixture: f, handler: h, otps: otps, mail: mail, echo: e}
}

func (f *handlerFixture) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func (f *handlerFixture) login(t *testing.T) map[string]*http.Cookie {
	t.Helper()
	rec := f.do(http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"`+testPassword+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d body=%s", rec.Code, rec.Body.String())
	}
	return responseCookies(rec)
}

func TestHandler_RegisterVerifyLogin(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(http.MethodPost, "/api/auth/register",
		`{"name":"Alice","email":"alice@example.com","confirm_email":"alice@example.com","password":"`+testPassword+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d body=%s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("register response must not carry password material")
	}

	// Login before verification is refused.
	rec = f.do(http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"`+testPassword+`"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("login before verify status = %d, want 403", rec.Code)
	}

	code := codeFromMail(t, f.mail.lastBody)
	rec = f.do(http.MethodPost, "/api/auth/otp/verify", `{"email":"alice@example.com","code":"`+code+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d body=%s", rec.Code, rec.Body.String())
	}

	cookies := f.login(t)
	for _, name := range []string{AccessCookieName, RefreshCookieName, ProfileCookieName} {
		if cookies[name] == nil || cookies[name].Value == "" {
			t.Errorf("expected cookie %s after login", name)
		}
	}
}

func TestHandler_VerifyOTPRequiresFields(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.do(http.MethodPost, "/api/auth/otp/verify", `{"email":"alice@example.com"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestHandler_ResendIsUniform(t *testing.T) {
	f := newHandlerFixture(t)
	seedUser(t, f.users, f.hasher, "verified@example.com", true)

	unknown := f.do(http.MethodPost, "/api/auth/otp/resend", `{"email":"nobody@example.com"}`)
	verified := f.do(http.MethodPost, "/api/auth/otp/resend", `{"email":"verified@example.com"}`)
	if unknown.Code != http.StatusAccepted || verified.Code != http.StatusAccepted {
		t.Errorf("status unknown=%d verified=%d, want 202 for both", unknown.Code, verified.Code)
	}
	if unknown.Body.String() != verified.Body.String() {
		t.Error("resend responses must not differ between unknown and verified emails")
	}
}

func TestHandler_SessionRequiresAuth(t *testing.T) {
	f := newHandlerFixture(t)

	if rec := f.do(http.MethodGet, "/api/auth/session", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no cookie: status = %d, want 401", rec.Code)
	}

	forged := &http.Cookie{Name: AccessCookieName, Value: "eyJhbGciOiJub25lIn0.e30."}
	if rec := f.do(http.MethodGet, "/api/auth/session", "", forged); rec.Code != http.StatusUnauthorized {
		t.Errorf("forged cookie: status = %d, want 401", rec.Code)
	}

	// A profile cookie alone never authenticates.
	profileOnly := &http.Cookie{Name: ProfileCookieName, Value: "%7B%22id%22%3A%22u1%22%7D"}
	if rec := f.do(http.MethodGet, "/api/auth/session", "", profileOnly); rec.Code != http.StatusUnauthorized {
		t.Errorf("profile cookie only: status = %d, want 401", rec.Code)
	}
}

func TestHandler_SessionRewritesStaleSnapshot(t *testing.T) {
	f := newHandlerFixture(t)
	user := seedUser(t, f.users, f.hasher, "alice@example.com", true)
	cookies := f.login(t)

	// Login snapshot has no profile yet, so it is stale.
	rec := f.do(http.MethodGet, "/api/auth/session", "", cookies[AccessCookieName], cookies[ProfileCookieName])
	if rec.Code != http.StatusOK {
		t.Fatalf("session status = %d", rec.Code)
	}
	if responseCookies(rec)[ProfileCookieName] == nil {
		t.Error("expected a stale snapshot to be rewritten")
	}

	user.Profile = json.RawMessage(`{"team":"blue"}`)
	var fresh *http.Cookie
	{
		c, out := newCookieContext()
		_ = NewCookiePolicy(false, time.Hour).SetProfile(c, user.Snapshot())
		fresh = responseCookies(out)[ProfileCookieName]
	}
	rec = f.do(http.MethodGet, "/api/auth/session", "", cookies[AccessCookieName], fresh)
	if rec.Code != http.StatusOK {
		t.Fatalf("session status = %d", rec.Code)
	}
	if responseCookies(rec)[ProfileCookieName] != nil {
		t.Error("a fresh snapshot should be left alone")
	}
}

func TestHandler_UpdateProfile(t *testing.T) {
	f := newHandlerFixture(t)
	seedUser(t, f.users, f.hasher, "alice@example.com", true)
	cookies := f.login(t)

	rec := f.do(http.MethodPut, "/api/auth/profile", `{"profile":{"team":"red"}}`, cookies[AccessCookieName])
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	snapCookie := responseCookies(rec)[ProfileCookieName]
	if snapCookie == nil {
		t.Fatal("expected the snapshot cookie to be refreshed")
	}
	snap, err := decodeSnapshot(snapCookie.Value)
	if err != nil || string(snap.Profile) != `{"team":"red"}` {
		t.Errorf("snapshot = %+v, err %v", snap, err)
	}

	rec = f.do(http.MethodPut, "/api/auth/profile", `{"profile":[1]}`, cookies[AccessCookieName])
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("array profile status = %d, want 422", rec.Code)
	}
}

func TestHandler_Refresh(t *testing.T) {
	f := newHandlerFixture(t)
	seedUser(t, f.users, f.hasher, "alice@example.com", true)
	cookies := f.login(t)

	rec := f.do(http.MethodPost, "/api/auth/refresh", "", cookies[RefreshCookieName])
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	rotated := responseCookies(rec)
	if rotated[AccessCookieName] == nil {
		t.Error("expected a new access cookie")
	}
	refresh := rotated[RefreshCookieName]
	if refresh == nil {
		t.Fatal("expected a new refresh cookie")
	}
	if refresh.Value == cookies[RefreshCookieName].Value {
		t.Error("expected the refresh token to be rotated")
	}
	if refresh.MaxAge <= 0 || !refresh.HttpOnly {
		t.Errorf("unexpected refresh cookie attributes: %+v", refresh)
	}

	rec = f.do(http.MethodPost, "/api/auth/refresh", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no cookie status = %d, want 401", rec.Code)
	}

	bad := &http.Cookie{Name: RefreshCookieName, Value: cookies[AccessCookieName].Value}
	rec = f.do(http.MethodPost, "/api/auth/refresh", "", bad)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("access-as-refresh status = %d, want 401", rec.Code)
	}
	if c := responseCookies(rec)[RefreshCookieName]; c == nil || c.MaxAge >= 0 {
		t.Error("expected cookies to be cleared after a rejected refresh")
	}
}

func TestHandler_Logout(t *testing.T) {
	f := newHandlerFixture(t)
	seedUser(t, f.users, f.hasher, "alice@example.com", true)
	cookies := f.login(t)

	rec := f.do(http.MethodPost, "/api/auth/logout", "", cookies[AccessCookieName], cookies[RefreshCookieName])
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	cleared := responseCookies(rec)
	for _, name := range []string{AccessCookieName, RefreshCookieName, ProfileCookieName} {
		if c := cleared[name]; c == nil || c.MaxAge >= 0 {
			t.Errorf("expected %s to be cleared", name)
		}
	}
}

func TestHandler_LoginRateLimited(t *testing.T) {
	f := newHandlerFixture(t)
	rule := ratelimit.DefaultRules()[ActionLogin]

	var rec *httptest.ResponseRecorder
	for i := 0; i <= rule.Max; i++ {
		rec = f.do(http.MethodPost, "/api/auth/login", `{"email":"x@example.com","password":"nope"}`)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status after %d attempts = %d, want 429", rule.Max+1, rec.Code)
	}
}

func TestHandler_DirectCallWithoutMiddleware(t *testing.T) {
	f := newHandlerFixture(t)
	c, _ := newCookieContext()
	err := f.handler.Session(c)
	if !apperror.Is(err, apperror.TypeInternal) {
		t.Errorf("expected missing-context internal error, got %v", err)
	}
}

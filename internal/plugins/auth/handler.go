package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/gatekeeper/internal/apperror"
)

// Handler serves the JSON auth API. Handlers are thin: they bind the
// request, call a service, and write cookies and the response.
type Handler struct {
	service      AuthService
	registration *RegistrationService
	otp          *OTPService
	cookies      CookiePolicy
}

// NewHandler creates a new auth handler.
func NewHandler(service AuthService, registration *RegistrationService, otp *OTPService, cookies CookiePolicy) *Handler {
	return &Handler{
		service:      service,
		registration: registration,
		otp:          otp,
		cookies:      cookies,
	}
}

// Register creates an account and emails a code (POST /api/auth/register).
func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	user, err := h.registration.Register(c.Request().Context(), RegisterInput{
		Name:         req.Name,
		Email:        req.Email,
		ConfirmEmail: req.ConfirmEmail,
		Password:     req.Password,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"user":    user,
		"message": "Check your email for a verification code.",
	})
}

// VerifyOTP confirms an email with a code (POST /api/auth/otp/verify).
func (h *Handler) VerifyOTP(c echo.Context) error {
	var req VerifyOTPRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if req.Email == "" || req.Code == "" {
		return apperror.NewValidation("email and code are required")
	}

	if err := h.otp.Verify(c.Request().Context(), req.Email, req.Code); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"verified": true})
}

// ResendOTP mails a fresh code (POST /api/auth/otp/resend). The response
// is identical whether or not the account exists.
func (h *Handler) ResendOTP(c echo.Context) error {
	var req ResendOTPRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if req.Email == "" {
		return apperror.NewValidation("email is required")
	}

	if err := h.registration.Resend(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"message": "If an unverified account exists for this email, a new code has been sent.",
	})
}

// Login authenticates and sets the session cookies (POST /api/auth/login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	session, err := h.service.Login(c.Request().Context(), LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}

	h.cookies.SetSession(c, session.Access, session.Refresh)
	if err := h.cookies.SetProfile(c, session.User.Snapshot()); err != nil {
		return apperror.NewInternal(err)
	}

	return c.JSON(http.StatusOK, SessionResponse{User: session.User, ExpiresAt: session.Access.ExpiresAt})
}

// Refresh rotates both token cookies using the refresh cookie
// (POST /api/auth/refresh).
func (h *Handler) Refresh(c echo.Context) error {
	raw := cookieValue(c, RefreshCookieName)
	if raw == "" {
		return apperror.NewUnauthorized("authentication required")
	}

	session, err := h.service.Refresh(c.Request().Context(), raw)
	if err != nil {
		if apperror.Is(err, apperror.TypeUnauthorized) {
			h.cookies.Clear(c)
		}
		return err
	}

	h.cookies.SetSession(c, session.Access, session.Refresh)
	return c.JSON(http.StatusOK, SessionResponse{User: session.User, ExpiresAt: session.Access.ExpiresAt})
}

// Logout clears the cookies and revokes the presented tokens when a
// denylist is configured (POST /api/auth/logout).
func (h *Handler) Logout(c echo.Context) error {
	h.service.Logout(c.Request().Context(),
		cookieValue(c, AccessCookieName),
		cookieValue(c, RefreshCookieName),
	)
	h.cookies.Clear(c)
	return c.NoContent(http.StatusNoContent)
}

// Session returns the current user and rewrites the profile cookie when
// it is stale (GET /api/auth/session). Requires RequireAuth.
func (h *Handler) Session(c echo.Context) error {
	claims := GetClaims(c)
	if claims == nil {
		return apperror.NewMissingContext()
	}

	user, err := h.service.CurrentUser(c.Request().Context(), claims.SubjectID())
	if err != nil {
		return err
	}

	if ReadProfile(c).Stale(user) {
		if err := h.cookies.SetProfile(c, user.Snapshot()); err != nil {
			return apperror.NewInternal(err)
		}
	}

	return c.JSON(http.StatusOK, SessionResponse{User: user, ExpiresAt: claims.ExpiresAt.Time})
}

// UpdateProfile stores the onboarding profile and refreshes the snapshot
// cookie (PUT /api/auth/profile). Requires RequireAuth.
func (h *Handler) UpdateProfile(c echo.Context) error {
	claims := GetClaims(c)
	if claims == nil {
		return apperror.NewMissingContext()
	}

	var req UpdateProfileRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	user, err := h.service.UpdateProfile(c.Request().Context(), claims.SubjectID(), req.Profile)
	if err != nil {
		return err
	}

	if err := h.cookies.SetProfile(c, user.Snapshot()); err != nil {
		return apperror.NewInternal(err)
	}
	return c.JSON(http.StatusOK, SessionResponse{User: user, ExpiresAt: claims.ExpiresAt.Time})
}

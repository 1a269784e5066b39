package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/keyxmakerx/gatekeeper/internal/apperror"
	"github.com/keyxmakerx/gatekeeper/internal/metrics"
	"github.com/keyxmakerx/gatekeeper/internal/sanitize"
	"github.com/keyxmakerx/gatekeeper/internal/secret"
	"github.com/keyxmakerx/gatekeeper/internal/token"
)

// maxProfileBytes bounds the onboarding profile document, which is also
// copied into the snapshot cookie.
const maxProfileBytes = 2048

// Login outcomes, used as metric labels.
const (
	loginOutcomeSuccess     = "success"
	loginOutcomeInvalid     = "invalid_credentials"
	loginOutcomeUnconfirmed = "email_not_verified"
	loginOutcomeError       = "error"
)

// Session is the result of a successful login or refresh.
type Session struct {
	User    *User
	Access  token.Issued
	Refresh token.Issued
}

// AuthService defines the session business logic. Handlers call these
// methods -- they never touch the repository directly.
type AuthService interface {
	Login(ctx context.Context, input LoginInput) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	CurrentUser(ctx context.Context, userID string) (*User, error)
	UpdateProfile(ctx context.Context, userID string, profile json.RawMessage) (*User, error)
	Logout(ctx context.Context, accessToken, refreshToken string)
}

// authService implements AuthService on signed tokens; no session state
// is kept server-side.
type authService struct {
	repo         UserRepository
	tokens       *token.Service
	hasher       *secret.Hasher
	metrics      metrics.Recorder
	storeTimeout time.Duration

	// dummyHash is verified against when the email is unknown so both
	// failure paths cost one argon2 derivation.
	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService creates a new auth service with the given dependencies.
func NewAuthService(repo UserRepository, tokens *token.Service, hasher *secret.Hasher, storeTimeout time.Duration, rec metrics.Recorder) AuthService {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &authService{
		repo:         repo,
		tokens:       tokens,
		hasher:       hasher,
		metrics:      rec,
		storeTimeout: storeTimeout,
	}
}

func (s *authService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Login authenticates by email and password and issues both tokens.
func (s *authService) Login(ctx context.Context, input LoginInput) (*Session, error) {
	session, outcome, err := s.login(ctx, input)
	s.metrics.RecordLogin(outcome)
	return session, err
}

func (s *authService) login(ctx context.Context, input LoginInput) (*Session, string, error) {
	email := secret.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, loginOutcomeInvalid, errInvalidCredentials()
	}

	lookupCtx, cancel := s.storeCtx(ctx)
	user, err := s.repo.FindByEmail(lookupCtx, email)
	cancel()
	if apperror.Is(err, apperror.TypeNotFound) {
		s.burnPasswordCheck(input.Password)
		return nil, loginOutcomeInvalid, errInvalidCredentials()
	}
	if err != nil {
		return nil, loginOutcomeError, apperror.NewDependency(fmt.Errorf("finding user: %w", err))
	}

	if !s.hasher.VerifyPassword(input.Password, user.PasswordHash) {
		slog.Warn("failed login", slog.String("email", email))
		return nil, loginOutcomeInvalid, errInvalidCredentials()
	}

	// The password was proven, so revealing the unverified state leaks nothing.
	if !user.EmailConfirmed {
		return nil, loginOutcomeUnconfirmed, errEmailNotVerified()
	}

	session, err := s.issue(user)
	if err != nil {
		return nil, loginOutcomeError, err
	}

	updateCtx, cancel := s.storeCtx(ctx)
	if err := s.repo.UpdateLastLogin(updateCtx, user.ID); err != nil {
		slog.Warn("failed to update last login",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}
	cancel()

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return session, loginOutcomeSuccess, nil
}

// Refresh exchanges a valid refresh token for a new access and refresh
// token pair. With a denylist configured the presented refresh token is
// revoked so it cannot be replayed.
func (s *authService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := s.tokens.VerifyContext(ctx, refreshToken, token.KindRefresh)
	if err != nil {
		return nil, unauthorizedFromToken(err)
	}

	user, err := s.CurrentUser(ctx, claims.SubjectID())
	if err != nil {
		return nil, err
	}

	session, err := s.issue(user)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.Revoke(ctx, claims); err != nil {
		slog.Warn("failed to revoke rotated refresh token",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}
	return session, nil
}

// CurrentUser loads the identity behind a verified token. A subject that
// no longer exists is treated as unauthenticated.
func (s *authService) CurrentUser(ctx context.Context, userID string) (*User, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	user, err := s.repo.FindByID(ctx, userID)
	if apperror.Is(err, apperror.TypeNotFound) {
		return nil, apperror.NewUnauthorized("authentication required")
	}
	if err != nil {
		return nil, apperror.NewDependency(fmt.Errorf("finding user: %w", err))
	}
	return user, nil
}

// UpdateProfile replaces the onboarding profile. The document must be a
// JSON object.
func (s *authService) UpdateProfile(ctx context.Context, userID string, profile json.RawMessage) (*User, error) {
	profile = bytes.TrimSpace(profile)
	if len(profile) == 0 || profile[0] != '{' || !json.Valid(profile) {
		return nil, apperror.NewValidation("profile must be a JSON object")
	}
	if len(profile) > maxProfileBytes {
		return nil, apperror.NewValidation(fmt.Sprintf("profile must be at most %d bytes", maxProfileBytes))
	}
	if sanitize.JSONHasMarkup(profile) {
		return nil, apperror.NewValidation("profile must not contain HTML")
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, profile); err != nil {
		return nil, apperror.NewValidation("profile must be a JSON object")
	}

	updateCtx, cancel := s.storeCtx(ctx)
	err := s.repo.UpdateProfile(updateCtx, userID, compact.Bytes())
	cancel()
	if apperror.Is(err, apperror.TypeNotFound) {
		return nil, apperror.NewUnauthorized("authentication required")
	}
	if err != nil {
		return nil, apperror.NewDependency(fmt.Errorf("updating profile: %w", err))
	}

	return s.CurrentUser(ctx, userID)
}

// Logout revokes whichever presented tokens still verify. Without a
// denylist this is a no-op and logout only clears the client's cookies.
func (s *authService) Logout(ctx context.Context, accessToken, refreshToken string) {
	for _, presented := range []struct {
		value string
		kind  token.Kind
	}{
		{accessToken, token.KindAccess},
		{refreshToken, token.KindRefresh},
	} {
		if presented.value == "" {
			continue
		}
		claims, err := s.tokens.Verify(presented.value, presented.kind)
		if err != nil {
			continue
		}
		if err := s.tokens.Revoke(ctx, claims); err != nil {
			slog.Warn("failed to revoke token",
				slog.String("user_id", claims.SubjectID()),
				slog.String("kind", string(presented.kind)),
				slog.Any("error", err),
			)
		}
	}
}

func (s *authService) issue(user *User) (*Session, error) {
	access, err := s.tokens.IssueAccess(user.ID, user.Email)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("issuing access token: %w", err))
	}
	refresh, err := s.tokens.IssueRefresh(user.ID, user.Email)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("issuing refresh token: %w", err))
	}
	return &Session{User: user, Access: access, Refresh: refresh}, nil
}

// burnPasswordCheck spends the same work as a real verification.
func (s *authService) burnPasswordCheck(password string) {
	s.dummyOnce.Do(func() {
		hash, _, err := s.hasher.HashPassword("gatekeeper-timing-equalizer")
		if err == nil {
			s.dummyHash = hash
		}
	})
	if s.dummyHash != "" {
		s.hasher.VerifyPassword(password, s.dummyHash)
	}
}

// unauthorizedFromToken maps token failures to a uniform 401, except a
// denylist outage, which is a dependency failure rather than a bad token.
func unauthorizedFromToken(err error) error {
	switch {
	case errors.Is(err, token.ErrMalformed), errors.Is(err, token.ErrInvalidSignature),
		errors.Is(err, token.ErrExpired), errors.Is(err, token.ErrWrongKind), errors.Is(err, token.ErrRevoked):
		return apperror.NewUnauthorized("authentication required")
	default:
		return apperror.NewDependency(err)
	}
}

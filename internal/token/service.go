// Package token issues and verifies the signed, self-contained session
// tokens carried in the access and refresh cookies. Tokens are HS256 JWTs;
// nothing about a session is stored server-side.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Verification failures. Callers map all of them to 401.
var (
	ErrMalformed        = errors.New("token is malformed")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token has expired")
	ErrWrongKind        = errors.New("token kind mismatch")
	ErrRevoked          = errors.New("token has been revoked")
)

// minSecretLength is the shortest accepted HMAC key.
const minSecretLength = 16

// Claims is the token payload.
type Claims struct {
	Email string `json:"email"`
	Kind  Kind   `json:"kind"`
	jwt.RegisteredClaims
}

// SubjectID returns the identity the token was issued for.
func (c *Claims) SubjectID() string {
	return c.Subject
}

// Issued is a freshly signed token.
type Issued struct {
	Token     string
	ExpiresAt time.Time
	TTL       time.Duration
}

// Config configures a Service.
type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service signs and verifies session tokens.
type Service struct {
	config   Config
	now      func() time.Time
	denylist Denylist
}

// NewService validates cfg and returns a Service.
func NewService(cfg Config) (*Service, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", minSecretLength)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	return &Service{config: cfg, now: time.Now}, nil
}

// WithClock replaces the time source used for iat/exp and for validation.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithDenylist enables revocation checks in VerifyContext and Revoke.
func (s *Service) WithDenylist(d Denylist) *Service {
	s.denylist = d
	return s
}

// RefreshTTL returns the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.config.RefreshTTL }

// IssueAccess signs a short-lived access token.
func (s *Service) IssueAccess(subjectID, email string) (Issued, error) {
	return s.issue(subjectID, email, KindAccess, s.config.AccessTTL)
}

// IssueRefresh signs a long-lived refresh token.
func (s *Service) IssueRefresh(subjectID, email string) (Issued, error) {
	return s.issue(subjectID, email, KindRefresh, s.config.RefreshTTL)
}

func (s *Service) issue(subjectID, email string, kind Kind, ttl time.Duration) (Issued, error) {
	if subjectID == "" || email == "" {
		return Issued{}, errors.New("token subject and email are required")
	}

	now := s.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	claims := Claims{
		Email: email,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.Secret)
	if err != nil {
		return Issued{}, fmt.Errorf("signing %s token: %w", kind, err)
	}
	return Issued{Token: signed, ExpiresAt: expiresAt, TTL: ttl}, nil
}

// Verify checks signature, expiry and kind. It never touches a store.
func (s *Service) Verify(tokenStr string, kind Kind) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrMalformed
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	}
	if s.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.config.Issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return s.config.Secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidSignature
	}

	if claims.Subject == "" || claims.Email == "" || claims.IssuedAt == nil || claims.Kind == "" || claims.ID == "" {
		return nil, ErrMalformed
	}
	if claims.Kind != kind {
		return nil, ErrWrongKind
	}
	return claims, nil
}

// VerifyContext is Verify plus a denylist lookup when one is configured.
func (s *Service) VerifyContext(ctx context.Context, tokenStr string, kind Kind) (*Claims, error) {
	claims, err := s.Verify(tokenStr, kind)
	if err != nil {
		return nil, err
	}
	if s.denylist == nil {
		return claims, nil
	}

	revoked, err := s.denylist.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("checking denylist: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}
	return claims, nil
}

// Revoke denylists a verified token by its jti until it would have expired
// anyway. Other tokens of the same subject are unaffected, even ones issued
// in the same second. It is a no-op without a denylist.
func (s *Service) Revoke(ctx context.Context, claims *Claims) error {
	if s.denylist == nil || claims == nil || claims.ExpiresAt == nil || claims.ID == "" {
		return nil
	}
	remaining := claims.ExpiresAt.Time.Sub(s.now())
	if remaining <= 0 {
		return nil
	}
	return s.denylist.Revoke(ctx, claims.ID, remaining)
}

// classify maps jwt parser errors onto this package's sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		// Missing exp, bad issuer, future iat and the like.
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

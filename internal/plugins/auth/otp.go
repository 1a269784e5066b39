package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/keyxmakerx/gatekeeper/internal/apperror"
	"github.com/keyxmakerx/gatekeeper/internal/metrics"
	"github.com/keyxmakerx/gatekeeper/internal/secret"
)

// OTP verification outcomes, used as metric labels.
const (
	otpOutcomeSuccess         = "success"
	otpOutcomeNotFound        = "not_found"
	otpOutcomeExpired         = "expired"
	otpOutcomeTooManyAttempts = "too_many_attempts"
	otpOutcomeMismatch        = "mismatch"
	otpOutcomeError           = "error"
)

// OTPConfig tunes the code lifecycle.
type OTPConfig struct {
	TTL          time.Duration
	MaxAttempts  int
	StoreTimeout time.Duration
}

// OTPService runs the per-email code lifecycle:
// NONE -> ISSUED -> VERIFIED | EXPIRED | EXHAUSTED.
type OTPService struct {
	otps     OTPRepository
	users    UserRepository
	hasher   *secret.Hasher
	cfg      OTPConfig
	metrics  metrics.Recorder
	now      func() time.Time
	generate func() (string, error)
}

// NewOTPService creates the OTP engine.
func NewOTPService(otps OTPRepository, users UserRepository, hasher *secret.Hasher, cfg OTPConfig, rec metrics.Recorder) *OTPService {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &OTPService{
		otps:     otps,
		users:    users,
		hasher:   hasher,
		cfg:      cfg,
		metrics:  rec,
		now:      time.Now,
		generate: secret.GenerateCode,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *OTPService) WithClock(now func() time.Time) *OTPService {
	s.now = now
	return s
}

func (s *OTPService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

// Issue generates a fresh code for email, replacing any outstanding one,
// and returns the plaintext for delivery. The plaintext is never stored.
func (s *OTPService) Issue(ctx context.Context, email, subjectID string) (string, error) {
	email = secret.NormalizeEmail(email)

	code, err := s.generate()
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}

	rec := &OTPRecord{
		Email:     email,
		SubjectID: subjectID,
		CodeHash:  s.hasher.HashCode(email, code),
		ExpiresAt: s.now().Add(s.cfg.TTL).UTC(),
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := s.otps.Upsert(ctx, rec); err != nil {
		return "", fmt.Errorf("storing code: %w", err)
	}
	return code, nil
}

// Resend issues a new code for an existing identity. When the email is
// already verified nothing is issued and alreadyVerified is true.
func (s *OTPService) Resend(ctx context.Context, email string) (code string, user *User, alreadyVerified bool, err error) {
	email = secret.NormalizeEmail(email)

	lookupCtx, cancel := s.storeCtx(ctx)
	user, err = s.users.FindByEmail(lookupCtx, email)
	cancel()
	if apperror.Is(err, apperror.TypeNotFound) {
		return "", nil, false, apperror.NewNotFound("no account for this email")
	}
	if err != nil {
		return "", nil, false, apperror.NewDependency(fmt.Errorf("finding user: %w", err))
	}
	if user.EmailConfirmed {
		return "", user, true, nil
	}

	code, err = s.Issue(ctx, email, user.ID)
	if err != nil {
		return "", nil, false, apperror.NewDependency(err)
	}
	return code, user, false, nil
}

// Verify checks code against the outstanding record for email. On success
// the record is consumed and the identity's email marked confirmed.
func (s *OTPService) Verify(ctx context.Context, email, code string) error {
	err := s.verify(ctx, secret.NormalizeEmail(email), code)
	s.metrics.RecordOTPVerification(otpOutcome(err))
	return err
}

func (s *OTPService) verify(ctx context.Context, email, code string) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	rec, err := s.otps.Find(ctx, email)
	if apperror.Is(err, apperror.TypeNotFound) {
		return errOTPNotFound()
	}
	if err != nil {
		return apperror.NewDependency(fmt.Errorf("loading code: %w", err))
	}

	if s.now().After(rec.ExpiresAt) {
		s.discard(ctx, email, "expired")
		return errOTPExpired()
	}

	if rec.Attempts >= s.cfg.MaxAttempts {
		s.discard(ctx, email, "attempt ceiling")
		return errOTPTooManyAttempts()
	}

	if !s.hasher.CodeMatches(email, code, rec.CodeHash) {
		attempts, err := s.otps.IncrementAttempts(ctx, email)
		if apperror.Is(err, apperror.TypeNotFound) {
			// Consumed or replaced concurrently.
			return errOTPNotFound()
		}
		if err != nil {
			return apperror.NewDependency(fmt.Errorf("recording attempt: %w", err))
		}
		if attempts >= s.cfg.MaxAttempts {
			s.discard(ctx, email, "attempt ceiling")
			slog.Warn("otp locked after too many attempts", slog.String("email", email))
			return errOTPTooManyAttempts()
		}
		return errOTPMismatch()
	}

	if err := s.otps.Delete(ctx, email); err != nil {
		return apperror.NewDependency(fmt.Errorf("consuming code: %w", err))
	}
	if err := s.users.SetEmailConfirmed(ctx, rec.SubjectID); err != nil {
		return apperror.NewDependency(fmt.Errorf("confirming email: %w", err))
	}

	slog.Info("email verified", slog.String("user_id", rec.SubjectID), slog.String("email", email))
	return nil
}

// Discard deletes the outstanding record for email, if any.
func (s *OTPService) Discard(ctx context.Context, email string) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.otps.Delete(ctx, secret.NormalizeEmail(email))
}

// discard deletes a dead record; failure is logged and otherwise ignored
// since the record is unusable either way.
func (s *OTPService) discard(ctx context.Context, email, reason string) {
	if err := s.otps.Delete(ctx, email); err != nil {
		slog.Error("failed to delete otp record",
			slog.String("email", email),
			slog.String("reason", reason),
			slog.Any("error", err),
		)
	}
}

func otpOutcome(err error) string {
	switch {
	case err == nil:
		return otpOutcomeSuccess
	case apperror.Is(err, apperror.TypeOTPNotFound):
		return otpOutcomeNotFound
	case apperror.Is(err, apperror.TypeOTPExpired):
		return otpOutcomeExpired
	case apperror.Is(err, apperror.TypeOTPTooManyAttempts):
		return otpOutcomeTooManyAttempts
	case apperror.Is(err, apperror.TypeOTPMismatch):
		return otpOutcomeMismatch
	default:
		return otpOutcomeError
	}
}

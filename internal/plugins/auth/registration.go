package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keyxmakerx/gatekeeper/internal/apperror"
	"github.com/keyxmakerx/gatekeeper/internal/metrics"
	"github.com/keyxmakerx/gatekeeper/internal/sanitize"
	"github.com/keyxmakerx/gatekeeper/internal/secret"
)

// maxNameLength matches the users.name column.
const maxNameLength = 100

// Registration outcomes, used as metric labels.
const (
	regOutcomeSuccess = "success"
	regOutcomeInvalid = "invalid"
	regOutcomeError   = "error"
)

// MailSender delivers verification codes. smtp.MailService satisfies it.
type MailSender interface {
	SendMail(ctx context.Context, to []string, subject, body string) error
}

// RegistrationService runs signup end to end: validation, identity
// creation, code issuance and delivery, with compensating deletes when a
// later step fails. No transaction spans the identity store, the OTP
// store and the mail relay.
type RegistrationService struct {
	users        UserRepository
	otp          *OTPService
	hasher       *secret.Hasher
	mail         MailSender
	metrics      metrics.Recorder
	storeTimeout time.Duration
	codeTTL      time.Duration
	now          func() time.Time
}

// NewRegistrationService creates the orchestrator.
func NewRegistrationService(users UserRepository, otp *OTPService, hasher *secret.Hasher, mail MailSender, storeTimeout time.Duration, rec metrics.Recorder) *RegistrationService {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &RegistrationService{
		users:        users,
		otp:          otp,
		hasher:       hasher,
		mail:         mail,
		metrics:      rec,
		storeTimeout: storeTimeout,
		codeTTL:      otp.cfg.TTL,
		now:          time.Now,
	}
}

func (s *RegistrationService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Register creates an unconfirmed identity and emails it a code.
func (s *RegistrationService) Register(ctx context.Context, input RegisterInput) (*User, error) {
	user, err := s.register(ctx, input)
	s.metrics.RecordRegistration(registrationOutcome(err))
	return user, err
}

func (s *RegistrationService) register(ctx context.Context, input RegisterInput) (*User, error) {
	name := strings.TrimSpace(input.Name)
	email := secret.NormalizeEmail(input.Email)

	if err := validateRegistration(name, input); err != nil {
		return nil, err
	}

	lookupCtx, cancel := s.storeCtx(ctx)
	_, err := s.users.FindByEmail(lookupCtx, email)
	cancel()
	if err == nil {
		return nil, errDuplicateEmail()
	}
	if !apperror.Is(err, apperror.TypeNotFound) {
		return nil, apperror.NewDependency(fmt.Errorf("checking email: %w", err))
	}

	hash, salt, err := s.hasher.HashPassword(input.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	user := &User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		Role:         RoleUser,
		PasswordHash: hash,
		PasswordSalt: salt,
		CreatedAt:    s.now().UTC(),
	}

	createCtx, cancel := s.storeCtx(ctx)
	err = s.users.Create(createCtx, user)
	cancel()
	if apperror.Is(err, apperror.TypeDuplicateEmail) {
		return nil, errDuplicateEmail()
	}
	if err != nil {
		return nil, apperror.NewDependency(fmt.Errorf("creating user: %w", err))
	}

	code, err := s.otp.Issue(ctx, email, user.ID)
	if err != nil {
		s.rollbackIdentity(ctx, user)
		return nil, errOTPPersistenceFailed(err)
	}

	if err := s.sendCode(ctx, user, code); err != nil {
		// The account stays; resend is the way forward.
		if derr := s.otp.Discard(context.WithoutCancel(ctx), email); derr != nil {
			slog.Error("failed to delete otp after mail failure",
				slog.String("user_id", user.ID),
				slog.Any("error", derr),
			)
		}
		return nil, errMailDeliveryFailed(err)
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return user, nil
}

// Resend issues and mails a fresh code. Unknown and already verified
// emails both succeed silently so the endpoint cannot be used to probe
// for accounts.
func (s *RegistrationService) Resend(ctx context.Context, email string) error {
	code, user, alreadyVerified, err := s.otp.Resend(ctx, email)
	if apperror.Is(err, apperror.TypeNotFound) || alreadyVerified {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.sendCode(ctx, user, code); err != nil {
		if derr := s.otp.Discard(context.WithoutCancel(ctx), user.Email); derr != nil {
			slog.Error("failed to delete otp after mail failure",
				slog.String("user_id", user.ID),
				slog.Any("error", derr),
			)
		}
		return errMailDeliveryFailed(err)
	}
	return nil
}

// rollbackIdentity deletes a just-created identity. It runs even if the
// client went away, and its own failure never replaces the original error.
func (s *RegistrationService) rollbackIdentity(ctx context.Context, user *User) {
	ctx, cancel := s.storeCtx(context.WithoutCancel(ctx))
	defer cancel()

	if err := s.users.Delete(ctx, user.ID); err != nil {
		slog.Error("registration rollback failed",
			slog.String("user_id", user.ID),
			slog.String("email", user.Email),
			slog.Any("error", err),
		)
		return
	}
	slog.Warn("registration rolled back", slog.String("user_id", user.ID))
}

func (s *RegistrationService) sendCode(ctx context.Context, user *User, code string) error {
	subject, body := verificationMail(user.Name, code, s.codeTTL)
	return s.mail.SendMail(ctx, []string{user.Email}, subject, body)
}

// verificationMail renders the code email.
func verificationMail(name, code string, ttl time.Duration) (subject, body string) {
	subject = "Your verification code"
	body = fmt.Sprintf("Hi %s,\n\nYour verification code is %s.\nIt expires in %d minutes. If you did not sign up, ignore this email.\n",
		name, code, int(ttl/time.Minute))
	return subject, body
}

// validateRegistration applies the input checks in order and stops at the
// first failure.
func validateRegistration(name string, input RegisterInput) error {
	if name == "" {
		return apperror.NewValidation("name is required")
	}
	if len([]rune(name)) > maxNameLength {
		return apperror.NewValidation(fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	if sanitize.HasMarkup(name) {
		return apperror.NewValidation("name must not contain HTML")
	}
	if err := secret.ValidateEmail(input.Email); err != nil {
		return apperror.NewValidation("email address is invalid")
	}
	if secret.NormalizeEmail(input.ConfirmEmail) != secret.NormalizeEmail(input.Email) {
		return apperror.NewValidation("email confirmation does not match")
	}
	if secret.IsDisposableEmail(input.Email) {
		return errDisposableEmail()
	}
	if err := secret.CheckPassword(input.Password); err != nil {
		var policyErr *secret.PolicyError
		if errors.As(err, &policyErr) {
			return errWeakPassword(policyErr.Reason)
		}
		return errWeakPassword("does not meet the password policy")
	}
	return nil
}

func registrationOutcome(err error) string {
	if err == nil {
		return regOutcomeSuccess
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		switch appErr.Type {
		case apperror.TypeValidation:
			return regOutcomeInvalid
		case apperror.TypeDuplicateEmail, apperror.TypeDisposableEmail, apperror.TypeWeakPassword,
			apperror.TypeOTPPersistenceFailed, apperror.TypeMailDeliveryFailed:
			return appErr.Type
		}
	}
	return regOutcomeError
}

// Package apperror provides domain-specific error types for Gatekeeper.
// These errors carry an HTTP status code and a user-safe message. The Echo
// error handler maps them to appropriate HTTP responses automatically.
//
// NEVER return raw database or infrastructure errors to the client. Always
// wrap them in an apperror type or return a generic internal error.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Machine-readable error types. Clients switch on these, so they are part
// of the public API.
const (
	TypeNotFound             = "not_found"
	TypeBadRequest           = "bad_request"
	TypeUnauthorized         = "unauthorized"
	TypeForbidden            = "forbidden"
	TypeConflict             = "conflict"
	TypeValidation           = "validation_error"
	TypeInternal             = "internal_error"
	TypeRateLimited          = "rate_limited"
	TypeDependency           = "dependency_error"
	TypeEmailNotVerified     = "email_not_verified"
	TypeDuplicateEmail       = "duplicate_email"
	TypeWeakPassword         = "weak_password"
	TypeDisposableEmail      = "disposable_email"
	TypeOTPPersistenceFailed = "otp_persistence_failed"
	TypeMailDeliveryFailed   = "mail_delivery_failed"
	TypeOTPNotFound          = "otp_not_found"
	TypeOTPExpired           = "otp_expired"
	TypeOTPTooManyAttempts   = "otp_too_many_attempts"
	TypeOTPMismatch          = "otp_mismatch"
)

// AppError is the base error type for all domain errors. It carries an
// HTTP status code, a machine-readable error type, and a human-readable
// message safe to show to the client.
type AppError struct {
	// Code is the HTTP status code (e.g., 404, 400, 500).
	Code int `json:"-"`

	// Type is a machine-readable error classifier (e.g., "not_found").
	Type string `json:"type"`

	// Message is a human-readable description safe for the client.
	Message string `json:"message"`

	// Internal holds the underlying error for logging. Never exposed to client.
	Internal error `json:"-"`

	// RetryAfter is set on rate-limit style errors and becomes the
	// Retry-After response header.
	RetryAfter time.Duration `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Type, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Internal
}

// Is reports whether err is an AppError of the given type.
func Is(err error, errType string) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Type == errType
}

// --- Constructors for common error types ---

// NewNotFound creates a 404 Not Found error.
func NewNotFound(message string) *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Type:    TypeNotFound,
		Message: message,
	}
}

// NewBadRequest creates a 400 Bad Request error.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Type:    TypeBadRequest,
		Message: message,
	}
}

// NewUnauthorized creates a 401 Unauthorized error. Authentication failures
// must use a uniform message so callers can't tell which check failed.
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeUnauthorized,
		Message: message,
	}
}

// NewForbidden creates a 403 Forbidden error.
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    TypeForbidden,
		Message: message,
	}
}

// NewConflict creates a 409 Conflict error.
func NewConflict(message string) *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Type:    TypeConflict,
		Message: message,
	}
}

// NewValidation creates a 422 Unprocessable Entity error for validation failures.
func NewValidation(message string) *AppError {
	return &AppError{
		Code:    http.StatusUnprocessableEntity,
		Type:    TypeValidation,
		Message: message,
	}
}

// NewRateLimited creates a 429 error. retryAfter is surfaced to the client
// as a Retry-After header.
func NewRateLimited(retryAfter time.Duration) *AppError {
	return &AppError{
		Code:       http.StatusTooManyRequests,
		Type:       TypeRateLimited,
		Message:    "Too many requests. Please try again later.",
		RetryAfter: retryAfter,
	}
}

// NewDependency creates a 503 error for an unavailable collaborator
// (identity store, mail sender, Redis). The cause is kept for logging only.
func NewDependency(err error) *AppError {
	return &AppError{
		Code:     http.StatusServiceUnavailable,
		Type:     TypeDependency,
		Message:  "The service is temporarily unavailable. Please try again later.",
		Internal: err,
	}
}

// New creates an AppError with an explicit code and type. Used by plugins
// for their own domain failures (OTP, registration).
func New(code int, errType, message string) *AppError {
	return &AppError{
		Code:    code,
		Type:    errType,
		Message: message,
	}
}

// WithInternal attaches a cause to a copy of e for logging.
func (e *AppError) WithInternal(err error) *AppError {
	cp := *e
	cp.Internal = err
	return &cp
}

// errMissingContext is the shared internal error for nil precondition checks.
var errMissingContext = errors.New("missing required context")

// NewMissingContext creates a 500 error for handler nil-context guards
// (e.g. claims not set because middleware wasn't applied).
func NewMissingContext() *AppError {
	return NewInternal(errMissingContext)
}

// NewInternal creates a 500 Internal Server Error. The real error is stored
// in Internal for logging but the client only sees a generic message.
func NewInternal(err error) *AppError {
	return &AppError{
		Code:     http.StatusInternalServerError,
		Type:     TypeInternal,
		Message:  "An unexpected error occurred. Please try again.",
		Internal: err,
	}
}

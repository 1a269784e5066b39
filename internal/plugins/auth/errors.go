package auth

import (
	"net/http"

	"github.com/keyxmakerx/gatekeeper/internal/apperror"
)

// msgInvalidCredentials is shared by every login failure so callers cannot
// tell an unknown email from a wrong password.
const msgInvalidCredentials = "invalid email or password"

func errInvalidCredentials() *apperror.AppError {
	return apperror.NewUnauthorized(msgInvalidCredentials)
}

func errEmailNotVerified() *apperror.AppError {
	return apperror.New(http.StatusForbidden, apperror.TypeEmailNotVerified,
		"Please verify your email address before signing in.")
}

func errOTPNotFound() *apperror.AppError {
	return apperror.New(http.StatusNotFound, apperror.TypeOTPNotFound,
		"No pending verification code. Request a new one.")
}

func errOTPExpired() *apperror.AppError {
	return apperror.New(http.StatusGone, apperror.TypeOTPExpired,
		"The verification code has expired. Request a new one.")
}

func errOTPTooManyAttempts() *apperror.AppError {
	return apperror.New(http.StatusTooManyRequests, apperror.TypeOTPTooManyAttempts,
		"Too many incorrect attempts. Request a new code.")
}

func errOTPMismatch() *apperror.AppError {
	return apperror.New(http.StatusBadRequest, apperror.TypeOTPMismatch,
		"The verification code is incorrect.")
}

func errDuplicateEmail() *apperror.AppError {
	return apperror.New(http.StatusConflict, apperror.TypeDuplicateEmail,
		"An account with this email already exists.")
}

func errWeakPassword(reason string) *apperror.AppError {
	return apperror.New(http.StatusUnprocessableEntity, apperror.TypeWeakPassword,
		"Password "+reason+".")
}

func errDisposableEmail() *apperror.AppError {
	return apperror.New(http.StatusUnprocessableEntity, apperror.TypeDisposableEmail,
		"Disposable email providers are not allowed.")
}

func errOTPPersistenceFailed(cause error) *apperror.AppError {
	return apperror.New(http.StatusServiceUnavailable, apperror.TypeOTPPersistenceFailed,
		"Could not start email verification. Please try again.").WithInternal(cause)
}

func errMailDeliveryFailed(cause error) *apperror.AppError {
	return apperror.New(http.StatusBadGateway, apperror.TypeMailDeliveryFailed,
		"Could not send the verification email. Request a new code.").WithInternal(cause)
}

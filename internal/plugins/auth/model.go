// Package auth handles account registration, email verification by
// one-time code, password login and session cookies for Gatekeeper.
// Sessions are stateless signed tokens (see internal/token); the identity
// store is MariaDB.
package auth

import (
	"encoding/json"
	"time"
)

// Roles stored on an identity.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a stored identity. Password material never leaves the service.
type User struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Role           string          `json:"role"`
	PasswordHash   string          `json:"-"`
	PasswordSalt   string          `json:"-"`
	EmailConfirmed bool            `json:"email_confirmed"`
	Profile        json.RawMessage `json:"profile,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	LastLoginAt    *time.Time      `json:"last_login_at,omitempty"`
}

// Snapshot builds the client-visible profile cache for u.
func (u *User) Snapshot() ProfileSnapshot {
	return ProfileSnapshot{ID: u.ID, Email: u.Email, Name: u.Name, Profile: u.Profile}
}

// ProfileSnapshot is a denormalized copy of the identity carried in a
// client-readable cookie. It is never used for authorization.
type ProfileSnapshot struct {
	ID      string          `json:"id"`
	Email   string          `json:"email"`
	Name    string          `json:"name"`
	Profile json.RawMessage `json:"profile"`
}

// Stale reports whether the snapshot no longer describes u and should be
// rewritten.
func (s *ProfileSnapshot) Stale(u *User) bool {
	if s == nil {
		return true
	}
	return s.ID != u.ID || len(s.Profile) == 0 || string(s.Profile) == "null"
}

// OTPRecord is the single outstanding verification code for an email.
// Only the HMAC of the code is stored.
type OTPRecord struct {
	Email     string
	SubjectID string
	CodeHash  string
	ExpiresAt time.Time
	Attempts  int
}

// --- Request DTOs ---

// RegisterRequest is the signup payload.
type RegisterRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	ConfirmEmail string `json:"confirm_email"`
	Password     string `json:"password"`
}

// LoginRequest is the password login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyOTPRequest submits a code for an email.
type VerifyOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// ResendOTPRequest asks for a fresh code.
type ResendOTPRequest struct {
	Email string `json:"email"`
}

// UpdateProfileRequest replaces the onboarding profile document.
type UpdateProfileRequest struct {
	Profile json.RawMessage `json:"profile"`
}

// --- Service Input / Output ---

// RegisterInput is the registration input passed from handler to service.
type RegisterInput struct {
	Name         string
	Email        string
	ConfirmEmail string
	Password     string
}

// LoginInput is the login input passed from handler to service.
type LoginInput struct {
	Email    string
	Password string
}

// SessionResponse is returned by login, refresh and session check.
type SessionResponse struct {
	User      *User     `json:"user"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

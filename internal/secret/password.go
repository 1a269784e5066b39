package secret

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinPasswordLength is the minimum number of characters (runes).
const MinPasswordLength = 12

// MaxPasswordLength bounds the work argon2 does on attacker-supplied input.
const MaxPasswordLength = 128

// ErrWeakPassword is the sentinel every PolicyError matches with errors.Is.
var ErrWeakPassword = errors.New("password does not meet the strength policy")

// PolicyError names the first rule a password broke.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string { return "weak password: " + e.Reason }

// Is makes errors.Is(err, ErrWeakPassword) true for every PolicyError.
func (e *PolicyError) Is(target error) bool { return target == ErrWeakPassword }

// bannedSubstrings reject passwords built around the most guessed words.
var bannedSubstrings = []string{"password", "qwerty"}

// commonPasswords is a compact blocklist of the most common passwords that
// could otherwise satisfy the composition rules. Compared lowercased.
var commonPasswords = map[string]struct{}{
	"password123":      {},
	"password1234":     {},
	"password123!":     {},
	"qwerty123!":       {},
	"qwertyuiop123":    {},
	"letmein123!":      {},
	"welcome123!":      {},
	"welcome@123":      {},
	"admin@123456":     {},
	"administrator1!":  {},
	"iloveyou123!":     {},
	"123456789abc":     {},
	"abc123456789":     {},
	"1q2w3e4r5t6y":     {},
	"1qaz2wsx3edc":     {},
	"zaq12wsxcde3":     {},
	"trustno1trustno1": {},
	"changeme123!":     {},
	"football123!":     {},
	"baseball123!":     {},
	"sunshine123!":     {},
	"princess123!":     {},
	"dragon123456":     {},
	"monkey123456":     {},
	"master123456":     {},
	"summer2024!!":     {},
	"winter2024!!":     {},
	"spring2025!!":     {},
	"autumn2025!!":     {},
	"p@ssw0rd1234":     {},
	"p@55w0rd1234":     {},
}

// CheckPassword enforces the composite strength policy: length, one of each
// character class, not a common password, and none of the banned words.
func CheckPassword(password string) error {
	lowered := strings.ToLower(password)
	if _, common := commonPasswords[lowered]; common {
		return &PolicyError{Reason: "is too common"}
	}
	for _, banned := range bannedSubstrings {
		if strings.Contains(lowered, banned) {
			return &PolicyError{Reason: "must not contain \"" + banned + "\""}
		}
	}

	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		return &PolicyError{Reason: "must be at least 12 characters"}
	}
	if n > MaxPasswordLength {
		return &PolicyError{Reason: "must be at most 128 characters"}
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			symbol = true
		}
	}
	switch {
	case !upper:
		return &PolicyError{Reason: "must contain an uppercase letter"}
	case !lower:
		return &PolicyError{Reason: "must contain a lowercase letter"}
	case !digit:
		return &PolicyError{Reason: "must contain a digit"}
	case !symbol:
		return &PolicyError{Reason: "must contain a symbol"}
	}

	return nil
}

package secret

import (
	"errors"
	"net/mail"
	"strings"
)

// ErrInvalidEmail is returned by ValidateEmail.
var ErrInvalidEmail = errors.New("invalid email address")

// disposableDomains is the exact-match blocklist. Subdomains of any entry
// are blocked too.
var disposableDomains = map[string]struct{}{
	"mailinator.com":         {},
	"guerrillamail.com":      {},
	"guerrillamail.net":      {},
	"guerrillamailblock.com": {},
	"sharklasers.com":        {},
	"grr.la":                 {},
	"10minutemail.com":       {},
	"10minutemail.net":       {},
	"tempmail.com":           {},
	"temp-mail.org":          {},
	"tempmailo.com":          {},
	"tempr.email":            {},
	"yopmail.com":            {},
	"yopmail.net":            {},
	"trashmail.com":          {},
	"trashmail.de":           {},
	"getnada.com":            {},
	"nada.email":             {},
	"throwawaymail.com":      {},
	"dispostable.com":        {},
	"maildrop.cc":            {},
	"fakeinbox.com":          {},
	"mailnesia.com":          {},
	"mintemail.com":          {},
	"emailondeck.com":        {},
	"mohmal.com":             {},
	"discard.email":          {},
	"spamgourmet.com":        {},
	"mailcatch.com":          {},
	"moakt.com":              {},
	"burnermail.io":          {},
	"inboxkitten.com":        {},
	"mytemp.email":           {},
	"spambox.us":             {},
	"mailpoof.com":           {},
}

// disposableMarkers catch the long tail of look-alike providers
// (tempmail-xyz.net, my10minutemail.org, ...).
var disposableMarkers = []string{
	"tempmail",
	"temp-mail",
	"10minutemail",
	"guerrillamail",
	"throwaway",
	"trashmail",
	"disposable",
	"mailinator",
	"yopmail",
	"fakeinbox",
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare RFC 5322 address (no display
// name) with a dotted domain.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > 254 {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	domain := EmailDomain(email)
	if domain == "" || !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return ErrInvalidEmail
	}
	return nil
}

// EmailDomain returns the lowercased domain part of an address, or "".
func EmailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return NormalizeEmail(email[at+1:])
}

// IsDisposableEmail reports whether the address belongs to a known
// throwaway provider: exact domain, any subdomain of one, or a domain
// carrying one of the marker substrings.
func IsDisposableEmail(email string) bool {
	domain := EmailDomain(email)
	if domain == "" {
		return false
	}
	if _, ok := disposableDomains[domain]; ok {
		return true
	}
	for blocked := range disposableDomains {
		if strings.HasSuffix(domain, "."+blocked) {
			return true
		}
	}
	for _, marker := range disposableMarkers {
		if strings.Contains(domain, marker) {
			return true
		}
	}
	return false
}

// Package secret holds the one-way hashing primitives shared by the auth
// flows: peppered HMAC digests for short numeric codes, peppered argon2id
// for passwords, plus the email and password-strength checks applied at
// registration.
package secret

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
)

// CodeDigits is the length of a one-time code.
const CodeDigits = 6

// codeSpace is 10^CodeDigits; codes are drawn uniformly from [0, codeSpace).
var codeSpace = big.NewInt(1_000_000)

// ErrMissingPepper is returned when a Hasher is built without server secrets.
var ErrMissingPepper = errors.New("secret: pepper is required")

// PasswordParams are the argon2id cost parameters.
type PasswordParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultPasswordParams follow OWASP recommendations for argon2id on modest
// hardware: memory=64MB, iterations=3, parallelism=4.
var DefaultPasswordParams = PasswordParams{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 4,
	KeyLen:  32,
	SaltLen: 16,
}

// Hasher computes peppered digests. The peppers never leave the process and
// are never stored next to the records they protect.
type Hasher struct {
	codePepper     []byte
	passwordPepper []byte
	params         PasswordParams
}

// NewHasher builds a Hasher. Both peppers are required.
func NewHasher(codePepper, passwordPepper string, params PasswordParams) (*Hasher, error) {
	if codePepper == "" || passwordPepper == "" {
		return nil, ErrMissingPepper
	}
	if params.KeyLen == 0 || params.SaltLen == 0 || params.Time == 0 || params.Memory == 0 || params.Threads == 0 {
		return nil, fmt.Errorf("secret: invalid argon2 parameters %+v", params)
	}
	return &Hasher{
		codePepper:     []byte(codePepper),
		passwordPepper: []byte(passwordPepper),
		params:         params,
	}, nil
}

// GenerateCode returns a uniformly random zero-padded 6-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeDigits, n.Int64()), nil
}

// HashCode returns hex(HMAC-SHA256(pepper, email || code)). The email is
// normalized so the same address always produces the same digest.
func (h *Hasher) HashCode(email, code string) string {
	mac := hmac.New(sha256.New, h.codePepper)
	mac.Write([]byte(NormalizeEmail(email)))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// CodeMatches recomputes the digest for code and compares it to stored in
// constant time.
func (h *Hasher) CodeMatches(email, code, stored string) bool {
	computed := h.HashCode(email, code)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(stored)) == 1
}

// HashPassword creates a peppered argon2id hash of the given password. The
// output is the PHC string $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
// and the base64 salt, which is also embedded in the PHC string.
func (h *Hasher) HashPassword(password string) (encoded, salt string, err error) {
	rawSalt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(rawSalt); err != nil {
		return "", "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey(h.pepperPassword(password), rawSalt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	b64Salt := base64.RawStdEncoding.EncodeToString(rawSalt)
	b64Hash := base64.RawStdEncoding.EncodeToString(key)

	encoded = fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Threads, b64Salt, b64Hash)

	return encoded, b64Salt, nil
}

// VerifyPassword checks a plaintext password against a PHC string produced
// by HashPassword. Any parse failure is a mismatch.
func (h *Hasher) VerifyPassword(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false
	}

	computed := argon2.IDKey(h.pepperPassword(password), salt, iterations, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(expected, computed) == 1
}

// pepperPassword binds the password to the server pepper before the slow
// hash, so a leaked table alone is not enough to mount a dictionary attack.
func (h *Hasher) pepperPassword(password string) []byte {
	mac := hmac.New(sha256.New, h.passwordPepper)
	mac.Write([]byte(password))
	return mac.Sum(nil)
}

// EqualSecret compares two secrets in constant time. Lengths are hashed
// first so the comparison time doesn't depend on where they differ or on
// the length of the configured value.
func EqualSecret(got, want string) bool {
	if want == "" {
		return false
	}
	g := sha256.Sum256([]byte(got))
	w := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(g[:], w[:]) == 1
}

// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Development gets explicit dev-only defaults; every other
// environment refuses to start without real secrets.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Minimum secret lengths enforced in production.
const (
	minTokenSecretLen = 32
	minPepperLen      = 16
	minAdminSecretLen = 24
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development", "production", or any
	// other posture such as "staging", which must supply its own secrets.
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used for CORS and links in emails.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string

	// MigrationsPath is the directory holding golang-migrate SQL files.
	MigrationsPath string

	// CORSOrigins lists the frontend origins allowed to call the API with
	// credentials. Defaults to BaseURL.
	CORSOrigins []string

	// TrustedProxies lists the CIDRs whose X-Forwarded-For is believed.
	TrustedProxies []string

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// Auth holds token, OTP and password settings.
	Auth AuthConfig

	// Admin holds the shared-secret admin gate settings.
	Admin AdminConfig

	// RateLimit holds admission-control settings.
	RateLimit RateLimitConfig

	// SMTP holds outbound mail settings.
	SMTP SMTPConfig
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars so
// container orchestrators can manage each independently.
// If DATABASE_URL is set, it takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	User     string
	Password string
	Name     string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// fields using the driver's Config.FormatDSN() to safely handle special
// characters in passwords.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	cfg.MultiStatements = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string

	// Timeout bounds dial, read and write. Kept short: the rate limiter and
	// the denylist sit on the request path.
	Timeout time.Duration
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// TokenSecret is the HMAC key for signing session tokens.
	TokenSecret string

	// Issuer is written to and required in every token's iss claim.
	Issuer string

	// OTPPepper is mixed into every one-time-code hash.
	OTPPepper string

	// PasswordPepper is mixed into every password hash.
	PasswordPepper string

	// AccessTTL is the access token lifetime (and access cookie max-age).
	AccessTTL time.Duration

	// RefreshTTL is the refresh token lifetime (and refresh cookie max-age).
	RefreshTTL time.Duration

	// OTPTTL is how long an issued verification code stays valid.
	OTPTTL time.Duration

	// OTPMaxAttempts is the failed-verify ceiling per issued code.
	OTPMaxAttempts int

	// StoreTimeout bounds every identity-store round trip.
	StoreTimeout time.Duration

	// Denylist enables the Redis-backed token denylist consulted on verify.
	Denylist bool
}

// AdminConfig holds the admin gate settings.
type AdminConfig struct {
	// Secret is the shared admin secret. Empty means the gate is closed.
	Secret string
}

// RateLimitConfig holds admission-control settings.
type RateLimitConfig struct {
	// Store selects the counter backend: "memory" (single instance) or "redis".
	Store string

	// Rules holds per-action overrides read from RATE_LIMIT_<ACTION>
	// variables in "max/window[/block]" form, e.g. RATE_LIMIT_LOGIN=5/1m/5m.
	// Actions without an override keep their built-in limits.
	Rules map[string]RateLimitRule
}

// RateLimitRule is one action's override. A zero Block holds the client
// until the window ends.
type RateLimitRule struct {
	Max    int
	Window time.Duration
	Block  time.Duration
}

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string

	// Encryption is "starttls", "ssl", or "none".
	Encryption string

	// Timeout bounds dialing and the whole SMTP conversation.
	Timeout time.Duration

	// PerSecond throttles outbound messages across the process.
	PerSecond float64
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if required variables are missing in production.
func Load() (*Config, error) {
	cfg := &Config{
		Env:            getEnv("ENV", "development"),
		Port:           getEnvInt("PORT", 8080),
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel:       getEnv("LOG_LEVEL", ""),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "db/migrations"),
		TrustedProxies: getEnvList("TRUSTED_PROXIES", []string{
			"127.0.0.0/8",
			"10.0.0.0/8",
			"172.16.0.0/12",
			"192.168.0.0/16",
			"fd00::/8",
		}),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "gatekeeper"),
			Password:        getEnv("DB_PASSWORD", "gatekeeper"),
			Name:            getEnv("DB_NAME", "gatekeeper"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL:     getEnv("REDIS_URL", "redis://localhost:6379"),
			Timeout: getEnvDuration("REDIS_TIMEOUT", 500*time.Millisecond),
		},

		Auth: AuthConfig{
			TokenSecret:    getEnv("TOKEN_SECRET", ""),
			Issuer:         getEnv("TOKEN_ISSUER", "gatekeeper"),
			OTPPepper:      getEnv("OTP_PEPPER", ""),
			PasswordPepper: getEnv("PASSWORD_PEPPER", ""),
			AccessTTL:      getEnvDuration("AUTH_ACCESS_TTL", time.Hour),
			RefreshTTL:     getEnvDuration("AUTH_REFRESH_TTL", 7*24*time.Hour),
			OTPTTL:         getEnvDuration("AUTH_OTP_TTL", 10*time.Minute),
			OTPMaxAttempts: getEnvInt("AUTH_OTP_MAX_ATTEMPTS", 8),
			StoreTimeout:   getEnvDuration("AUTH_STORE_TIMEOUT", 5*time.Second),
			Denylist:       getEnvBool("AUTH_DENYLIST", false),
		},

		Admin: AdminConfig{
			Secret: getEnv("ADMIN_SECRET", ""),
		},

		RateLimit: RateLimitConfig{
			Store: strings.ToLower(getEnv("RATE_LIMIT_STORE", "memory")),
		},

		SMTP: SMTPConfig{
			Host:        getEnv("SMTP_HOST", ""),
			Port:        getEnvInt("SMTP_PORT", 587),
			Username:    getEnv("SMTP_USERNAME", ""),
			Password:    getEnv("SMTP_PASSWORD", ""),
			FromAddress: getEnv("SMTP_FROM_ADDRESS", "no-reply@localhost"),
			FromName:    getEnv("SMTP_FROM_NAME", "Gatekeeper"),
			Encryption:  strings.ToLower(getEnv("SMTP_ENCRYPTION", "starttls")),
			Timeout:     getEnvDuration("SMTP_TIMEOUT", 10*time.Second),
			PerSecond:   getEnvFloat("SMTP_PER_SECOND", 5),
		},
	}

	cfg.CORSOrigins = getEnvList("CORS_ALLOWED_ORIGINS", []string{cfg.BaseURL})

	rules, err := getEnvRateLimitRules()
	if err != nil {
		return nil, err
	}
	cfg.RateLimit.Rules = rules

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if !cfg.IsDevelopment() {
		return cfg, nil
	}

	// Dev-only defaults so local runs work without a .env file. Every other
	// environment has already failed validation if a secret is missing.
	if cfg.Auth.TokenSecret == "" {
		cfg.Auth.TokenSecret = "dev-token-secret-do-not-use-in-production!!"
	}
	if cfg.Auth.OTPPepper == "" {
		cfg.Auth.OTPPepper = "dev-otp-pepper-not-for-prod"
	}
	if cfg.Auth.PasswordPepper == "" {
		cfg.Auth.PasswordPepper = "dev-password-pepper-not-for-prod"
	}

	return cfg, nil
}

// validate checks that durations are usable and, outside development, that
// secrets are present and long enough. Only development may fall back to the
// built-in secrets. The admin secret is mandatory in production alone; an
// environment like staging may leave the gate closed.
func (c *Config) validate() error {
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return fmt.Errorf("AUTH_ACCESS_TTL and AUTH_REFRESH_TTL must be positive")
	}
	if c.Auth.RefreshTTL < c.Auth.AccessTTL {
		return fmt.Errorf("AUTH_REFRESH_TTL must not be shorter than AUTH_ACCESS_TTL")
	}
	if c.Auth.OTPTTL <= 0 || c.Auth.OTPMaxAttempts <= 0 {
		return fmt.Errorf("AUTH_OTP_TTL and AUTH_OTP_MAX_ATTEMPTS must be positive")
	}
	if c.RateLimit.Store != "memory" && c.RateLimit.Store != "redis" {
		return fmt.Errorf("RATE_LIMIT_STORE must be \"memory\" or \"redis\", got %q", c.RateLimit.Store)
	}

	if c.IsDevelopment() {
		return nil
	}

	if len(c.Auth.TokenSecret) < minTokenSecretLen {
		return fmt.Errorf("TOKEN_SECRET must be at least %d characters outside development", minTokenSecretLen)
	}
	if len(c.Auth.OTPPepper) < minPepperLen {
		return fmt.Errorf("OTP_PEPPER must be at least %d characters outside development", minPepperLen)
	}
	if len(c.Auth.PasswordPepper) < minPepperLen {
		return fmt.Errorf("PASSWORD_PEPPER must be at least %d characters outside development", minPepperLen)
	}
	if (c.IsProduction() || c.Admin.Secret != "") && len(c.Admin.Secret) < minAdminSecretLen {
		return fmt.Errorf("ADMIN_SECRET must be at least %d characters", minAdminSecretLen)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// IsProduction returns true for the production posture. Case-insensitive so
// common variants like "Production" and "prod" are caught.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvFloat reads a float env var or returns the default.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvBool reads a boolean env var ("true", "1", ...) or returns the default.
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration env var (e.g., "720h") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// rateLimitEnvPrefix marks per-action overrides. RATE_LIMIT_STORE shares
// the prefix but is not one.
const rateLimitEnvPrefix = "RATE_LIMIT_"

// getEnvRateLimitRules collects every RATE_LIMIT_<ACTION> override, keyed
// by the lowercased action name. Unlike the other helpers a malformed value
// is an error, not a silent fallback.
func getEnvRateLimitRules() (map[string]RateLimitRule, error) {
	rules := make(map[string]RateLimitRule)
	for _, kv := range os.Environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || key == "RATE_LIMIT_STORE" || !strings.HasPrefix(key, rateLimitEnvPrefix) {
			continue
		}
		action := strings.ToLower(strings.TrimPrefix(key, rateLimitEnvPrefix))
		if action == "" {
			continue
		}
		rule, err := parseRateLimitRule(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		rules[action] = rule
	}
	return rules, nil
}

// parseRateLimitRule reads "max/window[/block]", e.g. "5/1m/5m".
func parseRateLimitRule(s string) (RateLimitRule, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) < 2 || len(parts) > 3 {
		return RateLimitRule{}, fmt.Errorf("want max/window[/block], got %q", s)
	}

	limit, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || limit <= 0 {
		return RateLimitRule{}, fmt.Errorf("max must be a positive integer, got %q", parts[0])
	}
	window, err := time.ParseDuration(strings.TrimSpace(parts[1]))
	if err != nil || window <= 0 {
		return RateLimitRule{}, fmt.Errorf("window must be a positive duration, got %q", parts[1])
	}

	var block time.Duration
	if len(parts) == 3 {
		block, err = time.ParseDuration(strings.TrimSpace(parts[2]))
		if err != nil || block < 0 {
			return RateLimitRule{}, fmt.Errorf("block must be a non-negative duration, got %q", parts[2])
		}
	}
	return RateLimitRule{Max: limit, Window: window, Block: block}, nil
}

// getEnvList reads a comma-separated environment variable, dropping blanks.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/keyxmakerx/gatekeeper/internal/config"
	"github.com/keyxmakerx/gatekeeper/internal/database"
	"github.com/keyxmakerx/gatekeeper/internal/metrics"
	"github.com/keyxmakerx/gatekeeper/internal/plugins/admin"
	"github.com/keyxmakerx/gatekeeper/internal/plugins/auth"
	"github.com/keyxmakerx/gatekeeper/internal/plugins/smtp"
	"github.com/keyxmakerx/gatekeeper/internal/ratelimit"
	"github.com/keyxmakerx/gatekeeper/internal/secret"
	"github.com/keyxmakerx/gatekeeper/internal/token"
)

// healthTimeout bounds the /healthz store pings.
const healthTimeout = 2 * time.Second

// RegisterRoutes builds every service from the config and registers all
// routes. This is the single place where plugins are wired together.
func (a *App) RegisterRoutes() error {
	e := a.Echo
	cfg := a.Config

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// --- Rate limiting ---
	store, err := a.rateLimitStore()
	if err != nil {
		return err
	}
	rules, err := rateLimitRules(cfg.RateLimit.Rules)
	if err != nil {
		return err
	}
	limiter := ratelimit.New(store, rules, collector)

	// --- Tokens ---
	tokens, err := token.NewService(token.Config{
		Secret:     []byte(cfg.Auth.TokenSecret),
		Issuer:     cfg.Auth.Issuer,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
	})
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}
	if cfg.Auth.Denylist {
		if a.Redis == nil {
			return errors.New("token denylist requires a redis client")
		}
		tokens.WithDenylist(token.NewRedisDenylist(a.Redis))
	}

	hasher, err := secret.NewHasher(cfg.Auth.OTPPepper, cfg.Auth.PasswordPepper, secret.DefaultPasswordParams)
	if err != nil {
		return fmt.Errorf("hasher: %w", err)
	}

	// --- Plugins ---
	smtpService := smtp.NewSMTPService(cfg.SMTP)
	if !smtpService.IsConfigured() {
		slog.Warn("SMTP is not configured; registration emails will fail")
	}

	users := auth.NewUserRepository(a.DB)
	otpService := auth.NewOTPService(auth.NewOTPRepository(a.DB), users, hasher, auth.OTPConfig{
		TTL:          cfg.Auth.OTPTTL,
		MaxAttempts:  cfg.Auth.OTPMaxAttempts,
		StoreTimeout: cfg.Auth.StoreTimeout,
	}, collector)
	registration := auth.NewRegistrationService(users, otpService, hasher, smtpService, cfg.Auth.StoreTimeout, collector)
	authService := auth.NewAuthService(users, tokens, hasher, cfg.Auth.StoreTimeout, collector)
	cookies := auth.NewCookiePolicy(cfg.IsProduction(), tokens.RefreshTTL())

	auth.RegisterRoutes(e, auth.NewHandler(authService, registration, otpService, cookies), tokens, limiter)

	gate := admin.NewGate(cfg.Admin.Secret, cfg.IsProduction())
	admin.RegisterRoutes(e, admin.NewHandler(gate, collector), limiter,
		metrics.Handler(reg), smtp.NewHandler(smtpService))

	// --- Health ---
	health := database.NewHealth(a.DB, a.Redis)
	e.GET("/healthz", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		status, err := health.Check(ctx)
		if err != nil {
			slog.Warn("health check failed", slog.Any("error", err))
			status["status"] = "unavailable"
			return c.JSON(http.StatusServiceUnavailable, status)
		}
		status["status"] = "ok"
		return c.JSON(http.StatusOK, status)
	})

	return nil
}

// rateLimitStore picks the counter backend named by the config.
func (a *App) rateLimitStore() (ratelimit.Store, error) {
	switch a.Config.RateLimit.Store {
	case "", "memory":
		return ratelimit.NewMemoryStore(), nil
	case "redis":
		if a.Redis == nil {
			return nil, errors.New("redis rate-limit store requires a redis client")
		}
		return ratelimit.NewRedisStore(a.Redis), nil
	default:
		return nil, fmt.Errorf("unknown rate-limit store %q", a.Config.RateLimit.Store)
	}
}

// rateLimitRules lays the configured overrides over the built-in rules. An
// override for an action no route checks is rejected as a typo.
func rateLimitRules(overrides map[string]config.RateLimitRule) (map[string]ratelimit.Rule, error) {
	rules := ratelimit.DefaultRules()
	for action, o := range overrides {
		if _, ok := rules[action]; !ok {
			return nil, fmt.Errorf("rate limit override for unknown action %q", action)
		}
		rules[action] = ratelimit.Rule{Window: o.Window, Max: o.Max, Block: o.Block}
	}
	return rules, nil
}

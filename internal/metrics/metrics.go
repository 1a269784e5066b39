// Package metrics collects Prometheus counters for the auth flows and
// exposes them for scraping.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the interface the auth and admin plugins record through.
type Recorder interface {
	ObserveRateLimit(action string, allowed bool)
	RecordOTPVerification(outcome string)
	RecordRegistration(outcome string)
	RecordLogin(outcome string)
	RecordAdminLogin(success bool)
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	rateLimit     *prometheus.CounterVec
	otpVerify     *prometheus.CounterVec
	registrations *prometheus.CounterVec
	logins        *prometheus.CounterVec
	adminLogins   *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		rateLimit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_ratelimit_decisions_total",
			Help: "Rate limiter decisions by action and result.",
		}, []string{"action", "allowed"}),
		otpVerify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_otp_verifications_total",
			Help: "OTP verification attempts by outcome.",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_registrations_total",
			Help: "Registration attempts by outcome.",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_logins_total",
			Help: "Password logins by outcome.",
		}, []string{"outcome"}),
		adminLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_admin_logins_total",
			Help: "Admin gate login attempts by result.",
		}, []string{"success"}),
	}

	reg.MustRegister(c.rateLimit, c.otpVerify, c.registrations, c.logins, c.adminLogins)
	return c
}

// ObserveRateLimit records one limiter decision.
func (c *Collector) ObserveRateLimit(action string, allowed bool) {
	c.rateLimit.WithLabelValues(action, strconv.FormatBool(allowed)).Inc()
}

// RecordOTPVerification records an OTP outcome ("success", "mismatch", ...).
func (c *Collector) RecordOTPVerification(outcome string) {
	c.otpVerify.WithLabelValues(outcome).Inc()
}

// RecordRegistration records a registration outcome.
func (c *Collector) RecordRegistration(outcome string) {
	c.registrations.WithLabelValues(outcome).Inc()
}

// RecordLogin records a login outcome.
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordAdminLogin records an admin gate attempt.
func (c *Collector) RecordAdminLogin(success bool) {
	c.adminLogins.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// Nop discards everything. Used when metrics are not wired (tests).
type Nop struct{}

func (Nop) ObserveRateLimit(string, bool) {}
func (Nop) RecordOTPVerification(string)  {}
func (Nop) RecordRegistration(string)     {}
func (Nop) RecordLogin(string)            {}
func (Nop) RecordAdminLogin(bool)         {}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

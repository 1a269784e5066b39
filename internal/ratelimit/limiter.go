// Package ratelimit implements fixed-window admission control with an
// escalating block. Counters live behind a Store so a single instance can
// keep them in process memory while a multi-instance deployment shares
// them through Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStoreUnavailable wraps failures of the backing counter store.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// ErrUnknownAction is returned by Limiter.Allow for an action without a rule.
var ErrUnknownAction = errors.New("rate limit action has no rule")

// Rule configures one action. Exceeding Max requests inside Window blocks
// the key for Block, even if the window ends first.
type Rule struct {
	Window time.Duration
	Max    int
	Block  time.Duration
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool

	// RetryAfter is how long a denied caller must wait. Zero when allowed.
	RetryAfter time.Duration

	// Remaining is the number of requests left in the current window.
	Remaining int
}

// Store counts requests per key. Implementations must make Check atomic
// per key: the window/counter update is a read-modify-write.
type Store interface {
	Check(ctx context.Context, key string, rule Rule) (Decision, error)
}

// Observer receives every decision. The metrics collector implements it.
type Observer interface {
	ObserveRateLimit(action string, allowed bool)
}

// Limiter binds named actions (login, register, ...) to rules and checks
// "action:identifier" keys against a Store.
type Limiter struct {
	store    Store
	rules    map[string]Rule
	observer Observer
}

// New creates a Limiter. rules maps action names to their Rule.
func New(store Store, rules map[string]Rule, observer Observer) *Limiter {
	copied := make(map[string]Rule, len(rules))
	for action, rule := range rules {
		copied[action] = rule
	}
	return &Limiter{store: store, rules: copied, observer: observer}
}

// Key builds the counter key for an action and a client identifier.
func Key(action, identifier string) string {
	return action + ":" + identifier
}

// Allow checks one request for action from identifier.
func (l *Limiter) Allow(ctx context.Context, action, identifier string) (Decision, error) {
	rule, ok := l.rules[action]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	d, err := l.store.Check(ctx, Key(action, identifier), rule)
	if err != nil {
		return Decision{}, err
	}
	if l.observer != nil {
		l.observer.ObserveRateLimit(action, d.Allowed)
	}
	return d, nil
}

// DefaultRules are the per-action rules used by the HTTP routes.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		"login":       {Window: time.Minute, Max: 5, Block: 5 * time.Minute},
		"register":    {Window: 10 * time.Minute, Max: 5, Block: 30 * time.Minute},
		"otp_verify":  {Window: time.Minute, Max: 10, Block: 5 * time.Minute},
		"otp_resend":  {Window: 10 * time.Minute, Max: 3, Block: 10 * time.Minute},
		"admin_login": {Window: time.Minute, Max: 5, Block: 15 * time.Minute},
	}
}

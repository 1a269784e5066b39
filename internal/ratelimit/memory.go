package ratelimit

import (
	"context"
	"sync"
	"time"
)

// entry tracks one key's window and block state.
type entry struct {
	count         int
	windowResetAt time.Time
	blockedUntil  time.Time
}

// MemoryStore keeps counters in a process-local map behind a mutex.
// Entries are expired lazily on their next touch; there is no background
// sweep, so memory grows with the number of distinct keys seen.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Check implements Store.
func (s *MemoryStore) Check(_ context.Context, key string, rule Rule) (Decision, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if ok && now.Before(e.blockedUntil) {
		return Decision{RetryAfter: e.blockedUntil.Sub(now)}, nil
	}

	// Both the window and any block have elapsed: start fresh.
	if !ok || !now.Before(e.windowResetAt) {
		e = &entry{windowResetAt: now.Add(rule.Window)}
		s.entries[key] = e
	}

	e.count++
	if e.count > rule.Max {
		if rule.Block > 0 {
			e.blockedUntil = now.Add(rule.Block)
		} else {
			e.blockedUntil = e.windowResetAt
		}
		return Decision{RetryAfter: e.blockedUntil.Sub(now)}, nil
	}

	return Decision{Allowed: true, Remaining: rule.Max - e.count}, nil
}

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var loginRule = Rule{Window: 60 * time.Second, Max: 5, Block: 300 * time.Second}

// storeFactories lets every behavioral test run against both stores.
func storeFactories(t *testing.T) map[string]func(*fakeClock) Store {
	return map[string]func(*fakeClock) Store{
		"memory": func(c *fakeClock) Store {
			return NewMemoryStore().WithClock(c.Now)
		},
		"redis": func(c *fakeClock) Store {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedisStore(rdb).WithClock(c.Now)
		},
	}
}

func TestCheck_BlockOutlivesWindow(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			store := factory(clock)

			for i := 1; i <= 5; i++ {
				d, err := store.Check(ctx, "login:1.2.3.4", loginRule)
				if err != nil {
					t.Fatalf("check %d: %v", i, err)
				}
				if !d.Allowed {
					t.Fatalf("check %d: expected allowed", i)
				}
				if d.Remaining != 5-i {
					t.Errorf("check %d: remaining = %d, want %d", i, d.Remaining, 5-i)
				}
			}

			d, err := store.Check(ctx, "login:1.2.3.4", loginRule)
			if err != nil {
				t.Fatalf("6th check: %v", err)
			}
			if d.Allowed {
				t.Fatal("expected 6th request to be denied")
			}
			if d.RetryAfter != 300*time.Second {
				t.Errorf("RetryAfter = %v, want 300s", d.RetryAfter)
			}

			// Window is over but the block is not.
			clock.Advance(61 * time.Second)
			d, _ = store.Check(ctx, "login:1.2.3.4", loginRule)
			if d.Allowed {
				t.Fatal("expected request to stay denied while blocked")
			}
			if d.RetryAfter != 239*time.Second {
				t.Errorf("RetryAfter = %v, want 239s", d.RetryAfter)
			}

			// Block over: fresh window.
			clock.Advance(240 * time.Second)
			d, _ = store.Check(ctx, "login:1.2.3.4", loginRule)
			if !d.Allowed {
				t.Fatal("expected request to be admitted after the block")
			}
			if d.Remaining != 4 {
				t.Errorf("Remaining = %d, want 4 in a fresh window", d.Remaining)
			}
		})
	}
}

func TestCheck_WindowResetsCount(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			store := factory(clock)

			for i := 0; i < 5; i++ {
				if d, _ := store.Check(ctx, "k", loginRule); !d.Allowed {
					t.Fatalf("check %d: expected allowed", i+1)
				}
			}
			clock.Advance(60 * time.Second)
			if d, _ := store.Check(ctx, "k", loginRule); !d.Allowed {
				t.Fatal("expected a new window to admit")
			}
		})
	}
}

func TestCheck_KeysAreIndependent(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(newFakeClock())
			rule := Rule{Window: time.Minute, Max: 1, Block: time.Minute}

			if d, _ := store.Check(ctx, "a", rule); !d.Allowed {
				t.Fatal("expected first request on a to pass")
			}
			if d, _ := store.Check(ctx, "a", rule); d.Allowed {
				t.Fatal("expected second request on a to be denied")
			}
			if d, _ := store.Check(ctx, "b", rule); !d.Allowed {
				t.Fatal("expected b to be unaffected by a")
			}
		})
	}
}

func TestCheck_ZeroBlockWaitsForWindow(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			store := factory(clock)
			rule := Rule{Window: time.Minute, Max: 1}

			store.Check(ctx, "k", rule)
			clock.Advance(20 * time.Second)
			d, _ := store.Check(ctx, "k", rule)
			if d.Allowed {
				t.Fatal("expected denial inside the window")
			}
			if d.RetryAfter != 40*time.Second {
				t.Errorf("RetryAfter = %v, want 40s", d.RetryAfter)
			}
		})
	}
}

func TestMemoryStore_ConcurrentChecks(t *testing.T) {
	store := NewMemoryStore()
	rule := Rule{Window: time.Hour, Max: 50, Block: time.Hour}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := store.Check(context.Background(), "k", rule)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want exactly 50", allowed)
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	_, err = NewRedisStore(rdb).Check(context.Background(), "k", loginRule)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestRedisStore_KeyExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := NewRedisStore(rdb)
	if _, err := store.Check(context.Background(), "login:ip", loginRule); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !mr.Exists("rl:login:ip") {
		t.Fatal("expected counter key to exist")
	}
	mr.FastForward(61 * time.Second)
	if mr.Exists("rl:login:ip") {
		t.Error("expected counter key to expire with the window")
	}
}

// recordingObserver captures decisions.
type recordingObserver struct {
	calls []bool
}

func (o *recordingObserver) ObserveRateLimit(_ string, allowed bool) {
	o.calls = append(o.calls, allowed)
}

func TestLimiter_Allow(t *testing.T) {
	obs := &recordingObserver{}
	l := New(NewMemoryStore(), map[string]Rule{
		"login": {Window: time.Minute, Max: 1, Block: time.Minute},
	}, obs)

	ctx := context.Background()
	if d, err := l.Allow(ctx, "login", "1.2.3.4"); err != nil || !d.Allowed {
		t.Fatalf("first Allow = %+v, %v", d, err)
	}
	if d, _ := l.Allow(ctx, "login", "1.2.3.4"); d.Allowed {
		t.Error("expected second Allow to be denied")
	}
	if d, _ := l.Allow(ctx, "login", "5.6.7.8"); !d.Allowed {
		t.Error("expected another identifier to pass")
	}
	if len(obs.calls) != 3 || obs.calls[1] {
		t.Errorf("unexpected observer calls %v", obs.calls)
	}

	if _, err := l.Allow(ctx, "unknown", "x"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
}

func TestKey(t *testing.T) {
	if got := Key("otp_verify", "10.0.0.1"); got != "otp_verify:10.0.0.1" {
		t.Errorf("Key = %q", got)
	}
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	for _, action := range []string{"login", "register", "otp_verify", "otp_resend", "admin_login"} {
		r, ok := rules[action]
		if !ok {
			t.Errorf("missing rule for %s", action)
			continue
		}
		if r.Max <= 0 || r.Window <= 0 || r.Block < r.Window {
			t.Errorf("rule %s looks wrong: %+v", action, r)
		}
	}
}

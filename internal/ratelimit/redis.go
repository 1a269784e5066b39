package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces limiter keys in a shared Redis.
const redisKeyPrefix = "rl:"

// checkLua applies one request to a key atomically.
// KEYS[1] = counter hash
// ARGV[1] = now (unix ms), ARGV[2] = window ms, ARGV[3] = max, ARGV[4] = block ms
//
// Returns {allowed(0|1), retryAfterMs or remaining}.
var checkLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local block = tonumber(ARGV[4])

local data = redis.call('HMGET', KEYS[1], 'count', 'reset', 'blocked')
local count = tonumber(data[1]) or 0
local reset = tonumber(data[2]) or 0
local blocked = tonumber(data[3]) or 0

if blocked > now then
  return {0, blocked - now}
end

if reset <= now then
  count = 0
  reset = now + window
end

count = count + 1
local ttl = reset - now

if count > max then
  if block > 0 then
    blocked = now + block
  else
    blocked = reset
  end
  if blocked - now > ttl then
    ttl = blocked - now
  end
  redis.call('HSET', KEYS[1], 'count', count, 'reset', reset, 'blocked', blocked)
  redis.call('PEXPIRE', KEYS[1], ttl)
  return {0, blocked - now}
end

redis.call('HSET', KEYS[1], 'count', count, 'reset', reset, 'blocked', blocked)
redis.call('PEXPIRE', KEYS[1], ttl)
return {1, max - count}
`)

// RedisStore shares counters between instances. Redis expires idle keys
// once both the window and the block are over.
type RedisStore struct {
	redis redis.UniversalClient
	now   func() time.Time
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{redis: rdb, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	s.now = now
	return s
}

// Check implements Store.
func (s *RedisStore) Check(ctx context.Context, key string, rule Rule) (Decision, error) {
	res, err := checkLua.Run(ctx, s.redis,
		[]string{redisKeyPrefix + key},
		s.now().UnixMilli(),
		rule.Window.Milliseconds(),
		rule.Max,
		rule.Block.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script result %v", ErrStoreUnavailable, res)
	}

	if res[0] == 1 {
		return Decision{Allowed: true, Remaining: int(res[1])}, nil
	}
	return Decision{RetryAfter: time.Duration(res[1]) * time.Millisecond}, nil
}

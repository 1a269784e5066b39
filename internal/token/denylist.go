package token

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Denylist records revoked tokens by their jti.
type Denylist interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// denylistKeyPrefix namespaces revocation keys in a shared Redis.
const denylistKeyPrefix = "revoked:"

// RedisDenylist stores one key per revoked token that expires with it.
type RedisDenylist struct {
	redis redis.UniversalClient
}

// NewRedisDenylist creates a Redis-backed Denylist.
func NewRedisDenylist(rdb redis.UniversalClient) *RedisDenylist {
	return &RedisDenylist{redis: rdb}
}

func denylistKey(tokenID string) string {
	return denylistKeyPrefix + tokenID
}

// Revoke implements Denylist.
func (d *RedisDenylist) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if err := d.redis.Set(ctx, denylistKey(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

// IsRevoked implements Denylist.
func (d *RedisDenylist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := d.redis.Exists(ctx, denylistKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking revocation: %w", err)
	}
	return n > 0, nil
}

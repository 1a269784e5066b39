package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Health pings the backing stores for the /healthz endpoint. A nil Redis
// client is skipped (memory rate-limit store, no denylist).
type Health struct {
	db    *sql.DB
	redis redis.UniversalClient
}

// NewHealth creates a Health checker.
func NewHealth(db *sql.DB, rdb redis.UniversalClient) *Health {
	return &Health{db: db, redis: rdb}
}

// Check returns the status of each store and the first failure.
func (h *Health) Check(ctx context.Context) (map[string]string, error) {
	status := map[string]string{}
	var firstErr error

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			status["mariadb"] = "down"
			firstErr = fmt.Errorf("mariadb: %w", err)
		} else {
			status["mariadb"] = "ok"
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			status["redis"] = "down"
			if firstErr == nil {
				firstErr = fmt.Errorf("redis: %w", err)
			}
		} else {
			status["redis"] = "ok"
		}
	}

	return status, firstErr
}

// Package database owns the MariaDB and Redis connection lifecycle for the
// gatekeeper service: open, configure pool, ping, migrate, close.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// MariaDB driver, registered for database/sql.
	_ "github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/gatekeeper/internal/config"
)

// connectAttempts bounds the startup ping loop.
const connectAttempts = 10

// NewMariaDB opens the identity store pool and waits for the server to
// answer a ping. MariaDB is often still starting when the service container
// launches, so pings are retried with exponential backoff.
func NewMariaDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mariadb connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := waitForPing(db, connectAttempts, time.Second); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func waitForPing(db *sql.DB, attempts int, backoff time.Duration) error {
	var pingErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pingErr = db.PingContext(ctx)
		cancel()

		if pingErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		slog.Warn("mariadb not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("backoff", backoff),
			slog.Any("error", pingErr),
		)
		time.Sleep(backoff)
		backoff = min(backoff*2, 30*time.Second)
	}
	return fmt.Errorf("pinging mariadb after %d attempts: %w", attempts, pingErr)
}

// Package database manages the Postgres catalog connection and the
// transaction and locking primitives the repositories build on.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/AITrekker/RAG-sub000/internal/config"
	"github.com/AITrekker/RAG-sub000/internal/observability"
)

// Connect opens the catalog with retry. Postgres is routinely the last piece
// of the stack to come up, so transient dial failures back off exponentially
// (capped at 30s) for up to two minutes before giving up.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger observability.Logger) (*sqlx.DB, error) {
	var db *sqlx.DB

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 2 * time.Minute

	attempt := 0
	operation := func() error {
		attempt++
		var err error
		db, err = sqlx.ConnectContext(ctx, "postgres", cfg.URL)
		if err != nil {
			logger.Warn("catalog connection failed, retrying", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to catalog: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	logger.Info("catalog connected", map[string]interface{}{
		"max_open_conns": cfg.MaxOpenConns,
	})
	return db, nil
}

// Transaction runs fn inside a transaction, rolling back on error or panic
// and committing otherwise.
func Transaction(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AdvisoryLock takes a transaction-scoped advisory lock on key, blocking
// until it is granted. The lock releases automatically when the transaction
// ends, which serializes sync admission per tenant across processes.
func AdvisoryLock(ctx context.Context, tx *sqlx.Tx, key string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("failed to acquire advisory lock %q: %w", key, err)
	}
	return nil
}

// Ping verifies catalog liveness with a short deadline.
func Ping(ctx context.Context, db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("catalog ping failed: %w", err)
	}
	return nil
}

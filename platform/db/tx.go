// Package db provides database connection infrastructure.
package db

import (
	"context"
	"errors"
	"time"

	"propertyops_backend/platform/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// maxTxAttempts bounds optimistic-concurrency retries before surfacing
	// a conflict to the caller.
	maxTxAttempts = 5
	// initialBackoff is the first retry delay; doubled on each attempt.
	initialBackoff = 50 * time.Millisecond
)

// pgSerializationFailure and pgDeadlockDetected are the Postgres error codes
// that indicate the transaction lost a concurrency race and can be retried.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// InTx runs fn inside a single transaction, committing on success and
// rolling back on error.
func InTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// WithRetry runs fn inside a transaction, retrying on contention with
// exponential backoff. Retries are triggered by Postgres serialization or
// deadlock failures and by apperr.KindConflict returned from fn (the
// optimistic version check). Once the attempt budget is exhausted the last
// conflict is surfaced as a ConflictError.
func WithRetry(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	backoff := initialBackoff

	var lastErr error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		lastErr = InTx(ctx, pool, fn)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			var final NoRetry
			if errors.As(lastErr, &final) {
				return final.Err
			}
			return lastErr
		}
	}

	return apperr.Wrap(apperr.KindConflict, "transaction contention exceeded retry budget", lastErr)
}

// NoRetry marks an error as final even when its kind would normally be
// retried. Used for lost races where a re-read cannot change the outcome.
type NoRetry struct{ Err error }

func (e NoRetry) Error() string { return e.Err.Error() }
func (e NoRetry) Unwrap() error { return e.Err }

func isRetryable(err error) bool {
	var final NoRetry
	if errors.As(err, &final) {
		return false
	}
	if apperr.Is(err, apperr.KindConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}

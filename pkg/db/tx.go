package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	pkgerrors "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/errors"
)

const (
	pgCodeSerializationFailure = "40001"
	pgCodeDeadlockDetected     = "40P01"
)

// RetryConfig bounds the automatic retry applied to deadlocked or
// serialization-failed transactions.
type RetryConfig struct {
	Attempts int
	Backoff  time.Duration
}

func (r RetryConfig) withDefaults() RetryConfig {
	if r.Attempts <= 0 {
		r.Attempts = 3
	}
	if r.Backoff <= 0 {
		r.Backoff = 10 * time.Millisecond
	}
	return r
}

// IsRetryableTxError reports whether err is a transient Postgres
// deadlock/serialization failure worth retrying.
func IsRetryableTxError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgCodeDeadlockDetected || pgErr.Code == pgCodeSerializationFailure
	}
	return false
}

// WithRetryableTx runs fn inside a transaction at the given isolation level
// and retries the whole transaction on deadlock/serialization failures with
// a fixed backoff. Exhausted retries surface as a DEADLOCK error, distinct
// from any business-rule failure fn returns.
func (c *Client) WithRetryableTx(ctx context.Context, level sql.IsolationLevel, fn func(tx *gorm.DB) error) error {
	backoff := retry.WithMaxRetries(uint64(c.retry.Attempts), retry.NewConstant(c.retry.Backoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if txErr := c.WithIsolatedTx(ctx, level, fn); txErr != nil {
			if IsRetryableTxError(txErr) {
				return retry.RetryableError(txErr)
			}
			return txErr
		}
		return nil
	})
	if err != nil && IsRetryableTxError(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDeadlock, err, "transaction retries exhausted")
	}
	return err
}

// Package storage holds helpers shared by the transactional store backends.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ParamigosApps/appbar-sub000/internal/domain"
)

const (
	DefaultMaxAttempts = 5

	initialRetryInterval = 10 * time.Millisecond
	maxRetryInterval     = 250 * time.Millisecond
)

// Retry runs fn until it succeeds, returns an error retryable rejects, or
// maxAttempts is spent. Exhaustion is reported as ErrTxRetriesExhausted
// wrapping the last conflict.
func Retry(ctx context.Context, maxAttempts int, retryable func(error) bool, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialRetryInterval
	exp.MaxInterval = maxRetryInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxAttempts-1)), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if err != nil && retryable(err) {
		return fmt.Errorf("%w after %d attempts: %w", domain.ErrTxRetriesExhausted, attempts, err)
	}
	return err
}

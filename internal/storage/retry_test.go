package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/ParamigosApps/appbar-sub000/internal/domain"
)

var errConflict = errors.New("conflict")

func isConflict(err error) bool { return errors.Is(err, errConflict) }

func TestRetry(t *testing.T) {
	t.Parallel()

	t.Run("succeeds after transient conflicts", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Retry(context.Background(), 5, isConflict, func() error {
			calls++
			if calls < 3 {
				return errConflict
			}
			return nil
		})
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if calls != 3 {
			t.Fatalf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Retry(context.Background(), 5, isConflict, func() error {
			calls++
			return domain.ErrPoolNotFound
		})
		if !errors.Is(err, domain.ErrPoolNotFound) {
			t.Fatalf("expected ErrPoolNotFound, got %v", err)
		}
		if calls != 1 {
			t.Fatalf("expected 1 call, got %d", calls)
		}
	})

	t.Run("reports exhaustion", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Retry(context.Background(), 3, isConflict, func() error {
			calls++
			return errConflict
		})
		if !errors.Is(err, domain.ErrTxRetriesExhausted) {
			t.Fatalf("expected ErrTxRetriesExhausted, got %v", err)
		}
		if !errors.Is(err, errConflict) {
			t.Fatalf("expected last conflict to be wrapped, got %v", err)
		}
		if calls != 3 {
			t.Fatalf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("honours cancelled context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, 5, isConflict, func() error { return errConflict })
		if err == nil {
			t.Fatalf("expected error on cancelled context")
		}
	})
}

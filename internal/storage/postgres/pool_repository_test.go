package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/ParamigosApps/appbar-sub000/internal/domain"
	"github.com/ParamigosApps/appbar-sub000/internal/testutil"
)

func TestPoolRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	testutil.ApplyMigrations(t, context.Background(), pool)
	repo := NewPoolRepository(pool)

	t.Run("GetPoolForUpdate returns pool and maps errors", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		eventID := testutil.InsertPool(t, ctx, pool, domain.Pool{TotalUnits: 100, PerUserLimit: 4})

		err := repo.WithTx(ctx, func(txCtx context.Context) error {
			p, err := repo.GetPoolForUpdate(txCtx, eventID)
			if err != nil {
				return err
			}
			if p.ID != eventID || p.TotalUnits != 100 || p.PerUserLimit != 4 {
				t.Fatalf("unexpected pool: %+v", p)
			}
			if _, err := repo.GetPoolForUpdate(txCtx, uuid.NewString()); !errors.Is(err, domain.ErrPoolNotFound) {
				t.Fatalf("expected ErrPoolNotFound, got %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("tx failed: %v", err)
		}

		if _, err := repo.GetPool(ctx, "not-a-uuid"); !errors.Is(err, domain.ErrInvalidID) {
			t.Fatalf("expected ErrInvalidID, got %v", err)
		}
	})

	t.Run("SetCommittedUnits rejects counters outside bounds", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		eventID := testutil.InsertPool(t, ctx, pool, domain.Pool{TotalUnits: 10})

		if err := repo.SetCommittedUnits(ctx, eventID, 10); err != nil {
			t.Fatalf("set committed: %v", err)
		}
		if err := repo.SetCommittedUnits(ctx, eventID, 11); !errors.Is(err, domain.ErrInvalidCapacity) {
			t.Fatalf("expected ErrInvalidCapacity above total, got %v", err)
		}
		if err := repo.SetCommittedUnits(ctx, eventID, -1); !errors.Is(err, domain.ErrInvalidCapacity) {
			t.Fatalf("expected ErrInvalidCapacity below zero, got %v", err)
		}
		if got := testutil.CommittedUnits(t, ctx, pool, eventID); got != 10 {
			t.Fatalf("expected committed 10, got %d", got)
		}
		if err := repo.SetCommittedUnits(ctx, uuid.NewString(), 1); !errors.Is(err, domain.ErrPoolNotFound) {
			t.Fatalf("expected ErrPoolNotFound, got %v", err)
		}
	})

	t.Run("quota rows are created at zero and saved", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		eventID := testutil.InsertPool(t, ctx, pool, domain.Pool{TotalUnits: 10, PerUserLimit: 4})

		err := repo.WithTx(ctx, func(txCtx context.Context) error {
			q, err := repo.GetQuotaForUpdate(txCtx, eventID, "ana")
			if err != nil {
				return err
			}
			if q.UnitsClaimed != 0 {
				t.Fatalf("expected fresh quota at zero, got %d", q.UnitsClaimed)
			}
			q.UnitsClaimed = 3
			return repo.SaveQuota(txCtx, q)
		})
		if err != nil {
			t.Fatalf("tx failed: %v", err)
		}

		q, err := repo.GetQuotaForUpdate(ctx, eventID, "ana")
		if err != nil || q.UnitsClaimed != 3 {
			t.Fatalf("expected saved quota 3, got %+v, %v", q, err)
		}
		if _, err := repo.GetQuotaForUpdate(ctx, uuid.NewString(), "ana"); !errors.Is(err, domain.ErrPoolNotFound) {
			t.Fatalf("expected ErrPoolNotFound, got %v", err)
		}
	})

	t.Run("row locks serialise concurrent increments", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		eventID := testutil.InsertPool(t, ctx, pool, domain.Pool{TotalUnits: 100})

		const workers = 20
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- repo.WithTx(ctx, func(txCtx context.Context) error {
					p, err := repo.GetPoolForUpdate(txCtx, eventID)
					if err != nil {
						return err
					}
					return repo.SetCommittedUnits(txCtx, eventID, p.CommittedUnits+1)
				})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("increment: %v", err)
			}
		}
		if got := testutil.CommittedUnits(t, ctx, pool, eventID); got != workers {
			t.Fatalf("expected %d committed, got %d", workers, got)
		}
	})
}

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ParamigosApps/appbar-sub000/internal/domain"
	"github.com/ParamigosApps/appbar-sub000/internal/testutil"
)

func TestAdminRepository_CreateAndListEvents(t *testing.T) {
	pool := testutil.NewTestPool(t)
	testutil.ApplyMigrations(t, context.Background(), pool)
	repo := NewAdminRepository(pool)

	ctx := context.Background()
	testutil.TruncateAll(t, ctx, pool)

	event := domain.Pool{
		ID:         "00000000-0000-0000-0000-000000000010",
		Kind:       domain.PoolKindEvent,
		Name:       "Fiesta",
		TotalUnits: 500,
		CreatedAt:  time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC),
	}
	if err := repo.CreatePool(ctx, event); err != nil {
		t.Fatalf("create event: %v", err)
	}
	if err := repo.CreatePool(ctx, event); !errors.Is(err, domain.ErrPoolAlreadyExists) {
		t.Fatalf("expected ErrPoolAlreadyExists, got %v", err)
	}

	events, err := repo.ListPools(ctx, "")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].ID != event.ID || events[0].Name != event.Name || events[0].ParentID != "" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestAdminRepository_CreateAndListLots(t *testing.T) {
	pool := testutil.NewTestPool(t)
	testutil.ApplyMigrations(t, context.Background(), pool)
	repo := NewAdminRepository(pool)

	ctx := context.Background()
	testutil.TruncateAll(t, ctx, pool)

	eventID := testutil.InsertPool(t, ctx, pool, domain.Pool{Kind: domain.PoolKindEvent, TotalUnits: 500})
	created := time.Now().UTC()
	for i, name := range []string{"Early", "General"} {
		lot := domain.Pool{
			ID:           uuid.NewString(),
			Kind:         domain.PoolKindLot,
			ParentID:     eventID,
			Name:         name,
			TotalUnits:   100,
			PerUserLimit: 4,
			PriceCents:   int64(4000 + i*1000),
			CreatedAt:    created.Add(time.Duration(i) * time.Second),
		}
		if err := repo.CreatePool(ctx, lot); err != nil {
			t.Fatalf("create lot: %v", err)
		}
	}

	lots, err := repo.ListPools(ctx, eventID)
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	if len(lots) != 2 || lots[0].Name != "Early" || lots[1].PriceCents != 5000 || lots[0].ParentID != eventID {
		t.Fatalf("unexpected lots: %+v", lots)
	}

	top, err := repo.ListPools(ctx, "")
	if err != nil || len(top) != 1 {
		t.Fatalf("expected lots excluded from top level, got %d, %v", len(top), err)
	}
}

func TestAdminRepository_CreatePool_Errors(t *testing.T) {
	pool := testutil.NewTestPool(t)
	testutil.ApplyMigrations(t, context.Background(), pool)
	repo := NewAdminRepository(pool)

	ctx := context.Background()
	testutil.TruncateAll(t, ctx, pool)

	tests := []struct {
		name string
		pool domain.Pool
		want error
	}{
		{
			name: "unknown parent",
			pool: domain.Pool{ID: uuid.NewString(), Kind: domain.PoolKindLot, ParentID: uuid.NewString(), Name: "Lot", TotalUnits: 10},
			want: domain.ErrPoolNotFound,
		},
		{
			name: "malformed id",
			pool: domain.Pool{ID: "not-a-uuid", Kind: domain.PoolKindEvent, Name: "Event", TotalUnits: 10},
			want: domain.ErrInvalidID,
		},
		{
			name: "zero capacity",
			pool: domain.Pool{ID: uuid.NewString(), Kind: domain.PoolKindEvent, Name: "Event"},
			want: domain.ErrInvalidCapacity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.pool.CreatedAt = time.Now().UTC()
			if err := repo.CreatePool(ctx, tt.pool); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

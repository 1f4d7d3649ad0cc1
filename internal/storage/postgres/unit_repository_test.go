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

func TestUnitRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	testutil.ApplyMigrations(t, context.Background(), pool)
	units := NewUnitRepository(pool)
	payments := NewPaymentRepository(pool)

	seed := func(t *testing.T, ctx context.Context) (eventID, lotID string) {
		t.Helper()
		testutil.TruncateAll(t, ctx, pool)
		eventID = testutil.InsertPool(t, ctx, pool, domain.Pool{Kind: domain.PoolKindEvent, TotalUnits: 100})
		lotID = testutil.InsertPool(t, ctx, pool, domain.Pool{Kind: domain.PoolKindLot, ParentID: eventID, TotalUnits: 50})
		if _, err := payments.InsertPayment(ctx, domain.PaymentRecord{
			ID:          "mp-1",
			State:       domain.PaymentApproved,
			Fulfillment: domain.FulfillmentProcessing,
			Kind:        domain.UnitKindTicket,
			UserID:      "ana",
			Items:       []domain.LineItem{{PoolID: lotID, Quantity: 3}},
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			t.Fatalf("insert payment: %v", err)
		}
		return eventID, lotID
	}

	ticket := func(eventID, lotID string) domain.Unit {
		return domain.Unit{
			ID:        uuid.NewString(),
			Kind:      domain.UnitKindTicket,
			OwnerID:   "mp-1",
			UserID:    "ana",
			PoolID:    lotID,
			ScopeID:   eventID,
			Quantity:  1,
			Token:     "ABCDEFGHIJKL",
			State:     domain.UnitApproved,
			CreatedAt: time.Now().UTC(),
		}
	}

	t.Run("InsertUnits writes a chunk and counts per pool", func(t *testing.T) {
		ctx := context.Background()
		eventID, lotID := seed(t, ctx)

		chunk := []domain.Unit{ticket(eventID, lotID), ticket(eventID, lotID), ticket(eventID, lotID)}
		if err := units.InsertUnits(ctx, chunk); err != nil {
			t.Fatalf("insert units: %v", err)
		}

		counts, err := units.CountUnitsByOwner(ctx, "mp-1")
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if counts[lotID] != 3 {
			t.Fatalf("expected 3 units for lot, got %v", counts)
		}

		listed, err := units.ListUnitsByOwner(ctx, "mp-1")
		if err != nil || len(listed) != 3 {
			t.Fatalf("expected 3 listed units, got %d, %v", len(listed), err)
		}
		if listed[0].ScopeID != eventID || listed[0].Token != "ABCDEFGHIJKL" {
			t.Fatalf("unexpected unit: %+v", listed[0])
		}
	})

	t.Run("a failing chunk writes nothing", func(t *testing.T) {
		ctx := context.Background()
		eventID, lotID := seed(t, ctx)

		first := ticket(eventID, lotID)
		dup := first
		if err := units.InsertUnits(ctx, []domain.Unit{first, ticket(eventID, lotID), dup}); !errors.Is(err, domain.ErrIdempotencyConflict) {
			t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
		}

		counts, err := units.CountUnitsByOwner(ctx, "mp-1")
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if len(counts) != 0 {
			t.Fatalf("expected chunk rolled back, got %v", counts)
		}
	})

	t.Run("orders keep their items", func(t *testing.T) {
		ctx := context.Background()
		eventID, _ := seed(t, ctx)
		productID := testutil.InsertPool(t, ctx, pool, domain.Pool{Kind: domain.PoolKindProduct, ParentID: eventID, TotalUnits: 24})

		order := domain.Unit{
			ID:        uuid.NewString(),
			Kind:      domain.UnitKindOrder,
			OwnerID:   "mp-1",
			UserID:    "ana",
			PoolID:    productID,
			ScopeID:   eventID,
			Quantity:  5,
			Items:     []domain.LineItem{{PoolID: productID, Quantity: 5}},
			Token:     "MNOPQRSTUVWX",
			State:     domain.UnitPaid,
			CreatedAt: time.Now().UTC(),
		}
		if err := units.InsertUnits(ctx, []domain.Unit{order}); err != nil {
			t.Fatalf("insert order: %v", err)
		}

		got, err := units.GetUnit(ctx, order.ID)
		if err != nil {
			t.Fatalf("get unit: %v", err)
		}
		if got.Kind != domain.UnitKindOrder || len(got.Items) != 1 || got.Items[0].Quantity != 5 {
			t.Fatalf("unexpected order: %+v", got)
		}
	})

	t.Run("TransitionUnit consumes once", func(t *testing.T) {
		ctx := context.Background()
		eventID, lotID := seed(t, ctx)
		u := ticket(eventID, lotID)
		if err := units.InsertUnits(ctx, []domain.Unit{u}); err != nil {
			t.Fatalf("insert: %v", err)
		}

		now := time.Now().UTC()
		ok, err := units.TransitionUnit(ctx, u.ID, domain.UnitApproved, domain.UnitUsed, now)
		if err != nil || !ok {
			t.Fatalf("expected first redemption, got %v, %v", ok, err)
		}
		ok, err = units.TransitionUnit(ctx, u.ID, domain.UnitApproved, domain.UnitUsed, now)
		if err != nil || ok {
			t.Fatalf("expected second redemption to lose, got %v, %v", ok, err)
		}

		got, err := units.GetUnitForUpdate(ctx, u.ID)
		if err != nil {
			t.Fatalf("get unit: %v", err)
		}
		if got.State != domain.UnitUsed || got.ConsumedAt == nil {
			t.Fatalf("expected consumed unit, got %+v", got)
		}
	})

	t.Run("GetUnit maps unknown and malformed ids to not found", func(t *testing.T) {
		ctx := context.Background()
		seed(t, ctx)

		for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
			if _, err := units.GetUnit(ctx, id); !errors.Is(err, domain.ErrUnitNotFound) {
				t.Fatalf("expected ErrUnitNotFound for %q, got %v", id, err)
			}
		}
	})
}

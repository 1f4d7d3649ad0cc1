package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ParamigosApps/appbar-sub000/internal/domain"
	"github.com/ParamigosApps/appbar-sub000/internal/token"
)

func issueTicket(t *testing.T, h *harness) (domain.Pool, domain.Unit) {
	t.Helper()
	event := h.event(t, 100, 0)
	lot := h.lot(t, event.ID, 50, 0)
	units := h.fulfill(t, "mp-ticket", domain.UnitKindTicket, "u1", domain.LineItem{PoolID: lot.ID, Quantity: 1})
	return event, units[0]
}

func TestRedemptionService_Redeem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("ticket is used once", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		event, ticket := issueTicket(t, h)

		got, err := h.redemption.Redeem(ctx, RedeemInput{UnitID: ticket.ID, Token: ticket.Token, ExpectedScopeID: event.ID})
		if err != nil {
			t.Fatalf("redeem: %v", err)
		}
		if got.State != domain.UnitUsed || got.ConsumedAt == nil {
			t.Fatalf("expected used ticket, got %+v", got)
		}

		_, err = h.redemption.Redeem(ctx, RedeemInput{UnitID: ticket.ID, Token: ticket.Token, ExpectedScopeID: event.ID})
		if !errors.Is(err, domain.ErrTicketAlreadyUsed) || !errors.Is(err, domain.ErrAlreadyConsumed) {
			t.Fatalf("expected ErrTicketAlreadyUsed, got %v", err)
		}
	})

	t.Run("order is retrieved once", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		event := h.event(t, 100, 0)
		fernet := h.product(t, event.ID, 10)
		order := h.fulfill(t, "mp-order", domain.UnitKindOrder, "u1", domain.LineItem{PoolID: fernet.ID, Quantity: 2})[0]

		got, err := h.redemption.Redeem(ctx, RedeemInput{Kind: domain.UnitKindOrder, UnitID: order.ID, Token: order.Token, ExpectedScopeID: event.ID})
		if err != nil {
			t.Fatalf("redeem: %v", err)
		}
		if got.State != domain.UnitRetrieved {
			t.Fatalf("expected retirado, got %s", got.State)
		}
		_, err = h.redemption.Redeem(ctx, RedeemInput{Kind: domain.UnitKindOrder, UnitID: order.ID, Token: order.Token, ExpectedScopeID: event.ID})
		if !errors.Is(err, domain.ErrOrderAlreadyRetrieved) {
			t.Fatalf("expected ErrOrderAlreadyRetrieved, got %v", err)
		}
	})

	t.Run("rejections leave unit untouched", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		event, ticket := issueTicket(t, h)
		other := h.event(t, 10, 0)

		flipped := []byte(ticket.Token)
		if flipped[0] == 'A' {
			flipped[0] = 'B'
		} else {
			flipped[0] = 'A'
		}

		tests := []struct {
			name string
			in   RedeemInput
			want error
		}{
			{"tampered token", RedeemInput{UnitID: ticket.ID, Token: string(flipped), ExpectedScopeID: event.ID}, domain.ErrTamperedToken},
			{"empty token", RedeemInput{UnitID: ticket.ID, ExpectedScopeID: event.ID}, domain.ErrTamperedToken},
			{"wrong scope", RedeemInput{UnitID: ticket.ID, Token: ticket.Token, ExpectedScopeID: other.ID}, domain.ErrScopeMismatch},
			{"wrong kind", RedeemInput{Kind: domain.UnitKindOrder, UnitID: ticket.ID, Token: ticket.Token, ExpectedScopeID: event.ID}, domain.ErrUnitNotFound},
			{"unknown unit", RedeemInput{UnitID: "missing", Token: ticket.Token, ExpectedScopeID: event.ID}, domain.ErrUnitNotFound},
			{"missing scope", RedeemInput{UnitID: ticket.ID, Token: ticket.Token}, domain.ErrInvalidID},
		}
		for _, tt := range tests {
			if _, err := h.redemption.Redeem(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, err)
			}
		}

		stored, err := h.store.GetUnit(ctx, ticket.ID)
		if err != nil {
			t.Fatalf("get unit: %v", err)
		}
		if stored.State != domain.UnitApproved {
			t.Fatalf("expected ticket still redeemable, got %s", stored.State)
		}
	})

	t.Run("unconfirmed unit", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		event := h.event(t, 10, 0)
		u := domain.Unit{ID: "unit-1", Kind: domain.UnitKindTicket, OwnerID: "mp-x", PoolID: event.ID, ScopeID: event.ID, Quantity: 1, State: domain.UnitPending}
		u.Token = h.signer.Sign(u.ID, u.ScopeID)
		if err := h.store.InsertUnits(ctx, []domain.Unit{u}); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if _, err := h.redemption.Redeem(ctx, RedeemInput{UnitID: u.ID, Token: u.Token, ExpectedScopeID: event.ID}); !errors.Is(err, domain.ErrNotYetConfirmed) {
			t.Fatalf("expected ErrNotYetConfirmed, got %v", err)
		}
	})
}

func TestRedemptionService_ConcurrentRedeem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	event, ticket := issueTicket(t, h)

	const scanners = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		consumed int
	)
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.redemption.Redeem(ctx, RedeemInput{UnitID: ticket.ID, Token: ticket.Token, ExpectedScopeID: event.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrAlreadyConsumed):
				consumed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || consumed != scanners-1 {
		t.Fatalf("expected one success and %d already consumed, got %d and %d", scanners-1, ok, consumed)
	}
}

func TestRedemptionService_RedeemCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	event, ticket := issueTicket(t, h)

	raw := token.FormatCode(domain.UnitKindTicket, ticket.ID, ticket.Token)
	got, err := h.redemption.RedeemCode(ctx, raw, event.ID)
	if err != nil {
		t.Fatalf("redeem code: %v", err)
	}
	if got.ID != ticket.ID || got.State != domain.UnitUsed {
		t.Fatalf("unexpected unit %+v", got)
	}

	if _, err := h.redemption.RedeemCode(ctx, "not a code", event.ID); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
}

package domain

import (
	"errors"
	"testing"
	"time"
)

func TestMapProviderStatus(t *testing.T) {
	t.Parallel()

	tests := map[string]PaymentState{
		"approved":   PaymentApproved,
		"APPROVED":   PaymentApproved,
		"rejected":   PaymentRejected,
		"cancelled":  PaymentRejected,
		"pending":    PaymentPending,
		"in_process": PaymentPending,
		"":           PaymentPending,
	}
	for in, want := range tests {
		if got := MapProviderStatus(in); got != want {
			t.Fatalf("MapProviderStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestUnit_RedeemTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		unit    Unit
		want    UnitState
		wantErr error
	}{
		{name: "approved ticket", unit: Unit{Kind: UnitKindTicket, State: UnitApproved}, want: UnitUsed},
		{name: "paid order", unit: Unit{Kind: UnitKindOrder, State: UnitPaid}, want: UnitRetrieved},
		{name: "used ticket", unit: Unit{Kind: UnitKindTicket, State: UnitUsed}, wantErr: ErrTicketAlreadyUsed},
		{name: "retrieved order", unit: Unit{Kind: UnitKindOrder, State: UnitRetrieved}, wantErr: ErrOrderAlreadyRetrieved},
		{name: "expired", unit: Unit{Kind: UnitKindTicket, State: UnitExpired}, wantErr: ErrUnitExpired},
		{name: "rejected", unit: Unit{Kind: UnitKindTicket, State: UnitRejected}, wantErr: ErrUnitRejected},
		{name: "pending", unit: Unit{Kind: UnitKindOrder, State: UnitPending}, wantErr: ErrNotYetConfirmed},
		{name: "ticket in order state", unit: Unit{Kind: UnitKindTicket, State: UnitPaid}, wantErr: ErrInvalidUnitState},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.unit.RedeemTransition()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestAlreadyConsumedReasonsAreDistinct(t *testing.T) {
	t.Parallel()

	if !errors.Is(ErrTicketAlreadyUsed, ErrAlreadyConsumed) || !errors.Is(ErrOrderAlreadyRetrieved, ErrAlreadyConsumed) {
		t.Fatalf("expected consumed reasons to wrap ErrAlreadyConsumed")
	}
	if errors.Is(ErrTicketAlreadyUsed, ErrOrderAlreadyRetrieved) {
		t.Fatalf("expected ticket and order reasons to differ")
	}
}

func TestPaymentRecord_LeaseLive(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)
	fresh := now.Add(-90 * time.Second)
	stale := now.Add(-3 * time.Minute)

	if !(PaymentRecord{Processing: true, LeaseAcquiredAt: &fresh}).LeaseLive(now, 2*time.Minute) {
		t.Fatalf("expected fresh lease to be live")
	}
	if (PaymentRecord{Processing: true, LeaseAcquiredAt: &stale}).LeaseLive(now, 2*time.Minute) {
		t.Fatalf("expected stale lease to be retakeable")
	}
	if (PaymentRecord{Processing: false, LeaseAcquiredAt: &fresh}).LeaseLive(now, 2*time.Minute) {
		t.Fatalf("expected released lease to be free")
	}
}

func TestCapacityError_Unwraps(t *testing.T) {
	t.Parallel()

	err := error(&CapacityError{PoolID: "lot-1", Requested: 3, Available: 1, Err: ErrInsufficientPoolCapacity})
	if !errors.Is(err, ErrInsufficientPoolCapacity) {
		t.Fatalf("expected errors.Is to match sentinel")
	}
	var capErr *CapacityError
	if !errors.As(err, &capErr) || capErr.Available != 1 {
		t.Fatalf("expected errors.As to expose details, got %+v", capErr)
	}
}

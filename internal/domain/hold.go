package domain

import "time"

type HoldStatus string

const (
	HoldStatusPending   HoldStatus = "pending"
	HoldStatusConfirmed HoldStatus = "confirmed"
	HoldStatusExpired   HoldStatus = "expired"
	HoldStatusCancelled HoldStatus = "cancelled"
)

type HoldKind string

const (
	// HoldKindPaid backs an unpaid ticket purchase awaiting the provider callback.
	HoldKindPaid HoldKind = "paid"
	// HoldKindFree backs a free-ticket request awaiting organizer confirmation.
	HoldKindFree HoldKind = "free"
	// HoldKindOrder backs a bar order against product stock.
	HoldKindOrder HoldKind = "order"
)

func (k HoldKind) Valid() bool {
	switch k {
	case HoldKindPaid, HoldKindFree, HoldKindOrder:
		return true
	}
	return false
}

// Hold represents reserved capacity for a limited time.
type Hold struct {
	ID             string
	PoolID         string
	UserID         string
	Kind           HoldKind
	Quantity       int
	Status         HoldStatus
	IdempotencyKey string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	ResolvedAt     *time.Time
}

// DueForExpiry reports whether a pending hold has outlived its TTL at now.
func (h Hold) DueForExpiry(now time.Time) bool {
	return h.Status == HoldStatusPending && !h.ExpiresAt.After(now)
}

// StatusError maps a non-pending status to the error a transition attempt reports.
func (h Hold) StatusError() error {
	switch h.Status {
	case HoldStatusConfirmed:
		return ErrHoldAlreadyConfirmed
	case HoldStatusExpired:
		return ErrHoldExpired
	case HoldStatusCancelled:
		return ErrHoldCancelled
	}
	return nil
}

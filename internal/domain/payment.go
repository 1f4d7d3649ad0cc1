package domain

import (
	"strings"
	"time"
)

// PaymentState is the derived state of a provider payment. The names follow
// the values stored by the storefront.
type PaymentState string

const (
	PaymentPending  PaymentState = "pendiente"
	PaymentApproved PaymentState = "aprobado"
	PaymentRejected PaymentState = "rechazado"
	PaymentError    PaymentState = "error"
)

func (s PaymentState) Terminal() bool {
	return s == PaymentApproved || s == PaymentRejected || s == PaymentError
}

// MapProviderStatus derives the payment state from a raw provider status.
// Anything not recognised stays pending.
func MapProviderStatus(status string) PaymentState {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved":
		return PaymentApproved
	case "rejected", "cancelled":
		return PaymentRejected
	default:
		return PaymentPending
	}
}

// FulfillmentFlag is the idempotency guard for unit generation. Stored
// values are "false", "processing", "true" and "error".
type FulfillmentFlag string

const (
	FulfillmentNone       FulfillmentFlag = "false"
	FulfillmentProcessing FulfillmentFlag = "processing"
	FulfillmentDone       FulfillmentFlag = "true"
	FulfillmentFailed     FulfillmentFlag = "error"
)

type LineItem struct {
	PoolID   string `json:"pool_id"`
	Quantity int    `json:"quantity"`
}

// PaymentRecord is created on pre-registration or first notification and is
// never deleted. Only the payment processor and the fulfillment generator
// write to it.
type PaymentRecord struct {
	ID             string
	ExternalStatus string
	State          PaymentState

	Processing      bool
	LeaseAcquiredAt *time.Time

	Fulfillment          FulfillmentFlag
	FulfillmentStartedAt *time.Time
	FulfillmentError     string
	CapacityCommitted    bool

	Kind   UnitKind
	UserID string
	HoldID string
	Items  []LineItem

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LeaseLive reports whether another worker holds a lease younger than timeout.
func (p PaymentRecord) LeaseLive(now time.Time, timeout time.Duration) bool {
	if !p.Processing || p.LeaseAcquiredAt == nil {
		return false
	}
	return now.Sub(*p.LeaseAcquiredAt) < timeout
}

// FulfillmentLive reports whether a "processing" flag is younger than timeout.
func (p PaymentRecord) FulfillmentLive(now time.Time, timeout time.Duration) bool {
	if p.Fulfillment != FulfillmentProcessing || p.FulfillmentStartedAt == nil {
		return false
	}
	return now.Sub(*p.FulfillmentStartedAt) < timeout
}

func (p PaymentRecord) TotalQuantity() int {
	total := 0
	for _, it := range p.Items {
		total += it.Quantity
	}
	return total
}

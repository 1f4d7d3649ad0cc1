package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidID              = errors.New("invalid id")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInvalidCapacity        = errors.New("invalid capacity")
	ErrInvalidUser            = errors.New("user id required")
	ErrNameRequired           = errors.New("name required")
	ErrInvalidKind            = errors.New("invalid kind")
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
	ErrIdempotencyConflict    = errors.New("idempotency conflict")

	ErrPoolNotFound             = errors.New("pool not found")
	ErrPoolAlreadyExists        = errors.New("pool already exists")
	ErrInvalidPoolParent        = errors.New("invalid pool parent")
	ErrInsufficientPoolCapacity = errors.New("insufficient pool capacity")
	ErrUserLimitExceeded        = errors.New("user limit exceeded")

	ErrHoldNotFound         = errors.New("hold not found")
	ErrHoldExpired          = errors.New("hold expired")
	ErrHoldAlreadyConfirmed = errors.New("hold already confirmed")
	ErrHoldCancelled        = errors.New("hold cancelled")
	ErrHoldNotFree          = errors.New("hold is not a free-ticket request")
	ErrHoldOwnerMismatch    = errors.New("hold belongs to another user")

	ErrPaymentNotFound       = errors.New("payment not found")
	ErrInvalidPaymentPayload = errors.New("invalid payment payload")
	ErrLeaseContention       = errors.New("payment is being processed by another worker")
	ErrPaymentNotRetryable   = errors.New("payment fulfillment is not in error")

	ErrFulfillmentInProgress = errors.New("fulfillment already in progress")
	ErrFulfillmentBlocked    = errors.New("fulfillment previously failed; operator retry required")
	ErrMixedOrderScope       = errors.New("order items span more than one scope")

	ErrTamperedToken    = errors.New("tampered token")
	ErrInvalidCode      = errors.New("unrecognized redemption code")
	ErrUnitNotFound     = errors.New("unit not found")
	ErrScopeMismatch    = errors.New("unit belongs to a different scope")
	ErrAlreadyConsumed  = errors.New("unit already consumed")
	ErrNotYetConfirmed  = errors.New("unit not yet confirmed")
	ErrUnitExpired      = errors.New("unit expired")
	ErrUnitRejected     = errors.New("unit rejected")
	ErrInvalidUnitState = errors.New("invalid unit state")

	ErrTicketAlreadyUsed     = fmt.Errorf("%w: ticket already used", ErrAlreadyConsumed)
	ErrOrderAlreadyRetrieved = fmt.Errorf("%w: order already retrieved", ErrAlreadyConsumed)
	ErrHoldItemsMismatch     = fmt.Errorf("%w: items differ from the hold", ErrInvalidQuantity)

	ErrTxRetriesExhausted = errors.New("transaction retries exhausted")
)

// CapacityError reports a terminal reservation failure on a specific pool.
// Callers must not retry with the same quantity.
type CapacityError struct {
	PoolID    string
	Requested int
	Available int
	Err       error
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%v: pool %s requested %d available %d", e.Err, e.PoolID, e.Requested, e.Available)
}

func (e *CapacityError) Unwrap() error { return e.Err }

// FulfillmentError is recorded on the payment when unit generation fails.
// Created counts units flushed before the failure; they are not rolled back.
type FulfillmentError struct {
	PaymentID string
	Created   int
	Err       error
}

func (e *FulfillmentError) Error() string {
	return fmt.Sprintf("fulfillment for payment %s failed after %d units: %v", e.PaymentID, e.Created, e.Err)
}

func (e *FulfillmentError) Unwrap() error { return e.Err }

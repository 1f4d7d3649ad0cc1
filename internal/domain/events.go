package domain

import "time"

// Event is a fact published to downstream consumers after commit.
type Event interface {
	EventName() string
	EventKey() string
}

// UnitsIssuedEvent is published after a payment's units are materialized.
// Mail delivery and reporting consume it.
type UnitsIssuedEvent struct {
	PaymentID  string    `json:"payment_id"`
	UserID     string    `json:"user_id"`
	Kind       UnitKind  `json:"kind"`
	UnitIDs    []string  `json:"unit_ids"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (UnitsIssuedEvent) EventName() string { return "units.issued" }

func (e UnitsIssuedEvent) EventKey() string { return e.PaymentID }

func NewUnitsIssuedEvent(p PaymentRecord, unitIDs []string, now time.Time) UnitsIssuedEvent {
	return UnitsIssuedEvent{
		PaymentID:  p.ID,
		UserID:     p.UserID,
		Kind:       p.Kind,
		UnitIDs:    unitIDs,
		OccurredAt: now.UTC(),
	}
}

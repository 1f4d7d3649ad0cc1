package domain

import "time"

type UnitKind string

const (
	UnitKindTicket UnitKind = "ticket"
	UnitKindOrder  UnitKind = "order"
)

func (k UnitKind) Valid() bool {
	return k == UnitKindTicket || k == UnitKindOrder
}

type UnitState string

const (
	// Tickets: pendiente -> aprobada -> usado.
	UnitPending  UnitState = "pendiente"
	UnitApproved UnitState = "aprobada"
	UnitUsed     UnitState = "usado"
	// Orders: pendiente -> pagado -> retirado.
	UnitPaid      UnitState = "pagado"
	UnitRetrieved UnitState = "retirado"
	// Failure states reachable from pendiente.
	UnitRejected UnitState = "rechazada"
	UnitExpired  UnitState = "expirado"
)

// Unit is a redeemable ticket or paid bar order.
type Unit struct {
	ID         string
	Kind       UnitKind
	OwnerID    string
	UserID     string
	PoolID     string
	ScopeID    string
	Quantity   int
	Items      []LineItem
	Token      string
	State      UnitState
	CreatedAt  time.Time
	ConsumedAt *time.Time
}

// IssuedState is the state a freshly fulfilled unit of kind k starts in.
func IssuedState(k UnitKind) UnitState {
	if k == UnitKindOrder {
		return UnitPaid
	}
	return UnitApproved
}

// RedeemTransition returns the state a redemption moves the unit to, or the
// specific reason it cannot be redeemed.
func (u Unit) RedeemTransition() (UnitState, error) {
	switch u.State {
	case UnitUsed:
		return "", ErrTicketAlreadyUsed
	case UnitRetrieved:
		return "", ErrOrderAlreadyRetrieved
	case UnitExpired:
		return "", ErrUnitExpired
	case UnitRejected:
		return "", ErrUnitRejected
	case UnitPending:
		return "", ErrNotYetConfirmed
	case UnitApproved:
		if u.Kind == UnitKindTicket {
			return UnitUsed, nil
		}
	case UnitPaid:
		if u.Kind == UnitKindOrder {
			return UnitRetrieved, nil
		}
	}
	return "", ErrInvalidUnitState
}

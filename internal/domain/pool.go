package domain

import "time"

type PoolKind string

const (
	PoolKindEvent   PoolKind = "event"
	PoolKindLot     PoolKind = "lot"
	PoolKindProduct PoolKind = "product"
)

func (k PoolKind) Valid() bool {
	switch k {
	case PoolKindEvent, PoolKindLot, PoolKindProduct:
		return true
	}
	return false
}

// Pool is a capacity counter scope: an event, one of its priced lots, or a
// stock-backed bar product. A lot's ParentID is its event; reserving on a lot
// also reserves on the event.
type Pool struct {
	ID             string
	Kind           PoolKind
	ParentID       string
	Name           string
	TotalUnits     int
	CommittedUnits int
	// PerUserLimit of zero means unlimited.
	PerUserLimit int
	PriceCents   int64
	CreatedAt    time.Time
}

func (p Pool) Available() int {
	return p.TotalUnits - p.CommittedUnits
}

// ScopeID is the id units allocated from this pool are redeemable against.
func (p Pool) ScopeID() string {
	if p.ParentID != "" {
		return p.ParentID
	}
	return p.ID
}

// UserQuota tracks how many units a user has claimed from one pool.
type UserQuota struct {
	PoolID       string
	UserID       string
	UnitsClaimed int
}

// Reservation is the result of a successful ledger reserve.
type Reservation struct {
	PoolID   string
	UserID   string
	Quantity int
	// Chain lists every pool that was debited, leaf first.
	Chain      []string
	ReservedAt time.Time
}

package app

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ParamigosApps/appbar-sub000/internal/clock"
	"github.com/ParamigosApps/appbar-sub000/internal/domain"
	"github.com/ParamigosApps/appbar-sub000/internal/logging"
)

type PoolRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetPool(ctx context.Context, id string) (domain.Pool, error)
	GetPoolForUpdate(ctx context.Context, id string) (domain.Pool, error)
	SetCommittedUnits(ctx context.Context, poolID string, committed int) error
	GetQuotaForUpdate(ctx context.Context, poolID, userID string) (domain.UserQuota, error)
	SaveQuota(ctx context.Context, q domain.UserQuota) error
}

// Ledger owns pool counters and per-user quotas. Every mutation locks the
// pool chain (lot, then its event) inside one transaction.
type Ledger struct {
	repo  PoolRepository
	clock clock.Clock
	deps
}

func NewLedger(repo PoolRepository, clk clock.Clock, opts ...Option) *Ledger {
	return &Ledger{
		repo:  repo,
		clock: clk,
		deps:  newDeps(opts),
	}
}

type ReserveInput struct {
	PoolID   string
	UserID   string
	Quantity int
	// PerUserLimit tightens the leaf pool's stored limit when positive. It
	// never loosens it.
	PerUserLimit int
}

// Reserve debits quantity from the pool and its parent and claims it for the
// user. Failures are *domain.CapacityError and must not be retried with the
// same quantity.
func (l *Ledger) Reserve(ctx context.Context, in ReserveInput) (res domain.Reservation, err error) {
	if in.Quantity <= 0 || in.PerUserLimit < 0 {
		return domain.Reservation{}, domain.ErrInvalidQuantity
	}
	if in.UserID == "" {
		return domain.Reservation{}, domain.ErrInvalidUser
	}

	ctx, span := l.startSpan(ctx, "ledger.reserve",
		attribute.String("pool.id", in.PoolID),
		attribute.Int("quantity", in.Quantity),
	)
	defer func() {
		l.metrics.Reservation(reservationOutcome(err))
		endSpan(span, err)
	}()

	err = l.repo.WithTx(ctx, func(txCtx context.Context) error {
		chain, err := l.lockChain(txCtx, in.PoolID)
		if err != nil {
			return err
		}

		quotas := make([]domain.UserQuota, len(chain))
		for i, p := range chain {
			if p.Available() < in.Quantity {
				return &domain.CapacityError{
					PoolID:    p.ID,
					Requested: in.Quantity,
					Available: p.Available(),
					Err:       domain.ErrInsufficientPoolCapacity,
				}
			}

			limit := p.PerUserLimit
			if i == 0 && in.PerUserLimit > 0 && (limit == 0 || in.PerUserLimit < limit) {
				limit = in.PerUserLimit
			}
			q, err := l.repo.GetQuotaForUpdate(txCtx, p.ID, in.UserID)
			if err != nil {
				return err
			}
			if limit > 0 && q.UnitsClaimed+in.Quantity > limit {
				return &domain.CapacityError{
					PoolID:    p.ID,
					Requested: in.Quantity,
					Available: max(limit-q.UnitsClaimed, 0),
					Err:       domain.ErrUserLimitExceeded,
				}
			}
			quotas[i] = q
		}

		ids := make([]string, len(chain))
		for i, p := range chain {
			if err := l.repo.SetCommittedUnits(txCtx, p.ID, p.CommittedUnits+in.Quantity); err != nil {
				return err
			}
			quotas[i].UnitsClaimed += in.Quantity
			if err := l.repo.SaveQuota(txCtx, quotas[i]); err != nil {
				return err
			}
			ids[i] = p.ID
		}

		res = domain.Reservation{
			PoolID:     in.PoolID,
			UserID:     in.UserID,
			Quantity:   in.Quantity,
			Chain:      ids,
			ReservedAt: l.clock.Now(),
		}
		return nil
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}

type ReleaseInput struct {
	PoolID   string
	UserID   string
	Quantity int
}

// Release returns quantity to the pool chain and the user's quota. Counters
// never go below zero; an underflow is clamped and reported.
func (l *Ledger) Release(ctx context.Context, in ReleaseInput) (err error) {
	if in.Quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	ctx, span := l.startSpan(ctx, "ledger.release",
		attribute.String("pool.id", in.PoolID),
		attribute.Int("quantity", in.Quantity),
	)
	defer func() { endSpan(span, err) }()

	return l.repo.WithTx(ctx, func(txCtx context.Context) error {
		chain, err := l.lockChain(txCtx, in.PoolID)
		if err != nil {
			return err
		}
		for _, p := range chain {
			committed := p.CommittedUnits - in.Quantity
			if committed < 0 {
				l.invariantViolation(txCtx, p.ID, "committed_units", p.CommittedUnits, in.Quantity)
				committed = 0
			}
			if err := l.repo.SetCommittedUnits(txCtx, p.ID, committed); err != nil {
				return err
			}

			if in.UserID == "" {
				continue
			}
			q, err := l.repo.GetQuotaForUpdate(txCtx, p.ID, in.UserID)
			if err != nil {
				return err
			}
			claimed := q.UnitsClaimed - in.Quantity
			if claimed < 0 {
				l.invariantViolation(txCtx, p.ID, "units_claimed", q.UnitsClaimed, in.Quantity)
				claimed = 0
			}
			q.UnitsClaimed = claimed
			if err := l.repo.SaveQuota(txCtx, q); err != nil {
				return err
			}
		}
		return nil
	})
}

// Availability returns the current counters of one pool.
func (l *Ledger) Availability(ctx context.Context, poolID string) (domain.Pool, error) {
	if poolID == "" {
		return domain.Pool{}, domain.ErrInvalidID
	}
	return l.repo.GetPool(ctx, poolID)
}

// lockChain locks the leaf pool and, for lots, the parent event. Locks are
// always taken leaf first.
func (l *Ledger) lockChain(ctx context.Context, poolID string) ([]domain.Pool, error) {
	if poolID == "" {
		return nil, domain.ErrInvalidID
	}
	leaf, err := l.repo.GetPoolForUpdate(ctx, poolID)
	if err != nil {
		return nil, err
	}
	chain := []domain.Pool{leaf}
	if leaf.Kind == domain.PoolKindLot && leaf.ParentID != "" {
		parent, err := l.repo.GetPoolForUpdate(ctx, leaf.ParentID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, parent)
	}
	return chain, nil
}

func (l *Ledger) invariantViolation(ctx context.Context, poolID, counter string, current, release int) {
	l.metrics.InvariantViolation()
	logging.FromContext(ctx, l.logger).Error("capacity_invariant_violation",
		zap.String("pool_id", poolID),
		zap.String("counter", counter),
		zap.Int("current", current),
		zap.Int("release", release),
	)
}

func reservationOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInsufficientPoolCapacity):
		return "insufficient_capacity"
	case errors.Is(err, domain.ErrUserLimitExceeded):
		return "user_limit"
	default:
		return "error"
	}
}

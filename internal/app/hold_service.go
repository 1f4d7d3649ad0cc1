package app

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ParamigosApps/appbar-sub000/internal/clock"
	"github.com/ParamigosApps/appbar-sub000/internal/config"
	"github.com/ParamigosApps/appbar-sub000/internal/domain"
	"github.com/ParamigosApps/appbar-sub000/internal/logging"
)

type HoldRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	FindHoldByIdempotencyKey(ctx context.Context, poolID, key string) (*domain.Hold, error)
	CreateHold(ctx context.Context, hold domain.Hold) error
	GetHold(ctx context.Context, id string) (domain.Hold, error)
	GetHoldForUpdate(ctx context.Context, id string) (domain.Hold, error)
	TransitionHold(ctx context.Context, id string, from, to domain.HoldStatus, at time.Time) (bool, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error)
}

// HoldService manages time-bounded claims on capacity. Every status change
// is a compare-and-set from pending, so confirmation, cancellation and expiry
// of one hold have exactly one winner.
type HoldService struct {
	repo    HoldRepository
	ledger  *Ledger
	clock   clock.Clock
	holdTTL time.Duration
	deps
}

func NewHoldService(repo HoldRepository, ledger *Ledger, clk clock.Clock, cfg config.Engine, opts ...Option) *HoldService {
	ttl := cfg.HoldTTL
	if ttl <= 0 {
		ttl = config.DefaultEngine().HoldTTL
	}
	return &HoldService{
		repo:    repo,
		ledger:  ledger,
		clock:   clk,
		holdTTL: ttl,
		deps:    newDeps(opts),
	}
}

type CreateHoldInput struct {
	PoolID         string
	UserID         string
	Kind           domain.HoldKind
	Quantity       int
	PerUserLimit   int
	IdempotencyKey string
}

func (s *HoldService) CreateHold(ctx context.Context, in CreateHoldInput) (result domain.Hold, err error) {
	if in.Quantity <= 0 {
		return domain.Hold{}, domain.ErrInvalidQuantity
	}
	if in.IdempotencyKey == "" {
		return domain.Hold{}, domain.ErrIdempotencyKeyRequired
	}
	if in.UserID == "" {
		return domain.Hold{}, domain.ErrInvalidUser
	}
	if in.Kind == "" {
		in.Kind = domain.HoldKindPaid
	}
	if !in.Kind.Valid() {
		return domain.Hold{}, domain.ErrInvalidKind
	}

	ctx, span := s.startSpan(ctx, "holds.create",
		attribute.String("pool.id", in.PoolID),
		attribute.Int("quantity", in.Quantity),
	)
	defer func() { endSpan(span, err) }()

	now := s.clock.Now()
	created := false

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if existing, err := s.repo.FindHoldByIdempotencyKey(txCtx, in.PoolID, in.IdempotencyKey); err != nil {
			return err
		} else if existing != nil {
			if existing.Quantity != in.Quantity {
				return domain.ErrIdempotencyConflict
			}
			result = *existing
			return nil
		}

		if _, err := s.ledger.Reserve(txCtx, ReserveInput{
			PoolID:       in.PoolID,
			UserID:       in.UserID,
			Quantity:     in.Quantity,
			PerUserLimit: in.PerUserLimit,
		}); err != nil {
			return err
		}

		hold := domain.Hold{
			ID:             newUUID(),
			PoolID:         in.PoolID,
			UserID:         in.UserID,
			Kind:           in.Kind,
			Quantity:       in.Quantity,
			Status:         domain.HoldStatusPending,
			IdempotencyKey: in.IdempotencyKey,
			CreatedAt:      now,
			ExpiresAt:      now.Add(s.holdTTL),
		}
		if err := s.repo.CreateHold(txCtx, hold); err != nil {
			return err
		}
		result = hold
		created = true
		return nil
	})
	if errors.Is(err, domain.ErrIdempotencyConflict) {
		// A concurrent request with the same key won the insert; its
		// reservation stands and ours was rolled back.
		existing, findErr := s.repo.FindHoldByIdempotencyKey(ctx, in.PoolID, in.IdempotencyKey)
		if findErr != nil {
			return domain.Hold{}, findErr
		}
		if existing != nil && existing.Quantity == in.Quantity {
			return *existing, nil
		}
		return domain.Hold{}, domain.ErrIdempotencyConflict
	}
	if err != nil {
		return domain.Hold{}, err
	}
	if created {
		s.metrics.HoldTransition(string(domain.HoldStatusPending))
	}
	return result, nil
}

// GetHold returns the hold, expiring it first when its TTL has passed.
func (s *HoldService) GetHold(ctx context.Context, id string) (domain.Hold, error) {
	if id == "" {
		return domain.Hold{}, domain.ErrInvalidID
	}
	h, err := s.repo.GetHold(ctx, id)
	if err != nil {
		return domain.Hold{}, err
	}
	if !h.DueForExpiry(s.clock.Now()) {
		return h, nil
	}
	h, _, err = s.expire(ctx, id)
	return h, err
}

// ConfirmHold moves a pending hold to confirmed. A hold past its TTL is
// expired instead and ErrHoldExpired is returned.
func (s *HoldService) ConfirmHold(ctx context.Context, id string) (domain.Hold, error) {
	if id == "" {
		return domain.Hold{}, domain.ErrInvalidID
	}
	var (
		result domain.Hold
		lapsed bool
	)
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		h, ok, err := s.confirmInTx(txCtx, id)
		if err != nil {
			return err
		}
		result, lapsed = h, !ok
		return nil
	})
	if err != nil {
		return domain.Hold{}, err
	}
	// The expiry is committed before reporting it.
	if lapsed {
		return domain.Hold{}, domain.ErrHoldExpired
	}
	return result, nil
}

// confirmInTx must run inside a transaction. It reports false when the hold
// had lapsed and was expired in the same transaction.
func (s *HoldService) confirmInTx(ctx context.Context, id string) (domain.Hold, bool, error) {
	h, err := s.repo.GetHoldForUpdate(ctx, id)
	if err != nil {
		return domain.Hold{}, false, err
	}
	if h.Status != domain.HoldStatusPending {
		return h, false, h.StatusError()
	}

	now := s.clock.Now()
	if h.DueForExpiry(now) {
		h, err := s.expireLocked(ctx, h, now)
		return h, false, err
	}

	ok, err := s.repo.TransitionHold(ctx, id, domain.HoldStatusPending, domain.HoldStatusConfirmed, now)
	if err != nil {
		return domain.Hold{}, false, err
	}
	if !ok {
		return s.lostRace(ctx, id)
	}
	h.Status = domain.HoldStatusConfirmed
	h.ResolvedAt = &now
	s.metrics.HoldTransition(string(domain.HoldStatusConfirmed))
	return h, true, nil
}

// CancelHold releases a pending hold. It is only driven by a rejected
// payment, never by the client.
func (s *HoldService) CancelHold(ctx context.Context, id string) error {
	if id == "" {
		return domain.ErrInvalidID
	}
	return s.repo.WithTx(ctx, func(txCtx context.Context) error {
		h, err := s.repo.GetHoldForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if h.Status != domain.HoldStatusPending {
			return h.StatusError()
		}
		now := s.clock.Now()
		ok, err := s.repo.TransitionHold(txCtx, id, domain.HoldStatusPending, domain.HoldStatusCancelled, now)
		if err != nil {
			return err
		}
		if !ok {
			_, _, err := s.lostRace(txCtx, id)
			return err
		}
		if err := s.ledger.Release(txCtx, ReleaseInput{PoolID: h.PoolID, UserID: h.UserID, Quantity: h.Quantity}); err != nil {
			return err
		}
		s.metrics.HoldTransition(string(domain.HoldStatusCancelled))
		return nil
	})
}

// ExpireHold expires one hold if it is still pending past its TTL. It
// reports whether this call performed the expiry.
func (s *HoldService) ExpireHold(ctx context.Context, id string) (bool, error) {
	_, expired, err := s.expire(ctx, id)
	return expired, err
}

func (s *HoldService) expire(ctx context.Context, id string) (domain.Hold, bool, error) {
	var (
		result  domain.Hold
		expired bool
	)
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		h, err := s.repo.GetHoldForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if !h.DueForExpiry(now) {
			result = h
			return nil
		}
		result, err = s.expireLocked(txCtx, h, now)
		if err != nil {
			return err
		}
		expired = result.Status == domain.HoldStatusExpired
		return nil
	})
	if err != nil {
		return domain.Hold{}, false, err
	}
	return result, expired, nil
}

// expireLocked transitions a locked pending hold to expired and releases its
// capacity in the caller's transaction.
func (s *HoldService) expireLocked(ctx context.Context, h domain.Hold, now time.Time) (domain.Hold, error) {
	ok, err := s.repo.TransitionHold(ctx, h.ID, domain.HoldStatusPending, domain.HoldStatusExpired, now)
	if err != nil {
		return domain.Hold{}, err
	}
	if !ok {
		current, err := s.repo.GetHold(ctx, h.ID)
		return current, err
	}
	if err := s.ledger.Release(ctx, ReleaseInput{PoolID: h.PoolID, UserID: h.UserID, Quantity: h.Quantity}); err != nil {
		return domain.Hold{}, err
	}
	h.Status = domain.HoldStatusExpired
	h.ResolvedAt = &now
	s.metrics.HoldTransition(string(domain.HoldStatusExpired))
	logging.FromContext(ctx, s.logger).Info("hold expired",
		zap.String("hold_id", h.ID),
		zap.String("pool_id", h.PoolID),
		zap.Int("quantity", h.Quantity),
	)
	return h, nil
}

func (s *HoldService) lostRace(ctx context.Context, id string) (domain.Hold, bool, error) {
	current, err := s.repo.GetHold(ctx, id)
	if err != nil {
		return domain.Hold{}, false, err
	}
	return current, false, current.StatusError()
}

// ListExpiredHolds returns up to limit pending holds whose TTL has passed.
func (s *HoldService) ListExpiredHolds(ctx context.Context, limit int) ([]domain.Hold, error) {
	return s.repo.ListExpiredHolds(ctx, s.clock.Now(), limit)
}

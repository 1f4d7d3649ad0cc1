package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ParamigosApps/appbar-sub000/internal/clock"
	"github.com/ParamigosApps/appbar-sub000/internal/config"
	"github.com/ParamigosApps/appbar-sub000/internal/domain"
	"github.com/ParamigosApps/appbar-sub000/internal/logging"
	"github.com/ParamigosApps/appbar-sub000/internal/token"
)

type UnitRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	InsertUnits(ctx context.Context, units []domain.Unit) error
	CountUnitsByOwner(ctx context.Context, ownerID string) (map[string]int, error)
	ListUnitsByOwner(ctx context.Context, ownerID string) ([]domain.Unit, error)
}

type GenerateOptions struct {
	// Retry allows regenerating after a previous attempt ended in error.
	Retry bool
}

type FulfillmentResult struct {
	PaymentID string
	// Created counts units written by this call.
	Created int
	// Existing counts units found from earlier attempts.
	Existing int
	// Skipped is set when the payment was already fulfilled.
	Skipped bool
}

// FulfillmentService materializes the units of an approved payment exactly
// once. A tri-state flag on the payment guards re-entry; unit writes are
// flushed in bounded chunks and a retry only emits what is missing.
type FulfillmentService struct {
	payments     PaymentRepository
	units        UnitRepository
	ledger       *Ledger
	holds        *HoldService
	signer       *token.Signer
	clock        clock.Clock
	leaseTimeout time.Duration
	batchSize    int
	deps
}

func NewFulfillmentService(
	payments PaymentRepository,
	units UnitRepository,
	ledger *Ledger,
	holds *HoldService,
	signer *token.Signer,
	clk clock.Clock,
	cfg config.Engine,
	opts ...Option,
) *FulfillmentService {
	defaults := config.DefaultEngine()
	timeout := cfg.FulfillmentLeaseTimeout
	if timeout <= 0 {
		timeout = defaults.FulfillmentLeaseTimeout
	}
	batch := cfg.FulfillmentBatchSize
	if batch <= 0 || batch > config.MaxFulfillmentBatchSize {
		batch = config.MaxFulfillmentBatchSize
	}
	return &FulfillmentService{
		payments:     payments,
		units:        units,
		ledger:       ledger,
		holds:        holds,
		signer:       signer,
		clock:        clk,
		leaseTimeout: timeout,
		batchSize:    batch,
		deps:         newDeps(opts),
	}
}

// Generate issues the units for paymentID. Failures after the claim are
// recorded on the payment and returned as *domain.FulfillmentError.
func (s *FulfillmentService) Generate(ctx context.Context, paymentID string, opts GenerateOptions) (result FulfillmentResult, err error) {
	ctx, span := s.startSpan(ctx, "fulfillment.generate",
		attribute.String("payment.id", paymentID),
		attribute.Bool("retry", opts.Retry),
	)
	defer func() {
		switch {
		case err != nil:
			s.metrics.Fulfillment("error")
		case result.Skipped:
			s.metrics.Fulfillment("skipped")
		default:
			s.metrics.Fulfillment("done")
		}
		endSpan(span, err)
	}()

	result.PaymentID = paymentID
	p, done, err := s.claim(ctx, paymentID, opts)
	if err != nil {
		return result, err
	}
	if done {
		result.Skipped = true
		return result, nil
	}

	if !p.CapacityCommitted {
		if err := s.commitCapacity(ctx, paymentID); err != nil {
			return result, s.fail(ctx, paymentID, 0, err)
		}
	}

	pending, existing, err := s.plan(ctx, p)
	if err != nil {
		return result, s.fail(ctx, paymentID, 0, err)
	}
	result.Existing = existing

	for start := 0; start < len(pending); start += s.batchSize {
		chunk := pending[start:min(start+s.batchSize, len(pending))]
		err := s.units.WithTx(ctx, func(txCtx context.Context) error {
			return s.units.InsertUnits(txCtx, chunk)
		})
		if err != nil {
			return result, s.fail(ctx, paymentID, result.Created, err)
		}
		result.Created += len(chunk)
	}

	if err := s.markDone(ctx, paymentID); err != nil {
		return result, err
	}
	s.metrics.UnitsIssued(string(p.Kind), result.Created)
	s.publish(ctx, p)
	return result, nil
}

// claim takes the fulfillment flag. It reports true when the payment was
// already fulfilled.
func (s *FulfillmentService) claim(ctx context.Context, paymentID string, opts GenerateOptions) (domain.PaymentRecord, bool, error) {
	var (
		rec  domain.PaymentRecord
		done bool
	)
	err := s.payments.WithTx(ctx, func(txCtx context.Context) error {
		p, err := s.payments.GetPaymentForUpdate(txCtx, paymentID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		switch p.Fulfillment {
		case domain.FulfillmentDone:
			rec, done = p, true
			return nil
		case domain.FulfillmentProcessing:
			if p.FulfillmentLive(now, s.leaseTimeout) {
				return domain.ErrFulfillmentInProgress
			}
			logging.FromContext(txCtx, s.logger).Warn("retaking stale fulfillment",
				zap.String("payment_id", p.ID),
				zap.Timep("started_at", p.FulfillmentStartedAt),
			)
		case domain.FulfillmentFailed:
			if !opts.Retry {
				return domain.ErrFulfillmentBlocked
			}
		}

		p.Fulfillment = domain.FulfillmentProcessing
		p.FulfillmentStartedAt = &now
		p.FulfillmentError = ""
		p.UpdatedAt = now
		if err := s.payments.UpdatePayment(txCtx, p); err != nil {
			return err
		}
		rec = p
		return nil
	})
	return rec, done, err
}

// commitCapacity converts the payment's hold into sold capacity and reserves
// whatever the hold does not cover. When the hold has lapsed, was settled by
// another payment, or there is none, every item is reserved.
func (s *FulfillmentService) commitCapacity(ctx context.Context, paymentID string) error {
	return s.payments.WithTx(ctx, func(txCtx context.Context) error {
		p, err := s.payments.GetPaymentForUpdate(txCtx, paymentID)
		if err != nil {
			return err
		}
		if p.CapacityCommitted {
			return nil
		}

		reserve := p.Items
		if p.HoldID != "" {
			h, confirmed, err := s.holds.confirmInTx(txCtx, p.HoldID)
			switch {
			case err == nil:
				if confirmed {
					reserve = uncoveredByHold(p.Items, h)
				}
			case errors.Is(err, domain.ErrHoldAlreadyConfirmed),
				errors.Is(err, domain.ErrHoldExpired),
				errors.Is(err, domain.ErrHoldCancelled),
				errors.Is(err, domain.ErrHoldNotFound):
			default:
				return err
			}
		}
		for _, it := range reserve {
			if _, err := s.ledger.Reserve(txCtx, ReserveInput{
				PoolID:   it.PoolID,
				UserID:   p.UserID,
				Quantity: it.Quantity,
			}); err != nil {
				return err
			}
		}

		p.CapacityCommitted = true
		p.UpdatedAt = s.clock.Now()
		return s.payments.UpdatePayment(txCtx, p)
	})
}

// plan builds the units still missing for the payment and reports how many
// already exist.
func (s *FulfillmentService) plan(ctx context.Context, p domain.PaymentRecord) ([]domain.Unit, int, error) {
	issued, err := s.units.CountUnitsByOwner(ctx, p.ID)
	if err != nil {
		return nil, 0, err
	}
	existing := 0
	for _, n := range issued {
		existing += n
	}

	requested := mergeItems(p.Items)
	if len(requested) == 0 {
		return nil, existing, domain.ErrInvalidQuantity
	}
	now := s.clock.Now()

	if p.Kind == domain.UnitKindOrder {
		if existing > 0 {
			return nil, existing, nil
		}
		scope := ""
		for _, it := range requested {
			pool, err := s.ledger.Availability(ctx, it.PoolID)
			if err != nil {
				return nil, 0, err
			}
			if scope != "" && pool.ScopeID() != scope {
				return nil, 0, domain.ErrMixedOrderScope
			}
			scope = pool.ScopeID()
		}
		total := 0
		for _, it := range requested {
			total += it.Quantity
		}
		return []domain.Unit{s.newUnit(p, requested[0].PoolID, scope, total, requested, now)}, 0, nil
	}

	var pending []domain.Unit
	for _, it := range requested {
		missing := it.Quantity - issued[it.PoolID]
		if missing <= 0 {
			continue
		}
		pool, err := s.ledger.Availability(ctx, it.PoolID)
		if err != nil {
			return nil, 0, err
		}
		for i := 0; i < missing; i++ {
			pending = append(pending, s.newUnit(p, pool.ID, pool.ScopeID(), 1, nil, now))
		}
	}
	return pending, existing, nil
}

func (s *FulfillmentService) newUnit(p domain.PaymentRecord, poolID, scopeID string, qty int, items []domain.LineItem, now time.Time) domain.Unit {
	id := newUUID()
	return domain.Unit{
		ID:        id,
		Kind:      p.Kind,
		OwnerID:   p.ID,
		UserID:    p.UserID,
		PoolID:    poolID,
		ScopeID:   scopeID,
		Quantity:  qty,
		Items:     items,
		Token:     s.signer.Sign(id, scopeID),
		State:     domain.IssuedState(p.Kind),
		CreatedAt: now,
	}
}

// fail records the failure reason and blocks silent retries. Units already
// flushed stay in place.
func (s *FulfillmentService) fail(ctx context.Context, paymentID string, created int, cause error) error {
	ferr := &domain.FulfillmentError{PaymentID: paymentID, Created: created, Err: cause}
	err := s.payments.WithTx(ctx, func(txCtx context.Context) error {
		p, err := s.payments.GetPaymentForUpdate(txCtx, paymentID)
		if err != nil {
			return err
		}
		p.Fulfillment = domain.FulfillmentFailed
		p.FulfillmentStartedAt = nil
		p.FulfillmentError = cause.Error()
		p.UpdatedAt = s.clock.Now()
		return s.payments.UpdatePayment(txCtx, p)
	})
	logger := logging.FromContext(ctx, s.logger)
	if err != nil {
		logger.Error("record fulfillment failure", zap.String("payment_id", paymentID), zap.Error(err))
	}
	logger.Error("fulfillment failed",
		zap.String("payment_id", paymentID),
		zap.Int("created", created),
		zap.Error(cause),
	)
	return ferr
}

func (s *FulfillmentService) markDone(ctx context.Context, paymentID string) error {
	return s.payments.WithTx(ctx, func(txCtx context.Context) error {
		p, err := s.payments.GetPaymentForUpdate(txCtx, paymentID)
		if err != nil {
			return err
		}
		p.Fulfillment = domain.FulfillmentDone
		p.FulfillmentStartedAt = nil
		p.FulfillmentError = ""
		p.UpdatedAt = s.clock.Now()
		return s.payments.UpdatePayment(txCtx, p)
	})
}

// publish announces the issued units. Delivery is best effort.
func (s *FulfillmentService) publish(ctx context.Context, p domain.PaymentRecord) {
	logger := logging.FromContext(ctx, s.logger)
	units, err := s.units.ListUnitsByOwner(ctx, p.ID)
	if err != nil {
		logger.Warn("list issued units", zap.String("payment_id", p.ID), zap.Error(err))
		return
	}
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	event := domain.NewUnitsIssuedEvent(p, ids, s.clock.Now())
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Warn("publish units issued", zap.String("payment_id", p.ID), zap.Error(err))
	}
}

// uncoveredByHold returns the items left once the hold's quantity is taken
// off its pool.
func uncoveredByHold(items []domain.LineItem, h domain.Hold) []domain.LineItem {
	var out []domain.LineItem
	for _, it := range mergeItems(items) {
		if it.PoolID == h.PoolID {
			it.Quantity -= h.Quantity
		}
		if it.Quantity > 0 {
			out = append(out, it)
		}
	}
	return out
}

// mergeItems sums quantities per pool and orders them by pool id.
func mergeItems(items []domain.LineItem) []domain.LineItem {
	byPool := make(map[string]int, len(items))
	for _, it := range items {
		byPool[it.PoolID] += it.Quantity
	}
	out := make([]domain.LineItem, 0, len(byPool))
	for id, qty := range byPool {
		out = append(out, domain.LineItem{PoolID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PoolID < out[j].PoolID })
	return out
}

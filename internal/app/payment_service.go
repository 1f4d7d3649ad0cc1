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

type PaymentRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetPayment(ctx context.Context, id string) (domain.PaymentRecord, error)
	GetPaymentForUpdate(ctx context.Context, id string) (domain.PaymentRecord, error)
	InsertPayment(ctx context.Context, p domain.PaymentRecord) (bool, error)
	UpdatePayment(ctx context.Context, p domain.PaymentRecord) error
}

// Fulfiller materializes the units of an approved payment.
type Fulfiller interface {
	Generate(ctx context.Context, paymentID string, opts GenerateOptions) (FulfillmentResult, error)
}

type CallbackOutcome string

const (
	// CallbackProcessed means this call moved the payment to a terminal state.
	CallbackProcessed CallbackOutcome = "processed"
	// CallbackDuplicate means the payment was already terminal.
	CallbackDuplicate CallbackOutcome = "duplicate"
	// CallbackLocked means another worker holds a live lease.
	CallbackLocked CallbackOutcome = "locked"
	// CallbackPending means the provider status is not final yet.
	CallbackPending CallbackOutcome = "pending"
)

type CallbackResult struct {
	Outcome CallbackOutcome
	Payment domain.PaymentRecord
	// FulfillmentErr is set when an approved payment could not be fulfilled.
	// The payment is then terminal in state error.
	FulfillmentErr error
}

const freePaymentPrefix = "free:"

// PaymentService drives the payment state machine. Duplicate and concurrent
// callbacks are serialised by a lease on the payment record.
type PaymentService struct {
	repo         PaymentRepository
	holds        *HoldService
	fulfiller    Fulfiller
	clock        clock.Clock
	leaseTimeout time.Duration
	deps
}

func NewPaymentService(repo PaymentRepository, holds *HoldService, fulfiller Fulfiller, clk clock.Clock, cfg config.Engine, opts ...Option) *PaymentService {
	timeout := cfg.PaymentLeaseTimeout
	if timeout <= 0 {
		timeout = config.DefaultEngine().PaymentLeaseTimeout
	}
	return &PaymentService{
		repo:         repo,
		holds:        holds,
		fulfiller:    fulfiller,
		clock:        clk,
		leaseTimeout: timeout,
		deps:         newDeps(opts),
	}
}

type RegisterPaymentInput struct {
	PaymentID string
	Kind      domain.UnitKind
	UserID    string
	HoldID    string
	Items     []domain.LineItem
}

// RegisterPayment records a payment at checkout, before the provider calls
// back. Registering an existing id returns the stored record unchanged.
func (s *PaymentService) RegisterPayment(ctx context.Context, in RegisterPaymentInput) (domain.PaymentRecord, error) {
	if in.PaymentID == "" {
		return domain.PaymentRecord{}, domain.ErrInvalidID
	}

	if in.HoldID != "" {
		b, err := s.bindHold(ctx, in.HoldID, in.Kind, in.UserID, in.Items)
		if err != nil {
			return domain.PaymentRecord{}, err
		}
		in.Kind, in.UserID, in.Items = b.kind, b.userID, b.items
	}
	if in.Kind == "" {
		in.Kind = domain.UnitKindTicket
	}
	if !in.Kind.Valid() {
		return domain.PaymentRecord{}, domain.ErrInvalidKind
	}
	if in.UserID == "" {
		return domain.PaymentRecord{}, domain.ErrInvalidUser
	}
	if len(in.Items) == 0 {
		return domain.PaymentRecord{}, domain.ErrInvalidQuantity
	}
	for _, it := range in.Items {
		if it.PoolID == "" || it.Quantity <= 0 {
			return domain.PaymentRecord{}, domain.ErrInvalidQuantity
		}
	}

	rec := s.newRecord(in.PaymentID, in.Kind, in.UserID, in.HoldID, in.Items)
	inserted, err := s.repo.InsertPayment(ctx, rec)
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	if !inserted {
		return s.repo.GetPayment(ctx, in.PaymentID)
	}
	return rec, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id string) (domain.PaymentRecord, error) {
	if id == "" {
		return domain.PaymentRecord{}, domain.ErrInvalidID
	}
	return s.repo.GetPayment(ctx, id)
}

// HandleCallback applies one provider notification. It is safe under
// arbitrary redelivery: terminal payments are a no-op and a live lease held
// by another worker is reported as CallbackLocked.
func (s *PaymentService) HandleCallback(ctx context.Context, n Notification) (result CallbackResult, err error) {
	if n.PaymentID == "" {
		return CallbackResult{}, domain.ErrInvalidPaymentPayload
	}

	ctx, span := s.startSpan(ctx, "payments.callback",
		attribute.String("payment.id", n.PaymentID),
		attribute.String("payment.status", n.Status),
	)
	defer func() {
		if err == nil {
			s.metrics.Callback(string(result.Outcome))
		} else {
			s.metrics.Callback("error")
		}
		endSpan(span, err)
	}()

	logger := logging.FromContext(ctx, s.logger).With(zap.String("payment_id", n.PaymentID))

	rec, outcome, err := s.acquireLease(ctx, n)
	if err != nil {
		return CallbackResult{}, err
	}
	if outcome != "" {
		if outcome == CallbackLocked {
			logger.Debug("payment lease held by another worker")
		}
		return CallbackResult{Outcome: outcome, Payment: rec}, nil
	}

	target := domain.MapProviderStatus(n.Status)
	var fulfillErr error

	switch target {
	case domain.PaymentApproved:
		if _, err := s.fulfiller.Generate(ctx, rec.ID, GenerateOptions{}); err != nil {
			if errors.Is(err, domain.ErrFulfillmentInProgress) {
				logger.Debug("fulfillment running elsewhere; leaving payment pending")
				target = domain.PaymentPending
			} else {
				logger.Error("fulfillment failed", zap.Error(err))
				target = domain.PaymentError
				fulfillErr = err
			}
		}
	case domain.PaymentRejected:
		if rec.HoldID != "" {
			if err := s.holds.CancelHold(ctx, rec.HoldID); err != nil && !isHoldResolved(err) {
				logger.Warn("cancel hold for rejected payment", zap.String("hold_id", rec.HoldID), zap.Error(err))
			}
		}
	}

	rec, err = s.finish(ctx, rec.ID, target, false)
	if err != nil {
		return CallbackResult{}, err
	}

	outcome = CallbackPending
	if rec.State.Terminal() {
		outcome = CallbackProcessed
		logger.Info("payment processed", zap.String("state", string(rec.State)))
	}
	return CallbackResult{Outcome: outcome, Payment: rec, FulfillmentErr: fulfillErr}, nil
}

// acquireLease loads or creates the payment, stops on a terminal state or a
// live lease, and otherwise takes the lease, all in one transaction. A
// non-empty outcome means the caller must stop without side effects.
func (s *PaymentService) acquireLease(ctx context.Context, n Notification) (domain.PaymentRecord, CallbackOutcome, error) {
	var (
		rec     domain.PaymentRecord
		outcome CallbackOutcome
	)
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		p, err := s.repo.GetPaymentForUpdate(txCtx, n.PaymentID)
		if errors.Is(err, domain.ErrPaymentNotFound) {
			p, err = s.createFromNotification(txCtx, n)
		}
		if err != nil {
			return err
		}

		now := s.clock.Now()
		switch {
		case p.State.Terminal():
			rec, outcome = p, CallbackDuplicate
			return nil
		case p.LeaseLive(now, s.leaseTimeout):
			rec, outcome = p, CallbackLocked
			return nil
		}

		p.Processing = true
		p.LeaseAcquiredAt = &now
		p.ExternalStatus = n.Status
		p.UpdatedAt = now
		if err := s.repo.UpdatePayment(txCtx, p); err != nil {
			return err
		}
		rec = p
		return nil
	})
	return rec, outcome, err
}

// createFromNotification stores a payment first seen through its callback.
// Without items and an owner it cannot be fulfilled and is rejected.
func (s *PaymentService) createFromNotification(ctx context.Context, n Notification) (domain.PaymentRecord, error) {
	if n.HoldID != "" {
		b, err := s.bindHold(ctx, n.HoldID, n.Kind, n.UserID, n.Items)
		if err != nil {
			return domain.PaymentRecord{}, err
		}
		n.Kind, n.UserID, n.Items = b.kind, b.userID, b.items
	}
	if len(n.Items) == 0 || n.UserID == "" {
		return domain.PaymentRecord{}, domain.ErrInvalidPaymentPayload
	}
	kind := n.Kind
	if kind == "" {
		kind = domain.UnitKindTicket
	}
	rec := s.newRecord(n.PaymentID, kind, n.UserID, n.HoldID, n.Items)
	if _, err := s.repo.InsertPayment(ctx, rec); err != nil {
		return domain.PaymentRecord{}, err
	}
	return s.repo.GetPaymentForUpdate(ctx, n.PaymentID)
}

// finish writes the final state and clears the lease. A terminal state is
// only overwritten when override is set.
func (s *PaymentService) finish(ctx context.Context, id string, state domain.PaymentState, override bool) (domain.PaymentRecord, error) {
	var rec domain.PaymentRecord
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		p, err := s.repo.GetPaymentForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if override || !p.State.Terminal() {
			p.State = state
		}
		p.Processing = false
		p.LeaseAcquiredAt = nil
		p.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdatePayment(txCtx, p); err != nil {
			return err
		}
		rec = p
		return nil
	})
	return rec, err
}

// ConfirmFreeHold issues the tickets of a free-ticket request. It runs the
// request through an internal approved payment so issuance keeps the same
// exactly-once guarantees as paid purchases.
func (s *PaymentService) ConfirmFreeHold(ctx context.Context, holdID string) (CallbackResult, error) {
	h, err := s.holds.GetHold(ctx, holdID)
	if err != nil {
		return CallbackResult{}, err
	}
	if h.Kind != domain.HoldKindFree {
		return CallbackResult{}, domain.ErrHoldNotFree
	}
	if h.Status != domain.HoldStatusPending && h.Status != domain.HoldStatusConfirmed {
		return CallbackResult{}, h.StatusError()
	}

	paymentID := freePaymentPrefix + h.ID
	if _, err := s.RegisterPayment(ctx, RegisterPaymentInput{
		PaymentID: paymentID,
		Kind:      domain.UnitKindTicket,
		UserID:    h.UserID,
		HoldID:    h.ID,
		Items:     []domain.LineItem{{PoolID: h.PoolID, Quantity: h.Quantity}},
	}); err != nil {
		return CallbackResult{}, err
	}
	return s.HandleCallback(ctx, Notification{PaymentID: paymentID, Status: "approved"})
}

// RetryFulfillment is the operator action for a payment whose fulfillment
// ended in error. Units already written are counted, not duplicated.
func (s *PaymentService) RetryFulfillment(ctx context.Context, paymentID string) (CallbackResult, error) {
	if paymentID == "" {
		return CallbackResult{}, domain.ErrInvalidID
	}
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		p, err := s.repo.GetPaymentForUpdate(txCtx, paymentID)
		if err != nil {
			return err
		}
		if p.Fulfillment != domain.FulfillmentFailed {
			return domain.ErrPaymentNotRetryable
		}
		now := s.clock.Now()
		if p.LeaseLive(now, s.leaseTimeout) {
			return domain.ErrLeaseContention
		}
		p.Processing = true
		p.LeaseAcquiredAt = &now
		p.UpdatedAt = now
		return s.repo.UpdatePayment(txCtx, p)
	})
	if err != nil {
		return CallbackResult{}, err
	}

	state := domain.PaymentApproved
	_, genErr := s.fulfiller.Generate(ctx, paymentID, GenerateOptions{Retry: true})
	if genErr != nil {
		state = domain.PaymentError
		logging.FromContext(ctx, s.logger).Error("fulfillment retry failed",
			zap.String("payment_id", paymentID),
			zap.Error(genErr),
		)
	}

	rec, err := s.finish(ctx, paymentID, state, true)
	if err != nil {
		return CallbackResult{}, err
	}
	return CallbackResult{Outcome: CallbackProcessed, Payment: rec, FulfillmentErr: genErr}, nil
}

type boundHold struct {
	kind   domain.UnitKind
	userID string
	items  []domain.LineItem
}

// bindHold checks a payment against the hold it settles. The hold must exist,
// belong to the paying user and cover exactly the requested items. Fields the
// payment leaves empty are taken from the hold.
func (s *PaymentService) bindHold(ctx context.Context, holdID string, kind domain.UnitKind, userID string, items []domain.LineItem) (boundHold, error) {
	h, err := s.holds.repo.GetHold(ctx, holdID)
	if err != nil {
		return boundHold{}, err
	}
	switch {
	case userID == "":
		userID = h.UserID
	case userID != h.UserID:
		return boundHold{}, domain.ErrHoldOwnerMismatch
	}

	held := domain.LineItem{PoolID: h.PoolID, Quantity: h.Quantity}
	if len(items) == 0 {
		items = []domain.LineItem{held}
	} else if merged := mergeItems(items); len(merged) != 1 || merged[0] != held {
		return boundHold{}, domain.ErrHoldItemsMismatch
	}

	if kind == "" && h.Kind == domain.HoldKindOrder {
		kind = domain.UnitKindOrder
	}
	return boundHold{kind: kind, userID: userID, items: items}, nil
}

func (s *PaymentService) newRecord(id string, kind domain.UnitKind, userID, holdID string, items []domain.LineItem) domain.PaymentRecord {
	now := s.clock.Now()
	return domain.PaymentRecord{
		ID:          id,
		State:       domain.PaymentPending,
		Fulfillment: domain.FulfillmentNone,
		Kind:        kind,
		UserID:      userID,
		HoldID:      holdID,
		Items:       append([]domain.LineItem(nil), items...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func isHoldResolved(err error) bool {
	return errors.Is(err, domain.ErrHoldExpired) ||
		errors.Is(err, domain.ErrHoldCancelled) ||
		errors.Is(err, domain.ErrHoldAlreadyConfirmed)
}

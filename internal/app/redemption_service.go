package app

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ParamigosApps/appbar-sub000/internal/clock"
	"github.com/ParamigosApps/appbar-sub000/internal/domain"
	"github.com/ParamigosApps/appbar-sub000/internal/logging"
	"github.com/ParamigosApps/appbar-sub000/internal/token"
)

type RedemptionRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetUnitForUpdate(ctx context.Context, id string) (domain.Unit, error)
	TransitionUnit(ctx context.Context, id string, from, to domain.UnitState, at time.Time) (bool, error)
}

// RedemptionService consumes tickets and bar orders at the point of sale.
type RedemptionService struct {
	repo   RedemptionRepository
	signer *token.Signer
	clock  clock.Clock
	deps
}

func NewRedemptionService(repo RedemptionRepository, signer *token.Signer, clk clock.Clock, opts ...Option) *RedemptionService {
	return &RedemptionService{
		repo:   repo,
		signer: signer,
		clock:  clk,
		deps:   newDeps(opts),
	}
}

type RedeemInput struct {
	// Kind, when set, must match the stored unit.
	Kind            domain.UnitKind
	UnitID          string
	Token           string
	ExpectedScopeID string
}

// Redeem verifies the presented token against the stored unit and moves it
// to its consumed state. Of two concurrent redemptions exactly one succeeds.
func (s *RedemptionService) Redeem(ctx context.Context, in RedeemInput) (result domain.Unit, err error) {
	if in.UnitID == "" {
		return domain.Unit{}, domain.ErrUnitNotFound
	}
	if in.ExpectedScopeID == "" {
		return domain.Unit{}, domain.ErrInvalidID
	}

	ctx, span := s.startSpan(ctx, "redemption.redeem",
		attribute.String("unit.id", in.UnitID),
		attribute.String("scope.id", in.ExpectedScopeID),
	)
	defer func() {
		s.metrics.Redemption(redemptionResult(err))
		endSpan(span, err)
	}()

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		u, err := s.repo.GetUnitForUpdate(txCtx, in.UnitID)
		if err != nil {
			return err
		}
		if in.Kind != "" && u.Kind != in.Kind {
			return domain.ErrUnitNotFound
		}
		if !s.signer.Verify(u.ID, u.ScopeID, in.Token) {
			return domain.ErrTamperedToken
		}
		if u.ScopeID != in.ExpectedScopeID {
			return domain.ErrScopeMismatch
		}

		next, err := u.RedeemTransition()
		if err != nil {
			return err
		}
		now := s.clock.Now()
		ok, err := s.repo.TransitionUnit(txCtx, u.ID, u.State, next, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAlreadyConsumed
		}
		u.State = next
		u.ConsumedAt = &now
		result = u
		return nil
	})
	if err != nil {
		logging.FromContext(ctx, s.logger).Info("redemption rejected",
			zap.String("unit_id", in.UnitID),
			zap.String("scope_id", in.ExpectedScopeID),
			zap.Error(err),
		)
		return domain.Unit{}, err
	}
	return result, nil
}

// RedeemCode parses a scanned code in any accepted format and redeems it.
func (s *RedemptionService) RedeemCode(ctx context.Context, raw, expectedScopeID string) (domain.Unit, error) {
	code, err := token.ParseCode(raw)
	if err != nil {
		s.metrics.Redemption(redemptionResult(err))
		return domain.Unit{}, err
	}
	return s.Redeem(ctx, RedeemInput{
		Kind:            code.Kind,
		UnitID:          code.UnitID,
		Token:           code.Token,
		ExpectedScopeID: expectedScopeID,
	})
}

func redemptionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrTamperedToken):
		return "tampered"
	case errors.Is(err, domain.ErrUnitNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrScopeMismatch):
		return "scope_mismatch"
	case errors.Is(err, domain.ErrAlreadyConsumed):
		return "already_consumed"
	case errors.Is(err, domain.ErrNotYetConfirmed):
		return "not_confirmed"
	case errors.Is(err, domain.ErrUnitExpired), errors.Is(err, domain.ErrUnitRejected):
		return "terminal"
	case errors.Is(err, domain.ErrInvalidCode):
		return "invalid_code"
	default:
		return "error"
	}
}

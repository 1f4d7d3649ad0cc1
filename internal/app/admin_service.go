package app

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ParamigosApps/appbar-sub000/internal/clock"
	"github.com/ParamigosApps/appbar-sub000/internal/domain"
	"github.com/ParamigosApps/appbar-sub000/internal/logging"
)

type AdminRepository interface {
	CreatePool(ctx context.Context, pool domain.Pool) error
	GetPool(ctx context.Context, id string) (domain.Pool, error)
	ListPools(ctx context.Context, parentID string) ([]domain.Pool, error)
}

// AdminService creates the capacity pools sales run against. Catalog
// content lives elsewhere.
type AdminService struct {
	repo  AdminRepository
	clock clock.Clock
	deps
}

func NewAdminService(repo AdminRepository, clk clock.Clock, opts ...Option) *AdminService {
	return &AdminService{
		repo:  repo,
		clock: clk,
		deps:  newDeps(opts),
	}
}

type CreateEventInput struct {
	Name         string
	Capacity     int
	PerUserLimit int
}

func (s *AdminService) CreateEvent(ctx context.Context, in CreateEventInput) (domain.Pool, error) {
	if in.Name == "" {
		return domain.Pool{}, domain.ErrNameRequired
	}
	if in.Capacity <= 0 {
		return domain.Pool{}, domain.ErrInvalidCapacity
	}
	if in.PerUserLimit < 0 {
		return domain.Pool{}, domain.ErrInvalidQuantity
	}

	pool := domain.Pool{
		ID:           newUUID(),
		Kind:         domain.PoolKindEvent,
		Name:         in.Name,
		TotalUnits:   in.Capacity,
		PerUserLimit: in.PerUserLimit,
		CreatedAt:    s.clock.Now(),
	}
	return s.create(ctx, pool)
}

func (s *AdminService) ListEvents(ctx context.Context) ([]domain.Pool, error) {
	pools, err := s.repo.ListPools(ctx, "")
	if err != nil {
		return nil, err
	}
	events := pools[:0]
	for _, p := range pools {
		if p.Kind == domain.PoolKindEvent {
			events = append(events, p)
		}
	}
	return events, nil
}

type CreateLotInput struct {
	EventID      string
	Name         string
	Capacity     int
	PerUserLimit int
	PriceCents   int64
}

// CreateLot adds a priced sub-allocation to an event. Selling from a lot
// also draws on the event's capacity.
func (s *AdminService) CreateLot(ctx context.Context, in CreateLotInput) (domain.Pool, error) {
	if in.EventID == "" {
		return domain.Pool{}, domain.ErrInvalidID
	}
	if in.Name == "" {
		return domain.Pool{}, domain.ErrNameRequired
	}
	if in.Capacity <= 0 {
		return domain.Pool{}, domain.ErrInvalidCapacity
	}
	if in.PerUserLimit < 0 || in.PriceCents < 0 {
		return domain.Pool{}, domain.ErrInvalidQuantity
	}
	if err := s.requireEvent(ctx, in.EventID); err != nil {
		return domain.Pool{}, err
	}

	pool := domain.Pool{
		ID:           newUUID(),
		Kind:         domain.PoolKindLot,
		ParentID:     in.EventID,
		Name:         in.Name,
		TotalUnits:   in.Capacity,
		PerUserLimit: in.PerUserLimit,
		PriceCents:   in.PriceCents,
		CreatedAt:    s.clock.Now(),
	}
	return s.create(ctx, pool)
}

func (s *AdminService) ListLots(ctx context.Context, eventID string) ([]domain.Pool, error) {
	if eventID == "" {
		return nil, domain.ErrInvalidID
	}
	if err := s.requireEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.repo.ListPools(ctx, eventID)
}

type CreateProductInput struct {
	// ScopeID optionally ties the product to the event whose bar sells it.
	ScopeID      string
	Name         string
	Stock        int
	PerUserLimit int
	PriceCents   int64
}

func (s *AdminService) CreateProduct(ctx context.Context, in CreateProductInput) (domain.Pool, error) {
	if in.Name == "" {
		return domain.Pool{}, domain.ErrNameRequired
	}
	if in.Stock <= 0 {
		return domain.Pool{}, domain.ErrInvalidCapacity
	}
	if in.PerUserLimit < 0 || in.PriceCents < 0 {
		return domain.Pool{}, domain.ErrInvalidQuantity
	}
	if in.ScopeID != "" {
		if err := s.requireEvent(ctx, in.ScopeID); err != nil {
			return domain.Pool{}, err
		}
	}

	pool := domain.Pool{
		ID:           newUUID(),
		Kind:         domain.PoolKindProduct,
		ParentID:     in.ScopeID,
		Name:         in.Name,
		TotalUnits:   in.Stock,
		PerUserLimit: in.PerUserLimit,
		PriceCents:   in.PriceCents,
		CreatedAt:    s.clock.Now(),
	}
	return s.create(ctx, pool)
}

func (s *AdminService) create(ctx context.Context, pool domain.Pool) (_ domain.Pool, err error) {
	ctx, span := s.startSpan(ctx, "admin.create_pool",
		attribute.String("pool.kind", string(pool.Kind)),
		attribute.Int("capacity", pool.TotalUnits),
	)
	defer func() { endSpan(span, err) }()

	if err := s.repo.CreatePool(ctx, pool); err != nil {
		return domain.Pool{}, err
	}
	logging.FromContext(ctx, s.logger).Info("pool created",
		zap.String("pool_id", pool.ID),
		zap.String("kind", string(pool.Kind)),
		zap.String("parent_id", pool.ParentID),
		zap.Int("capacity", pool.TotalUnits),
	)
	return pool, nil
}

func (s *AdminService) requireEvent(ctx context.Context, id string) error {
	parent, err := s.repo.GetPool(ctx, id)
	if err != nil {
		return err
	}
	if parent.Kind != domain.PoolKindEvent {
		return domain.ErrInvalidPoolParent
	}
	return nil
}

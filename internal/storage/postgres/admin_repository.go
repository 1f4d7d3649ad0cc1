package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ParamigosApps/appbar-sub000/internal/domain"
)

type AdminRepository struct {
	conn
}

func NewAdminRepository(pool *pgxpool.Pool, opts ...Option) *AdminRepository {
	return &AdminRepository{conn: newConn(pool, opts)}
}

func (r *AdminRepository) CreatePool(ctx context.Context, p domain.Pool) error {
	const stmt = `
INSERT INTO pools (id, kind, parent_id, name, total_units, committed_units, per_user_limit, price_cents, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.exec(ctx, stmt,
		p.ID,
		p.Kind,
		nullable(p.ParentID),
		p.Name,
		p.TotalUnits,
		p.CommittedUnits,
		p.PerUserLimit,
		p.PriceCents,
		p.CreatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isUniqueViolation(err) {
			return domain.ErrPoolAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return domain.ErrPoolNotFound
		}
		if isCheckViolation(err) {
			return domain.ErrInvalidCapacity
		}
		return fmt.Errorf("create pool: %w", err)
	}
	return nil
}

func (r *AdminRepository) GetPool(ctx context.Context, id string) (domain.Pool, error) {
	return getPool(ctx, r.conn, id, false)
}

// ListPools returns the children of parentID, or the top-level pools when
// parentID is empty.
func (r *AdminRepository) ListPools(ctx context.Context, parentID string) ([]domain.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE parent_id IS NULL ORDER BY created_at ASC, id ASC`
	args := []any{}
	if parentID != "" {
		query = `SELECT ` + poolColumns + ` FROM pools WHERE parent_id = $1 ORDER BY created_at ASC, id ASC`
		args = append(args, parentID)
	}

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate pools: %w", rows.Err())
	}
	return pools, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

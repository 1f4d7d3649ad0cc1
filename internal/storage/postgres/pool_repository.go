package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ParamigosApps/appbar-sub000/internal/domain"
)

const poolColumns = `id, kind, COALESCE(parent_id::text, ''), name, total_units, committed_units, per_user_limit, price_cents, created_at`

// PoolRepository backs the capacity ledger: pool counters and per-user quotas.
type PoolRepository struct {
	conn
}

func NewPoolRepository(pool *pgxpool.Pool, opts ...Option) *PoolRepository {
	return &PoolRepository{conn: newConn(pool, opts)}
}

func (r *PoolRepository) GetPool(ctx context.Context, id string) (domain.Pool, error) {
	return getPool(ctx, r.conn, id, false)
}

func (r *PoolRepository) GetPoolForUpdate(ctx context.Context, id string) (domain.Pool, error) {
	return getPool(ctx, r.conn, id, true)
}

func (r *PoolRepository) SetCommittedUnits(ctx context.Context, poolID string, committed int) error {
	const stmt = `UPDATE pools SET committed_units = $2 WHERE id = $1`
	tag, err := r.exec(ctx, stmt, poolID, committed)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isCheckViolation(err) {
			return domain.ErrInvalidCapacity
		}
		return fmt.Errorf("set committed units: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPoolNotFound
	}
	return nil
}

// GetQuotaForUpdate locks the (pool, user) quota row, creating it at zero
// first so concurrent first claims serialise on the same row.
func (r *PoolRepository) GetQuotaForUpdate(ctx context.Context, poolID, userID string) (domain.UserQuota, error) {
	const ensure = `
INSERT INTO user_quotas (pool_id, user_id, units_claimed)
VALUES ($1, $2, 0)
ON CONFLICT (pool_id, user_id) DO NOTHING`
	if _, err := r.exec(ctx, ensure, poolID, userID); err != nil {
		if isInvalidUUID(err) {
			return domain.UserQuota{}, domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return domain.UserQuota{}, domain.ErrPoolNotFound
		}
		return domain.UserQuota{}, fmt.Errorf("ensure quota: %w", err)
	}

	const query = `
SELECT pool_id, user_id, units_claimed
FROM user_quotas
WHERE pool_id = $1 AND user_id = $2
FOR UPDATE`
	var q domain.UserQuota
	if err := r.queryRow(ctx, query, poolID, userID).Scan(&q.PoolID, &q.UserID, &q.UnitsClaimed); err != nil {
		return domain.UserQuota{}, fmt.Errorf("get quota: %w", err)
	}
	return q, nil
}

func (r *PoolRepository) SaveQuota(ctx context.Context, q domain.UserQuota) error {
	const stmt = `
INSERT INTO user_quotas (pool_id, user_id, units_claimed)
VALUES ($1, $2, $3)
ON CONFLICT (pool_id, user_id) DO UPDATE SET units_claimed = EXCLUDED.units_claimed`
	if _, err := r.exec(ctx, stmt, q.PoolID, q.UserID, q.UnitsClaimed); err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isCheckViolation(err) {
			return domain.ErrInvalidQuantity
		}
		return fmt.Errorf("save quota: %w", err)
	}
	return nil
}

func getPool(ctx context.Context, c conn, id string, forUpdate bool) (domain.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPool(c.queryRow(ctx, query, id))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Pool{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Pool{}, domain.ErrPoolNotFound
		}
		return domain.Pool{}, fmt.Errorf("get pool: %w", err)
	}
	return p, nil
}

func scanPool(row pgx.Row) (domain.Pool, error) {
	var p domain.Pool
	err := row.Scan(&p.ID, &p.Kind, &p.ParentID, &p.Name, &p.TotalUnits, &p.CommittedUnits, &p.PerUserLimit, &p.PriceCents, &p.CreatedAt)
	return p, err
}

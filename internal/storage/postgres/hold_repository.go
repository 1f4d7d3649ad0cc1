package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ParamigosApps/appbar-sub000/internal/domain"
)

const holdColumns = `id, pool_id, user_id, kind, quantity, status, idempotency_key, created_at, expires_at, resolved_at`

type HoldRepository struct {
	conn
}

func NewHoldRepository(pool *pgxpool.Pool, opts ...Option) *HoldRepository {
	return &HoldRepository{conn: newConn(pool, opts)}
}

func (r *HoldRepository) FindHoldByIdempotencyKey(ctx context.Context, poolID, key string) (*domain.Hold, error) {
	const query = `SELECT ` + holdColumns + ` FROM holds WHERE pool_id = $1 AND idempotency_key = $2`

	h, err := scanHold(r.queryRow(ctx, query, poolID, key))
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find hold by idempotency key: %w", err)
	}
	return &h, nil
}

func (r *HoldRepository) CreateHold(ctx context.Context, hold domain.Hold) error {
	const stmt = `
INSERT INTO holds (id, pool_id, user_id, kind, quantity, status, idempotency_key, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.exec(ctx, stmt,
		hold.ID,
		hold.PoolID,
		hold.UserID,
		hold.Kind,
		hold.Quantity,
		hold.Status,
		hold.IdempotencyKey,
		hold.CreatedAt,
		hold.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return domain.ErrPoolNotFound
		}
		return fmt.Errorf("create hold: %w", err)
	}
	return nil
}

func (r *HoldRepository) GetHold(ctx context.Context, id string) (domain.Hold, error) {
	return r.getHold(ctx, id, false)
}

func (r *HoldRepository) GetHoldForUpdate(ctx context.Context, id string) (domain.Hold, error) {
	return r.getHold(ctx, id, true)
}

func (r *HoldRepository) getHold(ctx context.Context, id string, forUpdate bool) (domain.Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM holds WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	h, err := scanHold(r.queryRow(ctx, query, id))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Hold{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Hold{}, domain.ErrHoldNotFound
		}
		return domain.Hold{}, fmt.Errorf("get hold: %w", err)
	}
	return h, nil
}

// TransitionHold is a compare-and-set on status. It reports false when the
// hold was no longer in the from status.
func (r *HoldRepository) TransitionHold(ctx context.Context, id string, from, to domain.HoldStatus, at time.Time) (bool, error) {
	const stmt = `UPDATE holds SET status = $3, resolved_at = $4 WHERE id = $1 AND status = $2`
	tag, err := r.exec(ctx, stmt, id, from, to, at)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		return false, fmt.Errorf("transition hold: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *HoldRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	const query = `
SELECT ` + holdColumns + `
FROM holds
WHERE status = 'pending' AND expires_at <= $1
ORDER BY expires_at ASC
LIMIT $2`

	rows, err := r.query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired holds: %w", err)
	}
	defer rows.Close()

	var holds []domain.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hold: %w", err)
		}
		holds = append(holds, h)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate holds: %w", rows.Err())
	}
	return holds, nil
}

func scanHold(row pgx.Row) (domain.Hold, error) {
	var h domain.Hold
	err := row.Scan(&h.ID, &h.PoolID, &h.UserID, &h.Kind, &h.Quantity, &h.Status, &h.IdempotencyKey, &h.CreatedAt, &h.ExpiresAt, &h.ResolvedAt)
	return h, err
}

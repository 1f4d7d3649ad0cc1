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

const unitColumns = `id, kind, owner_id, user_id, pool_id, scope_id, quantity, items, token, state, created_at, consumed_at`

type UnitRepository struct {
	conn
}

func NewUnitRepository(pool *pgxpool.Pool, opts ...Option) *UnitRepository {
	return &UnitRepository{conn: newConn(pool, opts)}
}

// InsertUnits writes one chunk with a single batch round trip. Callers keep
// chunks within the fulfillment batch ceiling.
func (r *UnitRepository) InsertUnits(ctx context.Context, units []domain.Unit) error {
	const stmt = `
INSERT INTO units (id, kind, owner_id, user_id, pool_id, scope_id, quantity, items, token, state, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	return r.WithTx(ctx, func(txCtx context.Context) error {
		tx := txFromContext(txCtx)
		batch := &pgx.Batch{}
		for _, u := range units {
			items := u.Items
			if items == nil {
				items = []domain.LineItem{}
			}
			batch.Queue(stmt, u.ID, u.Kind, u.OwnerID, u.UserID, u.PoolID, u.ScopeID, u.Quantity, items, u.Token, u.State, u.CreatedAt)
		}
		results := tx.SendBatch(txCtx, batch)
		for range units {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				if isUniqueViolation(err) {
					return domain.ErrIdempotencyConflict
				}
				if isInvalidUUID(err) {
					return domain.ErrInvalidID
				}
				return fmt.Errorf("insert unit: %w", err)
			}
		}
		return results.Close()
	})
}

func (r *UnitRepository) CountUnitsByOwner(ctx context.Context, ownerID string) (map[string]int, error) {
	const query = `SELECT pool_id, SUM(quantity) FROM units WHERE owner_id = $1 GROUP BY pool_id`
	rows, err := r.query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("count units: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var poolID string
		var n int
		if err := rows.Scan(&poolID, &n); err != nil {
			return nil, fmt.Errorf("scan unit count: %w", err)
		}
		counts[poolID] = n
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate unit counts: %w", rows.Err())
	}
	return counts, nil
}

func (r *UnitRepository) ListUnitsByOwner(ctx context.Context, ownerID string) ([]domain.Unit, error) {
	const query = `SELECT ` + unitColumns + ` FROM units WHERE owner_id = $1 ORDER BY created_at ASC, id ASC`
	rows, err := r.query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var units []domain.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		units = append(units, u)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate units: %w", rows.Err())
	}
	return units, nil
}

func (r *UnitRepository) GetUnit(ctx context.Context, id string) (domain.Unit, error) {
	return r.getUnit(ctx, id, false)
}

func (r *UnitRepository) GetUnitForUpdate(ctx context.Context, id string) (domain.Unit, error) {
	return r.getUnit(ctx, id, true)
}

func (r *UnitRepository) getUnit(ctx context.Context, id string, forUpdate bool) (domain.Unit, error) {
	query := `SELECT ` + unitColumns + ` FROM units WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	u, err := scanUnit(r.queryRow(ctx, query, id))
	if err != nil {
		// A scanned code with a malformed id cannot name a unit.
		if isInvalidUUID(err) || errors.Is(err, pgx.ErrNoRows) {
			return domain.Unit{}, domain.ErrUnitNotFound
		}
		return domain.Unit{}, fmt.Errorf("get unit: %w", err)
	}
	return u, nil
}

func (r *UnitRepository) TransitionUnit(ctx context.Context, id string, from, to domain.UnitState, at time.Time) (bool, error) {
	const stmt = `UPDATE units SET state = $3, consumed_at = $4 WHERE id = $1 AND state = $2`
	tag, err := r.exec(ctx, stmt, id, from, to, at)
	if err != nil {
		return false, fmt.Errorf("transition unit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanUnit(row pgx.Row) (domain.Unit, error) {
	var u domain.Unit
	err := row.Scan(&u.ID, &u.Kind, &u.OwnerID, &u.UserID, &u.PoolID, &u.ScopeID, &u.Quantity, &u.Items, &u.Token, &u.State, &u.CreatedAt, &u.ConsumedAt)
	return u, err
}

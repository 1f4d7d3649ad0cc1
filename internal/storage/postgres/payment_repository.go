package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ParamigosApps/appbar-sub000/internal/domain"
)

const paymentColumns = `id, external_status, state, processing, lease_acquired_at, fulfillment, fulfillment_started_at,
fulfillment_error, capacity_committed, kind, user_id, COALESCE(hold_id::text, ''), items, created_at, updated_at`

type PaymentRepository struct {
	conn
}

func NewPaymentRepository(pool *pgxpool.Pool, opts ...Option) *PaymentRepository {
	return &PaymentRepository{conn: newConn(pool, opts)}
}

func (r *PaymentRepository) GetPayment(ctx context.Context, id string) (domain.PaymentRecord, error) {
	return r.getPayment(ctx, id, false)
}

func (r *PaymentRepository) GetPaymentForUpdate(ctx context.Context, id string) (domain.PaymentRecord, error) {
	return r.getPayment(ctx, id, true)
}

func (r *PaymentRepository) getPayment(ctx context.Context, id string, forUpdate bool) (domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var p domain.PaymentRecord
	err := r.queryRow(ctx, query, id).Scan(
		&p.ID, &p.ExternalStatus, &p.State, &p.Processing, &p.LeaseAcquiredAt,
		&p.Fulfillment, &p.FulfillmentStartedAt, &p.FulfillmentError, &p.CapacityCommitted,
		&p.Kind, &p.UserID, &p.HoldID, &p.Items, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PaymentRecord{}, domain.ErrPaymentNotFound
		}
		return domain.PaymentRecord{}, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// InsertPayment reports false when a record with the same id already exists.
func (r *PaymentRepository) InsertPayment(ctx context.Context, p domain.PaymentRecord) (bool, error) {
	const stmt = `
INSERT INTO payments (id, external_status, state, processing, fulfillment, fulfillment_error, capacity_committed,
	kind, user_id, hold_id, items, created_at, updated_at)
VALUES ($1, $2, $3, FALSE, $4, '', FALSE, $5, $6, $7, $8, $9, $9)
ON CONFLICT (id) DO NOTHING`
	items := p.Items
	if items == nil {
		items = []domain.LineItem{}
	}
	tag, err := r.exec(ctx, stmt,
		p.ID, p.ExternalStatus, p.State, p.Fulfillment,
		p.Kind, p.UserID, nullable(p.HoldID), items, p.CreatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return false, domain.ErrHoldNotFound
		}
		return false, fmt.Errorf("insert payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PaymentRepository) UpdatePayment(ctx context.Context, p domain.PaymentRecord) error {
	const stmt = `
UPDATE payments SET
	external_status = $2,
	state = $3,
	processing = $4,
	lease_acquired_at = $5,
	fulfillment = $6,
	fulfillment_started_at = $7,
	fulfillment_error = $8,
	capacity_committed = $9,
	items = $10,
	updated_at = $11
WHERE id = $1`
	items := p.Items
	if items == nil {
		items = []domain.LineItem{}
	}
	tag, err := r.exec(ctx, stmt,
		p.ID, p.ExternalStatus, p.State, p.Processing, p.LeaseAcquiredAt,
		p.Fulfillment, p.FulfillmentStartedAt, p.FulfillmentError, p.CapacityCommitted,
		items, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

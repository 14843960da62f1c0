package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/john25coder/pizzaria-app/internal/domain/payment"
)

const (
	paymentColumns = `id, order_id, intent_id, status, amount, currency, method, description, refund_id, created_at, updated_at`

	createPaymentSQL = `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	getPaymentByIntentSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE intent_id = $1`

	lockPaymentByIntentSQL = getPaymentByIntentSQL + ` FOR UPDATE`

	latestPaymentByOrderSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE order_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`

	updatePaymentSQL = `UPDATE payments
		SET status = $2, description = $3, refund_id = $4, updated_at = $5
		WHERE id = $1`

	markEventSQL = `INSERT INTO webhook_events (event_id, event_type) VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`
)

var (
	_ payment.Repository = (*PaymentRepository)(nil)
	_ payment.EventLog   = (*PaymentRepository)(nil)
)

// PaymentRepository implements payment.Repository and payment.EventLog
// backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create inserts a payment record. A second record for the same intent
// returns payment.ErrDuplicateIntent.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	_, err := conn(ctx, r.pool).Exec(ctx, createPaymentSQL,
		p.ID, p.OrderID, p.IntentID, string(p.Status), p.Amount, p.Currency,
		p.Method, p.Description, p.RefundID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return payment.ErrDuplicateIntent
		}
		return fmt.Errorf("creating payment for intent %q: %w", p.IntentID, err)
	}
	return nil
}

// GetByIntentID returns the payment for a processor intent.
func (r *PaymentRepository) GetByIntentID(ctx context.Context, intentID string) (*payment.Payment, error) {
	return r.getOne(ctx, getPaymentByIntentSQL, intentID)
}

// LockByIntentID reads the payment with FOR UPDATE. Call it inside a
// transaction.
func (r *PaymentRepository) LockByIntentID(ctx context.Context, intentID string) (*payment.Payment, error) {
	return r.getOne(ctx, lockPaymentByIntentSQL, intentID)
}

// LatestByOrderID returns the most recent payment for an order.
func (r *PaymentRepository) LatestByOrderID(ctx context.Context, orderID string) (*payment.Payment, error) {
	return r.getOne(ctx, latestPaymentByOrderSQL, orderID)
}

func (r *PaymentRepository) getOne(ctx context.Context, sql, arg string) (*payment.Payment, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting payment %q: %w", arg, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment %q: %w", arg, err)
	}
	return &p, nil
}

// Update writes the mutable fields of a payment.
func (r *PaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updatePaymentSQL,
		p.ID, string(p.Status), p.Description, p.RefundID, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating payment %q: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrNotFound
	}
	return nil
}

// MarkProcessed records a webhook event id. It reports false if the id was
// already recorded.
func (r *PaymentRepository) MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, markEventSQL, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("recording event %q: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p      payment.Payment
		status string
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &p.IntentID, &status, &p.Amount, &p.Currency,
		&p.Method, &p.Description, &p.RefundID, &p.CreatedAt, &p.UpdatedAt,
	)
	p.Status = payment.Status(status)
	return p, err
}

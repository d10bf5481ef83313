package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/flashsale/internal/domain"
	"github.com/utafrali/flashsale/pkg/database"
	apperrors "github.com/utafrali/flashsale/pkg/errors"
)

// PaymentRepository implements repository.PaymentRepository using PostgreSQL.
type PaymentRepository struct {
	pool database.DBTX
}

// NewPaymentRepository creates a PostgreSQL-backed payment repository.
func NewPaymentRepository(pool database.DBTX) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create inserts a new payment. Replays of the same payment ID are ignored.
func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (id, order_id, transaction_id, method, gateway, amount, currency, status, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		payment.ID,
		payment.OrderID,
		payment.TransactionID,
		payment.Method,
		payment.Gateway,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.FailureReason,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// GetByOrderID retrieves the payment for an order.
func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	query := `
		SELECT id, order_id, transaction_id, method, gateway, amount, currency, status, failure_reason, created_at, updated_at
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var p domain.Payment
	err := r.pool.QueryRow(ctx, query, orderID).Scan(
		&p.ID,
		&p.OrderID,
		&p.TransactionID,
		&p.Method,
		&p.Gateway,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get payment by order id: %w", err)
	}
	return &p, nil
}

// UpdateStatus updates the status of a payment.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, failureReason string) error {
	query := `
		UPDATE payments
		SET status = $1, failure_reason = $2, updated_at = NOW()
		WHERE id = $3`

	ct, err := r.pool.Exec(ctx, query, status, failureReason, id)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("payment", id)
	}
	return nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexport/freightd/internal/model"
)

// PaymentRepository records payment confirmations. The payments table is
// append-only: rows are never updated or deleted, they are the audit trail
// of signals received from the payment provider.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a new payment repository.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Record appends a payment row.
func (r *PaymentRepository) Record(ctx context.Context, p *model.Payment) (*model.Payment, error) {
	p.ID = uuid.NewString()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO payments (
			id, booking_id, amount, currency, provider,
			payment_method, transaction_ref, payment_status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`,
		p.ID, p.BookingID, p.Amount, p.Currency, p.Provider,
		p.PaymentMethod, p.TransactionRef, p.Status,
	).Scan(&p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("record payment for booking %s: %w", p.BookingID, err)
	}
	return p, nil
}

// ListByBooking returns the payment trail for a booking, oldest first.
func (r *PaymentRepository) ListByBooking(ctx context.Context, bookingID string) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, booking_id, amount, currency, provider,
		       payment_method, transaction_ref, payment_status, created_at
		FROM payments
		WHERE booking_id = $1
		ORDER BY created_at ASC
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list payments for booking %s: %w", bookingID, err)
	}
	defer rows.Close()

	var out []model.Payment
	for rows.Next() {
		var p model.Payment
		if err := rows.Scan(
			&p.ID, &p.BookingID, &p.Amount, &p.Currency, &p.Provider,
			&p.PaymentMethod, &p.TransactionRef, &p.Status, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

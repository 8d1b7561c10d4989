package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexport/freightd/internal/model"
)

// TrackingRepository appends and reads the shipment timeline. Tracking writes
// are best-effort from the caller's point of view: a failed append never rolls
// back the booking operation that produced it.
type TrackingRepository struct {
	pool *pgxpool.Pool
}

// NewTrackingRepository creates a new tracking repository.
func NewTrackingRepository(pool *pgxpool.Pool) *TrackingRepository {
	return &TrackingRepository{pool: pool}
}

// Append inserts a tracking event.
func (r *TrackingRepository) Append(ctx context.Context, e *model.TrackingEvent) error {
	e.ID = uuid.NewString()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tracking_events (id, booking_id, title, description, status, location)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at
	`, e.ID, e.BookingID, e.Title, e.Description, e.Status, e.Location).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append tracking event for booking %s: %w", e.BookingID, err)
	}
	return nil
}

// Timeline returns a booking's tracking events, oldest first.
func (r *TrackingRepository) Timeline(ctx context.Context, bookingID string) ([]model.TrackingEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, booking_id, title, description, status, location, created_at
		FROM tracking_events
		WHERE booking_id = $1
		ORDER BY created_at ASC
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("timeline for booking %s: %w", bookingID, err)
	}
	defer rows.Close()

	var out []model.TrackingEvent
	for rows.Next() {
		var e model.TrackingEvent
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Title, &e.Description, &e.Status, &e.Location, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tracking event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexport/freightd/internal/model"
)

// ErrBookingNotFound is returned when the booking row does not exist.
var ErrBookingNotFound = errors.New("booking not found")

// BookingRepository handles booking rows.
//
// Status changes go through TransitionStatus, a conditional update that only
// commits if the row is still in the expected state — the same optimistic
// mechanism the container capacity updates use. Two concurrent transitions on
// one booking can therefore never both succeed.
type BookingRepository struct {
	pool *pgxpool.Pool
}

// NewBookingRepository creates a new booking repository.
func NewBookingRepository(pool *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

const bookingColumns = `
	id, exporter_id, booking_date, origin, destination, transport_mode,
	cargo_type, cargo_weight, container_id, container_number, allocated_cbm,
	booking_mode, price, status, created_at, updated_at`

func scanBooking(row pgx.Row) (*model.Booking, error) {
	b := &model.Booking{}
	err := row.Scan(
		&b.ID, &b.ExporterID, &b.BookingDate, &b.Origin, &b.Destination, &b.TransportMode,
		&b.CargoType, &b.CargoWeightKg, &b.ContainerID, &b.ContainerNumber, &b.AllocatedCBM,
		&b.BookingMode, &b.PriceINR, &b.Status, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Create inserts a new booking row. The caller has already reserved container
// capacity; the container id and CBM stamped here are the record of that hold.
func (r *BookingRepository) Create(ctx context.Context, b *model.Booking) (*model.Booking, error) {
	b.ID = uuid.NewString()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO bookings (
			id, exporter_id, booking_date, origin, destination, transport_mode,
			cargo_type, cargo_weight, container_id, container_number, allocated_cbm,
			booking_mode, price, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at
	`,
		b.ID, b.ExporterID, b.BookingDate, b.Origin, b.Destination, b.TransportMode,
		b.CargoType, b.CargoWeightKg, b.ContainerID, b.ContainerNumber, b.AllocatedCBM,
		b.BookingMode, b.PriceINR, b.Status,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}
	return b, nil
}

// GetByID fetches a booking.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return b, nil
}

// ListByExporter returns an exporter's bookings, newest first.
func (r *BookingRepository) ListByExporter(ctx context.Context, exporterID string) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE exporter_id = $1
		ORDER BY created_at DESC
	`, exporterID)
	if err != nil {
		return nil, fmt.Errorf("list bookings for exporter %s: %w", exporterID, err)
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// TransitionStatus moves a booking from one of the expected statuses to a new
// status. The WHERE clause re-checks the current status inside the UPDATE, so
// a transition that lost a race (e.g. two concurrent cancellations, or a
// cancellation racing a payment confirmation) affects zero rows and returns
// ErrConcurrentUpdate. The caller decides how to surface that.
func (r *BookingRepository) TransitionStatus(
	ctx context.Context,
	id string,
	from []model.BookingStatus,
	to model.BookingStatus,
) (*model.Booking, error) {

	if len(from) == 0 {
		return nil, errors.New("transition: empty from-status set")
	}
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	b, err := scanBooking(r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+bookingColumns, id, to, fromStrs))
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish "gone" from "status changed under us".
		if _, getErr := r.GetByID(ctx, id); errors.Is(getErr, ErrBookingNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, ErrConcurrentUpdate
	}
	if err != nil {
		return nil, fmt.Errorf("transition booking %s to %s: %w", id, to, err)
	}
	return b, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nexport/freightd/internal/events"
	"github.com/nexport/freightd/internal/model"
	"github.com/nexport/freightd/internal/repository"
)

// ─── Booking Errors ─────────────────────────────────────────

var (
	// ErrInvalidTransition is returned when a lifecycle operation is applied
	// to a booking whose current status does not allow it (e.g. cancelling a
	// paid booking).
	ErrInvalidTransition = errors.New("booking status does not allow this operation")
)

// ─── Persistence ports ──────────────────────────────────────

// BookingStore is the persistence port for booking rows.
type BookingStore interface {
	Create(ctx context.Context, b *model.Booking) (*model.Booking, error)
	GetByID(ctx context.Context, id string) (*model.Booking, error)
	// TransitionStatus must be conditional on the current status and return
	// repository.ErrConcurrentUpdate when the row changed under the caller.
	TransitionStatus(ctx context.Context, id string, from []model.BookingStatus, to model.BookingStatus) (*model.Booking, error)
}

// PaymentStore appends payment audit rows.
type PaymentStore interface {
	Record(ctx context.Context, p *model.Payment) (*model.Payment, error)
}

// TrackingStore appends shipment timeline events.
type TrackingStore interface {
	Append(ctx context.Context, e *model.TrackingEvent) error
}

// EventPublisher pushes booking lifecycle events to the event bus. A nil
// publisher disables publishing; implementations must not block the caller.
type EventPublisher interface {
	Emit(eventType, correlationID string, payload any)
}

// ─── Inputs ─────────────────────────────────────────────────

// CreateBookingInput is the request to create a booking.
type CreateBookingInput struct {
	ExporterID    string              `json:"exporter_id"`
	BookingDate   time.Time           `json:"booking_date"`
	Origin        string              `json:"origin"`
	Destination   string              `json:"destination"`
	TransportMode model.TransportMode `json:"transport_mode"`
	CargoType     string              `json:"cargo_type"`
	CargoWeightKg *float64            `json:"cargo_weight,omitempty"`
	ContainerType model.ContainerType `json:"container_type"`
	ContainerSize model.ContainerSize `json:"container_size"`
	BookingMode   model.BookingMode   `json:"booking_mode"`
	RequestedCBM  float64             `json:"requested_cbm"`
}

// PaymentConfirmation is the external payment signal. The service trusts it
// as received; verifying the provider's cryptographic proof is the caller's
// responsibility at the boundary, not the lifecycle manager's.
type PaymentConfirmation struct {
	Amount         int    `json:"amount"`
	Currency       string `json:"currency"`
	Provider       string `json:"provider"`
	PaymentMethod  string `json:"payment_method"`
	TransactionRef string `json:"transaction_ref"`
	Status         string `json:"status"`
}

// ─── BookingService ─────────────────────────────────────────

// BookingService owns the booking lifecycle:
//
//	pending_payment ──(payment signal)──▶ paid ──▶ shipment stages ──▶ delivered/completed
//	       │
//	       └──(cancel)──▶ cancelled  (capacity released)
//
// Capacity is held once, at creation time, by the allocation engine. Payment
// confirmation never touches capacity (the hold already exists); cancellation
// is the only transition that releases it, and it is only allowed while the
// booking is still pending payment.
type BookingService struct {
	bookings      BookingStore
	payments      PaymentStore
	tracking      TrackingStore
	allocator     *AllocationService
	pricing       *PricingService
	conversations *ConversationService
	publisher     EventPublisher
}

// NewBookingService creates a booking service. publisher may be nil.
func NewBookingService(
	bookings BookingStore,
	payments PaymentStore,
	tracking TrackingStore,
	allocator *AllocationService,
	pricing *PricingService,
	conversations *ConversationService,
	publisher EventPublisher,
) *BookingService {
	return &BookingService{
		bookings:      bookings,
		payments:      payments,
		tracking:      tracking,
		allocator:     allocator,
		pricing:       pricing,
		conversations: conversations,
		publisher:     publisher,
	}
}

// CreateBooking prices the request, reserves container capacity, and persists
// the booking in pending_payment with the hold stamped onto it. This is the
// only point where a booking and container capacity become linked.
//
// If allocation fails, no booking row is created and the allocation error
// (ErrNoCapacity / ErrInvalidRequest) surfaces unchanged. If the booking row
// itself cannot be persisted after a successful reservation, the hold is
// released again so no capacity leaks.
func (s *BookingService) CreateBooking(ctx context.Context, in CreateBookingInput) (*model.Booking, error) {
	if err := validateBookingInput(in); err != nil {
		return nil, err
	}

	quote := s.pricing.Price(in.BookingMode, in.ContainerSize, in.ContainerType, in.TransportMode, in.RequestedCBM)

	alloc, err := s.allocator.Allocate(ctx, model.CapacityRequest{
		Origin:        in.Origin,
		TransportMode: in.TransportMode,
		ContainerType: in.ContainerType,
		ContainerSize: in.ContainerSize,
		BookingMode:   in.BookingMode,
		RequestedCBM:  in.RequestedCBM,
	})
	if err != nil {
		return nil, err
	}

	booking := &model.Booking{
		ExporterID:      in.ExporterID,
		BookingDate:     in.BookingDate,
		Origin:          in.Origin,
		Destination:     in.Destination,
		TransportMode:   in.TransportMode,
		CargoType:       in.CargoType,
		CargoWeightKg:   in.CargoWeightKg,
		ContainerID:     &alloc.ContainerID,
		ContainerNumber: &alloc.ContainerNumber,
		BookingMode:     in.BookingMode,
		PriceINR:        quote.PriceINR,
		Status:          model.BookingPendingPayment,
	}
	if in.BookingMode == model.ModePartial {
		cbm := alloc.AllocatedCBM
		booking.AllocatedCBM = &cbm
	}

	created, err := s.bookings.Create(ctx, booking)
	if err != nil {
		// Compensate: the hold exists but the booking does not. Return the
		// capacity so it is not stranded.
		if relErr := s.allocator.Release(ctx, alloc.ContainerID, in.BookingMode, alloc.AllocatedCBM); relErr != nil {
			log.Printf("[booking] WARNING: failed to release orphaned hold on container %s: %v",
				alloc.ContainerID, relErr)
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	log.Printf("[booking] ✓ created booking %s (%s, %s) on container %s, ₹%d",
		created.ID, created.BookingMode, created.TransportMode, alloc.ContainerNumber, created.PriceINR)

	s.emit(events.TypeBookingCreated, created.ID, events.BookingCreatedPayload{
		BookingID:    created.ID,
		ExporterID:   created.ExporterID,
		ContainerID:  alloc.ContainerID,
		BookingMode:  string(created.BookingMode),
		AllocatedCBM: alloc.AllocatedCBM,
		PriceINR:     created.PriceINR,
	})
	return created, nil
}

// ConfirmPayment records the external payment signal and moves the booking
// from pending_payment to paid. Container capacity is not touched; the hold
// already exists from creation time.
//
// Downstream effects (conversation bootstrap, initial tracking events, the
// paid event) are best-effort: their failure is logged and reported as a
// warning, never rolled back into a payment failure.
func (s *BookingService) ConfirmPayment(ctx context.Context, bookingID string, pc PaymentConfirmation) (*model.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != model.BookingPendingPayment {
		return nil, fmt.Errorf("%w: booking %s is %q, expected pending_payment",
			ErrInvalidTransition, bookingID, booking.Status)
	}

	// Audit trail first: even if the status flip races, the signal is kept.
	if _, err := s.payments.Record(ctx, &model.Payment{
		BookingID:      bookingID,
		Amount:         pc.Amount,
		Currency:       pc.Currency,
		Provider:       pc.Provider,
		PaymentMethod:  pc.PaymentMethod,
		TransactionRef: pc.TransactionRef,
		Status:         pc.Status,
	}); err != nil {
		return nil, fmt.Errorf("confirm payment: %w", err)
	}

	paid, err := s.bookings.TransitionStatus(ctx, bookingID,
		[]model.BookingStatus{model.BookingPendingPayment}, model.BookingPaid)
	if errors.Is(err, repository.ErrConcurrentUpdate) {
		return nil, fmt.Errorf("%w: booking %s left pending_payment concurrently",
			ErrInvalidTransition, bookingID)
	}
	if err != nil {
		return nil, err
	}

	log.Printf("[booking] ✓ booking %s paid (ref %s)", bookingID, pc.TransactionRef)

	s.bootstrapPaidBooking(ctx, paid)

	s.emit(events.TypeBookingPaid, paid.ID, events.BookingPaidPayload{
		BookingID:      paid.ID,
		AmountINR:      pc.Amount,
		TransactionRef: pc.TransactionRef,
	})
	return paid, nil
}

// bootstrapPaidBooking performs the best-effort follow-ups of a confirmed
// payment: the exporter↔provider conversation and the first two timeline
// entries. Failures are logged, never propagated.
func (s *BookingService) bootstrapPaidBooking(ctx context.Context, booking *model.Booking) {
	if _, err := s.conversations.EnsureConversation(ctx, booking); err != nil {
		log.Printf("[booking] WARNING: conversation bootstrap for booking %s failed: %v", booking.ID, err)
	}

	bootstrap := []model.TrackingEvent{
		{
			BookingID:   booking.ID,
			Title:       "Booking Confirmed",
			Description: "Payment received and booking confirmed.",
			Status:      "completed",
			Location:    "System",
		},
		{
			BookingID:   booking.ID,
			Title:       "Container Assigned",
			Description: "Container has been assigned to this booking.",
			Status:      "completed",
			Location:    "System",
		},
	}
	for i := range bootstrap {
		if err := s.tracking.Append(ctx, &bootstrap[i]); err != nil {
			log.Printf("[booking] WARNING: tracking bootstrap for booking %s failed: %v", booking.ID, err)
			break
		}
	}
}

// CancelBooking cancels a pending booking and releases its capacity hold.
//
// Only pending_payment bookings are cancellable in this flow; anything later
// returns ErrInvalidTransition and leaves capacity untouched.
//
// The status flip happens first (conditional on pending_payment), so of two
// racing cancellations exactly one wins and the hold is released exactly
// once. If the release then fails (container row gone), the booking stays
// cancelled and the discrepancy is logged loudly for manual reconciliation;
// the user is never stranded on a bookkeeping problem.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID string) (*model.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != model.BookingPendingPayment {
		return nil, fmt.Errorf("%w: booking %s is %q, only pending_payment bookings can be cancelled",
			ErrInvalidTransition, bookingID, booking.Status)
	}

	cancelled, err := s.bookings.TransitionStatus(ctx, bookingID,
		[]model.BookingStatus{model.BookingPendingPayment}, model.BookingCancelled)
	if errors.Is(err, repository.ErrConcurrentUpdate) {
		return nil, fmt.Errorf("%w: booking %s left pending_payment concurrently",
			ErrInvalidTransition, bookingID)
	}
	if err != nil {
		return nil, err
	}

	if booking.ContainerID != nil {
		var cbm float64
		if booking.AllocatedCBM != nil {
			cbm = *booking.AllocatedCBM
		}
		if err := s.allocator.Release(ctx, *booking.ContainerID, booking.BookingMode, cbm); err != nil {
			// Bookkeeping inconsistency: the booking is cancelled but the
			// capacity could not be restored. Flag for reconciliation.
			log.Printf("[booking] WARNING: bookkeeping inconsistency: release for cancelled booking %s (container %s) failed: %v",
				bookingID, *booking.ContainerID, err)
		}
	}

	log.Printf("[booking] ✓ cancelled booking %s, capacity hold released", bookingID)

	s.emit(events.TypeBookingCancelled, cancelled.ID, events.BookingCancelledPayload{
		BookingID:   cancelled.ID,
		ContainerID: stringOrEmpty(booking.ContainerID),
	})
	return cancelled, nil
}

// AdvanceShipmentStatus applies a provider-reported shipment stage to a paid
// booking. Stages are free-form progression: the service validates that the
// target is a known stage and that the booking is past payment and not
// cancelled, nothing more. No capacity is involved.
//
// A tracking event is appended best-effort.
func (s *BookingService) AdvanceShipmentStatus(
	ctx context.Context,
	bookingID string,
	newStatus model.BookingStatus,
	note string,
	location string,
) (*model.Booking, error) {

	if !model.ShipmentStages[newStatus] {
		return nil, fmt.Errorf("%w: %q is not a shipment stage", ErrInvalidRequest, newStatus)
	}

	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	switch {
	case booking.Status == model.BookingCancelled:
		return nil, fmt.Errorf("%w: booking %s is cancelled", ErrInvalidTransition, bookingID)
	case booking.Status == model.BookingPendingPayment:
		return nil, fmt.Errorf("%w: booking %s is not paid yet", ErrInvalidTransition, bookingID)
	}

	from := make([]model.BookingStatus, 0, len(model.ShipmentStages)+1)
	from = append(from, model.BookingPaid)
	for stage := range model.ShipmentStages {
		from = append(from, stage)
	}
	updated, err := s.bookings.TransitionStatus(ctx, bookingID, from, newStatus)
	if errors.Is(err, repository.ErrConcurrentUpdate) {
		return nil, fmt.Errorf("%w: booking %s changed concurrently", ErrInvalidTransition, bookingID)
	}
	if err != nil {
		return nil, err
	}

	if err := s.tracking.Append(ctx, &model.TrackingEvent{
		BookingID:   bookingID,
		Title:       stageTitle(newStatus),
		Description: note,
		Status:      string(newStatus),
		Location:    location,
	}); err != nil {
		log.Printf("[booking] WARNING: tracking event for booking %s (%s) failed: %v", bookingID, newStatus, err)
	}

	log.Printf("[booking] booking %s advanced to %s", bookingID, newStatus)

	s.emit(events.TypeBookingStatusAdvanced, updated.ID, events.BookingStatusAdvancedPayload{
		BookingID: updated.ID,
		NewStatus: string(newStatus),
		Note:      note,
	})
	return updated, nil
}

// GetBooking fetches a booking by id.
func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (*model.Booking, error) {
	return s.bookings.GetByID(ctx, bookingID)
}

// ─── Private helpers ────────────────────────────────────────

func (s *BookingService) emit(eventType, bookingID string, payload any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Emit(eventType, bookingID, payload)
}

// stageTitle renders the human-readable timeline title for a stage.
func stageTitle(s model.BookingStatus) string {
	switch s {
	case model.BookingInTransit:
		return "In Transit"
	case model.BookingAtCustoms:
		return "At Customs"
	case model.BookingCustomsCleared:
		return "Customs Cleared"
	case model.BookingOutForDelivery:
		return "Out for Delivery"
	case model.BookingDelivered:
		return "Delivered"
	case model.BookingCompleted:
		return "Completed"
	default:
		return string(s)
	}
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// validateBookingInput checks the booking-creation request shape. Capacity
// request validation (CBM, mode, lane attributes) happens again inside the
// allocation engine; the checks here are the booking-level ones.
func validateBookingInput(in CreateBookingInput) error {
	if in.ExporterID == "" {
		return fmt.Errorf("%w: exporter_id is required", ErrInvalidRequest)
	}
	if in.Origin == "" || in.Destination == "" {
		return fmt.Errorf("%w: origin and destination are required", ErrInvalidRequest)
	}
	if in.Origin == in.Destination {
		return fmt.Errorf("%w: origin and destination must differ", ErrInvalidRequest)
	}
	if in.CargoType == "" {
		return fmt.Errorf("%w: cargo_type is required", ErrInvalidRequest)
	}
	if in.CargoWeightKg != nil && *in.CargoWeightKg < 0 {
		return fmt.Errorf("%w: cargo_weight must not be negative", ErrInvalidRequest)
	}
	return nil
}

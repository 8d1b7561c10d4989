// Package model contains domain models for the freight booking system.
// These structs map to the PostgreSQL schema defined in migrations/001_create_schema.up.sql.
package model

import "time"

// ─── Enums ──────────────────────────────────────────────────

type TransportMode string

const (
	TransportSea  TransportMode = "sea"
	TransportRoad TransportMode = "road"
	TransportAir  TransportMode = "air"
)

type ContainerType string

const (
	ContainerNormal ContainerType = "normal"
	ContainerDry    ContainerType = "dry"
	ContainerReefer ContainerType = "reefer"
)

type ContainerSize string

const (
	Size20ft ContainerSize = "20ft"
	Size40ft ContainerSize = "40ft"
)

type BookingMode string

const (
	// ModeFull reserves an entire container (FCL-style).
	ModeFull BookingMode = "full"
	// ModePartial reserves a CBM slice of a shared container (LCL-style).
	ModePartial BookingMode = "partial"
)

type ContainerStatus string

const (
	ContainerAvailable ContainerStatus = "available"
	ContainerAllocated ContainerStatus = "allocated"
	ContainerInTransit ContainerStatus = "in_transit"
	// ContainerFull means available_space_cbm == 0. The repository keeps
	// this in lockstep with the capacity column on every reserve/release.
	ContainerFull ContainerStatus = "full"
)

type BookingStatus string

const (
	BookingPendingPayment BookingStatus = "pending_payment"
	BookingPaid           BookingStatus = "paid"
	BookingInTransit      BookingStatus = "in_transit"
	BookingAtCustoms      BookingStatus = "at_customs"
	BookingCustomsCleared BookingStatus = "customs_cleared"
	BookingOutForDelivery BookingStatus = "out_for_delivery"
	BookingDelivered      BookingStatus = "delivered"
	BookingCompleted      BookingStatus = "completed"
	BookingCancelled      BookingStatus = "cancelled"
)

// ShipmentStages lists the provider-driven statuses a paid booking may move
// through. Progression is free-form (providers report stages as they happen);
// only pending_payment and cancelled are excluded from it.
var ShipmentStages = map[BookingStatus]bool{
	BookingInTransit:      true,
	BookingAtCustoms:      true,
	BookingCustomsCleared: true,
	BookingOutForDelivery: true,
	BookingDelivered:      true,
	BookingCompleted:      true,
}

// IsTerminal reports whether no further transitions are allowed.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingDelivered || s == BookingCompleted || s == BookingCancelled
}

// ValidTransportMode reports whether m is one of sea/road/air.
func ValidTransportMode(m TransportMode) bool {
	return m == TransportSea || m == TransportRoad || m == TransportAir
}

// ValidContainerType reports whether t is one of normal/dry/reefer.
func ValidContainerType(t ContainerType) bool {
	return t == ContainerNormal || t == ContainerDry || t == ContainerReefer
}

// ValidContainerSize reports whether s is 20ft or 40ft.
func ValidContainerSize(s ContainerSize) bool {
	return s == Size20ft || s == Size40ft
}

// ValidBookingMode reports whether m is full or partial.
func ValidBookingMode(m BookingMode) bool {
	return m == ModeFull || m == ModePartial
}

// ValidContainerStatus reports whether s is a known container status.
func ValidContainerStatus(s ContainerStatus) bool {
	switch s {
	case ContainerAvailable, ContainerAllocated, ContainerInTransit, ContainerFull:
		return true
	}
	return false
}

// ─── Domain Models ──────────────────────────────────────────

// Container maps to the `containers` table.
//
// Invariant: 0 <= AvailableSpaceCBM <= TotalSpaceCBM at all times, and
// Status == "full" exactly when AvailableSpaceCBM == 0. The available
// column is only ever mutated through the repository's Reserve/Release
// conditional updates — never via a plain read-modify-write.
type Container struct {
	ID                string          `json:"id"`
	ContainerNumber   string          `json:"container_number"`
	ProviderID        *string         `json:"provider_id,omitempty"` // nil for unassigned pool containers
	Type              ContainerType   `json:"type"`
	Size              ContainerSize   `json:"size"`
	TotalSpaceCBM     float64         `json:"total_space_cbm"`
	AvailableSpaceCBM float64         `json:"available_space_cbm"`
	CurrentLocation   string          `json:"current_location"`
	TransportMode     TransportMode   `json:"transport_mode"`
	Status            ContainerStatus `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Booking maps to the `bookings` table.
type Booking struct {
	ID              string        `json:"id"`
	ExporterID      string        `json:"exporter_id"`
	BookingDate     time.Time     `json:"booking_date"`
	Origin          string        `json:"origin"`
	Destination     string        `json:"destination"`
	TransportMode   TransportMode `json:"transport_mode"`
	CargoType       string        `json:"cargo_type"`
	CargoWeightKg   *float64      `json:"cargo_weight,omitempty"`
	ContainerID     *string       `json:"container_id,omitempty"`
	ContainerNumber *string       `json:"container_number,omitempty"`
	AllocatedCBM    *float64      `json:"allocated_cbm,omitempty"` // nil for full-container bookings
	BookingMode     BookingMode   `json:"booking_mode"`
	PriceINR        int           `json:"price"`
	Status          BookingStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Payment maps to the `payments` table. Rows are append-only: the table is
// an audit trail of confirmation signals received from the payment provider.
type Payment struct {
	ID             string    `json:"id"`
	BookingID      string    `json:"booking_id"`
	Amount         int       `json:"amount"`
	Currency       string    `json:"currency"`
	Provider       string    `json:"provider"`
	PaymentMethod  string    `json:"payment_method"`
	TransactionRef string    `json:"transaction_ref"`
	Status         string    `json:"payment_status"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation maps to the `conversations` table. At most one exists per
// booking (UNIQUE constraint on booking_id), linking the exporter with the
// allocated container's provider.
type Conversation struct {
	ID          string    `json:"id"`
	BookingID   string    `json:"booking_id"`
	ContainerID string    `json:"container_id"`
	ExporterID  string    `json:"exporter_id"`
	ProviderID  string    `json:"provider_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Message maps to the `messages` table.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderRole     string    `json:"sender_role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// TrackingEvent maps to the `tracking_events` table (append-only timeline).
type TrackingEvent struct {
	ID          string    `json:"id"`
	BookingID   string    `json:"booking_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Location    string    `json:"location"`
	CreatedAt   time.Time `json:"created_at"`
}

// ─── Allocation DTOs ────────────────────────────────────────

// CapacityRequest is the input to the allocation engine.
type CapacityRequest struct {
	Origin        string        `json:"origin"`
	TransportMode TransportMode `json:"transport_mode"`
	ContainerType ContainerType `json:"container_type"`
	ContainerSize ContainerSize `json:"container_size"`
	BookingMode   BookingMode   `json:"booking_mode"`
	RequestedCBM  float64       `json:"requested_cbm"` // ignored for full mode
}

// Allocation is the result of a successful reservation.
type Allocation struct {
	ContainerID     string          `json:"container_id"`
	ContainerNumber string          `json:"container_number"`
	AllocatedCBM    float64         `json:"allocated_cbm"`
	NewAvailableCBM float64         `json:"new_available_cbm"`
	NewStatus       ContainerStatus `json:"new_status"`
}

// LaneAvailability is a cached snapshot of open capacity on a shipping lane,
// used for quote previews. It is advisory only: the allocation path always
// re-queries the database and guards reservations with a conditional update.
type LaneAvailability struct {
	Candidates   int     `json:"candidates"`
	MaxAvailable float64 `json:"max_available_cbm"`
}

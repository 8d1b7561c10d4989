// Package events publishes booking lifecycle events to Kafka.
//
// The event stream replaces in-process change notification: UI backends and
// tracking consumers subscribe to the topic instead of polling the database.
// Publishing is always best-effort: allocation and lifecycle correctness
// never depend on an event being delivered.
package events

import (
	"encoding/json"
	"time"
)

// Event types carried on the booking topic.
const (
	TypeBookingCreated        = "BookingCreated"
	TypeBookingPaid           = "BookingPaid"
	TypeBookingCancelled      = "BookingCancelled"
	TypeBookingStatusAdvanced = "BookingStatusAdvanced"
)

// Envelope is the versioned wrapper around every published event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id"` // booking id
	Payload       json.RawMessage `json:"payload"`
}

// ─── Payloads ───────────────────────────────────────────────

type BookingCreatedPayload struct {
	BookingID    string  `json:"booking_id"`
	ExporterID   string  `json:"exporter_id"`
	ContainerID  string  `json:"container_id"`
	BookingMode  string  `json:"booking_mode"`
	AllocatedCBM float64 `json:"allocated_cbm"`
	PriceINR     int     `json:"price_inr"`
}

type BookingPaidPayload struct {
	BookingID      string `json:"booking_id"`
	AmountINR      int    `json:"amount_inr"`
	TransactionRef string `json:"transaction_ref"`
}

type BookingCancelledPayload struct {
	BookingID   string `json:"booking_id"`
	ContainerID string `json:"container_id"`
}

type BookingStatusAdvancedPayload struct {
	BookingID string `json:"booking_id"`
	NewStatus string `json:"new_status"`
	Note      string `json:"note,omitempty"`
}

package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nexport/freightd/internal/model"
	"github.com/nexport/freightd/internal/repository"
	"github.com/nexport/freightd/internal/service"
)

// BookingHandler handles booking lifecycle HTTP requests. Lifecycle mutations
// go through the booking service; read-only listings hit the repositories
// directly.
type BookingHandler struct {
	bookingSvc *service.BookingService
	bookings   *repository.BookingRepository
	payments   *repository.PaymentRepository
	tracking   *repository.TrackingRepository
}

// NewBookingHandler creates a new booking handler.
func NewBookingHandler(
	bookingSvc *service.BookingService,
	bookings *repository.BookingRepository,
	payments *repository.PaymentRepository,
	tracking *repository.TrackingRepository,
) *BookingHandler {
	return &BookingHandler{
		bookingSvc: bookingSvc,
		bookings:   bookings,
		payments:   payments,
		tracking:   tracking,
	}
}

// CreateBooking handles POST /api/v1/bookings
//
// Prices the request, reserves container capacity, and creates the booking
// in pending_payment.
//
// Response codes:
//
//	201  — Booking created (capacity held)
//	400  — Malformed request (validation)
//	422  — No container capacity on the requested lane
//	500  — Unexpected error
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var in service.CreateBookingInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("bad_json", "invalid JSON body"))
		return
	}

	booking, err := h.bookingSvc.CreateBooking(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", err.Error()))
		case errors.Is(err, service.ErrNoCapacity):
			writeJSON(w, http.StatusUnprocessableEntity, errorBody("no_capacity",
				"No container has enough space on this lane. Try different parameters or retry later."))
		default:
			log.Printf("[handler] create booking error: %v", err)
			writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "failed to create booking"))
		}
		return
	}

	writeJSON(w, http.StatusCreated, booking)
}

// GetBooking handles GET /api/v1/bookings/{id}
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	booking, err := h.bookingSvc.GetBooking(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not_found", "Booking not found."))
			return
		}
		log.Printf("[handler] get booking error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "failed to fetch booking"))
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

// ListBookings handles GET /api/v1/bookings?exporter_id=...
func (h *BookingHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	exporterID := r.URL.Query().Get("exporter_id")
	if exporterID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", "exporter_id query parameter is required"))
		return
	}

	bookings, err := h.bookings.ListByExporter(r.Context(), exporterID)
	if err != nil {
		log.Printf("[handler] list bookings error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "failed to list bookings"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bookings": bookings,
		"count":    len(bookings),
	})
}

// Payments handles GET /api/v1/bookings/{id}/payments
//
// Returns the payment audit trail, oldest first.
func (h *BookingHandler) Payments(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := h.bookingSvc.GetBooking(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not_found", "Booking not found."))
			return
		}
		log.Printf("[handler] payments error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "failed to fetch payments"))
		return
	}

	payments, err := h.payments.ListByBooking(r.Context(), id)
	if err != nil {
		log.Printf("[handler] payments error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "failed to fetch payments"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payments": payments,
		"count":    len(payments),
	})
}

// ConfirmPayment handles POST /api/v1/bookings/{id}/payment
//
// Accepts the external payment confirmation signal and transitions the
// booking to paid. The signal is trusted as received; provider-side proof
// validation belongs to the gateway integration, not this API.
//
// Response codes:
//
//	200  — Payment recorded, booking paid
//	404  — Booking not found
//	409  — Booking is not pending payment
//	500  — Unexpected error
func (h *BookingHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var pc service.PaymentConfirmation
	if err := json.NewDecoder(r.Body).Decode(&pc); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("bad_json", "invalid JSON body"))
		return
	}
	if pc.TransactionRef == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", "transaction_ref is required"))
		return
	}

	booking, err := h.bookingSvc.ConfirmPayment(r.Context(), id, pc)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrBookingNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not_found", "Booking not found."))
		case errors.Is(err, service.ErrInvalidTransition):
			writeJSON(w, http.StatusConflict, errorBody("not_pending",
				"This booking is not awaiting payment."))
		default:
			log.Printf("[handler] confirm payment error: %v", err)
			writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "failed to confirm payment"))
		}
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

// CancelBooking handles POST /api/v1/bookings/{id}/cancel
//
// Cancels a pending booking and releases its capacity hold.
//
// Response codes:
//
//	200  — Cancelled, capacity released
//	404  — Booking not found
//	409  — Booking is past pending_payment (not cancellable)
//	500  — Unexpected error
func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	booking, err := h.bookingSvc.CancelBooking(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrBookingNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not_found", "Booking not found."))
		case errors.Is(err, service.ErrInvalidTransition):
			writeJSON(w, http.StatusConflict, errorBody("not_cancellable",
				"Only bookings awaiting payment can be cancelled."))
		default:
			log.Printf("[handler] cancel booking error: %v", err)
			writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "failed to cancel booking"))
		}
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

// AdvanceStatusBody is the JSON body for POST /api/v1/bookings/{id}/status.
type AdvanceStatusBody struct {
	Status   string `json:"status"`
	Note     string `json:"note"`
	Location string `json:"location"`
}

// AdvanceStatus handles POST /api/v1/bookings/{id}/status
//
// Provider-driven shipment stage update (in_transit, at_customs, ...).
func (h *BookingHandler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var body AdvanceStatusBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("bad_json", "invalid JSON body"))
		return
	}

	booking, err := h.bookingSvc.AdvanceShipmentStatus(
		r.Context(), id, model.BookingStatus(body.Status), body.Note, body.Location)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			writeJSON(w, http.StatusBadRequest, errorBody("invalid_status", err.Error()))
		case errors.Is(err, repository.ErrBookingNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not_found", "Booking not found."))
		case errors.Is(err, service.ErrInvalidTransition):
			writeJSON(w, http.StatusConflict, errorBody("not_advanceable",
				"This booking cannot receive shipment updates."))
		default:
			log.Printf("[handler] advance status error: %v", err)
			writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "failed to update status"))
		}
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

// Tracking handles GET /api/v1/bookings/{id}/tracking
//
// Returns the booking's shipment timeline.
func (h *BookingHandler) Tracking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// Confirm the booking exists so a bad id is a 404, not an empty list.
	booking, err := h.bookingSvc.GetBooking(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not_found", "Booking not found."))
			return
		}
		log.Printf("[handler] tracking error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "failed to fetch tracking"))
		return
	}

	events, err := h.tracking.Timeline(r.Context(), id)
	if err != nil {
		log.Printf("[handler] tracking timeline error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "failed to fetch tracking"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"booking": booking,
		"events":  events,
	})
}

package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/nexport/freightd/internal/model"
	"github.com/nexport/freightd/internal/repository"
	"github.com/nexport/freightd/internal/service"
)

// QuoteHandler handles price preview requests. A quote never reserves
// capacity; it pairs a pure price calculation with an advisory lane
// availability snapshot.
type QuoteHandler struct {
	pricing    *service.PricingService
	containers *repository.ContainerRepository
}

// NewQuoteHandler creates a new quote handler.
func NewQuoteHandler(pricing *service.PricingService, containers *repository.ContainerRepository) *QuoteHandler {
	return &QuoteHandler{pricing: pricing, containers: containers}
}

// QuoteRequestBody is the JSON body for POST /api/v1/quotes.
type QuoteRequestBody struct {
	Origin        string  `json:"origin"`
	TransportMode string  `json:"transport_mode"`
	ContainerType string  `json:"container_type"`
	ContainerSize string  `json:"container_size"`
	BookingMode   string  `json:"booking_mode"`
	CargoCBM      float64 `json:"cargo_cbm"`
}

// GetQuote handles POST /api/v1/quotes
//
// Response codes:
//
//	200  — Quote computed (availability may still be zero)
//	400  — Malformed request
func (h *QuoteHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	var body QuoteRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("bad_json", "invalid JSON body"))
		return
	}

	tm := model.TransportMode(body.TransportMode)
	ct := model.ContainerType(body.ContainerType)
	cs := model.ContainerSize(body.ContainerSize)
	mode := model.BookingMode(body.BookingMode)

	if !model.ValidTransportMode(tm) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", "invalid transport mode"))
		return
	}
	if !model.ValidContainerType(ct) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", "invalid container type"))
		return
	}
	if !model.ValidContainerSize(cs) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", "invalid container size"))
		return
	}
	if !model.ValidBookingMode(mode) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", "invalid booking mode"))
		return
	}
	if mode == model.ModePartial && body.CargoCBM <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", "cargo_cbm must be positive for partial bookings"))
		return
	}

	quote := h.pricing.Price(mode, cs, ct, tm, body.CargoCBM)

	resp := map[string]interface{}{"quote": quote}

	// Availability is a best-effort preview; a failed lookup degrades the
	// response rather than failing the quote.
	if body.Origin != "" {
		lane, err := h.containers.LaneAvailability(r.Context(), body.Origin, tm, ct, cs)
		if err != nil {
			log.Printf("[handler] lane availability error: %v", err)
		} else {
			resp["availability"] = lane
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nexport/freightd/internal/model"
	"github.com/nexport/freightd/internal/repository"
)

// ContainerHandler handles provider container management requests.
type ContainerHandler struct {
	containers *repository.ContainerRepository
}

// NewContainerHandler creates a new container handler.
func NewContainerHandler(containers *repository.ContainerRepository) *ContainerHandler {
	return &ContainerHandler{containers: containers}
}

// CreateContainerBody is the JSON body for POST /api/v1/containers.
type CreateContainerBody struct {
	ProviderID      string  `json:"provider_id"`
	Type            string  `json:"type"`
	Size            string  `json:"size"`
	TotalSpaceCBM   float64 `json:"total_space_cbm"`
	CurrentLocation string  `json:"current_location"`
	TransportMode   string  `json:"transport_mode"`
}

// CreateContainer handles POST /api/v1/containers
//
// Registers a new container with its full capacity available. A unique
// container number (CNT-xxxxx) is assigned server side.
func (h *ContainerHandler) CreateContainer(w http.ResponseWriter, r *http.Request) {
	var body CreateContainerBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("bad_json", "invalid JSON body"))
		return
	}

	if body.CurrentLocation == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", "current_location is required"))
		return
	}
	if !model.ValidContainerType(model.ContainerType(body.Type)) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", "invalid container type"))
		return
	}
	if !model.ValidContainerSize(model.ContainerSize(body.Size)) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", "invalid container size"))
		return
	}
	if !model.ValidTransportMode(model.TransportMode(body.TransportMode)) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", "invalid transport mode"))
		return
	}
	if body.TotalSpaceCBM <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", "total_space_cbm must be positive"))
		return
	}

	number, err := h.containers.UniqueContainerNumber(r.Context())
	if err != nil {
		log.Printf("[handler] container number error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "failed to register container"))
		return
	}

	c := &model.Container{
		ContainerNumber:   number,
		Type:              model.ContainerType(body.Type),
		Size:              model.ContainerSize(body.Size),
		TotalSpaceCBM:     body.TotalSpaceCBM,
		AvailableSpaceCBM: body.TotalSpaceCBM,
		CurrentLocation:   body.CurrentLocation,
		TransportMode:     model.TransportMode(body.TransportMode),
		Status:            model.ContainerAvailable,
	}
	if body.ProviderID != "" {
		c.ProviderID = &body.ProviderID
	}

	created, err := h.containers.Create(r.Context(), c)
	if err != nil {
		log.Printf("[handler] create container error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "failed to register container"))
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// ListContainers handles GET /api/v1/containers?provider_id=...
func (h *ContainerHandler) ListContainers(w http.ResponseWriter, r *http.Request) {
	providerID := r.URL.Query().Get("provider_id")

	containers, err := h.containers.ListByProvider(r.Context(), providerID)
	if err != nil {
		log.Printf("[handler] list containers error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "failed to list containers"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"containers": containers,
		"count":      len(containers),
	})
}

// GetContainer handles GET /api/v1/containers/{id}
func (h *ContainerHandler) GetContainer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	c, err := h.containers.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrContainerNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not_found", "Container not found."))
			return
		}
		log.Printf("[handler] get container error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "failed to fetch container"))
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// UpdateLocationBody is the JSON body for PATCH /api/v1/containers/{id}/location.
type UpdateLocationBody struct {
	CurrentLocation string `json:"current_location"`
	Status          string `json:"status"`
}

// UpdateLocation handles PATCH /api/v1/containers/{id}/location
//
// Provider-side position/status update. Capacity is never touched here.
func (h *ContainerHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var body UpdateLocationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("bad_json", "invalid JSON body"))
		return
	}
	if body.CurrentLocation == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", "current_location is required"))
		return
	}
	if body.Status != "" && !model.ValidContainerStatus(model.ContainerStatus(body.Status)) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", "invalid container status"))
		return
	}

	status := model.ContainerStatus(body.Status)
	if status == "" {
		status = model.ContainerInTransit
	}

	updated, err := h.containers.UpdateLocation(r.Context(), id, body.CurrentLocation, status)
	if err != nil {
		if errors.Is(err, repository.ErrContainerNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not_found", "Container not found."))
			return
		}
		log.Printf("[handler] update location error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "failed to update container"))
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

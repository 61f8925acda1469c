package handlers

import (
	"context"
	"net/http"

	"github.com/doctorq/backend/internal/domain/entities"
	apperrors "github.com/doctorq/backend/pkg/errors"
)

// ClinicCommands defines the clinic operations used by the handler.
type ClinicCommands interface {
	GetClinic(ctx context.Context, clinicID string) (*entities.Clinic, error)
	SetDoctorPresence(ctx context.Context, clinicID string, present bool) (*entities.Clinic, error)
}

// ClinicHandler handles clinic HTTP requests
type ClinicHandler struct {
	service ClinicCommands
}

// NewClinicHandler creates a new clinic handler
func NewClinicHandler(service ClinicCommands) *ClinicHandler {
	return &ClinicHandler{service: service}
}

type presenceRequest struct {
	Present *bool `json:"present"`
}

// GetClinic handles GET /api/clinics/{clinicId}
func (h *ClinicHandler) GetClinic(w http.ResponseWriter, r *http.Request) {
	clinic, err := h.service.GetClinic(r.Context(), r.PathValue("clinicId"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, clinic)
}

// SetDoctorPresence handles PUT /api/clinics/{clinicId}/presence
func (h *ClinicHandler) SetDoctorPresence(w http.ResponseWriter, r *http.Request) {
	var payload presenceRequest
	if err := decodeJSON(r, &payload); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if payload.Present == nil {
		respondWithAppError(w, r, apperrors.NewValidationError("present is required"))
		return
	}

	clinic, err := h.service.SetDoctorPresence(r.Context(), r.PathValue("clinicId"), *payload.Present)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, clinic)
}

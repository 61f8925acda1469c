package handlers

import (
	"context"
	"net/http"

	"github.com/doctorq/backend/internal/application/services"
	"github.com/doctorq/backend/internal/domain/entities"
	apperrors "github.com/doctorq/backend/pkg/errors"
)

// QueueCommands defines the queue mutations used by the handler.
type QueueCommands interface {
	AddPatient(ctx context.Context, req services.AddPatientRequest) (*entities.QueueEntry, error)
	CallNext(ctx context.Context, clinicID string) (*entities.QueueEntry, error)
	CompleteCurrent(ctx context.Context, clinicID, entryID string) (*entities.QueueEntry, error)
	MarkNoShow(ctx context.Context, clinicID, entryID string) (*entities.QueueEntry, error)
	Cancel(ctx context.Context, clinicID, entryID string) (*entities.QueueEntry, error)
	Reorder(ctx context.Context, clinicID, entryID string, direction services.Direction) (*entities.QueueEntry, error)
	Notify(ctx context.Context, clinicID, entryID string) (*entities.QueueEntry, error)
	ClearQueue(ctx context.Context, clinicID string) (int, error)
}

// QueueQueries defines the queue reads used by the handler.
type QueueQueries interface {
	GetQueue(ctx context.Context, clinicID string) ([]*entities.QueueEntry, error)
	GetStats(ctx context.Context, clinicID string) (*entities.QueueStats, error)
	GetSnapshot(ctx context.Context, clinicID string) (*entities.QueueSnapshot, error)
	GetPatientStatus(ctx context.Context, clinicID, entryID string) (*entities.PatientStatus, error)
}

// QueueHandler handles queue HTTP requests
type QueueHandler struct {
	commands QueueCommands
	queries  QueueQueries
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(commands QueueCommands, queries QueueQueries) *QueueHandler {
	return &QueueHandler{
		commands: commands,
		queries:  queries,
	}
}

type addPatientRequest struct {
	Phone         string                 `json:"phone"`
	Name          string                 `json:"name"`
	CheckInMethod entities.CheckInMethod `json:"checkInMethod"`
	Priority      bool                   `json:"priority"`
}

type reorderRequest struct {
	Direction services.Direction `json:"direction"`
}

type clearQueueResponse struct {
	ClinicID string `json:"clinicId"`
	Cleared  int    `json:"cleared"`
}

// AddPatient handles POST /api/clinics/{clinicId}/queue
func (h *QueueHandler) AddPatient(w http.ResponseWriter, r *http.Request) {
	var payload addPatientRequest
	if err := decodeJSON(r, &payload); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	entry, err := h.commands.AddPatient(r.Context(), services.AddPatientRequest{
		ClinicID:      r.PathValue("clinicId"),
		Phone:         payload.Phone,
		Name:          payload.Name,
		CheckInMethod: payload.CheckInMethod,
		Priority:      payload.Priority,
	})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, entry)
}

// GetQueue handles GET /api/clinics/{clinicId}/queue and returns the
// dashboard snapshot
func (h *QueueHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.queries.GetSnapshot(r.Context(), r.PathValue("clinicId"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, snapshot)
}

// GetStats handles GET /api/clinics/{clinicId}/stats
func (h *QueueHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queries.GetStats(r.Context(), r.PathValue("clinicId"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

// GetPatientStatus handles GET /api/clinics/{clinicId}/queue/{entryId}
func (h *QueueHandler) GetPatientStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.queries.GetPatientStatus(r.Context(), r.PathValue("clinicId"), r.PathValue("entryId"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// CallNext handles POST /api/clinics/{clinicId}/queue/call-next
func (h *QueueHandler) CallNext(w http.ResponseWriter, r *http.Request) {
	entry, err := h.commands.CallNext(r.Context(), r.PathValue("clinicId"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entry)
}

// Complete handles POST /api/clinics/{clinicId}/queue/{entryId}/complete
func (h *QueueHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.commands.CompleteCurrent)
}

// NoShow handles POST /api/clinics/{clinicId}/queue/{entryId}/no-show
func (h *QueueHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.commands.MarkNoShow)
}

// Cancel handles POST /api/clinics/{clinicId}/queue/{entryId}/cancel
func (h *QueueHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.commands.Cancel)
}

// Notify handles POST /api/clinics/{clinicId}/queue/{entryId}/notify
func (h *QueueHandler) Notify(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.commands.Notify)
}

// Reorder handles POST /api/clinics/{clinicId}/queue/{entryId}/reorder
func (h *QueueHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var payload reorderRequest
	if err := decodeJSON(r, &payload); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if !payload.Direction.Valid() {
		respondWithAppError(w, r, apperrors.NewValidationError("direction must be up or down"))
		return
	}

	entry, err := h.commands.Reorder(r.Context(), r.PathValue("clinicId"), r.PathValue("entryId"), payload.Direction)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entry)
}

// ClearQueue handles DELETE /api/clinics/{clinicId}/queue
func (h *QueueHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	clinicID := r.PathValue("clinicId")
	cleared, err := h.commands.ClearQueue(r.Context(), clinicID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, clearQueueResponse{ClinicID: clinicID, Cleared: cleared})
}

func (h *QueueHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, clinicID, entryID string) (*entities.QueueEntry, error)) {
	entry, err := op(r.Context(), r.PathValue("clinicId"), r.PathValue("entryId"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entry)
}

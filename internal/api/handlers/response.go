package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/doctorq/backend/pkg/errors"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Debug().Err(err).Msg("failed to write response body")
	}
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, errorResponse{Error: message})
}

// respondWithAppError maps a service error onto its status code. Internal
// details stay in the log.
func respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	t := apperrors.TypeOf(err)
	if t == "" {
		t = apperrors.ErrorTypeInternal
	}
	status := apperrors.HTTPStatus(t)

	var appErr *apperrors.AppError
	message := "internal server error"
	if errors.As(err, &appErr) && status < http.StatusInternalServerError {
		message = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Str("code", string(t)).Msg("request failed")
		if status == http.StatusServiceUnavailable {
			message = "store unavailable, retry shortly"
		}
	}
	respondWithJSON(w, status, errorResponse{Error: message, Code: string(t)})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return apperrors.NewValidationError("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.NewValidationError("invalid request payload")
	}
	return nil
}

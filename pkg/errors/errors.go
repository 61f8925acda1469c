package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeValidation indicates malformed input, rejected before any store access
	ErrorTypeValidation ErrorType = "VALIDATION_ERROR"

	// ErrorTypeNotFound indicates a referenced entry or clinic does not exist
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeInvalidState indicates the entry is not in a state that allows the operation
	ErrorTypeInvalidState ErrorType = "INVALID_STATE"

	// ErrorTypeConflict indicates the clinic state forbids the operation
	ErrorTypeConflict ErrorType = "CONFLICT"

	// ErrorTypeEmptyQueue indicates there is no eligible entry
	ErrorTypeEmptyQueue ErrorType = "EMPTY_QUEUE"

	// ErrorTypeStoreUnavailable indicates persistence failed or timed out
	ErrorTypeStoreUnavailable ErrorType = "STORE_UNAVAILABLE"

	// ErrorTypeBroadcastFailure indicates a publish failed; never returned to mutation callers
	ErrorTypeBroadcastFailure ErrorType = "BROADCAST_FAILURE"

	// ErrorTypeInternal indicates an internal server error
	ErrorTypeInternal ErrorType = "INTERNAL"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{Type: ErrorTypeValidation, Message: message}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{Type: ErrorTypeNotFound, Message: message}
}

// NewInvalidStateError creates a new invalid state error
func NewInvalidStateError(message string) *AppError {
	return &AppError{Type: ErrorTypeInvalidState, Message: message}
}

// NewConflictError creates a new conflict error
func NewConflictError(message string) *AppError {
	return &AppError{Type: ErrorTypeConflict, Message: message}
}

// NewEmptyQueueError creates a new empty queue error
func NewEmptyQueueError(message string) *AppError {
	return &AppError{Type: ErrorTypeEmptyQueue, Message: message}
}

// NewStoreUnavailableError creates a new store unavailable error
func NewStoreUnavailableError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeStoreUnavailable, Message: message, Err: err}
}

// NewBroadcastFailureError creates a new broadcast failure error
func NewBroadcastFailureError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeBroadcastFailure, Message: message, Err: err}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// TypeOf returns the ErrorType carried by err, or "" when err is not an AppError
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsType reports whether err carries the given ErrorType
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// FromStore maps an error crossing the persistence boundary. AppErrors pass
// through untouched; anything else, timeouts included, is STORE_UNAVAILABLE.
func FromStore(message string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewStoreUnavailableError(message+": timed out", err)
	}
	return NewStoreUnavailableError(message, err)
}

// HTTPStatus maps an ErrorType to the response code used by handlers
func HTTPStatus(t ErrorType) int {
	switch t {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeInvalidState, ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeEmptyQueue:
		return http.StatusUnprocessableEntity
	case ErrorTypeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

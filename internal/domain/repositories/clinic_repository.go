package repositories

import (
	"context"

	"github.com/doctorq/backend/internal/domain/entities"
)

// ClinicRepository defines the interface for clinic data operations
type ClinicRepository interface {
	// Create creates a new clinic
	Create(ctx context.Context, clinic *entities.Clinic) error

	// GetByID retrieves a clinic by ID
	GetByID(ctx context.Context, id string) (*entities.Clinic, error)

	// ListActive lists all active clinics
	ListActive(ctx context.Context) ([]*entities.Clinic, error)

	// SetDoctorPresence updates the doctor-presence flag
	SetDoctorPresence(ctx context.Context, id string, present bool) error
}

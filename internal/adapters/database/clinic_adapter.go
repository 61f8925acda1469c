package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/repositories"
	"github.com/doctorq/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/doctorq/backend/pkg/errors"
)

const clinicsTable = "clinics"

var clinicColumns = []interface{}{
	"id", "name", "doctor_name", "avg_consultation_minutes", "notify_at_position",
	"is_doctor_present", "is_active", "created_at", "updated_at",
}

// ClinicAdapter implements the ClinicRepository interface
type ClinicAdapter struct {
	client *postgres.Client
}

var _ repositories.ClinicRepository = (*ClinicAdapter)(nil)

// NewClinicAdapter creates a new clinic adapter
func NewClinicAdapter(client *postgres.Client) *ClinicAdapter {
	return &ClinicAdapter{
		client: client,
	}
}

// Create creates a new clinic
func (a *ClinicAdapter) Create(ctx context.Context, clinic *entities.Clinic) error {
	query, args, err := dialect.Insert(clinicsTable).Prepared(true).
		Rows(goqu.Record{
			"id":                       clinic.ID,
			"name":                     clinic.Name,
			"doctor_name":              clinic.DoctorName,
			"avg_consultation_minutes": clinic.AvgConsultationMinutes,
			"notify_at_position":       clinic.NotifyAtPosition,
			"is_doctor_present":        clinic.IsDoctorPresent,
			"is_active":                clinic.IsActive,
			"created_at":               clinic.CreatedAt,
			"updated_at":               clinic.UpdatedAt,
		}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return storeError("failed to create clinic", err)
	}
	return nil
}

// GetByID retrieves a clinic by ID, active or not
func (a *ClinicAdapter) GetByID(ctx context.Context, id string) (*entities.Clinic, error) {
	query, args, err := dialect.From(clinicsTable).Prepared(true).
		Select(clinicColumns...).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	clinic := &entities.Clinic{}
	err = a.client.DB().GetContext(ctx, clinic, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("clinic with id %s not found", id))
	}
	if err != nil {
		return nil, storeError("failed to get clinic", err)
	}
	return clinic, nil
}

// ListActive lists all active clinics
func (a *ClinicAdapter) ListActive(ctx context.Context) ([]*entities.Clinic, error) {
	query, args, err := dialect.From(clinicsTable).Prepared(true).
		Select(clinicColumns...).
		Where(goqu.Ex{"is_active": true}).
		Order(goqu.C("id").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	var clinics []*entities.Clinic
	if err := a.client.DB().SelectContext(ctx, &clinics, query, args...); err != nil {
		return nil, storeError("failed to list clinics", err)
	}
	return clinics, nil
}

// SetDoctorPresence updates the doctor-presence flag
func (a *ClinicAdapter) SetDoctorPresence(ctx context.Context, id string, present bool) error {
	query, args, err := dialect.Update(clinicsTable).Prepared(true).
		Set(goqu.Record{"is_doctor_present": present, "updated_at": time.Now().UTC()}).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return storeError("failed to update doctor presence", err)
	}
	return requireRow(result, fmt.Sprintf("clinic with id %s not found", id))
}

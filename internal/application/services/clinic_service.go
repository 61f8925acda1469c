package services

import (
	"context"
	"time"

	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/repositories"
	"github.com/doctorq/backend/internal/infrastructure/observability"
	apperrors "github.com/doctorq/backend/pkg/errors"
)

// PresencePublisher announces doctor-presence changes
type PresencePublisher interface {
	PublishPresence(ctx context.Context, clinicID string, present bool)
}

// ClinicInvalidator drops cached clinic metadata
type ClinicInvalidator interface {
	InvalidateClinic(ctx context.Context, clinicID string) error
}

// ClinicService handles staff-driven clinic state changes
type ClinicService struct {
	clinicRepo   repositories.ClinicRepository
	invalidator  ClinicInvalidator
	presence     PresencePublisher
	notifier     ClinicNotifier
	storeTimeout time.Duration
}

// NewClinicService creates a new clinic service
func NewClinicService(clinicRepo repositories.ClinicRepository, invalidator ClinicInvalidator, presence PresencePublisher, notifier ClinicNotifier, storeTimeout time.Duration) *ClinicService {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &ClinicService{
		clinicRepo:   clinicRepo,
		invalidator:  invalidator,
		presence:     presence,
		notifier:     notifier,
		storeTimeout: storeTimeout,
	}
}

// GetClinic retrieves a clinic
func (s *ClinicService) GetClinic(ctx context.Context, clinicID string) (*entities.Clinic, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	clinic, err := s.clinicRepo.GetByID(ctx, clinicID)
	if err != nil {
		return nil, apperrors.FromStore("failed to load clinic", err)
	}
	return clinic, nil
}

// SetDoctorPresence persists the flag, announces it and refreshes the
// snapshot, since the waiting count depends on presence. It returns the clinic
// as persisted and never fails once the write has succeeded.
func (s *ClinicService) SetDoctorPresence(ctx context.Context, clinicID string, present bool) (*entities.Clinic, error) {
	logger := observability.ClinicLogger(ctx, clinicID, "set_doctor_presence")

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	clinic, err := s.clinicRepo.GetByID(storeCtx, clinicID)
	if err != nil {
		return nil, apperrors.FromStore("failed to load clinic", err)
	}
	if err := s.clinicRepo.SetDoctorPresence(storeCtx, clinicID, present); err != nil {
		return nil, apperrors.FromStore("failed to update doctor presence", err)
	}
	updated := *clinic
	updated.IsDoctorPresent = present
	updated.UpdatedAt = time.Now().UTC()

	after := context.WithoutCancel(ctx)
	if s.invalidator != nil {
		if err := s.invalidator.InvalidateClinic(after, clinicID); err != nil {
			logger.Warn().Err(err).Msg("failed to invalidate clinic cache")
		}
	}
	if s.presence != nil {
		s.presence.PublishPresence(after, clinicID, present)
	}
	if s.notifier != nil {
		s.notifier.NotifyClinic(after, clinicID)
	}

	logger.Debug().Bool("present", present).Msg("doctor presence updated")
	return &updated, nil
}

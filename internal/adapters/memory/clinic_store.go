package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/repositories"
	apperrors "github.com/doctorq/backend/pkg/errors"
)

// ClinicStore is an in-process ClinicRepository
type ClinicStore struct {
	mu      sync.RWMutex
	clinics map[string]*entities.Clinic
}

// NewClinicStore creates a clinic store seeded with clinics
func NewClinicStore(clinics ...*entities.Clinic) *ClinicStore {
	s := &ClinicStore{clinics: make(map[string]*entities.Clinic)}
	for _, c := range clinics {
		cp := *c
		s.clinics[c.ID] = &cp
	}
	return s
}

var _ repositories.ClinicRepository = (*ClinicStore)(nil)

// Create creates a new clinic
func (s *ClinicStore) Create(ctx context.Context, clinic *entities.Clinic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clinics[clinic.ID]; exists {
		return fmt.Errorf("clinic %s already exists", clinic.ID)
	}
	now := time.Now().UTC()
	cp := *clinic
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.clinics[clinic.ID] = &cp
	return nil
}

// GetByID retrieves a clinic by ID
func (s *ClinicStore) GetByID(ctx context.Context, id string) (*entities.Clinic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clinics[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("clinic %s not found", id))
	}
	cp := *c
	return &cp, nil
}

// ListActive lists all active clinics ordered by ID
func (s *ClinicStore) ListActive(ctx context.Context) ([]*entities.Clinic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entities.Clinic
	for _, c := range s.clinics {
		if c.IsActive {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetDoctorPresence updates the doctor-presence flag
func (s *ClinicStore) SetDoctorPresence(ctx context.Context, id string, present bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clinics[id]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("clinic %s not found", id))
	}
	c.IsDoctorPresent = present
	c.UpdatedAt = time.Now().UTC()
	return nil
}

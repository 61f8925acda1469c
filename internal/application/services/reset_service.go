package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/doctorq/backend/internal/domain/repositories"
	apperrors "github.com/doctorq/backend/pkg/errors"
)

// ResetReport summarises one nightly reset pass
type ResetReport struct {
	Clinics int
	Cleared int
	Failed  []string
}

// ResetService clears every active clinic's queue and marks doctors absent
// once a day at a clinic-local time
type ResetService struct {
	clinicRepo repositories.ClinicRepository
	queue      *QueueService
	clinics    *ClinicService
	loc        *time.Location
	hour       int
	minute     int
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewResetService creates a new reset service firing daily at hour:minute in loc
func NewResetService(clinicRepo repositories.ClinicRepository, queue *QueueService, clinics *ClinicService, loc *time.Location, hour, minute int) *ResetService {
	if loc == nil {
		loc = time.UTC
	}
	return &ResetService{
		clinicRepo: clinicRepo,
		queue:      queue,
		clinics:    clinics,
		loc:        loc,
		hour:       hour,
		minute:     minute,
		now:        time.Now,
	}
}

// RunNightlyReset clears each active clinic and sets its doctor absent.
// A failing clinic does not stop the others.
func (s *ResetService) RunNightlyReset(ctx context.Context) (*ResetReport, error) {
	clinics, err := s.clinicRepo.ListActive(ctx)
	if err != nil {
		return nil, apperrors.FromStore("failed to list clinics", err)
	}

	report := &ResetReport{Clinics: len(clinics)}
	var errs []error
	for _, clinic := range clinics {
		cleared, err := s.queue.ClearQueue(ctx, clinic.ID)
		if err != nil {
			report.Failed = append(report.Failed, clinic.ID)
			errs = append(errs, fmt.Errorf("clear queue for clinic %s: %w", clinic.ID, err))
			continue
		}
		report.Cleared += cleared

		if _, err := s.clinics.SetDoctorPresence(ctx, clinic.ID, false); err != nil {
			report.Failed = append(report.Failed, clinic.ID)
			errs = append(errs, fmt.Errorf("mark doctor absent for clinic %s: %w", clinic.ID, err))
		}
	}

	log.Info().
		Int("clinics", report.Clinics).
		Int("cleared", report.Cleared).
		Int("failed", len(report.Failed)).
		Msg("nightly reset completed")
	return report, errors.Join(errs...)
}

// NextRun returns the first reset boundary strictly after t
func (s *ResetService) NextRun(t time.Time) time.Time {
	local := t.In(s.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.hour, s.minute, 0, 0, s.loc)
	}
	return next
}

// Start runs the reset every day at the configured time until Stop
func (s *ResetService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	log.Info().Time("next_run", s.NextRun(s.now())).Msg("nightly reset scheduled")
}

// Stop stops the daily timer and waits for a running reset to finish
func (s *ResetService) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *ResetService) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		now := s.now()
		timer := time.NewTimer(s.NextRun(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.RunNightlyReset(ctx); err != nil {
				log.Error().Err(err).Msg("nightly reset finished with errors")
			}
		}
	}
}

package services

import (
	"context"
	"math"
	"time"

	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/repositories"
	apperrors "github.com/doctorq/backend/pkg/errors"
)

// StatsService derives today's counters for a clinic from the queue store
type StatsService struct {
	queueRepo    repositories.QueueRepository
	clinicRepo   repositories.ClinicRepository
	loc          *time.Location
	storeTimeout time.Duration
	now          func() time.Time
}

// NewStatsService creates a new stats service; "today" is the calendar day in loc
func NewStatsService(queueRepo repositories.QueueRepository, clinicRepo repositories.ClinicRepository, loc *time.Location, storeTimeout time.Duration) *StatsService {
	if loc == nil {
		loc = time.UTC
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &StatsService{
		queueRepo:    queueRepo,
		clinicRepo:   clinicRepo,
		loc:          loc,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

// GetQueueStats reads the clinic, its active queue and today's completions
func (s *StatsService) GetQueueStats(ctx context.Context, clinicID string) (*entities.QueueStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	clinic, err := s.clinicRepo.GetByID(ctx, clinicID)
	if err != nil {
		return nil, apperrors.FromStore("failed to load clinic", err)
	}
	active, err := s.queueRepo.ListActive(ctx, clinicID)
	if err != nil {
		return nil, apperrors.FromStore("failed to list active entries", err)
	}
	completed, err := s.CompletedToday(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	return s.ComputeStats(clinic, active, completed), nil
}

// CompletedToday lists entries completed since local midnight
func (s *StatsService) CompletedToday(ctx context.Context, clinicID string) ([]*entities.QueueEntry, error) {
	from, to := s.DayBounds(s.now())
	completed, err := s.queueRepo.ListCompletedBetween(ctx, clinicID, from, to)
	if err != nil {
		return nil, apperrors.FromStore("failed to list completed entries", err)
	}
	return completed, nil
}

// DayBounds returns the [start, end) of the local calendar day containing t
func (s *StatsService) DayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(s.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 0, 1)
}

// ComputeStats aggregates stats from already-loaded state without I/O.
// With the doctor absent, a patient left in consultation counts as waiting;
// that only affects the counter, never the stored status.
func (s *StatsService) ComputeStats(clinic *entities.Clinic, active, completedToday []*entities.QueueEntry) *entities.QueueStats {
	stats := &entities.QueueStats{SeenToday: len(completedToday)}

	for _, e := range active {
		switch {
		case e.Status.IsWaiting():
			stats.Waiting++
		case e.Status == entities.EntryStatusInConsultation && !clinic.IsDoctorPresent:
			stats.Waiting++
		}
	}

	var total time.Duration
	samples := 0
	var last *entities.QueueEntry
	for _, e := range completedToday {
		if wait, ok := e.WaitDuration(); ok {
			total += wait
			samples++
		}
		if e.CompletedAt != nil && (last == nil || e.CompletedAt.After(*last.CompletedAt)) {
			last = e
		}
	}
	if samples > 0 {
		stats.AvgWaitMinutes = roundMinutes(total / time.Duration(samples))
	}
	if last != nil {
		if d, ok := last.ConsultationDuration(); ok {
			stats.LastConsultationMinutes = roundMinutes(d)
		}
	}
	return stats
}

func roundMinutes(d time.Duration) *int {
	m := int(math.Round(d.Minutes()))
	if m < 0 {
		m = 0
	}
	return &m
}

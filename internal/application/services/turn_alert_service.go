package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/providers"
)

// TurnAlertService sends turn alerts out of band. A circuit breaker stops
// calling the messaging provider while it keeps failing.
type TurnAlertService struct {
	messenger providers.PatientMessenger
	breaker   *gobreaker.CircuitBreaker
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewTurnAlertService creates a new turn alert service
func NewTurnAlertService(messenger providers.PatientMessenger) *TurnAlertService {
	settings := gobreaker.Settings{
		Name:        "turn-alerts",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
	return &TurnAlertService{
		messenger: messenger,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		timeout:   10 * time.Second,
	}
}

// AlertTurn sends one alert per entry in the background
func (s *TurnAlertService) AlertTurn(ctx context.Context, clinic *entities.Clinic, entries []*entities.QueueEntry) {
	for _, e := range entries {
		alert := providers.TurnAlert{
			Phone:       e.PatientPhone,
			PatientName: e.PatientName,
			ClinicName:  clinic.Name,
			Position:    e.Position,
			PeopleAhead: entities.NewPatientStatus(e, clinic).PeopleAhead,
		}
		entryID := e.ID
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.Send(ctx, alert); err != nil {
				log.Warn().Err(err).Str("clinic_id", clinic.ID).Str("entry_id", entryID).Msg("turn alert not delivered")
			}
		}()
	}
}

// Send delivers a single alert through the circuit breaker
func (s *TurnAlertService) Send(ctx context.Context, alert providers.TurnAlert) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.messenger.SendTurnAlert(ctx, alert)
	})
	return err
}

// State reports the circuit breaker state
func (s *TurnAlertService) State() gobreaker.State {
	return s.breaker.State()
}

// Wait blocks until in-flight alerts finish
func (s *TurnAlertService) Wait() {
	s.wg.Wait()
}

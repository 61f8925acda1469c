package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/repositories"
	"github.com/doctorq/backend/internal/infrastructure/observability"
	apperrors "github.com/doctorq/backend/pkg/errors"
	"github.com/doctorq/backend/pkg/utils"
)

// maxPatientNameLength matches the patient_name column, counted in characters
const maxPatientNameLength = 100

// ClinicNotifier schedules a fresh snapshot broadcast for a clinic.
// departed lists entries that left the active queue in the mutation.
type ClinicNotifier interface {
	NotifyClinic(ctx context.Context, clinicID string, departed ...string)
}

// TurnAlerter sends best-effort alerts to newly notified patients
type TurnAlerter interface {
	AlertTurn(ctx context.Context, clinic *entities.Clinic, entries []*entities.QueueEntry)
}

// QueueInvalidator drops cached projections of a clinic's queue
type QueueInvalidator interface {
	InvalidateQueue(ctx context.Context, clinicID string) error
}

// QueueServiceConfig holds queue service settings
type QueueServiceConfig struct {
	StoreTimeout time.Duration
	AutoNotify   bool
	PhoneRegion  string
}

// AddPatientRequest is the input for a check-in
type AddPatientRequest struct {
	ClinicID      string
	Phone         string
	Name          string
	CheckInMethod entities.CheckInMethod
	Priority      bool
}

// QueueService owns every write to a clinic's queue. Mutations for one
// clinic are serialized in-process and inside a store transaction.
type QueueService struct {
	queueRepo   repositories.QueueRepository
	clinicRepo  repositories.ClinicRepository
	positions   *PositionService
	invalidator QueueInvalidator
	notifier    ClinicNotifier
	alerter     TurnAlerter
	phones      *utils.PhoneNormalizer
	metrics     *observability.Metrics
	cfg         QueueServiceConfig
	now         func() time.Time
	locks       utils.KeyedMutex
}

// NewQueueService creates a new queue service
func NewQueueService(
	queueRepo repositories.QueueRepository,
	clinicRepo repositories.ClinicRepository,
	positions *PositionService,
	invalidator QueueInvalidator,
	notifier ClinicNotifier,
	cfg QueueServiceConfig,
) *QueueService {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &QueueService{
		queueRepo:   queueRepo,
		clinicRepo:  clinicRepo,
		positions:   positions,
		invalidator: invalidator,
		notifier:    notifier,
		phones:      utils.NewPhoneNormalizer(cfg.PhoneRegion),
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithTurnAlerter enables alerts for patients moved to NOTIFIED
func (s *QueueService) WithTurnAlerter(alerter TurnAlerter) *QueueService {
	s.alerter = alerter
	return s
}

// WithMetrics enables operation metrics
func (s *QueueService) WithMetrics(metrics *observability.Metrics) *QueueService {
	s.metrics = metrics
	return s
}

// mutation is what an operation hands back from inside the clinic transaction
type mutation struct {
	entry    *entities.QueueEntry
	count    int
	active   []*entities.QueueEntry
	departed []string
	notified []*entities.QueueEntry
	noop     bool
}

type mutateFunc func(ctx context.Context, tx repositories.QueueTx, clinic *entities.Clinic) (*mutation, error)

// mutate runs fn as one atomic read-modify-write against the clinic's queue,
// then invalidates caches and schedules a broadcast. Errors abort before any broadcast.
func (s *QueueService) mutate(ctx context.Context, op, clinicID string, fn mutateFunc) (*mutation, error) {
	start := time.Now()
	logger := observability.ClinicLogger(ctx, clinicID, op)

	ctx, span := observability.StartSpan(ctx, "QueueService."+op)
	defer span.End()

	unlock := s.locks.Lock(clinicID)
	defer unlock()

	result, err := s.apply(ctx, clinicID, fn)
	if err != nil {
		observability.RecordError(span, err)
		outcome := string(apperrors.TypeOf(err))
		observability.RecordQueueOperation(ctx, s.metrics, op, outcome, time.Since(start))
		if apperrors.IsType(err, apperrors.ErrorTypeStoreUnavailable) {
			logger.Error().Err(err).Msg("queue store failure")
		} else {
			logger.Debug().Err(err).Msg("queue operation rejected")
		}
		return nil, err
	}
	observability.RecordQueueOperation(ctx, s.metrics, op, "ok", time.Since(start))

	if result.noop {
		logger.Debug().Msg("queue operation was a no-op")
		return result, nil
	}

	// The store write has succeeded; nothing below may fail the caller.
	after := context.WithoutCancel(ctx)
	if s.invalidator != nil {
		if err := s.invalidator.InvalidateQueue(after, clinicID); err != nil {
			logger.Warn().Err(err).Msg("failed to invalidate queue cache")
		}
	}
	if s.notifier != nil {
		s.notifier.NotifyClinic(after, clinicID, result.departed...)
	}
	if s.alerter != nil && len(result.notified) > 0 {
		if clinic, err := s.clinicRepo.GetByID(after, clinicID); err == nil {
			s.alerter.AlertTurn(after, clinic, result.notified)
		}
	}

	logger.Debug().Int("active", len(result.active)).Msg("queue mutated")
	return result, nil
}

func (s *QueueService) apply(ctx context.Context, clinicID string, fn mutateFunc) (*mutation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	clinic, err := s.clinicRepo.GetByID(ctx, clinicID)
	if err != nil {
		return nil, apperrors.FromStore("failed to load clinic", err)
	}

	var result *mutation
	err = s.queueRepo.WithinClinic(ctx, clinicID, func(ctx context.Context, tx repositories.QueueTx) error {
		r, err := fn(ctx, tx, clinic)
		if err != nil {
			return err
		}
		if !r.noop && s.cfg.AutoNotify {
			notified, err := s.autoNotify(ctx, tx, clinic, r.active)
			if err != nil {
				return err
			}
			r.notified = append(r.notified, notified...)
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, apperrors.FromStore("queue transaction failed", err)
	}
	return result, nil
}

// autoNotify moves waiting entries within the clinic's threshold to NOTIFIED
func (s *QueueService) autoNotify(ctx context.Context, tx repositories.QueueTx, clinic *entities.Clinic, active []*entities.QueueEntry) ([]*entities.QueueEntry, error) {
	var notified []*entities.QueueEntry
	for _, e := range active {
		if e.Status != entities.EntryStatusWaiting || !clinic.ShouldNotify(e.Position) {
			continue
		}
		now := s.now()
		e.Status = entities.EntryStatusNotified
		e.NotifiedAt = &now
		e.UpdatedAt = now
		if err := tx.Update(ctx, e); err != nil {
			return nil, err
		}
		notified = append(notified, e)
	}
	return notified, nil
}

// reposition recomputes positions for ordered and persists the ones that moved
func (s *QueueService) reposition(ctx context.Context, tx repositories.QueueTx, before, ordered []*entities.QueueEntry) ([]*entities.QueueEntry, error) {
	recomputed := s.positions.Recompute(ordered)
	changed := s.positions.Changed(before, recomputed)
	if len(changed) > 0 {
		now := s.now()
		for _, e := range changed {
			e.UpdatedAt = now
		}
		if err := tx.UpdatePositions(ctx, changed); err != nil {
			return nil, err
		}
	}
	return recomputed, nil
}

// AddPatient checks a patient into the clinic's queue at the tail, or at
// the front of the waiting line for priority check-ins
func (s *QueueService) AddPatient(ctx context.Context, req AddPatientRequest) (*entities.QueueEntry, error) {
	if strings.TrimSpace(req.ClinicID) == "" {
		return nil, apperrors.NewValidationError("clinic id is required")
	}
	phone, err := s.phones.Normalize(req.Phone)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	name := strings.TrimSpace(req.Name)
	if utf8.RuneCountInString(name) > maxPatientNameLength {
		return nil, apperrors.NewValidationError(fmt.Sprintf("patient name exceeds %d characters", maxPatientNameLength))
	}
	method := req.CheckInMethod
	if method == "" {
		method = entities.CheckInMethodManual
	}
	if !method.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown check-in method %q", method))
	}

	result, err := s.mutate(ctx, "add_patient", req.ClinicID, func(ctx context.Context, tx repositories.QueueTx, clinic *entities.Clinic) (*mutation, error) {
		if !clinic.IsActive {
			return nil, apperrors.NewConflictError(fmt.Sprintf("clinic %s is not accepting patients", clinic.ID))
		}
		active, err := tx.ListActive(ctx, clinic.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range active {
			if e.PatientPhone == phone {
				return nil, apperrors.NewConflictError("patient is already in the queue")
			}
		}

		now := s.now()
		entry := &entities.QueueEntry{
			ID:            uuid.NewString(),
			ClinicID:      clinic.ID,
			PatientName:   name,
			PatientPhone:  phone,
			Status:        entities.EntryStatusWaiting,
			CheckInMethod: method,
			Priority:      req.Priority,
			ArrivedAt:     now,
			UpdatedAt:     now,
		}

		var ordered []*entities.QueueEntry
		if req.Priority {
			ordered = s.positions.InsertPriority(active, entry)
		} else {
			ordered = s.positions.Append(active, entry)
		}

		recomputed := s.positions.Recompute(ordered)
		var shifted []*entities.QueueEntry
		for _, e := range s.positions.Changed(active, recomputed) {
			if e.ID == entry.ID {
				entry = e
				continue
			}
			e.UpdatedAt = now
			shifted = append(shifted, e)
		}
		// Existing entries move out of the way before the new row takes its slot.
		if len(shifted) > 0 {
			if err := tx.UpdatePositions(ctx, shifted); err != nil {
				return nil, err
			}
		}
		if err := tx.Insert(ctx, entry); err != nil {
			return nil, err
		}

		return &mutation{entry: entry, active: recomputed}, nil
	})
	if err != nil {
		return nil, err
	}
	return latest(result), nil
}

// CallNext moves the lowest-positioned waiting patient into consultation.
// It fails with CONFLICT while another patient is in consultation.
func (s *QueueService) CallNext(ctx context.Context, clinicID string) (*entities.QueueEntry, error) {
	result, err := s.mutate(ctx, "call_next", clinicID, func(ctx context.Context, tx repositories.QueueTx, clinic *entities.Clinic) (*mutation, error) {
		active, err := tx.ListActive(ctx, clinicID)
		if err != nil {
			return nil, err
		}
		if current := s.positions.InConsultation(active); current != nil {
			return nil, apperrors.NewConflictError(fmt.Sprintf("entry %s is still in consultation; complete it first", current.ID))
		}
		next := s.positions.NextToCall(active)
		if next == nil {
			return nil, apperrors.NewEmptyQueueError("no waiting patients")
		}

		now := s.now()
		next.Status = entities.EntryStatusInConsultation
		next.CalledAt = &now
		next.UpdatedAt = now
		if err := tx.Update(ctx, next); err != nil {
			return nil, err
		}
		return &mutation{entry: next, active: active}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.entry, nil
}

// CompleteCurrent finishes the consultation of entryID
func (s *QueueService) CompleteCurrent(ctx context.Context, clinicID, entryID string) (*entities.QueueEntry, error) {
	return s.finish(ctx, "complete_current", clinicID, entryID, entities.EntryStatusCompleted)
}

// MarkNoShow removes an active patient who did not turn up
func (s *QueueService) MarkNoShow(ctx context.Context, clinicID, entryID string) (*entities.QueueEntry, error) {
	return s.finish(ctx, "mark_no_show", clinicID, entryID, entities.EntryStatusNoShow)
}

// Cancel removes an active patient from the queue
func (s *QueueService) Cancel(ctx context.Context, clinicID, entryID string) (*entities.QueueEntry, error) {
	return s.finish(ctx, "cancel", clinicID, entryID, entities.EntryStatusCancelled)
}

func (s *QueueService) finish(ctx context.Context, op, clinicID, entryID string, to entities.EntryStatus) (*entities.QueueEntry, error) {
	if strings.TrimSpace(entryID) == "" {
		return nil, apperrors.NewValidationError("entry id is required")
	}

	result, err := s.mutate(ctx, op, clinicID, func(ctx context.Context, tx repositories.QueueTx, clinic *entities.Clinic) (*mutation, error) {
		entry, err := tx.GetByID(ctx, entryID)
		if err != nil {
			return nil, err
		}
		if entry.ClinicID != clinicID {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("queue entry %s not found", entryID))
		}
		switch {
		case to == entities.EntryStatusCompleted && entry.Status != entities.EntryStatusInConsultation:
			return nil, apperrors.NewInvalidStateError(fmt.Sprintf("entry %s is %s, not in consultation", entryID, entry.Status))
		case !entry.Status.IsActive():
			return nil, apperrors.NewInvalidStateError(fmt.Sprintf("entry %s is already %s", entryID, entry.Status))
		}

		active, err := tx.ListActive(ctx, clinicID)
		if err != nil {
			return nil, err
		}

		now := s.now()
		entry.Status = to
		entry.Position = 0
		entry.UpdatedAt = now
		if to == entities.EntryStatusCompleted {
			entry.CompletedAt = &now
		}
		if err := tx.Update(ctx, entry); err != nil {
			return nil, err
		}

		remaining := s.positions.Remove(active, entryID)
		recomputed, err := s.reposition(ctx, tx, remaining, remaining)
		if err != nil {
			return nil, err
		}
		return &mutation{entry: entry, active: recomputed, departed: []string{entryID}}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.entry, nil
}

// Reorder swaps an entry with its neighbour. Boundaries are silent no-ops;
// the patient in consultation cannot be reordered.
func (s *QueueService) Reorder(ctx context.Context, clinicID, entryID string, direction Direction) (*entities.QueueEntry, error) {
	if !direction.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid direction %q", direction))
	}

	result, err := s.mutate(ctx, "reorder", clinicID, func(ctx context.Context, tx repositories.QueueTx, clinic *entities.Clinic) (*mutation, error) {
		active, err := tx.ListActive(ctx, clinicID)
		if err != nil {
			return nil, err
		}
		var entry *entities.QueueEntry
		for _, e := range active {
			if e.ID == entryID {
				entry = e
			}
		}
		if entry == nil {
			existing, err := tx.GetByID(ctx, entryID)
			if err != nil {
				return nil, err
			}
			return nil, apperrors.NewInvalidStateError(fmt.Sprintf("entry %s is %s and cannot be reordered", entryID, existing.Status))
		}
		if entry.Status == entities.EntryStatusInConsultation {
			return nil, apperrors.NewInvalidStateError("the patient in consultation cannot be reordered")
		}

		moved, ok := s.positions.Move(active, entryID, direction)
		if !ok {
			return &mutation{entry: entry, active: active, noop: true}, nil
		}
		recomputed, err := s.reposition(ctx, tx, active, moved)
		if err != nil {
			return nil, err
		}
		return &mutation{entry: findEntry(recomputed, entryID), active: recomputed}, nil
	})
	if err != nil {
		return nil, err
	}
	return latest(result), nil
}

// Notify marks a waiting entry as NOTIFIED once it is within the clinic's
// threshold. Re-notifying is a no-op.
func (s *QueueService) Notify(ctx context.Context, clinicID, entryID string) (*entities.QueueEntry, error) {
	result, err := s.mutate(ctx, "notify", clinicID, func(ctx context.Context, tx repositories.QueueTx, clinic *entities.Clinic) (*mutation, error) {
		entry, err := tx.GetByID(ctx, entryID)
		if err != nil {
			return nil, err
		}
		if entry.ClinicID != clinicID {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("queue entry %s not found", entryID))
		}
		if entry.Status == entities.EntryStatusNotified {
			return &mutation{entry: entry, noop: true}, nil
		}
		if entry.Status != entities.EntryStatusWaiting {
			return nil, apperrors.NewInvalidStateError(fmt.Sprintf("entry %s is %s and cannot be notified", entryID, entry.Status))
		}
		if !clinic.ShouldNotify(entry.Position) {
			return nil, apperrors.NewInvalidStateError(fmt.Sprintf("entry %s at position %d is outside the notify threshold", entryID, entry.Position))
		}

		now := s.now()
		entry.Status = entities.EntryStatusNotified
		entry.NotifiedAt = &now
		entry.UpdatedAt = now
		if err := tx.Update(ctx, entry); err != nil {
			return nil, err
		}
		active, err := tx.ListActive(ctx, clinicID)
		if err != nil {
			return nil, err
		}
		return &mutation{entry: entry, active: active, notified: []*entities.QueueEntry{entry}}, nil
	})
	if err != nil {
		return nil, err
	}
	return latest(result), nil
}

// ClearQueue cancels every active entry of the clinic and returns how many were cleared
func (s *QueueService) ClearQueue(ctx context.Context, clinicID string) (int, error) {
	result, err := s.mutate(ctx, "clear_queue", clinicID, func(ctx context.Context, tx repositories.QueueTx, clinic *entities.Clinic) (*mutation, error) {
		active, err := tx.ListActive(ctx, clinicID)
		if err != nil {
			return nil, err
		}
		if len(active) == 0 {
			return &mutation{noop: true}, nil
		}
		count, err := tx.BulkTransition(ctx, clinicID, entities.EntryStatusCancelled, s.now())
		if err != nil {
			return nil, err
		}
		departed := make([]string, 0, len(active))
		for _, e := range active {
			departed = append(departed, e.ID)
		}
		return &mutation{count: count, departed: departed}, nil
	})
	if err != nil {
		return 0, err
	}
	return result.count, nil
}

// latest returns the mutation's entry as it stands after auto-notify
func latest(m *mutation) *entities.QueueEntry {
	for _, n := range m.notified {
		if m.entry != nil && n.ID == m.entry.ID {
			return n
		}
	}
	return m.entry
}

func findEntry(entries []*entities.QueueEntry, id string) *entities.QueueEntry {
	for _, e := range entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

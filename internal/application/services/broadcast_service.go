package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/providers"
	"github.com/doctorq/backend/internal/domain/repositories"
	"github.com/doctorq/backend/internal/infrastructure/observability"
	apperrors "github.com/doctorq/backend/pkg/errors"
	"github.com/doctorq/backend/pkg/utils"
)

// BroadcastService publishes fresh clinic snapshots and per-patient updates.
//
// Each clinic has one worker. Notifications arriving while a snapshot is
// being published collapse into a single follow-up publish, and every
// publish re-reads the store. A snapshot's seq is the clinic's queue version
// in the store, so it orders snapshots across processes and restarts and
// clients drop any frame whose seq is below the last one they applied.
// Delivery is at most once.
type BroadcastService struct {
	queueRepo    repositories.QueueRepository
	clinicRepo   repositories.ClinicRepository
	stats        *StatsService
	eventBus     providers.EventBus
	mirror       providers.EventMirror
	metrics      *observability.Metrics
	storeTimeout time.Duration

	mu      sync.Mutex
	workers map[string]*clinicWorker
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type clinicWorker struct {
	wake chan struct{}

	pendingMu sync.Mutex
	departed  map[string]struct{}

	publishMu sync.Mutex
}

// NewBroadcastService creates a new broadcast service
func NewBroadcastService(
	queueRepo repositories.QueueRepository,
	clinicRepo repositories.ClinicRepository,
	stats *StatsService,
	eventBus providers.EventBus,
	storeTimeout time.Duration,
) *BroadcastService {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &BroadcastService{
		queueRepo:    queueRepo,
		clinicRepo:   clinicRepo,
		stats:        stats,
		eventBus:     eventBus,
		storeTimeout: storeTimeout,
		workers:      make(map[string]*clinicWorker),
	}
}

// WithMirror copies every published event to an external fan-out
func (s *BroadcastService) WithMirror(mirror providers.EventMirror) *BroadcastService {
	s.mirror = mirror
	return s
}

// WithMetrics enables broadcast metrics
func (s *BroadcastService) WithMetrics(metrics *observability.Metrics) *BroadcastService {
	s.metrics = metrics
	return s
}

// Start runs notifications through per-clinic background workers.
// Until Start is called, NotifyClinic publishes synchronously.
func (s *BroadcastService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
}

// Stop stops all workers and waits for in-flight publishes
func (s *BroadcastService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.workers = make(map[string]*clinicWorker)
	s.mu.Unlock()
	s.wg.Wait()
}

// NotifyClinic schedules a snapshot for clinicID. departed entries receive
// a final per-patient update with their terminal status.
func (s *BroadcastService) NotifyClinic(ctx context.Context, clinicID string, departed ...string) {
	w, running := s.worker(clinicID)

	w.pendingMu.Lock()
	for _, id := range departed {
		w.departed[id] = struct{}{}
	}
	w.pendingMu.Unlock()

	if !running {
		s.flush(ctx, clinicID, w)
		return
	}

	select {
	case w.wake <- struct{}{}:
	default:
		// a publish is already pending and will pick up this change
	}
}

func (s *BroadcastService) worker(clinicID string) (*clinicWorker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[clinicID]
	if !ok {
		w = &clinicWorker{
			wake:     make(chan struct{}, 1),
			departed: make(map[string]struct{}),
		}
		s.workers[clinicID] = w
		if s.running {
			s.wg.Add(1)
			go s.run(s.ctx, clinicID, w)
		}
	}
	return w, s.running
}

func (s *BroadcastService) run(ctx context.Context, clinicID string, w *clinicWorker) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
			s.flush(ctx, clinicID, w)
		}
	}
}

func (s *BroadcastService) flush(ctx context.Context, clinicID string, w *clinicWorker) {
	w.publishMu.Lock()
	defer w.publishMu.Unlock()

	w.pendingMu.Lock()
	departed := make([]string, 0, len(w.departed))
	for id := range w.departed {
		departed = append(departed, id)
	}
	w.departed = make(map[string]struct{})
	w.pendingMu.Unlock()

	s.publishSnapshot(ctx, clinicID, departed)
}

func (s *BroadcastService) publishSnapshot(ctx context.Context, clinicID string, departed []string) {
	logger := observability.ClinicLogger(ctx, clinicID, "broadcast")

	readCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	clinic, err := s.clinicRepo.GetByID(readCtx, clinicID)
	if err != nil {
		s.failed(logger, "failed to load clinic for snapshot", err)
		return
	}
	active, seq, err := s.queueRepo.ListActiveWithVersion(readCtx, clinicID)
	if err != nil {
		s.failed(logger, "failed to load queue for snapshot", err)
		return
	}
	completed, err := s.stats.CompletedToday(readCtx, clinicID)
	if err != nil {
		s.failed(logger, "failed to load stats for snapshot", err)
		return
	}
	stats := s.stats.ComputeStats(clinic, active, completed)

	s.emit(ctx, logger, providers.GetClinicChannel(clinicID), entities.QueueEventUpdated, clinicID, seq,
		entities.QueueSnapshot{ClinicID: clinicID, Seq: seq, Queue: active, Stats: stats})

	public := make([]entities.PublicQueueEntry, 0, len(active))
	for _, e := range active {
		public = append(public, entities.PublicQueueEntry{
			ID:          e.ID,
			Position:    e.Position,
			Status:      e.Status,
			DisplayName: utils.MaskName(e.PatientName),
		})
	}
	s.emit(ctx, logger, providers.GetClinicPatientsChannel(clinicID), entities.QueueEventUpdated, clinicID, seq,
		entities.PublicSnapshot{ClinicID: clinicID, Seq: seq, Queue: public, Stats: stats})

	stillActive := make(map[string]struct{}, len(active))
	for _, e := range active {
		stillActive[e.ID] = struct{}{}
		s.emit(ctx, logger, providers.GetPatientChannel(e.ID), entities.QueueEventPatientCalled, clinicID, seq,
			entities.NewPatientStatus(e, clinic))
	}

	for _, id := range departed {
		if _, ok := stillActive[id]; ok {
			continue
		}
		entry, err := s.queueRepo.GetByID(readCtx, id)
		if err != nil {
			logger.Warn().Err(err).Str("entry_id", id).Msg("failed to load departed entry")
			continue
		}
		s.emit(ctx, logger, providers.GetPatientChannel(id), entities.QueueEventPatientCalled, clinicID, seq,
			entities.NewPatientStatus(entry, clinic))
	}
}

// PublishPresence announces a doctor-presence change on the dashboard and patient channels
func (s *BroadcastService) PublishPresence(ctx context.Context, clinicID string, present bool) {
	logger := observability.ClinicLogger(ctx, clinicID, "presence")
	payload := entities.DoctorPresence{ClinicID: clinicID, IsDoctorPresent: present}
	s.emit(ctx, logger, providers.GetClinicChannel(clinicID), entities.QueueEventDoctorPresence, clinicID, 0, payload)
	s.emit(ctx, logger, providers.GetClinicPatientsChannel(clinicID), entities.QueueEventDoctorPresence, clinicID, 0, payload)
}

func (s *BroadcastService) emit(ctx context.Context, logger *zerolog.Logger, channel string, name entities.QueueEventName, clinicID string, seq uint64, payload interface{}) {
	event, err := entities.NewQueueEvent(channel, name, clinicID, seq, payload)
	if err != nil {
		s.failed(logger, "failed to encode event", err)
		return
	}

	err = s.eventBus.Publish(ctx, channel, event)
	observability.RecordBroadcast(ctx, s.metrics, string(name), err == nil)
	if err != nil {
		l := logger.With().Str("channel", channel).Logger()
		s.failed(&l, "failed to publish event", err)
		return
	}

	if s.mirror != nil {
		if err := s.mirror.Mirror(ctx, event); err != nil {
			logger.Debug().Err(err).Str("channel", channel).Msg("failed to mirror event")
		}
	}
}

// failed logs a broadcast failure; it is never returned to mutation callers
func (s *BroadcastService) failed(logger *zerolog.Logger, msg string, err error) {
	logger.Warn().Err(apperrors.NewBroadcastFailureError(msg, err)).Msg("broadcast failure")
}

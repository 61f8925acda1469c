package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/providers"
	"github.com/doctorq/backend/internal/domain/repositories"
	"github.com/doctorq/backend/internal/infrastructure/observability"
	apperrors "github.com/doctorq/backend/pkg/errors"
)

// StatsReader computes a clinic's stats from the store
type StatsReader interface {
	GetQueueStats(ctx context.Context, clinicID string) (*entities.QueueStats, error)
}

// CacheTTLs holds read-through cache lifetimes
type CacheTTLs struct {
	Queue time.Duration
	Stats time.Duration
}

// DefaultCacheTTLs returns the queue and stats TTLs used in production
func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{Queue: 5 * time.Second, Stats: 10 * time.Second}
}

// QueueQueryService handles read-only queue operations behind a
// read-through cache. The cache is advisory: any cache error falls back
// to the store.
type QueueQueryService struct {
	queueRepo    repositories.QueueRepository
	clinicRepo   repositories.ClinicRepository
	stats        StatsReader
	cache        providers.CacheProvider
	ttls         CacheTTLs
	metrics      *observability.Metrics
	storeTimeout time.Duration
}

// NewQueueQueryService creates a new queue query service
func NewQueueQueryService(
	queueRepo repositories.QueueRepository,
	clinicRepo repositories.ClinicRepository,
	stats StatsReader,
	cache providers.CacheProvider,
	ttls CacheTTLs,
	storeTimeout time.Duration,
) *QueueQueryService {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &QueueQueryService{
		queueRepo:    queueRepo,
		clinicRepo:   clinicRepo,
		stats:        stats,
		cache:        cache,
		ttls:         ttls,
		storeTimeout: storeTimeout,
	}
}

// WithMetrics enables cache hit/miss metrics
func (s *QueueQueryService) WithMetrics(metrics *observability.Metrics) *QueueQueryService {
	s.metrics = metrics
	return s
}

// GetQueue returns the clinic's active entries ordered by position
func (s *QueueQueryService) GetQueue(ctx context.Context, clinicID string) ([]*entities.QueueEntry, error) {
	key := providers.QueueCacheKey(clinicID)
	var queue []*entities.QueueEntry
	if s.fromCache(ctx, key, "queue", &queue) {
		return queue, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if _, err := s.clinicRepo.GetByID(ctx, clinicID); err != nil {
		return nil, apperrors.FromStore("failed to load clinic", err)
	}
	queue, err := s.queueRepo.ListActive(ctx, clinicID)
	if err != nil {
		return nil, apperrors.FromStore("failed to list active entries", err)
	}
	if queue == nil {
		queue = []*entities.QueueEntry{}
	}

	s.toCache(ctx, key, queue, s.ttls.Queue)
	return queue, nil
}

// GetStats returns today's stats for the clinic
func (s *QueueQueryService) GetStats(ctx context.Context, clinicID string) (*entities.QueueStats, error) {
	key := providers.StatsCacheKey(clinicID)
	var stats entities.QueueStats
	if s.fromCache(ctx, key, "stats", &stats) {
		return &stats, nil
	}

	computed, err := s.stats.GetQueueStats(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	s.toCache(ctx, key, computed, s.ttls.Stats)
	return computed, nil
}

// GetSnapshot returns the dashboard payload: active queue plus stats
func (s *QueueQueryService) GetSnapshot(ctx context.Context, clinicID string) (*entities.QueueSnapshot, error) {
	queue, err := s.GetQueue(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	stats, err := s.GetStats(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	return &entities.QueueSnapshot{ClinicID: clinicID, Queue: queue, Stats: stats}, nil
}

// GetPatientStatus returns one patient's position and wait estimate.
// Patient pages poll this to reconcile after a missed broadcast.
func (s *QueueQueryService) GetPatientStatus(ctx context.Context, clinicID, entryID string) (*entities.PatientStatus, error) {
	key := providers.EntryStatusCacheKey(clinicID, entryID)
	var status entities.PatientStatus
	if s.fromCache(ctx, key, "patient", &status) {
		return &status, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	entry, err := s.queueRepo.GetByID(ctx, entryID)
	if err != nil {
		return nil, apperrors.FromStore("failed to load queue entry", err)
	}
	if entry.ClinicID != clinicID {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("queue entry %s not found", entryID))
	}
	clinic, err := s.clinicRepo.GetByID(ctx, clinicID)
	if err != nil {
		return nil, apperrors.FromStore("failed to load clinic", err)
	}

	result := entities.NewPatientStatus(entry, clinic)
	s.toCache(ctx, key, result, s.ttls.Queue)
	return result, nil
}

func (s *QueueQueryService) fromCache(ctx context.Context, key, namespace string, v interface{}) bool {
	if s.cache == nil {
		return false
	}
	cached, err := s.cache.Get(ctx, key)
	if err != nil || cached == nil {
		observability.RecordCacheMiss(ctx, s.metrics, namespace)
		return false
	}
	if err := json.Unmarshal(cached, v); err != nil {
		observability.RecordCacheMiss(ctx, s.metrics, namespace)
		return false
	}
	observability.RecordCacheHit(ctx, s.metrics, namespace)
	return true
}

func (s *QueueQueryService) toCache(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, ttlSeconds(ttl)); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("failed to populate cache")
	}
}

func ttlSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

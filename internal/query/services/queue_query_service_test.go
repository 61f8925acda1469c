package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doctorq/backend/internal/adapters/cache"
	"github.com/doctorq/backend/internal/adapters/memory"
	appservices "github.com/doctorq/backend/internal/application/services"
	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/providers"
	"github.com/doctorq/backend/internal/domain/repositories"
	apperrors "github.com/doctorq/backend/pkg/errors"
)

type countingQueueRepo struct {
	repositories.QueueRepository
	listActive atomic.Int32
}

func (r *countingQueueRepo) ListActive(ctx context.Context, clinicID string) ([]*entities.QueueEntry, error) {
	r.listActive.Add(1)
	return r.QueueRepository.ListActive(ctx, clinicID)
}

type queryFixture struct {
	store   *memory.QueueStore
	repo    *countingQueueRepo
	cache   *cache.MemoryAdapter
	queue   *appservices.QueueService
	query   *QueueQueryService
	invalid *appservices.CacheInvalidationService
}

func newQueryFixture(t *testing.T) *queryFixture {
	t.Helper()
	store := memory.NewQueueStore()
	repo := &countingQueueRepo{QueueRepository: store}
	clinics := memory.NewClinicStore(&entities.Clinic{
		ID:                     "c1",
		Name:                   "City Clinic",
		AvgConsultationMinutes: 8,
		IsDoctorPresent:        true,
		IsActive:               true,
	})
	memCache, err := cache.NewMemoryAdapter(100, time.Minute)
	require.NoError(t, err)

	invalidator := appservices.NewCacheInvalidationService(memCache, nil)
	stats := appservices.NewStatsService(repo, clinics, time.UTC, time.Second)
	queue := appservices.NewQueueService(store, clinics, appservices.NewPositionService(), invalidator, nil,
		appservices.QueueServiceConfig{StoreTimeout: time.Second, PhoneRegion: "IN"})

	return &queryFixture{
		store:   store,
		repo:    repo,
		cache:   memCache,
		queue:   queue,
		query:   NewQueueQueryService(repo, clinics, stats, memCache, DefaultCacheTTLs(), time.Second),
		invalid: invalidator,
	}
}

func (f *queryFixture) add(t *testing.T, phone string) *entities.QueueEntry {
	t.Helper()
	e, err := f.queue.AddPatient(context.Background(), appservices.AddPatientRequest{ClinicID: "c1", Phone: phone})
	require.NoError(t, err)
	return e
}

func TestQueueQueryService_GetQueueReadThrough(t *testing.T) {
	ctx := context.Background()
	f := newQueryFixture(t)
	f.add(t, "9876543210")

	first, err := f.query.GetQueue(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := f.query.GetQueue(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, int32(1), f.repo.listActive.Load(), "second read is served from cache")

	// a mutation invalidates, so the next read sees the new entry
	f.add(t, "9876543211")
	third, err := f.query.GetQueue(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, third, 2)
	assert.Equal(t, int32(2), f.repo.listActive.Load())
}

func TestQueueQueryService_GetQueueEmptyAndUnknown(t *testing.T) {
	ctx := context.Background()
	f := newQueryFixture(t)

	queue, err := f.query.GetQueue(ctx, "c1")
	require.NoError(t, err)
	assert.NotNil(t, queue)
	assert.Empty(t, queue)

	_, err = f.query.GetQueue(ctx, "missing")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestQueueQueryService_GetStatsCached(t *testing.T) {
	ctx := context.Background()
	f := newQueryFixture(t)
	f.add(t, "9876543210")

	stats, err := f.query.GetStats(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)

	exists, err := f.cache.Exists(ctx, providers.StatsCacheKey("c1"))
	require.NoError(t, err)
	assert.True(t, exists)

	f.add(t, "9876543211")
	stats, err = f.query.GetStats(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Waiting)
}

func TestQueueQueryService_GetSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newQueryFixture(t)
	a := f.add(t, "9876543210")

	snapshot, err := f.query.GetSnapshot(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", snapshot.ClinicID)
	require.Len(t, snapshot.Queue, 1)
	assert.Equal(t, a.ID, snapshot.Queue[0].ID)
	assert.Equal(t, 1, snapshot.Stats.Waiting)
}

func TestQueueQueryService_GetPatientStatus(t *testing.T) {
	ctx := context.Background()
	f := newQueryFixture(t)
	f.add(t, "9876543210")
	f.add(t, "9876543211")
	third := f.add(t, "9876543212")

	status, err := f.query.GetPatientStatus(ctx, "c1", third.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Position)
	assert.Equal(t, 2, status.PeopleAhead)
	assert.Equal(t, 16, status.EstimatedWaitMinutes)

	_, err = f.queue.Cancel(ctx, "c1", third.ID)
	require.NoError(t, err)

	status, err = f.query.GetPatientStatus(ctx, "c1", third.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.EntryStatusCancelled, status.Status)
	assert.Equal(t, 0, status.Position)

	_, err = f.query.GetPatientStatus(ctx, "other", third.ID)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	_, err = f.query.GetPatientStatus(ctx, "c1", "missing")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestQueueQueryService_CorruptCacheFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	f := newQueryFixture(t)
	f.add(t, "9876543210")

	require.NoError(t, f.cache.Set(ctx, providers.QueueCacheKey("c1"), []byte("{not json"), 5))

	queue, err := f.query.GetQueue(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, queue, 1)
}

func TestQueueQueryService_WithoutCache(t *testing.T) {
	ctx := context.Background()
	f := newQueryFixture(t)
	f.add(t, "9876543210")
	f.query.cache = nil

	queue, err := f.query.GetQueue(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, queue, 1)
}

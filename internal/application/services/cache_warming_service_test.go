package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doctorq/backend/internal/adapters/memory"
	"github.com/doctorq/backend/internal/application/services"
	"github.com/doctorq/backend/internal/domain/entities"
)

type fakeSnapshotReader struct {
	mu    sync.Mutex
	seen  []string
	fails map[string]bool
}

func (f *fakeSnapshotReader) GetSnapshot(ctx context.Context, clinicID string) (*entities.QueueSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, clinicID)
	if f.fails[clinicID] {
		return nil, errors.New("store unavailable")
	}
	return &entities.QueueSnapshot{ClinicID: clinicID}, nil
}

func TestCacheWarmingService_WarmCache(t *testing.T) {
	clinics := memory.NewClinicStore(newClinic("c1"), newClinic("c2"), newClinic("closed", inactive()))
	reader := &fakeSnapshotReader{fails: map[string]bool{"c2": true}}

	warmer := services.NewCacheWarmingService(clinics, reader, time.Second)
	result, err := warmer.WarmCache(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Clinics)
	assert.Equal(t, 1, result.Warmed)
	assert.Equal(t, []string{"c2"}, result.Failed)
	assert.ElementsMatch(t, []string{"c1", "c2"}, reader.seen)
}

func TestCacheWarmingService_CancelledContext(t *testing.T) {
	clinics := memory.NewClinicStore(newClinic("c1"))
	reader := &fakeSnapshotReader{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	warmer := services.NewCacheWarmingService(clinics, reader, time.Second)
	result, err := warmer.WarmCache(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, result.Warmed)
	assert.Empty(t, reader.seen)
}

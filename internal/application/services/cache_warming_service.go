package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/repositories"
)

// QueueSnapshotReader loads a clinic snapshot through the read-through cache
type QueueSnapshotReader interface {
	GetSnapshot(ctx context.Context, clinicID string) (*entities.QueueSnapshot, error)
}

// WarmResult summarizes one warming pass
type WarmResult struct {
	Clinics int
	Warmed  int
	Failed  []string
}

// CacheWarmingService primes the queue, stats and clinic caches of every
// active clinic so the first dashboard load after a deploy or the nightly
// reset does not hit the store for each clinic at once.
type CacheWarmingService struct {
	clinicRepo repositories.ClinicRepository
	reader     QueueSnapshotReader
	timeout    time.Duration
}

// NewCacheWarmingService creates a new cache warming service
func NewCacheWarmingService(
	clinicRepo repositories.ClinicRepository,
	reader QueueSnapshotReader,
	timeout time.Duration,
) *CacheWarmingService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CacheWarmingService{
		clinicRepo: clinicRepo,
		reader:     reader,
		timeout:    timeout,
	}
}

// WarmCache reads every active clinic's snapshot once. A clinic that fails
// is recorded and skipped; only a failure to list clinics is returned.
func (s *CacheWarmingService) WarmCache(ctx context.Context) (WarmResult, error) {
	start := time.Now()

	listCtx, cancel := context.WithTimeout(ctx, s.timeout)
	clinics, err := s.clinicRepo.ListActive(listCtx)
	cancel()
	if err != nil {
		return WarmResult{}, fmt.Errorf("failed to list active clinics: %w", err)
	}

	result := WarmResult{Clinics: len(clinics)}
	for _, clinic := range clinics {
		if ctx.Err() != nil {
			break
		}
		// GetByID fills clinic:{id} when the repository is the cached adapter
		clinicCtx, cancel := context.WithTimeout(ctx, s.timeout)
		_, err := s.clinicRepo.GetByID(clinicCtx, clinic.ID)
		if err == nil {
			_, err = s.reader.GetSnapshot(clinicCtx, clinic.ID)
		}
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("clinic_id", clinic.ID).Msg("failed to warm clinic cache")
			result.Failed = append(result.Failed, clinic.ID)
			continue
		}
		result.Warmed++
	}

	log.Info().
		Int("clinics", result.Clinics).
		Int("warmed", result.Warmed).
		Int("failed", len(result.Failed)).
		Dur("duration", time.Since(start)).
		Msg("cache warming completed")
	return result, ctx.Err()
}

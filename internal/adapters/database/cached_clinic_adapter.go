package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/providers"
	"github.com/doctorq/backend/internal/domain/repositories"
)

// CachedClinicAdapter wraps a ClinicRepository with a read-through cache on GetByID
type CachedClinicAdapter struct {
	adapter repositories.ClinicRepository
	cache   providers.CacheProvider
	ttl     int
}

var _ repositories.ClinicRepository = (*CachedClinicAdapter)(nil)

// NewCachedClinicAdapter creates a new cached clinic adapter
func NewCachedClinicAdapter(adapter repositories.ClinicRepository, cache providers.CacheProvider, ttl time.Duration) *CachedClinicAdapter {
	seconds := int(ttl / time.Second)
	if seconds < 1 {
		seconds = 60
	}
	return &CachedClinicAdapter{
		adapter: adapter,
		cache:   cache,
		ttl:     seconds,
	}
}

// Create creates a clinic and drops any stale cached copy
func (a *CachedClinicAdapter) Create(ctx context.Context, clinic *entities.Clinic) error {
	if err := a.adapter.Create(ctx, clinic); err != nil {
		return err
	}
	a.evict(ctx, clinic.ID)
	return nil
}

// GetByID retrieves a clinic by ID with caching
func (a *CachedClinicAdapter) GetByID(ctx context.Context, id string) (*entities.Clinic, error) {
	cacheKey := providers.ClinicCacheKey(id)

	if cached, err := a.cache.Get(ctx, cacheKey); err == nil {
		var clinic entities.Clinic
		if err := json.Unmarshal(cached, &clinic); err == nil {
			return &clinic, nil
		}
		log.Debug().Err(err).Str("clinic_id", id).Msg("failed to unmarshal cached clinic")
	}

	clinic, err := a.adapter.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(clinic); err == nil {
		if err := a.cache.Set(ctx, cacheKey, data, a.ttl); err != nil {
			log.Debug().Err(err).Str("clinic_id", id).Msg("failed to cache clinic")
		}
	}
	return clinic, nil
}

// ListActive is not cached; only the nightly reset reads it
func (a *CachedClinicAdapter) ListActive(ctx context.Context) ([]*entities.Clinic, error) {
	return a.adapter.ListActive(ctx)
}

// SetDoctorPresence updates the flag and evicts the cached clinic
func (a *CachedClinicAdapter) SetDoctorPresence(ctx context.Context, id string, present bool) error {
	if err := a.adapter.SetDoctorPresence(ctx, id, present); err != nil {
		return err
	}
	a.evict(ctx, id)
	return nil
}

func (a *CachedClinicAdapter) evict(ctx context.Context, id string) {
	if err := a.cache.Delete(ctx, providers.ClinicCacheKey(id)); err != nil {
		log.Warn().Err(err).Str("clinic_id", id).Msg("failed to evict cached clinic")
	}
}

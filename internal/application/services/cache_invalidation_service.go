package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/providers"
)

// EventChannelCacheInvalidation carries invalidations between instances that
// each hold a private in-process cache
const EventChannelCacheInvalidation = "cache:invalidate"

// QueueEventCacheInvalidate is the event name on EventChannelCacheInvalidation
const QueueEventCacheInvalidate entities.QueueEventName = "cache:invalidate"

type invalidationScope string

const (
	scopeQueue  invalidationScope = "queue"
	scopeClinic invalidationScope = "clinic"
)

type invalidationPayload struct {
	Scope invalidationScope `json:"scope"`
}

// CacheInvalidationService drops cached projections after mutations.
// When given an event bus it also relays invalidations to peer instances.
type CacheInvalidationService struct {
	cache    providers.CacheProvider
	eventBus providers.EventBus
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewCacheInvalidationService creates a new cache invalidation service.
// eventBus may be nil when the cache is shared, e.g. Redis.
func NewCacheInvalidationService(cache providers.CacheProvider, eventBus providers.EventBus) *CacheInvalidationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CacheInvalidationService{
		cache:    cache,
		eventBus: eventBus,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins listening for invalidations published by peers
func (s *CacheInvalidationService) Start() error {
	if s.eventBus == nil {
		return nil
	}
	eventChan, err := s.eventBus.Subscribe(s.ctx, EventChannelCacheInvalidation)
	if err != nil {
		return fmt.Errorf("failed to subscribe to cache invalidations: %w", err)
	}

	go s.processEvents(eventChan)
	log.Info().Msg("cache invalidation service started")
	return nil
}

// Stop stops the cache invalidation service
func (s *CacheInvalidationService) Stop() {
	s.cancel()
	log.Info().Msg("cache invalidation service stopped")
}

func (s *CacheInvalidationService) processEvents(eventChan <-chan *entities.QueueEvent) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if event == nil || event.Name != QueueEventCacheInvalidate {
				continue
			}
			s.handleEvent(event)
		}
	}
}

func (s *CacheInvalidationService) handleEvent(event *entities.QueueEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var payload invalidationPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		log.Warn().Err(err).Str("clinic_id", event.ClinicID).Str("event_id", event.ID).Msg("dropping malformed cache invalidation")
		return
	}

	var err error
	switch payload.Scope {
	case scopeClinic:
		_, err = s.dropClinic(ctx, event.ClinicID)
	default:
		_, err = s.dropQueue(ctx, event.ClinicID)
	}
	if err != nil {
		log.Warn().Err(err).Str("clinic_id", event.ClinicID).Msg("failed to apply peer cache invalidation")
	}
}

// InvalidateQueue drops queue:{id}, stats:{id} and every key nested under them
func (s *CacheInvalidationService) InvalidateQueue(ctx context.Context, clinicID string) error {
	if _, err := s.dropQueue(ctx, clinicID); err != nil {
		return err
	}
	s.relay(ctx, clinicID, scopeQueue)
	return nil
}

// InvalidateClinic drops clinic metadata and stats, which depend on doctor presence
func (s *CacheInvalidationService) InvalidateClinic(ctx context.Context, clinicID string) error {
	if _, err := s.dropClinic(ctx, clinicID); err != nil {
		return err
	}
	s.relay(ctx, clinicID, scopeClinic)
	return nil
}

func (s *CacheInvalidationService) dropQueue(ctx context.Context, clinicID string) (int, error) {
	return s.drop(ctx, providers.QueueCacheKey(clinicID), providers.StatsCacheKey(clinicID))
}

func (s *CacheInvalidationService) dropClinic(ctx context.Context, clinicID string) (int, error) {
	return s.drop(ctx, providers.ClinicCacheKey(clinicID), providers.StatsCacheKey(clinicID))
}

// drop deletes each base key and its namespace. Prefix matching stops at the
// separator so clinic "1" never evicts clinic "12".
func (s *CacheInvalidationService) drop(ctx context.Context, bases ...string) (int, error) {
	removed := 0
	var errs []error
	for _, base := range bases {
		if err := s.cache.Delete(ctx, base); err != nil {
			errs = append(errs, err)
		}
		n, err := s.cache.DeletePattern(ctx, providers.NamespacePattern(base))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to invalidate pattern %s: %w", providers.NamespacePattern(base), err))
			continue
		}
		removed += n
	}
	return removed, errors.Join(errs...)
}

func (s *CacheInvalidationService) relay(ctx context.Context, clinicID string, scope invalidationScope) {
	if s.eventBus == nil {
		return
	}
	event, err := entities.NewQueueEvent(EventChannelCacheInvalidation, QueueEventCacheInvalidate, clinicID, 0, invalidationPayload{Scope: scope})
	if err != nil {
		return
	}
	if err := s.eventBus.Publish(ctx, EventChannelCacheInvalidation, event); err != nil {
		log.Warn().Err(err).Str("clinic_id", clinicID).Msg("failed to relay cache invalidation")
	}
}

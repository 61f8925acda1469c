package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/doctorq/backend/internal/adapters/cache"
	"github.com/doctorq/backend/internal/adapters/database"
	"github.com/doctorq/backend/internal/adapters/events"
	"github.com/doctorq/backend/internal/application/services"
	"github.com/doctorq/backend/internal/infrastructure/clients/postgres"
	"github.com/doctorq/backend/internal/infrastructure/clients/redis"
	"github.com/doctorq/backend/internal/infrastructure/observability"
	"github.com/doctorq/backend/pkg/config"
	"github.com/doctorq/backend/pkg/secrets"
)

// reset runs one nightly reset pass for deployments that schedule it with
// an external cron instead of the in-process timer.
func main() {
	if result, err := secrets.Load(context.Background(), secrets.ConfigFromEnv()); err != nil {
		log.Fatal().Err(err).Msg("failed to load secrets from vault")
	} else if result.Enabled {
		log.Info().Str("path", result.Path).Strs("loaded", result.Loaded).Int("skipped", len(result.Skipped)).Msg("vault secrets applied")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	observability.InitLogger(cfg.OTEL.ServiceName+"-reset", cfg.Env, cfg.LogLevel)

	if cfg.Queue.StoreDriver != config.DriverPostgres {
		log.Fatal().Str("store", cfg.Queue.StoreDriver).Msg("reset needs the postgres store; the in-memory store resets in-process")
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize PostgreSQL client")
	}
	defer pgClient.Close()

	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Redis client")
	}
	defer redisClient.Close()

	cacheProvider := cache.NewRedisAdapter(redisClient)
	eventBus := events.NewRedisEventBus(redisClient)
	defer eventBus.Close()

	queueRepo := database.NewQueueAdapter(pgClient)
	clinicRepo := database.NewCachedClinicAdapter(database.NewClinicAdapter(pgClient), cacheProvider, cfg.Queue.ClinicTTL)

	// API instances with a process-local cache drop their copies via the relay
	invalidator := services.NewCacheInvalidationService(cacheProvider, eventBus)

	stats := services.NewStatsService(queueRepo, clinicRepo, cfg.Queue.Location(), cfg.Queue.StoreTimeout)
	broadcast := services.NewBroadcastService(queueRepo, clinicRepo, stats, eventBus, cfg.Queue.StoreTimeout)

	queueService := services.NewQueueService(queueRepo, clinicRepo, services.NewPositionService(), invalidator, broadcast,
		services.QueueServiceConfig{StoreTimeout: cfg.Queue.StoreTimeout, PhoneRegion: cfg.Queue.PhoneRegion})
	clinicService := services.NewClinicService(clinicRepo, invalidator, broadcast, broadcast, cfg.Queue.StoreTimeout)

	reset := services.NewResetService(clinicRepo, queueService, clinicService, cfg.Queue.Location(), cfg.Queue.ResetHour, cfg.Queue.ResetMinute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := reset.RunNightlyReset(ctx)
	if err != nil {
		event := log.Error().Err(err)
		if report != nil {
			event = event.Strs("failed_clinics", report.Failed)
		}
		event.Msg("nightly reset finished with errors")
		os.Exit(1)
	}
}

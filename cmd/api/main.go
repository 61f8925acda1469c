package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/doctorq/backend/internal/adapters/cache"
	"github.com/doctorq/backend/internal/adapters/database"
	"github.com/doctorq/backend/internal/adapters/events"
	"github.com/doctorq/backend/internal/adapters/memory"
	"github.com/doctorq/backend/internal/api/handlers"
	"github.com/doctorq/backend/internal/api/routes"
	"github.com/doctorq/backend/internal/application/services"
	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/providers"
	"github.com/doctorq/backend/internal/domain/repositories"
	"github.com/doctorq/backend/internal/infrastructure/clients/postgres"
	"github.com/doctorq/backend/internal/infrastructure/clients/redis"
	"github.com/doctorq/backend/internal/infrastructure/notifications"
	"github.com/doctorq/backend/internal/infrastructure/observability"
	queryservices "github.com/doctorq/backend/internal/query/services"
	"github.com/doctorq/backend/pkg/config"
	"github.com/doctorq/backend/pkg/secrets"
)

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
	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry if enabled
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
			log.Info().Str("endpoint", cfg.OTEL.Endpoint).Msg("OpenTelemetry initialized")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	var (
		pgClient    *postgres.Client
		redisClient *redis.Client
	)
	needsRedis := cfg.Queue.CacheDriver == config.DriverRedis || cfg.Queue.EventBusDriver == config.DriverRedis
	if cfg.Queue.StoreDriver == config.DriverPostgres {
		pgClient, err = postgres.NewClient(&cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize PostgreSQL client")
		}
		defer pgClient.Close()
	}
	if needsRedis {
		redisClient, err = redis.NewClient(&cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize Redis client")
		}
		defer redisClient.Close()
	}

	// Cache layer
	var cacheProvider providers.CacheProvider
	switch cfg.Queue.CacheDriver {
	case config.DriverRedis:
		cacheProvider = cache.NewRedisAdapter(redisClient)
	default:
		memCache, err := cache.NewMemoryAdapter(cfg.Queue.CacheSize, cfg.Queue.CacheSweepInterval)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize in-memory cache")
		}
		memCache.Start()
		defer memCache.Stop()
		cacheProvider = memCache
	}

	// Event bus
	var eventBus providers.EventBus
	switch cfg.Queue.EventBusDriver {
	case config.DriverRedis:
		eventBus = events.NewRedisEventBus(redisClient)
	default:
		eventBus = events.NewLocalEventBus()
	}
	defer func() {
		if err := eventBus.Close(); err != nil {
			log.Error().Err(err).Msg("error closing event bus")
		}
	}()

	// Queue store
	var (
		queueRepo  repositories.QueueRepository
		clinicRepo repositories.ClinicRepository
	)
	switch cfg.Queue.StoreDriver {
	case config.DriverPostgres:
		queueRepo = database.NewQueueAdapter(pgClient)
		clinicRepo = database.NewCachedClinicAdapter(database.NewClinicAdapter(pgClient), cacheProvider, cfg.Queue.ClinicTTL)
	default:
		queueRepo = memory.NewQueueStore()
		clinicRepo = memory.NewClinicStore(devClinic())
		log.Warn().Msg("using in-memory queue store; state is lost on restart")
	}

	// A process-local cache needs peers to hear about invalidations
	var relayBus providers.EventBus
	if cfg.Queue.CacheDriver == config.DriverMemory && cfg.Queue.EventBusDriver == config.DriverRedis {
		relayBus = eventBus
	}
	invalidator := services.NewCacheInvalidationService(cacheProvider, relayBus)
	if err := invalidator.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start cache invalidation relay")
	}
	defer invalidator.Stop()

	loc := cfg.Queue.Location()
	stats := services.NewStatsService(queueRepo, clinicRepo, loc, cfg.Queue.StoreTimeout)

	broadcast := services.NewBroadcastService(queueRepo, clinicRepo, stats, eventBus, cfg.Queue.StoreTimeout).
		WithMetrics(metrics)
	if cfg.PubNub.Enabled() {
		mirror, err := events.NewPubNubMirror(cfg.PubNub)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize PubNub mirror")
		}
		broadcast.WithMirror(mirror)
		log.Info().Msg("mirroring queue events to PubNub")
	}
	broadcast.Start()
	defer broadcast.Stop()

	queueService := services.NewQueueService(
		queueRepo,
		clinicRepo,
		services.NewPositionService(),
		invalidator,
		broadcast,
		services.QueueServiceConfig{
			StoreTimeout: cfg.Queue.StoreTimeout,
			AutoNotify:   cfg.Queue.AutoNotify,
			PhoneRegion:  cfg.Queue.PhoneRegion,
		},
	).WithMetrics(metrics)

	var turnAlerts *services.TurnAlertService
	if cfg.WhatsApp.Enabled() {
		sender, err := notifications.NewWhatsAppCloudSender(cfg.WhatsApp)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize WhatsApp sender")
		}
		turnAlerts = services.NewTurnAlertService(sender)
		queueService.WithTurnAlerter(turnAlerts)
		log.Info().Msg("WhatsApp turn alerts enabled")
	}

	clinicService := services.NewClinicService(clinicRepo, invalidator, broadcast, broadcast, cfg.Queue.StoreTimeout)

	resetService := services.NewResetService(clinicRepo, queueService, clinicService, loc, cfg.Queue.ResetHour, cfg.Queue.ResetMinute)
	resetService.Start()
	defer resetService.Stop()

	queryService := queryservices.NewQueueQueryService(
		queueRepo,
		clinicRepo,
		stats,
		cacheProvider,
		queryservices.CacheTTLs{Queue: cfg.Queue.QueueTTL, Stats: cfg.Queue.StatsTTL},
		cfg.Queue.StoreTimeout,
	).WithMetrics(metrics)

	warmer := services.NewCacheWarmingService(clinicRepo, queryService, cfg.Queue.StoreTimeout)
	go func() {
		if _, err := warmer.WarmCache(ctx); err != nil {
			log.Warn().Err(err).Msg("cache warming aborted")
		}
	}()

	router := routes.NewRouter(
		handlers.NewQueueHandler(queueService, queryService),
		handlers.NewClinicHandler(clinicService),
		handlers.NewSSEHandler(eventBus),
		cfg.Server.AllowedOrigins,
		metrics,
	).WithReadiness(func(r *http.Request) error {
		if pgClient != nil {
			if err := pgClient.Ping(r.Context()); err != nil {
				return err
			}
		}
		if redisClient != nil {
			return redisClient.Ping(r.Context())
		}
		return nil
	})

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     router.SetupRoutes(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: SSE streams stay open
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", serverAddr).
			Str("store", cfg.Queue.StoreDriver).
			Str("cache", cfg.Queue.CacheDriver).
			Str("event_bus", cfg.Queue.EventBusDriver).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// open streams never finish on their own
	server.RegisterOnShutdown(func() {
		if err := eventBus.Close(); err != nil {
			log.Debug().Err(err).Msg("event bus already closed")
		}
	})
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}
	if turnAlerts != nil {
		turnAlerts.Wait()
	}

	log.Info().Msg("server stopped")
}

// devClinic seeds the in-memory store so a local run is usable without a database
func devClinic() *entities.Clinic {
	now := time.Now()
	return &entities.Clinic{
		ID:                     "demo",
		Name:                   "Demo Clinic",
		DoctorName:             "Dr. Demo",
		AvgConsultationMinutes: 10,
		NotifyAtPosition:       2,
		IsDoctorPresent:        true,
		IsActive:               true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

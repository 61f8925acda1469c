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

	"github.com/doctorq/backend/internal/adapters/events"
	"github.com/doctorq/backend/internal/api/handlers"
	"github.com/doctorq/backend/internal/api/middleware"
	"github.com/doctorq/backend/internal/infrastructure/clients/redis"
	"github.com/doctorq/backend/internal/infrastructure/observability"
	"github.com/doctorq/backend/pkg/config"
	"github.com/doctorq/backend/pkg/secrets"
)

// The stream server only fans out events that API instances publish on Redis,
// so it scales independently of the write path.
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
	observability.InitLogger(cfg.OTEL.ServiceName+"-sse", cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Redis client")
	}
	defer redisClient.Close()

	eventBus := events.NewRedisEventBus(redisClient)
	sseHandler := handlers.NewSSEHandler(eventBus)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /api/stream/clinics/{clinicId}", sseHandler.StreamClinic)
	mux.HandleFunc("GET /api/stream/clinics/{clinicId}/patients", sseHandler.StreamClinicPatients)
	mux.HandleFunc("GET /api/stream/patients/{entryId}", sseHandler.StreamPatient)

	mux.HandleFunc("GET /api/stream/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"connected_clients": %d}`, sseHandler.ClientCount())
	})

	var handler http.Handler = mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.CORSMiddleware(cfg.Server.AllowedOrigins)(handler)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	server.RegisterOnShutdown(func() {
		if err := eventBus.Close(); err != nil {
			log.Error().Err(err).Msg("error closing event bus")
		}
	})

	go func() {
		log.Info().Str("addr", serverAddr).Msg("SSE server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("SSE server failed to start")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("SSE server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during SSE server shutdown")
	}

	log.Info().Msg("SSE server stopped")
}

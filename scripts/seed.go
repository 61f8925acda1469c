package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/doctorq/backend/internal/adapters/database"
	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/infrastructure/clients/postgres"
	"github.com/doctorq/backend/internal/infrastructure/observability"
	"github.com/doctorq/backend/pkg/config"
	apperrors "github.com/doctorq/backend/pkg/errors"
	"github.com/doctorq/backend/pkg/secrets"
)

func main() {
	if _, err := secrets.Load(context.Background(), secrets.ConfigFromEnv()); err != nil {
		log.Fatal().Err(err).Msg("failed to load secrets from vault")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	observability.InitLogger("doctorq-seed", cfg.Env, cfg.LogLevel)

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pgClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if os.Getenv("RESET_DB") == "true" {
		log.Warn().Msg("RESET_DB=true, truncating tables before seeding")
		if _, err := pgClient.DB().ExecContext(ctx, `TRUNCATE TABLE queue_entries, clinics CASCADE`); err != nil {
			log.Fatal().Err(err).Msg("failed to truncate tables")
		}
	}

	clinicRepo := database.NewClinicAdapter(pgClient)

	created, existing := 0, 0
	for _, clinic := range seedClinics() {
		err := clinicRepo.Create(ctx, clinic)
		switch {
		case err == nil:
			created++
			log.Info().Str("clinic_id", clinic.ID).Str("name", clinic.Name).Msg("clinic created")
		case apperrors.IsType(err, apperrors.ErrorTypeConflict):
			existing++
		default:
			log.Fatal().Err(err).Str("clinic_id", clinic.ID).Msg("failed to create clinic")
		}
	}

	log.Info().Int("created", created).Int("existing", existing).Msg("seeding completed")
}

func seedClinics() []*entities.Clinic {
	now := time.Now().UTC()
	clinic := func(id, name, doctor string, avg, notifyAt int) *entities.Clinic {
		return &entities.Clinic{
			ID:                     id,
			Name:                   name,
			DoctorName:             doctor,
			AvgConsultationMinutes: avg,
			NotifyAtPosition:       notifyAt,
			IsDoctorPresent:        false,
			IsActive:               true,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
	}
	return []*entities.Clinic{
		clinic("sunrise-family", "Sunrise Family Clinic", "Dr. Meera Iyer", 8, 2),
		clinic("lakeview-pediatrics", "Lakeview Pediatrics", "Dr. Arjun Nair", 12, 3),
		clinic("city-ent", "City ENT Centre", "Dr. Kavya Reddy", 10, 2),
	}
}

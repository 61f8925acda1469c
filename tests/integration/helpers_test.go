//go:build integration

package integration

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/infrastructure/clients/postgres"
	"github.com/doctorq/backend/internal/infrastructure/clients/redis"
	"github.com/doctorq/backend/pkg/config"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func requirePostgres(t *testing.T) {
	t.Helper()
	if os.Getenv("TEST_DB_HOST") == "" {
		t.Skip("Skipping integration test: TEST_DB_HOST not set")
	}
}

func requireRedis(t *testing.T) {
	t.Helper()
	if os.Getenv("TEST_REDIS_HOST") == "" {
		t.Skip("Skipping integration test: TEST_REDIS_HOST not set")
	}
}

func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	cfg := &config.RedisConfig{
		Host:     getEnv("TEST_REDIS_HOST", "localhost"),
		Port:     getEnvAsInt("TEST_REDIS_PORT", 6379),
		Password: getEnv("TEST_REDIS_PASSWORD", ""),
		DB:       getEnvAsInt("TEST_REDIS_DB", 0),
	}

	client, err := redis.NewClient(cfg)
	require.NoError(t, err, "Failed to create redis client")
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestPostgresClient(t *testing.T) *postgres.Client {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Host:     getEnv("TEST_DB_HOST", "localhost"),
		Port:     getEnvAsInt("TEST_DB_PORT", 5432),
		User:     getEnv("TEST_DB_USER", "postgres"),
		Password: getEnv("TEST_DB_PASSWORD", "postgres"),
		Database: getEnv("TEST_DB_NAME", "doctorq_test"),
		SSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}

	client, err := postgres.NewClient(cfg)
	require.NoError(t, err, "Failed to create postgres client")
	t.Cleanup(func() { client.Close() })

	runMigrations(t, client.DB(), "../../migrations/001_queue_schema.sql")
	return client
}

func runMigrations(t *testing.T, db *sqlx.DB, paths ...string) {
	t.Helper()
	for _, path := range paths {
		migrationSQL, err := os.ReadFile(path)
		require.NoError(t, err)
		_, err = db.Exec(string(migrationSQL))
		require.NoError(t, err, "migration %s failed", path)
	}
}

func seedClinic(t *testing.T, db *sqlx.DB, clinic *entities.Clinic) {
	t.Helper()
	ctx := context.Background()
	_, err := db.ExecContext(ctx, `DELETE FROM clinics WHERE id = $1`, clinic.ID)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO clinics (id, name, doctor_name, avg_consultation_minutes, notify_at_position, is_doctor_present, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		clinic.ID, clinic.Name, clinic.DoctorName, clinic.AvgConsultationMinutes,
		clinic.NotifyAtPosition, clinic.IsDoctorPresent, clinic.IsActive)
	require.NoError(t, err)
}

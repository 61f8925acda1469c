package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Queue.StoreDriver)
	assert.Equal(t, 5*time.Second, cfg.Queue.QueueTTL)
	assert.Equal(t, 10*time.Second, cfg.Queue.StatsTTL)
	assert.Equal(t, 60*time.Second, cfg.Queue.ClinicTTL)
	assert.Equal(t, "IN", cfg.Queue.PhoneRegion)
	assert.True(t, cfg.Queue.AutoNotify)
	assert.False(t, cfg.WhatsApp.Enabled())
	assert.False(t, cfg.PubNub.Enabled())
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
}

func TestLoad_QueueOverrides(t *testing.T) {
	t.Setenv("QUEUE_STORE_DRIVER", "memory")
	t.Setenv("QUEUE_CACHE_DRIVER", "memory")
	t.Setenv("QUEUE_EVENT_BUS_DRIVER", "local")
	t.Setenv("QUEUE_STORE_TIMEOUT", "750ms")
	t.Setenv("QUEUE_AUTO_NOTIFY", "false")
	t.Setenv("QUEUE_TIMEZONE", "UTC")
	t.Setenv("QUEUE_RESET_HOUR", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Queue.StoreDriver)
	assert.Equal(t, DriverLocal, cfg.Queue.EventBusDriver)
	assert.Equal(t, 750*time.Millisecond, cfg.Queue.StoreTimeout)
	assert.False(t, cfg.Queue.AutoNotify)
	assert.Equal(t, 3, cfg.Queue.ResetHour)
	assert.Equal(t, time.UTC, cfg.Queue.Location())
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://clinic.doctorq.in, https://q.doctorq.in,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://clinic.doctorq.in", "https://q.doctorq.in"}, cfg.Server.AllowedOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown store driver", "QUEUE_STORE_DRIVER", "mongo"},
		{"unknown cache driver", "QUEUE_CACHE_DRIVER", "memcached"},
		{"unknown bus driver", "QUEUE_EVENT_BUS_DRIVER", "kafka"},
		{"zero timeout", "QUEUE_STORE_TIMEOUT", "0s"},
		{"bad timezone", "QUEUE_TIMEZONE", "Mars/Olympus"},
		{"bad reset hour", "QUEUE_RESET_HOUR", "24"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, User: "q", Password: "p", Database: "doctorq", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=q password=p dbname=doctorq sslmode=disable", db.DatabaseDSN())

	r := RedisConfig{Host: "cache", Port: 6380}
	assert.Equal(t, "cache:6380", r.RedisAddr())
}

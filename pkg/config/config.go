package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store, cache and event bus drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverLocal    = "local"
)

// Config holds all application configuration
type Config struct {
	Env      string
	LogLevel string
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	WhatsApp WhatsAppConfig
	PubNub   PubNubConfig
	OTEL     OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// QueueConfig holds queue engine configuration
type QueueConfig struct {
	StoreDriver    string
	CacheDriver    string
	EventBusDriver string

	StoreTimeout time.Duration

	QueueTTL  time.Duration
	StatsTTL  time.Duration
	ClinicTTL time.Duration

	CacheSize          int
	CacheSweepInterval time.Duration

	PhoneRegion string
	AutoNotify  bool

	Timezone    string
	ResetHour   int
	ResetMinute int
}

// WhatsAppConfig holds WhatsApp Cloud API configuration for turn alerts
type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	TemplateName  string
	LanguageCode  string
}

// Enabled reports whether turn alerts can be delivered
func (c *WhatsAppConfig) Enabled() bool {
	return c.AccessToken != "" && c.PhoneNumberID != ""
}

// PubNubConfig holds the optional PubNub mirror configuration
type PubNubConfig struct {
	PublishKey   string
	SubscribeKey string
	SecretKey    string
	UserID       string
}

// Enabled reports whether events should be mirrored to PubNub
func (c *PubNubConfig) Enabled() bool {
	return c.PublishKey != "" && c.SubscribeKey != ""
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins:  getEnvAsSlice("ALLOWED_ORIGINS", []string{"*"}),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "doctorq"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Queue: QueueConfig{
			StoreDriver:        getEnv("QUEUE_STORE_DRIVER", DriverPostgres),
			CacheDriver:        getEnv("QUEUE_CACHE_DRIVER", DriverRedis),
			EventBusDriver:     getEnv("QUEUE_EVENT_BUS_DRIVER", DriverRedis),
			StoreTimeout:       getEnvAsDuration("QUEUE_STORE_TIMEOUT", 5*time.Second),
			QueueTTL:           getEnvAsDuration("QUEUE_CACHE_TTL", 5*time.Second),
			StatsTTL:           getEnvAsDuration("STATS_CACHE_TTL", 10*time.Second),
			ClinicTTL:          getEnvAsDuration("CLINIC_CACHE_TTL", 60*time.Second),
			CacheSize:          getEnvAsInt("QUEUE_CACHE_SIZE", 10000),
			CacheSweepInterval: getEnvAsDuration("QUEUE_CACHE_SWEEP_INTERVAL", 30*time.Second),
			PhoneRegion:        getEnv("QUEUE_PHONE_REGION", "IN"),
			AutoNotify:         getEnvAsBool("QUEUE_AUTO_NOTIFY", true),
			Timezone:           getEnv("QUEUE_TIMEZONE", "Asia/Kolkata"),
			ResetHour:          getEnvAsInt("QUEUE_RESET_HOUR", 0),
			ResetMinute:        getEnvAsInt("QUEUE_RESET_MINUTE", 0),
		},
		WhatsApp: WhatsAppConfig{
			AccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
			PhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			TemplateName:  getEnv("WHATSAPP_TURN_TEMPLATE", "queue_turn_alert"),
			LanguageCode:  getEnv("WHATSAPP_LANGUAGE_CODE", "en"),
		},
		PubNub: PubNubConfig{
			PublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
			SubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
			SecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
			UserID:       getEnv("PUBNUB_USER_ID", "doctorq-backend"),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "doctorq-queue"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks driver names, timeouts and the reset schedule
func (c *Config) Validate() error {
	q := c.Queue
	if q.StoreDriver != DriverPostgres && q.StoreDriver != DriverMemory {
		return fmt.Errorf("invalid QUEUE_STORE_DRIVER %q", q.StoreDriver)
	}
	if q.CacheDriver != DriverRedis && q.CacheDriver != DriverMemory {
		return fmt.Errorf("invalid QUEUE_CACHE_DRIVER %q", q.CacheDriver)
	}
	if q.EventBusDriver != DriverRedis && q.EventBusDriver != DriverLocal {
		return fmt.Errorf("invalid QUEUE_EVENT_BUS_DRIVER %q", q.EventBusDriver)
	}
	if q.StoreTimeout <= 0 {
		return fmt.Errorf("QUEUE_STORE_TIMEOUT must be positive")
	}
	if q.QueueTTL <= 0 || q.StatsTTL <= 0 || q.ClinicTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if q.CacheSize <= 0 {
		return fmt.Errorf("QUEUE_CACHE_SIZE must be positive")
	}
	if q.ResetHour < 0 || q.ResetHour > 23 || q.ResetMinute < 0 || q.ResetMinute > 59 {
		return fmt.Errorf("invalid reset time %02d:%02d", q.ResetHour, q.ResetMinute)
	}
	if _, err := time.LoadLocation(q.Timezone); err != nil {
		return fmt.Errorf("invalid QUEUE_TIMEZONE %q: %w", q.Timezone, err)
	}
	return nil
}

// Location returns the clinic-local timezone used for "today" and the nightly reset
func (c *QueueConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

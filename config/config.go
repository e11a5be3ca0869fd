// Package config loads EverTask's own bootstrap knobs, the way the
// teacher's config package loads its scheduler service's. It never parses a
// host application's configuration file format — that remains the host's
// concern.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config bundles every engine-bootstrap knob plus the reference backends'
// connection settings (Postgres for store/postgres, Redis for the event
// bus relay / idempotency hint cache) and the demo host's server settings.
type Config struct {
	Engine   EngineConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Server   ServerConfig
}

// EngineConfig covers the engine's own bootstrap knobs — default queue
// capacity/parallelism, default timeout/retry policy, shutdown grace
// period, cleanup horizon, timezone.
type EngineConfig struct {
	DefaultQueueCapacity int
	DefaultParallelism   int
	DefaultTimeout       time.Duration
	DefaultMaxRetries    int
	DefaultRetryDelay    time.Duration
	GraceTimeout         time.Duration
	CleanupInterval      time.Duration
	CleanupHorizon       time.Duration
	Timezone             string
}

// PostgresConfig configures store/postgres's *gorm.DB connection.
type PostgresConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	DBName             string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	MaxLifetimeMinutes int
	LogLevel           string
}

// RedisConfig configures the optional event-bus relay and idempotency hint
// cache's *redis.Client.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// ServerConfig configures cmd/apitask's fiber app.
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoadConfig is a panic-free convenience wrapper over Load, for callers
// that don't care why loading failed (it never does — every value falls
// back to a default).
func LoadConfig() *Config {
	cfg, _ := Load()
	return cfg
}

// Load reads an optional .env file, then env vars with defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		Engine: EngineConfig{
			DefaultQueueCapacity: getEnvInt("EVERTASK_QUEUE_CAPACITY", 1000),
			DefaultParallelism:   getEnvInt("EVERTASK_PARALLELISM", 4),
			DefaultTimeout:       getDuration("EVERTASK_DEFAULT_TIMEOUT", 30*time.Second),
			DefaultMaxRetries:    getEnvInt("EVERTASK_DEFAULT_MAX_RETRIES", 0),
			DefaultRetryDelay:    getDuration("EVERTASK_DEFAULT_RETRY_DELAY", time.Second),
			GraceTimeout:         getDuration("EVERTASK_GRACE_TIMEOUT", 30*time.Second),
			CleanupInterval:      getDuration("EVERTASK_CLEANUP_INTERVAL", time.Hour),
			CleanupHorizon:       getDuration("EVERTASK_CLEANUP_HORIZON", 30*24*time.Hour),
			Timezone:             getEnv("EVERTASK_TIMEZONE", "UTC"),
		},
		Postgres: PostgresConfig{
			Host:               getEnv("POSTGRES_HOST", "localhost"),
			Port:               getEnv("POSTGRES_PORT", "5432"),
			User:               getEnv("POSTGRES_USER", "evertask_user"),
			Password:           getEnv("POSTGRES_PASSWORD", "evertask_password"),
			DBName:             getEnv("POSTGRES_DB", "evertask_db"),
			SSLMode:            getEnv("POSTGRES_SSL_MODE", "disable"),
			MaxOpenConns:       getEnvInt("POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns:       getEnvInt("POSTGRES_MAX_IDLE_CONNS", 10),
			MaxLifetimeMinutes: getEnvInt("POSTGRES_MAX_LIFETIME_MINS", 30),
			LogLevel:           getEnv("POSTGRES_LOG_LEVEL", "warn"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 3),
		},
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 5103),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

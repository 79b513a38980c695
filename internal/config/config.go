package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the wishlist job services.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Worker   WorkerConfig
	Fetch    FetchConfig
	Uploads  UploadsConfig
}

type ServerConfig struct {
	Port     int `env:"SERVER_PORT" env-default:"8080"`
	GRPCPort int `env:"GRPC_PORT" env-default:"8081"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" env-default:"10"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" env-default:"5m"`
	ConnectAttempts int           `env:"DATABASE_CONNECT_ATTEMPTS" env-default:"5"`
}

// RedisConfig is optional; an empty URL disables the cache.
type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

// NATSConfig is optional; an empty URL disables messaging.
type NATSConfig struct {
	URL string `env:"NATS_URL"`
}

type WorkerConfig struct {
	Count         int    `env:"WORKER_COUNT" env-default:"2"`
	Schedule      string `env:"WORKER_SCHEDULE" env-default:"@every 1m"`
	MaxJobs       int    `env:"WORKER_MAX_JOBS" env-default:"5"`
	MaxSeconds    int    `env:"WORKER_MAX_SECONDS" env-default:"8"`
	ZombieMinutes int    `env:"WORKER_ZOMBIE_MINUTES" env-default:"5"`
	SeedBatch     int    `env:"WORKER_SEED_BATCH" env-default:"50"`
	RetrySeconds  int    `env:"WORKER_RETRY_SECONDS" env-default:"120"`
	MaxAttempts   int    `env:"WORKER_MAX_ATTEMPTS" env-default:"5"`
}

type FetchConfig struct {
	RatePerSecond float64 `env:"FETCH_RATE_PER_SECOND" env-default:"0"`
	UserAgent     string  `env:"FETCH_USER_AGENT" env-default:"OpenWishlist/worker"`
}

type UploadsConfig struct {
	PublicPrefix       string        `env:"UPLOADS_PUBLIC_PREFIX" env-default:"uploads"`
	CompletedRetention time.Duration `env:"COMPLETED_RETENTION" env-default:"168h"`
}

// Load reads an optional .env file, then the environment, and returns a validated Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://, got %q", c.Database.URL)
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.Worker.Count)
	}
	if c.Worker.MaxJobs < 1 {
		return fmt.Errorf("WORKER_MAX_JOBS must be at least 1, got %d", c.Worker.MaxJobs)
	}
	if c.Worker.MaxSeconds < 1 {
		return fmt.Errorf("WORKER_MAX_SECONDS must be at least 1, got %d", c.Worker.MaxSeconds)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be at least 1, got %d", c.Worker.MaxAttempts)
	}
	if c.Worker.Schedule == "" {
		return fmt.Errorf("WORKER_SCHEDULE is required")
	}
	if c.Fetch.RatePerSecond < 0 {
		return fmt.Errorf("FETCH_RATE_PER_SECOND must not be negative, got %v", c.Fetch.RatePerSecond)
	}
	return nil
}

// MaxDuration is the wall clock budget of one batch.
func (w WorkerConfig) MaxDuration() time.Duration {
	return time.Duration(w.MaxSeconds) * time.Second
}

func (w WorkerConfig) ZombieAfter() time.Duration {
	return time.Duration(w.ZombieMinutes) * time.Minute
}

func (w WorkerConfig) RetryDelay() time.Duration {
	return time.Duration(w.RetrySeconds) * time.Second
}

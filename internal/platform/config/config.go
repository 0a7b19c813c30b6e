// Package config loads and validates process configuration from the
// environment, with optional .env support for local development.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	HeartbeatInterval  time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	MaxConnections     int           `env:"MAX_CONNECTIONS" default:"10000"`
	RecentUpdatesLimit int           `env:"RECENT_UPDATES_LIMIT" default:"10"`

	APIRatePerSecond float64 `env:"API_RATE_PER_SECOND" default:"20"`
	APIBurst         int     `env:"API_BURST" default:"40"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	// REDIS_URL is optional: without it the relay is disabled and fan-out is
	// local to this instance.

	if cfg.HeartbeatInterval < time.Second {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be at least 1s, got %s", cfg.HeartbeatInterval)
	}
	if cfg.RecentUpdatesLimit <= 0 {
		return fmt.Errorf("RECENT_UPDATES_LIMIT must be positive, got %d", cfg.RecentUpdatesLimit)
	}
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS must be positive, got %d", cfg.MaxConnections)
	}
	return nil
}

// Package config loads broker settings from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds the broker's process-level settings.
type Config struct {
	DefaultContext string `env:"BROKER_DEFAULT_CONTEXT" envDefault:"native"`
	DefaultQueue   string `env:"BROKER_DEFAULT_QUEUE" envDefault:"default"`
	MetadataFile   string `env:"BROKER_METADATA_FILE"`

	SQLitePath string `env:"BROKER_SQLITE_PATH"`
	NATSURL    string `env:"BROKER_NATS_URL"`
	AMQPURL    string `env:"BROKER_AMQP_URL"`
	// AMQPQueues are declared and bound on the jobs exchange at connect.
	AMQPQueues []string `env:"BROKER_AMQP_QUEUES" envSeparator:","`

	LogLevel         string `env:"BROKER_LOG_LEVEL" envDefault:"info"`
	TracePropagation bool   `env:"BROKER_TRACE_PROPAGATION" envDefault:"true"`
}

// Load parses Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	return nil
}

// Level maps LogLevel to a slog level, defaulting to info.
func (c Config) Level() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger returns a JSON logger writing to w at the configured level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.Level()}))
}

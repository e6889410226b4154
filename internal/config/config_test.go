package config

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.DefaultContext != "native" {
		t.Fatalf("expected default context native, got %q", cfg.DefaultContext)
	}

	if cfg.DefaultQueue != "default" {
		t.Fatalf("expected default queue, got %q", cfg.DefaultQueue)
	}

	if cfg.Level() != slog.LevelInfo {
		t.Fatalf("expected info level, got %v", cfg.Level())
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BROKER_DEFAULT_CONTEXT", "cli")
	t.Setenv("BROKER_SQLITE_PATH", "/tmp/jobs.db")
	t.Setenv("BROKER_LOG_LEVEL", "DEBUG")
	t.Setenv("BROKER_AMQP_QUEUES", "mail,reports")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.DefaultContext != "cli" || cfg.SQLitePath != "/tmp/jobs.db" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	if len(cfg.AMQPQueues) != 2 || cfg.AMQPQueues[1] != "reports" {
		t.Fatalf("unexpected amqp queues: %v", cfg.AMQPQueues)
	}

	var buf bytes.Buffer

	cfg.Logger(&buf).Debug("hello")

	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("expected debug line, got %q", buf.String())
	}
}

type badConfig struct {
	Port int `env:"BROKER_TEST_PORT"`
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("BROKER_TEST_PORT", "not-an-int")

	err := ParseEnv(&badConfig{})
	if err == nil {
		t.Fatal("expected error")
	}

	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

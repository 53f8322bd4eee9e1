package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"HANDOFF_HTTP_ADDR", "HANDOFF_LOG_LEVEL", "HANDOFF_DATABASE_URL",
		"HANDOFF_AGENTS_FILE", "HANDOFF_BOT_ENABLED", "HANDOFF_READINESS_REQUIRE_DB",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
	if !cfg.BotEnabled {
		t.Fatalf("BotEnabled default should be true")
	}
	if cfg.ReadinessRequireDB {
		t.Fatalf("ReadinessRequireDB default should be false")
	}
	if cfg.ReadHeaderTimeout != 5*time.Second {
		t.Fatalf("ReadHeaderTimeout = %v", cfg.ReadHeaderTimeout)
	}
	if cfg.DBMaxConns != 10 {
		t.Fatalf("DBMaxConns = %d", cfg.DBMaxConns)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("HANDOFF_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("HANDOFF_LOG_LEVEL", "debug")
	t.Setenv("HANDOFF_BOT_ENABLED", "false")
	t.Setenv("HANDOFF_AGENTS_FILE", "/etc/handoff/agents.yaml")
	t.Setenv("HANDOFF_HTTP_IDLE_TIMEOUT", "90s")
	t.Setenv("HANDOFF_DB_MAX_CONNS", "25")

	cfg := LoadConfig()

	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.BotEnabled {
		t.Fatalf("BotEnabled should be off")
	}
	if cfg.AgentsFile != "/etc/handoff/agents.yaml" {
		t.Fatalf("AgentsFile = %q", cfg.AgentsFile)
	}
	if cfg.IdleTimeout != 90*time.Second {
		t.Fatalf("IdleTimeout = %v", cfg.IdleTimeout)
	}
	if cfg.DBMaxConns != 25 {
		t.Fatalf("DBMaxConns = %d", cfg.DBMaxConns)
	}
}

func TestLoadConfigIgnoresGarbage(t *testing.T) {
	t.Setenv("HANDOFF_BOT_ENABLED", "definitely")
	t.Setenv("HANDOFF_HTTP_IDLE_TIMEOUT", "soon")
	t.Setenv("HANDOFF_DB_MAX_CONNS", "-3")

	cfg := LoadConfig()

	if !cfg.BotEnabled {
		t.Fatalf("garbage bool should fall back to default true")
	}
	if cfg.IdleTimeout != 60*time.Second {
		t.Fatalf("garbage duration should fall back: %v", cfg.IdleTimeout)
	}
	if cfg.DBMaxConns != 10 {
		t.Fatalf("negative int should fall back: %d", cfg.DBMaxConns)
	}
}

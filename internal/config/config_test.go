package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DB_DSN", "DB_DRIVER", "AI_PROVIDER", "REDIS_ADDR", "STREAM_TIMEOUT", "CHAT_CONTEXT_WINDOW_SIZE", "CORS_ORIGINS"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.DBDriver != "mysql" {
		t.Errorf("DBDriver: got %q, want mysql", cfg.DBDriver)
	}
	if cfg.PersistenceEnabled() {
		t.Errorf("expected persistence disabled without DB_DSN")
	}
	if cfg.AIProvider != "groq" {
		t.Errorf("AIProvider: got %q, want groq", cfg.AIProvider)
	}
	if cfg.StreamTimeout != 5*time.Minute {
		t.Errorf("StreamTimeout: got %s", cfg.StreamTimeout)
	}
	if cfg.ChatContextWindowSize != 40 {
		t.Errorf("ChatContextWindowSize: got %d", cfg.ChatContextWindowSize)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("CORSOrigins: got %v", cfg.CORSOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DB_DSN", "host=localhost")
	t.Setenv("STREAM_IDLE_TIMEOUT", "5s")
	t.Setenv("AI_TEMPERATURE", "0.2")
	t.Setenv("CORS_ORIGINS", "https://toidukodu.com, https://www.toidukodu.com")

	cfg := Load()
	if cfg.DBDriver != "postgres" {
		t.Errorf("DBDriver: got %q", cfg.DBDriver)
	}
	if !cfg.PersistenceEnabled() {
		t.Errorf("expected persistence enabled")
	}
	if cfg.StreamIdleTimeout != 5*time.Second {
		t.Errorf("StreamIdleTimeout: got %s", cfg.StreamIdleTimeout)
	}
	if cfg.AITemperature < 0.19 || cfg.AITemperature > 0.21 {
		t.Errorf("AITemperature: got %v", cfg.AITemperature)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://www.toidukodu.com" {
		t.Errorf("CORSOrigins: got %v", cfg.CORSOrigins)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("REDIS_DB", "nope")
	t.Setenv("STREAM_TIMEOUT", "-1s")

	cfg := Load()
	if cfg.RedisDB != 0 {
		t.Errorf("RedisDB: got %d, want 0", cfg.RedisDB)
	}
	if cfg.StreamTimeout != 5*time.Minute {
		t.Errorf("StreamTimeout: got %s, want default", cfg.StreamTimeout)
	}
}

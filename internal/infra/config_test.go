package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PORT", "")
	t.Setenv("SCHEDULER_TICK_SECONDS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want %q", cfg.Port, "8080")
	}
	if cfg.TickInterval != 3*time.Second {
		t.Fatalf("TickInterval = %v, want %v", cfg.TickInterval, 3*time.Second)
	}
	if cfg.MaxSubmitAttempts != 3 {
		t.Fatalf("MaxSubmitAttempts = %d, want 3", cfg.MaxSubmitAttempts)
	}
	if cfg.CooldownBase != 30*time.Second {
		t.Fatalf("CooldownBase = %v, want %v", cfg.CooldownBase, 30*time.Second)
	}
	if cfg.CooldownMax != 30*time.Minute {
		t.Fatalf("CooldownMax = %v, want %v", cfg.CooldownMax, 30*time.Minute)
	}
	if cfg.TaskTimeout != 30*time.Minute {
		t.Fatalf("TaskTimeout = %v, want %v", cfg.TaskTimeout, 30*time.Minute)
	}
}

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig succeeded without DATABASE_URL")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PORT", "1919")
	t.Setenv("SCHEDULER_TICK_SECONDS", "10")
	t.Setenv("TASK_TIMEOUT_MINUTES", "5")
	t.Setenv("POLL_CONCURRENCY", "8")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "1919" {
		t.Fatalf("Port = %q, want %q", cfg.Port, "1919")
	}
	if cfg.TickInterval != 10*time.Second {
		t.Fatalf("TickInterval = %v, want %v", cfg.TickInterval, 10*time.Second)
	}
	if cfg.TaskTimeout != 5*time.Minute {
		t.Fatalf("TaskTimeout = %v, want %v", cfg.TaskTimeout, 5*time.Minute)
	}
	if cfg.PollConcurrency != 8 {
		t.Fatalf("PollConcurrency = %d, want 8", cfg.PollConcurrency)
	}
}

func TestLoadConfigIgnoresMalformedInt(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("MAX_SUBMIT_ATTEMPTS", "not-a-number")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MaxSubmitAttempts != 3 {
		t.Fatalf("MaxSubmitAttempts = %d, want fallback 3", cfg.MaxSubmitAttempts)
	}
}

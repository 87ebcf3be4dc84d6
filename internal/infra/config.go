package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv          string
	Port            string
	DatabaseURL     string
	StoragePath     string
	ProviderBaseURL string

	TickInterval        time.Duration
	AccountSyncInterval time.Duration
	MaxSubmitAttempts   int
	TaskTimeout         time.Duration
	PollConcurrency     int
	CooldownBase        time.Duration
	CooldownMax         time.Duration

	WebhookMaxAttempts int
	WebhookRetryBase   time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:          getEnv("APP_ENV", "development"),
		Port:            getEnv("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StoragePath:     getEnv("STORAGE_PATH", "./storage"),
		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://fnf.higgsfield.ai"),

		TickInterval:        time.Second * time.Duration(getEnvInt("SCHEDULER_TICK_SECONDS", 3)),
		AccountSyncInterval: time.Second * time.Duration(getEnvInt("ACCOUNT_SYNC_SECONDS", 60)),
		MaxSubmitAttempts:   getEnvInt("MAX_SUBMIT_ATTEMPTS", 3),
		TaskTimeout:         time.Minute * time.Duration(getEnvInt("TASK_TIMEOUT_MINUTES", 30)),
		PollConcurrency:     getEnvInt("POLL_CONCURRENCY", 4),
		CooldownBase:        time.Second * time.Duration(getEnvInt("ACCOUNT_COOLDOWN_BASE_SECONDS", 30)),
		CooldownMax:         time.Minute * time.Duration(getEnvInt("ACCOUNT_COOLDOWN_MAX_MINUTES", 30)),

		WebhookMaxAttempts: getEnvInt("WEBHOOK_MAX_ATTEMPTS", 10),
		WebhookRetryBase:   time.Second * time.Duration(getEnvInt("WEBHOOK_RETRY_BASE_SECONDS", 60)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

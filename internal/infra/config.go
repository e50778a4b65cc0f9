package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	Port           string
	DatabaseURL    string
	JWTSecret      string
	StorageBaseURL string
	StoragePath    string

	Engines       []string
	RunwayAPIKey  string
	RunwayBaseURL string
	RunwayModel   string
	MockDuration  time.Duration

	PollInterval    time.Duration
	PollBudget      time.Duration
	MaxActiveJobs   int
	IdempotencyTTL  time.Duration
	CleanupInterval time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		StoragePath:    getEnv("STORAGE_PATH", "./data/storage"),

		Engines:       splitList(getEnv("VIDEO_ENGINES", "mock")),
		RunwayAPIKey:  os.Getenv("RUNWAY_API_KEY"),
		RunwayBaseURL: getEnv("RUNWAY_BASE_URL", "https://api.dev.runwayml.com/v1"),
		RunwayModel:   getEnv("RUNWAY_MODEL", "gen4_turbo"),
		MockDuration:  time.Second * time.Duration(getEnvInt("MOCK_ENGINE_DURATION_SECONDS", 15)),

		PollInterval:    time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 5)),
		PollBudget:      time.Second * time.Duration(getEnvInt("POLL_BUDGET_SECONDS", 300)),
		MaxActiveJobs:   getEnvInt("MAX_ACTIVE_JOBS_PER_USER", 5),
		IdempotencyTTL:  time.Hour * time.Duration(getEnvInt("IDEMPOTENCY_TTL_HOURS", 24)),
		CleanupInterval: time.Minute * time.Duration(getEnvInt("IDEMPOTENCY_CLEANUP_MINUTES", 60)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		ShutdownTimeout:  time.Second * time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 30)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	for _, name := range cfg.Engines {
		if name == "runway" && cfg.RunwayAPIKey == "" {
			return nil, fmt.Errorf("RUNWAY_API_KEY is required when the runway engine is enabled")
		}
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

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

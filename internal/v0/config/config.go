package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration.
type Config struct {
	Port string

	// Join rate-limit tunables
	MaxUsers    int
	PerNSeconds time.Duration
	BanFor      time.Duration

	// Optional variables with defaults
	EnableInspect   bool
	LogLevel        string
	DevelopmentMode bool

	// Connect-rate limits (ulule formatted, e.g. "100-M")
	RateLimitHTTP string
	RateLimitWsIP string

	// Tracing is disabled when empty
	OtelCollectorAddr string
}

// ValidateEnv reads and validates the environment, collecting every problem
// before refusing startup.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// PORT defaults to 8000
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8000"
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	var err error
	if cfg.MaxUsers, err = intEnvOrDefault("MAX_USERS", 8); err != nil {
		errors = append(errors, err.Error())
	}

	perN, err := intEnvOrDefault("PER_N_SECONDS", 10)
	if err != nil {
		errors = append(errors, err.Error())
	}
	cfg.PerNSeconds = time.Duration(perN) * time.Second

	banFor, err := intEnvOrDefault("BAN_FOR", 60)
	if err != nil {
		errors = append(errors, err.Error())
	}
	cfg.BanFor = time.Duration(banFor) * time.Second

	cfg.EnableInspect = os.Getenv("ENABLE_INSPECT") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"

	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.RateLimitHTTP = getEnvOrDefault("RATE_LIMIT_HTTP", "100-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return cfg, nil
}

func intEnvOrDefault(key string, defaultValue int) (int, error) {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer (got '%s')", key, raw)
	}
	return n, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

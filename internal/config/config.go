// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database (optional, in-memory audit store if not set)
	DatabaseURL string

	// Decision thresholds
	AllowMax float64 // score below this allows
	BlockMin float64 // score at or above this blocks

	// Scorer settings
	ScorerURL        string // model-serving endpoint; heuristic baseline if empty
	ScorerTimeoutSec int

	// Rate limiting
	RateLimitRPM int

	// Observability
	OTLPEndpoint string
}

// Defaults.
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultAllowMax      = 0.4
	DefaultBlockMin      = 0.7
	DefaultScorerTimeout = 2
	DefaultRateLimit     = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		AllowMax:         getEnvFloat("ALLOW_MAX", DefaultAllowMax),
		BlockMin:         getEnvFloat("BLOCK_MIN", DefaultBlockMin),
		ScorerURL:        os.Getenv("SCORER_URL"),
		ScorerTimeoutSec: getEnvInt("SCORER_TIMEOUT_SEC", DefaultScorerTimeout),
		RateLimitRPM:     getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable. Threshold mistakes
// are rejected here, at startup, not on the first request.
func (c *Config) Validate() error {
	if c.AllowMax < 0 || c.AllowMax > 1 {
		return fmt.Errorf("ALLOW_MAX must be in [0,1], got %v", c.AllowMax)
	}
	if c.BlockMin < 0 || c.BlockMin > 1 {
		return fmt.Errorf("BLOCK_MIN must be in [0,1], got %v", c.BlockMin)
	}
	if c.AllowMax > c.BlockMin {
		return fmt.Errorf("ALLOW_MAX (%v) must not exceed BLOCK_MIN (%v)", c.AllowMax, c.BlockMin)
	}
	if c.ScorerTimeoutSec <= 0 {
		return fmt.Errorf("SCORER_TIMEOUT_SEC must be positive, got %d", c.ScorerTimeoutSec)
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive, got %d", c.RateLimitRPM)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

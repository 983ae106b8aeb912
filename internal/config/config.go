// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbd888/defiintel/internal/logging"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Model
	ModelPath          string
	ModelTrees         int
	ModelMaxDepth      int
	ModelContamination float64
	ModelTestFraction  float64
	ModelSeed          int64
	ModelFallback      bool // heuristic fallback when no model can answer

	// Extraction
	ExtractTimezone string // IANA zone for hour-of-day and calendar-day bucketing
	MaxRecords      int    // per-request cap on transactions/transfers

	// Alerts
	AlertMinScore       int  // overall score at which a risk_alert is broadcast
	WebhookAllowPrivate bool // allow loopback and private webhook targets (dev only)

	// Authentication
	AuthRequired bool   // every /v1 route needs an API key
	AdminAPIKey  string // operator key that issues and revokes API keys

	// HTTP edge
	RateLimitRPM   int      // sustained requests per minute per client
	RateLimitBurst int      // bucket size
	CORSOrigins    []string // "*" allows any origin

	// Tracing
	OTLPEndpoint     string  // empty disables tracing
	TraceSampleRatio float64 // fraction of root traces exported

	// MCP bridge
	APIURL string // base URL of the HTTP API, used by cmd/mcp
	APIKey string
}

const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultModelPath          = "models/fraud_detector.json"
	DefaultModelTrees         = 100
	DefaultModelMaxDepth      = 10
	DefaultModelContamination = 0.1
	DefaultModelTestFraction  = 0.2
	DefaultModelSeed          = 42
	DefaultExtractTimezone    = "UTC"
	DefaultMaxRecords         = 10000
	DefaultAlertMinScore      = 40
	DefaultAPIURL             = "http://localhost:8080"
	DefaultRateLimitRPM       = 120
	DefaultRateLimitBurst     = 20
	DefaultCORSOrigins        = "*"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ModelPath:           getEnv("MODEL_PATH", DefaultModelPath),
		ModelTrees:          int(getEnvInt64("MODEL_TREES", DefaultModelTrees)),
		ModelMaxDepth:       int(getEnvInt64("MODEL_MAX_DEPTH", DefaultModelMaxDepth)),
		ModelContamination:  getEnvFloat("MODEL_CONTAMINATION", DefaultModelContamination),
		ModelTestFraction:   getEnvFloat("MODEL_TEST_FRACTION", DefaultModelTestFraction),
		ModelSeed:           getEnvInt64("MODEL_SEED", DefaultModelSeed),
		ModelFallback:       getEnvBool("MODEL_FALLBACK", true),
		ExtractTimezone:     getEnv("EXTRACT_TIMEZONE", DefaultExtractTimezone),
		MaxRecords:          int(getEnvInt64("MAX_RECORDS", DefaultMaxRecords)),
		AlertMinScore:       int(getEnvInt64("ALERT_MIN_SCORE", DefaultAlertMinScore)),
		WebhookAllowPrivate: getEnvBool("WEBHOOK_ALLOW_PRIVATE", false),
		AuthRequired:        getEnvBool("AUTH_REQUIRED", false),
		AdminAPIKey:         os.Getenv("ADMIN_API_KEY"),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst:      int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		CORSOrigins:         splitList(getEnv("CORS_ORIGINS", DefaultCORSOrigins)),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:    getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		APIURL:              getEnv("DEFI_API_URL", DefaultAPIURL),
		APIKey:              os.Getenv("DEFI_API_KEY"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configured values are in range
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.ModelTrees <= 0 {
		return fmt.Errorf("MODEL_TREES must be positive, got %d", c.ModelTrees)
	}
	if c.ModelMaxDepth <= 0 {
		return fmt.Errorf("MODEL_MAX_DEPTH must be positive, got %d", c.ModelMaxDepth)
	}
	if c.ModelContamination <= 0 || c.ModelContamination > 0.5 {
		return fmt.Errorf("MODEL_CONTAMINATION must be in (0, 0.5], got %v", c.ModelContamination)
	}
	if c.ModelTestFraction < 0 || c.ModelTestFraction >= 1 {
		return fmt.Errorf("MODEL_TEST_FRACTION must be in [0, 1), got %v", c.ModelTestFraction)
	}
	if c.AlertMinScore < 0 || c.AlertMinScore > 100 {
		return fmt.Errorf("ALERT_MIN_SCORE must be in [0, 100], got %d", c.AlertMinScore)
	}
	if c.MaxRecords <= 0 {
		return fmt.Errorf("MAX_RECORDS must be positive, got %d", c.MaxRecords)
	}
	if c.RateLimitRPM < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM and RATE_LIMIT_BURST must not be negative")
	}
	if c.WebhookAllowPrivate && c.IsProduction() {
		return fmt.Errorf("WEBHOOK_ALLOW_PRIVATE must be off in production")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be in [0, 1], got %v", c.TraceSampleRatio)
	}
	if c.AuthRequired && c.AdminAPIKey == "" {
		return fmt.Errorf("AUTH_REQUIRED needs ADMIN_API_KEY to issue keys")
	}
	if c.AdminAPIKey != "" && len(c.AdminAPIKey) < 32 {
		return fmt.Errorf("ADMIN_API_KEY must be at least 32 characters")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if !logging.ValidFormat(c.LogFormat) {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if _, err := time.LoadLocation(c.ExtractTimezone); err != nil {
		return fmt.Errorf("EXTRACT_TIMEZONE %q: %w", c.ExtractTimezone, err)
	}
	return nil
}

// Location resolves ExtractTimezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ExtractTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

package config

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if !had {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func validConfig() Config {
	return Config{
		Port:               DefaultPort,
		ModelTrees:         DefaultModelTrees,
		ModelMaxDepth:      DefaultModelMaxDepth,
		ModelContamination: DefaultModelContamination,
		ModelTestFraction:  DefaultModelTestFraction,
		ExtractTimezone:    DefaultExtractTimezone,
		MaxRecords:         DefaultMaxRecords,
		AlertMinScore:      DefaultAlertMinScore,
		RateLimitRPM:       DefaultRateLimitRPM,
		RateLimitBurst:     DefaultRateLimitBurst,
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "MODEL_PATH", "")
	setEnv(t, "MODEL_FALLBACK", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultModelPath, cfg.ModelPath)
	assert.Equal(t, DefaultModelContamination, cfg.ModelContamination)
	assert.Equal(t, DefaultModelTestFraction, cfg.ModelTestFraction)
	assert.Equal(t, int64(DefaultModelSeed), cfg.ModelSeed)
	assert.True(t, cfg.ModelFallback)
	assert.Equal(t, DefaultAlertMinScore, cfg.AlertMinScore)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "MODEL_CONTAMINATION", "0.05")
	setEnv(t, "MODEL_FALLBACK", "false")
	setEnv(t, "EXTRACT_TIMEZONE", "America/New_York")
	setEnv(t, "ALERT_MIN_SCORE", "70")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.05, cfg.ModelContamination)
	assert.False(t, cfg.ModelFallback)
	assert.Equal(t, "America/New_York", cfg.Location().String())
	assert.Equal(t, 70, cfg.AlertMinScore)
}

func TestLoad_InvalidTimezone(t *testing.T) {
	setEnv(t, "EXTRACT_TIMEZONE", "Mars/Olympus_Mons")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "EXTRACT_TIMEZONE")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing port", mutate: func(c *Config) { c.Port = "" }, wantErr: "PORT is required"},
		{name: "zero trees", mutate: func(c *Config) { c.ModelTrees = 0 }, wantErr: "MODEL_TREES"},
		{name: "contamination too high", mutate: func(c *Config) { c.ModelContamination = 0.6 }, wantErr: "MODEL_CONTAMINATION"},
		{name: "test fraction of one", mutate: func(c *Config) { c.ModelTestFraction = 1 }, wantErr: "MODEL_TEST_FRACTION"},
		{name: "alert score out of range", mutate: func(c *Config) { c.AlertMinScore = 101 }, wantErr: "ALERT_MIN_SCORE"},
		{name: "no record cap", mutate: func(c *Config) { c.MaxRecords = 0 }, wantErr: "MAX_RECORDS"},
		{name: "negative rate limit", mutate: func(c *Config) { c.RateLimitRPM = -1 }, wantErr: "RATE_LIMIT_RPM"},
		{name: "rate limit disabled", mutate: func(c *Config) { c.RateLimitRPM = 0 }},
		{name: "private webhooks in production", mutate: func(c *Config) { c.Env = "production"; c.WebhookAllowPrivate = true }, wantErr: "WEBHOOK_ALLOW_PRIVATE"},
		{name: "private webhooks in development", mutate: func(c *Config) { c.WebhookAllowPrivate = true }},
		{name: "sample ratio above one", mutate: func(c *Config) { c.TraceSampleRatio = 1.5 }, wantErr: "OTEL_TRACES_SAMPLER_ARG"},
		{name: "auth without admin key", mutate: func(c *Config) { c.AuthRequired = true }, wantErr: "ADMIN_API_KEY"},
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "trace" }, wantErr: "LOG_LEVEL"},
		{name: "unknown log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "LOG_FORMAT"},
		{name: "short admin key", mutate: func(c *Config) { c.AdminAPIKey = "short" }, wantErr: "32 characters"},
		{name: "auth with admin key", mutate: func(c *Config) {
			c.AuthRequired = true
			c.AdminAPIKey = strings.Repeat("k", 32)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestConfig_LocationFallsBackToUTC(t *testing.T) {
	cfg := &Config{ExtractTimezone: "nowhere"}
	assert.Equal(t, "UTC", cfg.Location().String())
}

func TestGetEnvHelpers(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_FLOAT", "0.25")
	setEnv(t, "TEST_BOOL", "true")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
	assert.Equal(t, 0.25, getEnvFloat("TEST_FLOAT", 0))
	assert.Equal(t, 1.5, getEnvFloat("TEST_INVALID", 1.5))
	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, splitList(" https://a.example, ,https://b.example "))
	assert.False(t, getEnvBool("TEST_INVALID", false))
}

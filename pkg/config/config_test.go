package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/nondominium/pkg/config"
)

var envKeys = []string{
	"LOG_LEVEL", "LOG_FORMAT", "DATABASE_DRIVER", "DATABASE_URL", "REDIS_ADDR",
	"GRANT_DEFAULT_DURATION", "GRANT_MAX_DURATION", "COMPLETION_THRESHOLD",
	"REDEEM_RATE_PER_MINUTE", "REDEEM_BURST", "GOVERNANCE_RULES_FILE", "TELEMETRY_ENABLED",
}

func clearEnv(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "file:nondominium.db", cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 168*time.Hour, cfg.GrantDefaultDuration)
	assert.Equal(t, 720*time.Hour, cfg.GrantMaxDuration)
	assert.Equal(t, 1.0, cfg.CompletionThreshold)
	assert.Equal(t, 30.0, cfg.RedeemRatePerMinute)
	assert.Equal(t, 5, cfg.RedeemBurst)
	assert.True(t, cfg.TelemetryEnabled)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://production:5432/db")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("GRANT_MAX_DURATION", "240h")
	t.Setenv("GRANT_DEFAULT_DURATION", "24h")
	t.Setenv("COMPLETION_THRESHOLD", "0.8")
	t.Setenv("TELEMETRY_ENABLED", "false")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "postgres://production:5432/db", cfg.DatabaseURL)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 240*time.Hour, cfg.GrantMaxDuration)
	assert.Equal(t, 24*time.Hour, cfg.GrantDefaultDuration)
	assert.Equal(t, 0.8, cfg.CompletionThreshold)
	assert.False(t, cfg.TelemetryEnabled)
}

func TestLoad_Rejects(t *testing.T) {
	tests := map[string]string{
		"GRANT_MAX_DURATION":     "721h",
		"COMPLETION_THRESHOLD":   "1.5",
		"DATABASE_DRIVER":        "mysql",
		"GRANT_DEFAULT_DURATION": "not-a-duration",
		"REDEEM_BURST":           "0",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nondominium.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: WARN
  format: text
database:
  url: "file::memory:?cache=shared"
grants:
  default_duration: 48h
  max_duration: 96h
reputation:
  completion_threshold: 0.9
redeem:
  burst: 3
governance:
  rules_file: rules.json
`), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "WARN", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "file::memory:?cache=shared", cfg.DatabaseURL)
	assert.Equal(t, 48*time.Hour, cfg.GrantDefaultDuration)
	assert.Equal(t, 96*time.Hour, cfg.GrantMaxDuration)
	assert.Equal(t, 0.9, cfg.CompletionThreshold)
	assert.Equal(t, 3, cfg.RedeemBurst)
	assert.Equal(t, 30.0, cfg.RedeemRatePerMinute)
	assert.Equal(t, "rules.json", cfg.RulesFile)

	t.Setenv("LOG_LEVEL", "ERROR")
	cfg, err = config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.LogLevel, "environment overrides file")
}

func TestLoadFile_Errors(t *testing.T) {
	clearEnv(t)
	_, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grants:\n  max_duration: forever\n"), 0o600))
	_, err = config.LoadFile(path)
	assert.Error(t, err)
}

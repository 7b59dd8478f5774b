// Package config loads runtime settings from the environment and from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// HardMaxGrantDuration is the grant lifetime no configuration can exceed.
const HardMaxGrantDuration = 30 * 24 * time.Hour

// Config holds runtime configuration.
type Config struct {
	LogLevel  string
	LogFormat string

	DatabaseDriver string
	DatabaseURL    string
	RedisAddr      string

	GrantDefaultDuration time.Duration
	GrantMaxDuration     time.Duration
	CompletionThreshold  float64
	RedeemRatePerMinute  float64
	RedeemBurst          int

	// RulesFile optionally names a JSON governance rule set.
	RulesFile        string
	TelemetryEnabled bool
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LogLevel:             "INFO",
		LogFormat:            "json",
		DatabaseDriver:       "sqlite",
		DatabaseURL:          "file:nondominium.db",
		GrantDefaultDuration: 7 * 24 * time.Hour,
		GrantMaxDuration:     HardMaxGrantDuration,
		CompletionThreshold:  1.0,
		RedeemRatePerMinute:  30,
		RedeemBurst:          5,
		TelemetryEnabled:     true,
	}
}

// Load loads configuration from environment variables over the defaults.
func Load() (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("DATABASE_DRIVER", &c.DatabaseDriver)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_ADDR", &c.RedisAddr)
	str("GOVERNANCE_RULES_FILE", &c.RulesFile)

	if err := envDuration("GRANT_DEFAULT_DURATION", &c.GrantDefaultDuration); err != nil {
		return err
	}
	if err := envDuration("GRANT_MAX_DURATION", &c.GrantMaxDuration); err != nil {
		return err
	}
	if v := os.Getenv("COMPLETION_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: COMPLETION_THRESHOLD: %w", err)
		}
		c.CompletionThreshold = f
	}
	if v := os.Getenv("REDEEM_RATE_PER_MINUTE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: REDEEM_RATE_PER_MINUTE: %w", err)
		}
		c.RedeemRatePerMinute = f
	}
	if v := os.Getenv("REDEEM_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: REDEEM_BURST: %w", err)
		}
		c.RedeemBurst = n
	}
	if v := os.Getenv("TELEMETRY_ENABLED"); v != "" {
		c.TelemetryEnabled = v == "true"
	}
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}

// Validate rejects settings outside their allowed ranges.
func (c *Config) Validate() error {
	var problems []string
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("log format %q", c.LogFormat))
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("database driver %q", c.DatabaseDriver))
	}
	if c.GrantMaxDuration <= 0 || c.GrantMaxDuration > HardMaxGrantDuration {
		problems = append(problems, fmt.Sprintf("grant max duration %s must be in (0, %s]", c.GrantMaxDuration, HardMaxGrantDuration))
	}
	if c.GrantDefaultDuration <= 0 || c.GrantDefaultDuration > c.GrantMaxDuration {
		problems = append(problems, fmt.Sprintf("grant default duration %s must be in (0, %s]", c.GrantDefaultDuration, c.GrantMaxDuration))
	}
	if !(c.CompletionThreshold >= 0 && c.CompletionThreshold <= 1) {
		problems = append(problems, fmt.Sprintf("completion threshold %v outside [0,1]", c.CompletionThreshold))
	}
	if c.RedeemRatePerMinute <= 0 || c.RedeemBurst <= 0 {
		problems = append(problems, "redeem rate and burst must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: invalid %s", strings.Join(problems, "; "))
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML form. Durations are Go duration strings.
type fileConfig struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`
	Grants struct {
		DefaultDuration string `yaml:"default_duration"`
		MaxDuration     string `yaml:"max_duration"`
	} `yaml:"grants"`
	Reputation struct {
		CompletionThreshold *float64 `yaml:"completion_threshold"`
	} `yaml:"reputation"`
	Redeem struct {
		RatePerMinute *float64 `yaml:"rate_per_minute"`
		Burst         *int     `yaml:"burst"`
	} `yaml:"redeem"`
	Governance struct {
		RulesFile string `yaml:"rules_file"`
	} `yaml:"governance"`
	Telemetry struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"telemetry"`
}

// LoadFile reads YAML settings from path over the defaults, then applies
// environment variables on top.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML settings over the defaults without consulting the
// environment or validating.
func Parse(data []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	cfg := Default()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.LogLevel, fc.Log.Level)
	set(&cfg.LogFormat, fc.Log.Format)
	set(&cfg.DatabaseDriver, fc.Database.Driver)
	set(&cfg.DatabaseURL, fc.Database.URL)
	set(&cfg.RedisAddr, fc.Redis.Addr)
	set(&cfg.RulesFile, fc.Governance.RulesFile)

	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{fc.Grants.DefaultDuration, &cfg.GrantDefaultDuration},
		{fc.Grants.MaxDuration, &cfg.GrantMaxDuration},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("grants duration %q: %w", d.raw, err)
		}
		*d.dst = v
	}
	if fc.Reputation.CompletionThreshold != nil {
		cfg.CompletionThreshold = *fc.Reputation.CompletionThreshold
	}
	if fc.Redeem.RatePerMinute != nil {
		cfg.RedeemRatePerMinute = *fc.Redeem.RatePerMinute
	}
	if fc.Redeem.Burst != nil {
		cfg.RedeemBurst = *fc.Redeem.Burst
	}
	if fc.Telemetry.Enabled != nil {
		cfg.TelemetryEnabled = *fc.Telemetry.Enabled
	}
	return cfg, nil
}

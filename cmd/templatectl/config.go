package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/templategov/internal/shell/tracing"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all templatectl configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    tracing.Config   `mapstructure:"tracing"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RegistryConfig controls the resource registries seeded from a manifest.
type RegistryConfig struct {
	// AllowDuplicates lets a later entry replace an earlier one with the same id.
	AllowDuplicates bool `mapstructure:"allow_duplicates"`

	// ValidateOnRegister runs entry validation before storing.
	ValidateOnRegister bool `mapstructure:"validate_on_register"`
}

// GovernanceConfig holds governance service configuration.
type GovernanceConfig struct {
	// DeprecationOnce reports each deprecated path once per process.
	DeprecationOnce bool `mapstructure:"deprecation_once"`

	// MigrationTimeout bounds a whole migration run. Zero disables the limit.
	MigrationTimeout time.Duration `mapstructure:"migration_timeout"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled dumps the metrics in text exposition format to stderr
	// after each command.
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("registry.allow_duplicates", false)
	v.SetDefault("registry.validate_on_register", true)
	v.SetDefault("governance.deprecation_once", true)
	v.SetDefault("governance.migration_timeout", "30s")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "templategov")

	defaults := tracing.DefaultConfig()
	v.SetDefault("tracing.enabled", defaults.Enabled)
	v.SetDefault("tracing.exporter", defaults.Exporter)
	v.SetDefault("tracing.sample_rate", defaults.SampleRate)
	v.SetDefault("tracing.service_name", defaults.ServiceName)

	// An unreadable config file is ignored so templatectl runs on defaults
	// and environment alone; only a file that exists but fails to parse is fatal.
	if configPath != "" {
		v.SetConfigFile(configPath)
		var parseErr viper.ConfigParseError
		if err := v.ReadInConfig(); errors.As(err, &parseErr) {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	v.SetEnvPrefix("TEMPLATEGOV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs go
// to w so stdout stays free for command output.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Log.Level)

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// parseLevel accepts slog level names ("debug", "warn+2", ...) plus "warning".
// Anything else is info.
func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

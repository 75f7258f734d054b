package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/marmos91/hdfive/pkg/engine"
)

// Config represents the complete hdfive configuration.
//
// This structure captures all configurable aspects of the tooling:
//   - Logging configuration
//   - Engine defaults (driver selection, format version bounds, file-space
//     strategy applied when creating containers)
//   - Metrics exposure
//   - Per-driver default options
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (HDFIVE_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Driver Configuration Pattern:
// Each driver defines its own option struct and decodes it from a
// map[string]any (mapstructure tags). The Drivers section holds one map
// per driver name; only the section matching the driver actually used by
// an open is consulted.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Engine contains the defaults applied to opens and creates
	Engine EngineConfig `mapstructure:"engine"`

	// Metrics controls the Prometheus metrics endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Drivers contains per-driver default options
	Drivers DriversConfig `mapstructure:"drivers"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// EngineConfig contains the engine-level defaults.
type EngineConfig struct {
	// Driver is the storage driver used when an open names none
	Driver string `mapstructure:"driver" validate:"required"`

	// Libver are the default format version bounds
	Libver LibverConfig `mapstructure:"libver"`

	// Strategy is the default file-space strategy for creates.
	// Uses the engine.FileSpaceStrategy type directly.
	Strategy engine.FileSpaceStrategy `mapstructure:"strategy"`

	// Userblock is the default userblock size for creates, in bytes.
	// Zero, or a power of two >= 512.
	Userblock uint64 `mapstructure:"userblock"`
}

// LibverConfig holds the format version bound tokens.
type LibverConfig struct {
	// Low is the lower bound ("earliest", "v1", "v2", "v3")
	Low string `mapstructure:"low"`

	// High is the upper bound ("v1", "v2", "v3", "latest")
	High string `mapstructure:"high"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled turns the metrics registry and HTTP endpoint on
	Enabled bool `mapstructure:"enabled"`

	// Port is the HTTP port serving /metrics
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// DriversConfig contains per-driver default options, keyed by section.
// Each map is decoded by the driver's own factory.
type DriversConfig struct {
	// Core holds options for the in-memory driver (backing_store, block_size)
	Core map[string]any `mapstructure:"core"`

	// Stdio holds options for the buffered driver (buffer_size)
	Stdio map[string]any `mapstructure:"stdio"`

	// Split holds options for the split driver (meta_ext, raw_ext)
	Split map[string]any `mapstructure:"split"`

	// Family holds options for the family driver (member_size)
	Family map[string]any `mapstructure:"family"`

	// Kv holds options for the BadgerDB driver (db_path, chunk_size, sync_writes)
	Kv map[string]any `mapstructure:"kv"`

	// Ros3 holds options for the read-only S3 driver (bucket, region,
	// endpoint, credentials)
	Ros3 map[string]any `mapstructure:"ros3"`
}

// Options returns the default option map for a driver name, nil when the
// driver has no configurable section.
func (d *DriversConfig) Options(name string) map[string]any {
	switch name {
	case "core":
		return d.Core
	case "stdio":
		return d.Stdio
	case "split":
		return d.Split
	case "family":
		return d.Family
	case "kv":
		return d.Kv
	case "ros3":
		return d.Ros3
	default:
		return nil
	}
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (HDFIVE_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the HDFIVE_ prefix and underscores.
	// Example: HDFIVE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("HDFIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/hdfive/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is acceptable; defaults apply. Viper
		// reports the searched default location with its own error type
		// and an explicitly named file with a plain fs error.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hdfive")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "hdfive")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

package config

import (
	"strings"

	"github.com/marmos91/hdfive/pkg/driver/core"
	"github.com/marmos91/hdfive/pkg/driver/kv"
	"github.com/marmos91/hdfive/pkg/driver/split"
	"github.com/marmos91/hdfive/pkg/engine"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Driver-specific defaults are handled by the driver factories
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyEngineDefaults(&cfg.Engine)
	applyMetricsDefaults(&cfg.Metrics)
	applyDriverDefaults(&cfg.Drivers)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyEngineDefaults sets engine defaults.
func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.Driver == "" {
		cfg.Driver = "sec2"
	}
	if cfg.Libver.Low == "" {
		cfg.Libver.Low = engine.LibverEarliest
	}
	if cfg.Libver.High == "" {
		cfg.Libver.High = engine.LibverLatest
	}
	if cfg.Strategy == (engine.FileSpaceStrategy{}) {
		cfg.Strategy = engine.DefaultStrategy()
	}
	// Userblock defaults to 0 (no caller-owned region)
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyDriverDefaults initializes the driver option maps and fills the
// values shown in generated config files.
func applyDriverDefaults(cfg *DriversConfig) {
	if cfg.Core == nil {
		cfg.Core = make(map[string]any)
	}
	if cfg.Stdio == nil {
		cfg.Stdio = make(map[string]any)
	}
	if cfg.Split == nil {
		cfg.Split = make(map[string]any)
	}
	if cfg.Family == nil {
		cfg.Family = make(map[string]any)
	}
	if cfg.Kv == nil {
		cfg.Kv = make(map[string]any)
	}
	if cfg.Ros3 == nil {
		cfg.Ros3 = make(map[string]any)
	}

	if _, ok := cfg.Core["block_size"]; !ok {
		cfg.Core["block_size"] = int64(core.DefaultBlockSize)
	}
	if _, ok := cfg.Split["meta_ext"]; !ok {
		cfg.Split["meta_ext"] = split.DefaultMetaExt
	}
	if _, ok := cfg.Split["raw_ext"]; !ok {
		cfg.Split["raw_ext"] = split.DefaultRawExt
	}
	if _, ok := cfg.Kv["chunk_size"]; !ok {
		cfg.Kv["chunk_size"] = int64(kv.DefaultChunkSize)
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

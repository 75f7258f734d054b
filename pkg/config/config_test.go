package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/hdfive/pkg/engine"
)

func TestLoad_DefaultConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Write minimal config
	configContent := `
logging:
  level: "INFO"

engine:
  driver: "sec2"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// Load config
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults were applied
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Engine.Libver.Low != engine.LibverEarliest {
		t.Errorf("Expected default libver low 'earliest', got %q", cfg.Engine.Libver.Low)
	}
	if cfg.Engine.Libver.High != engine.LibverLatest {
		t.Errorf("Expected default libver high 'latest', got %q", cfg.Engine.Libver.High)
	}
	if cfg.Engine.Strategy.Strategy != engine.StrategyFSM {
		t.Errorf("Expected default strategy 'fsm', got %q", cfg.Engine.Strategy.Strategy)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "debug"
  output: "stderr"

engine:
  driver: "core"
  userblock: 1024
  libver:
    low: "v1"
    high: "v3"
  strategy:
    strategy: "page"
    page_size: 8192

metrics:
  enabled: true
  port: 9914

drivers:
  core:
    block_size: 131072
    backing_store: true
  kv:
    sync_writes: true
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// The log level is normalized to uppercase
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Expected output 'stderr', got %q", cfg.Logging.Output)
	}
	if cfg.Engine.Driver != "core" {
		t.Errorf("Expected driver 'core', got %q", cfg.Engine.Driver)
	}
	if cfg.Engine.Userblock != 1024 {
		t.Errorf("Expected userblock 1024, got %d", cfg.Engine.Userblock)
	}
	if cfg.Engine.Libver.Low != "v1" || cfg.Engine.Libver.High != "v3" {
		t.Errorf("Expected libver v1..v3, got %s..%s", cfg.Engine.Libver.Low, cfg.Engine.Libver.High)
	}
	if cfg.Engine.Strategy.Strategy != engine.StrategyPage {
		t.Errorf("Expected strategy 'page', got %q", cfg.Engine.Strategy.Strategy)
	}
	if cfg.Engine.Strategy.PageSize != 8192 {
		t.Errorf("Expected page size 8192, got %d", cfg.Engine.Strategy.PageSize)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Expected metrics enabled")
	}
	if cfg.Metrics.Port != 9914 {
		t.Errorf("Expected metrics port 9914, got %d", cfg.Metrics.Port)
	}
	if got, ok := cfg.Drivers.Core["backing_store"]; !ok || got != true {
		t.Errorf("Expected core backing_store true, got %v", got)
	}
	if got, ok := cfg.Drivers.Kv["sync_writes"]; !ok || got != true {
		t.Errorf("Expected kv sync_writes true, got %v", got)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Use a temporary directory with a non-existent config file path
	// This ensures we don't load the user's config from ~/.config/hdfive/
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	// Verify defaults
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Engine.Driver != "sec2" {
		t.Errorf("Expected default driver 'sec2', got %q", cfg.Engine.Driver)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	// Write invalid YAML
	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// Should return error
	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_UnknownDriver(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
engine:
  driver: "floppy"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected validation error for unknown driver, got nil")
	}
	if !strings.Contains(err.Error(), "floppy") {
		t.Errorf("Expected error to name the driver, got: %v", err)
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[logging]
level = "WARN"

[engine]
driver = "split"

[drivers.split]
meta_ext = "-meta.hv5"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Engine.Driver != "split" {
		t.Errorf("Expected driver 'split', got %q", cfg.Engine.Driver)
	}
	if got := cfg.Drivers.Split["meta_ext"]; got != "-meta.hv5" {
		t.Errorf("Expected split meta_ext '-meta.hv5', got %v", got)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("HDFIVE_LOGGING_LEVEL", "ERROR")

	// Create minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

engine:
  driver: "sec2"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify environment variables override config file
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
}

func TestDriversOptions(t *testing.T) {
	cfg := GetDefaultConfig()

	if _, ok := cfg.Drivers.Options("core")["block_size"]; !ok {
		t.Error("Expected core options to carry block_size")
	}
	if _, ok := cfg.Drivers.Options("split")["meta_ext"]; !ok {
		t.Error("Expected split options to carry meta_ext")
	}
	if _, ok := cfg.Drivers.Options("kv")["chunk_size"]; !ok {
		t.Error("Expected kv options to carry chunk_size")
	}

	// sec2 and mpio have no configurable section
	if opts := cfg.Drivers.Options("sec2"); opts != nil {
		t.Errorf("Expected nil options for sec2, got %v", opts)
	}
	if opts := cfg.Drivers.Options("unknown"); opts != nil {
		t.Errorf("Expected nil options for unknown driver, got %v", opts)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-test")

	got := GetDefaultConfigPath()
	want := filepath.Join("/tmp/xdg-test", "hdfive", "config.yaml")
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

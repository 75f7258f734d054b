package config

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/hdfive/pkg/engine"
)

func TestDefaultRegistry(t *testing.T) {
	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("Failed to build default registry: %v", err)
	}

	for _, name := range []string{"sec2", "stdio", "core", "split", "family", "kv", "ros3"} {
		if !reg.Has(name) {
			t.Errorf("Expected driver %q to be registered", name)
		}
	}
}

func TestBuildRegistry(t *testing.T) {
	cfg := GetDefaultConfig()

	reg, err := BuildRegistry(cfg)
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}
	if !reg.Has(cfg.Engine.Driver) {
		t.Errorf("Expected default driver %q to be registered", cfg.Engine.Driver)
	}
}

func TestBuildRegistry_UnknownDefaultDriver(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Engine.Driver = "tape"

	_, err := BuildRegistry(cfg)
	if err == nil {
		t.Fatal("Expected error for unknown default driver")
	}
	if !strings.Contains(err.Error(), "tape") {
		t.Errorf("Expected error to name the driver, got: %v", err)
	}
}

func TestNewEngine(t *testing.T) {
	cfg := GetDefaultConfig()

	eng, metricsResult, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if eng == nil {
		t.Fatal("Expected non-nil engine")
	}
	if metricsResult == nil {
		t.Fatal("Expected non-nil metrics result")
	}
	if metricsResult.Server != nil {
		t.Error("Expected nil metrics server when metrics are disabled")
	}

	// The engine is usable end to end with the default driver
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "smoke.hv5")

	sess, err := eng.Create(ctx, path, false, engine.SessionConfig{Driver: cfg.Engine.Driver})
	if err != nil {
		t.Fatalf("Failed to create container: %v", err)
	}
	if err := sess.Close(ctx); err != nil {
		t.Fatalf("Failed to close session: %v", err)
	}
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	cfg := GetDefaultConfig()

	result := InitializeMetrics(cfg)
	if result == nil {
		t.Fatal("Expected non-nil result")
	}
	if result.Server != nil {
		t.Error("Expected nil server when disabled")
	}
	if result.Engine != nil {
		t.Error("Expected nil engine metrics when disabled")
	}
}

func TestInitializeMetrics_Enabled(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 9915

	result := InitializeMetrics(cfg)
	if result.Server == nil {
		t.Fatal("Expected non-nil server when enabled")
	}
	if result.Server.Port() != 9915 {
		t.Errorf("Expected server port 9915, got %d", result.Server.Port())
	}
	if result.Engine == nil {
		t.Error("Expected non-nil engine metrics when enabled")
	}
}

func TestDefaultOpenOptions(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Engine.Driver = "core"
	cfg.Engine.Userblock = 1024
	cfg.Engine.Libver = LibverConfig{Low: "v1", High: "v3"}
	cfg.Engine.Strategy = engine.FileSpaceStrategy{
		Strategy: engine.StrategyPage,
		PageSize: 8192,
	}

	opts := DefaultOpenOptions(cfg)

	if opts.Driver != "core" {
		t.Errorf("Expected driver 'core', got %q", opts.Driver)
	}
	if _, ok := opts.DriverOptions["block_size"]; !ok {
		t.Error("Expected driver options to carry the core section")
	}
	if opts.Libver.Low != "v1" || opts.Libver.High != "v3" {
		t.Errorf("Expected libver v1..v3, got %s..%s", opts.Libver.Low, opts.Libver.High)
	}
	if opts.Userblock != 1024 {
		t.Errorf("Expected userblock 1024, got %d", opts.Userblock)
	}
	if opts.Strategy.Strategy != engine.StrategyPage {
		t.Errorf("Expected strategy 'page', got %q", opts.Strategy.Strategy)
	}
}

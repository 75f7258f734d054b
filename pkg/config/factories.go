package config

import (
	"fmt"

	"github.com/marmos91/hdfive/internal/logger"
	"github.com/marmos91/hdfive/pkg/driver"
	"github.com/marmos91/hdfive/pkg/driver/core"
	"github.com/marmos91/hdfive/pkg/driver/family"
	"github.com/marmos91/hdfive/pkg/driver/kv"
	"github.com/marmos91/hdfive/pkg/driver/ros3"
	"github.com/marmos91/hdfive/pkg/driver/sec2"
	"github.com/marmos91/hdfive/pkg/driver/split"
	"github.com/marmos91/hdfive/pkg/driver/stdio"
	"github.com/marmos91/hdfive/pkg/engine"
	"github.com/marmos91/hdfive/pkg/engine/hv5"
	"github.com/marmos91/hdfive/pkg/file"
)

// DefaultRegistry assembles the standard driver set.
//
// The registry contains every driver built into this binary:
//
//	sec2    plain file I/O
//	stdio   buffered file I/O
//	core    in-memory image with optional backing store
//	split   metadata and raw data in separate files
//	family  byte space striped over fixed-size members
//	kv      containers inside a BadgerDB database
//	ros3    read-only containers on S3
//
// The mpio driver is added when the binary is built with the parallel
// build tag.
//
// Returns:
//   - *driver.Registry: Registry with all standard drivers registered
//   - error: Registration error (duplicate names)
func DefaultRegistry() (*driver.Registry, error) {
	reg := driver.NewRegistry()

	standard := map[string]driver.Factory{
		"sec2":   sec2.New,
		"stdio":  stdio.New,
		"core":   core.New,
		"split":  split.New,
		"family": family.New,
		"kv":     kv.New,
		"ros3":   ros3.New,
	}
	for name, factory := range standard {
		if err := reg.Register(name, factory); err != nil {
			return nil, fmt.Errorf("failed to register driver %q: %w", name, err)
		}
	}

	if err := registerParallelDrivers(reg); err != nil {
		return nil, err
	}

	return reg, nil
}

// BuildRegistry creates the driver registry for a configuration.
//
// The driver set is fixed at build time; the configuration contributes
// per-driver default options at open time (see DefaultOpenOptions), so
// this currently delegates to DefaultRegistry and verifies the
// configured default driver is present.
func BuildRegistry(cfg *Config) (*driver.Registry, error) {
	reg, err := DefaultRegistry()
	if err != nil {
		return nil, err
	}

	if !reg.Has(cfg.Engine.Driver) {
		return nil, fmt.Errorf("default driver %q is not registered (registered: %v)",
			cfg.Engine.Driver, reg.List())
	}

	return reg, nil
}

// NewEngine creates the storage engine from configuration.
//
// This builds the driver registry, initializes metrics when enabled and
// constructs the reference engine over both.
//
// Parameters:
//   - cfg: Complete configuration
//
// Returns:
//   - engine.Engine: Initialized engine
//   - *MetricsResult: Metrics components (server is nil when disabled)
//   - error: Registry construction error
func NewEngine(cfg *Config) (engine.Engine, *MetricsResult, error) {
	reg, err := BuildRegistry(cfg)
	if err != nil {
		return nil, nil, err
	}

	metricsResult := InitializeMetrics(cfg)

	eng := hv5.NewWithMetrics(reg, metricsResult.Engine)
	logger.Debug("Engine initialized: default driver %q, %d driver(s) registered",
		cfg.Engine.Driver, reg.Count())

	return eng, metricsResult, nil
}

// DefaultOpenOptions maps the engine defaults of a configuration onto
// open options for the file layer. The returned options carry the
// configured driver, its option section, the version bounds, the
// default userblock size and the create-time strategy.
func DefaultOpenOptions(cfg *Config) *file.OpenOptions {
	opts := file.NewOpenOptions()
	opts.Driver = cfg.Engine.Driver
	opts.DriverOptions = cfg.Drivers.Options(cfg.Engine.Driver)
	opts.Libver = engine.LibverBounds{
		Low:  cfg.Engine.Libver.Low,
		High: cfg.Engine.Libver.High,
	}
	opts.Userblock = cfg.Engine.Userblock
	opts.Strategy = cfg.Engine.Strategy
	return opts
}

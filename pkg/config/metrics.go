package config

import (
	"github.com/marmos91/hdfive/pkg/engine/hv5"
	"github.com/marmos91/hdfive/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Engine is the metrics collector handed to the engine (nil if
	// disabled; the engine falls back to its no-op implementation)
	Engine hv5.EngineMetrics
}

// InitializeMetrics creates and initializes all metrics components based on
// configuration.
//
// If metrics are enabled:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates the Prometheus-backed engine metrics
//
// If metrics are disabled:
//   - Returns a nil server and nil engine metrics (zero overhead)
//
// Parameters:
//   - cfg: The complete configuration
//
// Returns:
//   - MetricsResult containing all metrics components
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{}
	}

	// Initialize global Prometheus registry
	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Metrics.Port,
	})

	return &MetricsResult{
		Server: server,
		Engine: metrics.NewEngineMetrics(),
	}
}

package hv5

import (
	"time"
)

// EngineMetrics provides observability for engine operations.
//
// Implementations can use this interface to collect metrics about container
// opens, creates, flushes, latency and errors. This is optional - if not
// provided, metrics collection is skipped.
//
// Example implementations:
//   - Prometheus metrics
//   - StatsD metrics
//   - In-memory counters for testing
type EngineMetrics interface {
	// ObserveOperation records an engine operation with its duration and outcome
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records bytes moved through the driver for an operation
	// direction can be: "read", "written"
	RecordBytes(direction string, bytes int64)

	// RecordObjects records the size of a decoded or persisted object tree
	RecordObjects(operation string, count int64)
}

// noopMetrics is a default no-op metrics implementation
type noopMetrics struct{}

func (noopMetrics) ObserveOperation(operation string, duration time.Duration, err error) {}
func (noopMetrics) RecordBytes(direction string, bytes int64)                            {}
func (noopMetrics) RecordObjects(operation string, count int64)                          {}

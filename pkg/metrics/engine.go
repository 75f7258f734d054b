package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/hdfive/pkg/engine/hv5"
)

// engineMetrics is the Prometheus implementation of hv5.EngineMetrics.
//
// This implementation collects metrics about engine operations including:
//   - Operation counts (open, create, flush, probes)
//   - Operation latency
//   - Bytes moved through drivers
//   - Error rates
//   - Object tree sizes
type engineMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTotal        *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	treeObjects       *prometheus.HistogramVec
}

// NewEngineMetrics creates a new Prometheus-backed EngineMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// causes the engine to use the built-in no-op implementation.
//
// This implements the hv5.EngineMetrics interface from
// pkg/engine/hv5/hv5_metrics.go.
func NewEngineMetrics() hv5.EngineMetrics {
	if !IsEnabled() {
		return nil // the engine falls back to its no-op implementation
	}

	reg := GetRegistry()

	return &engineMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "hdfive_engine_operations_total",
				Help: "Total number of engine operations by operation type and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "hdfive_engine_operation_duration_seconds",
				Help: "Duration of engine operations in seconds",
				Buckets: []float64{
					0.0005, // 0.5ms
					0.001,  // 1ms
					0.0025, // 2.5ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.025,  // 25ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.25,   // 250ms
					0.5,    // 500ms
					1.0,    // 1s
					5.0,    // 5s
				},
			},
			[]string{"operation"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "hdfive_engine_bytes_total",
				Help: "Total bytes moved through drivers by direction",
			},
			[]string{"direction"}, // read or written
		),
		errorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "hdfive_engine_errors_total",
				Help: "Total number of engine operation errors by operation type",
			},
			[]string{"operation"},
		),
		treeObjects: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "hdfive_engine_tree_objects",
				Help: "Number of objects in container trees seen per operation",
				Buckets: []float64{
					1,
					10,
					100,
					1000,
					10000,
					100000,
				},
			},
			[]string{"operation"},
		),
	}
}

// ObserveOperation implements hv5.EngineMetrics.ObserveOperation
func (m *engineMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.errorsTotal.WithLabelValues(operation).Inc()
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBytes implements hv5.EngineMetrics.RecordBytes
func (m *engineMetrics) RecordBytes(direction string, bytes int64) {
	m.bytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

// RecordObjects implements hv5.EngineMetrics.RecordObjects
func (m *engineMetrics) RecordObjects(operation string, count int64) {
	m.treeObjects.WithLabelValues(operation).Observe(float64(count))
}

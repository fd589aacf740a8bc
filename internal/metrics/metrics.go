// Package metrics implements the optional performance-metric decorators
// spec §6's enablePerformanceMetrics init option switches on, timing each
// public write operation with a prometheus histogram.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OperationDuration records how long each public Onyx operation (set,
// merge, mergeCollection, ...) takes to settle, labeled by operation
// name so a host application's existing prometheus registry can chart
// them alongside its own metrics.
var OperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "onyx_operation_duration_seconds",
		Help:    "Duration of Onyx store write operations, by operation name.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation"},
)

// IncompatibleUpdatesTotal counts updates dropped by the compatibility
// checker (spec §4.1), labeled by operation, for dashboards that want to
// alert on a rising rate of shape mismatches.
var IncompatibleUpdatesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "onyx_incompatible_updates_total",
		Help: "Total updates dropped by the compatibility checker, by operation.",
	},
	[]string{"operation"},
)

// Recorder wraps public store operations with timing decorators when
// enabled, and is a no-op otherwise — the whole of
// enablePerformanceMetrics (spec §6) expressed as a single seam.
type Recorder struct {
	enabled bool
}

// NewRecorder returns a Recorder that observes OperationDuration only when
// enabled is true.
func NewRecorder(enabled bool) *Recorder {
	return &Recorder{enabled: enabled}
}

// Observe times fn and records it under operation if metrics are enabled,
// then returns fn's error unchanged.
func (r *Recorder) Observe(operation string, fn func() error) error {
	if !r.enabled {
		return fn()
	}
	start := time.Now()
	err := fn()
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	return err
}

// MustRegister registers the package's collectors with reg. Call once at
// store construction time when enablePerformanceMetrics is set.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(OperationDuration, IncompatibleUpdatesTotal)
}

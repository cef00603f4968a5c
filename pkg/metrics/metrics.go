// Package metrics provides Prometheus instrumentation for deltaflow.
//
// # Overview
//
// Collectors are registered with the default Prometheus registry on package
// initialisation and updated by the storage, table, merge and pipeline
// packages:
//
//	metrics.StorageOperations.WithLabelValues("put", "success").Inc()
//	metrics.CommitAttempts.WithLabelValues(metrics.CommitConflict).Inc()
//
// A run has no long-lived HTTP endpoint, so Dump writes the current values
// in the Prometheus text exposition format at the end of a run instead:
//
//	if err := metrics.Dump(os.Stderr); err != nil {
//	    logger.Warn("failed to dump metrics", zap.Error(err))
//	}
package metrics

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Namespace prefixes every metric name.
const Namespace = "deltaflow"

// Commit attempt statuses.
const (
	CommitCommitted = "committed"
	CommitConflict  = "conflict"
	CommitFailed    = "failed"
)

var (
	// StorageOperations counts object store calls.
	// Labels: operation (get/put/put_if_absent/head/list/delete), status (success/not_found/exists/error)
	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "storage_operations_total",
			Help:      "Total number of object store operations",
		},
		[]string{"operation", "status"},
	)

	// StorageLatency tracks object store call latency in seconds.
	StorageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Object store operation latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"operation"},
	)

	// StorageBytes counts payload bytes moved to and from the object store.
	// Labels: direction (read/write)
	StorageBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "storage_bytes_total",
			Help:      "Bytes read from or written to the object store",
		},
		[]string{"direction"},
	)

	// CommitAttempts counts log commits by outcome.
	CommitAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "table_commits_total",
			Help:      "Total number of table commit attempts",
		},
		[]string{"status"},
	)

	// TableVersion records the latest committed version per table location.
	TableVersion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "table_version",
			Help:      "Latest committed table version",
		},
		[]string{"location"},
	)

	// SourceRowsLoaded counts rows read from source files.
	SourceRowsLoaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "source_rows_loaded_total",
			Help:      "Total number of rows loaded from source files",
		},
	)

	// MergeRows counts target rows by merge action.
	// Labels: action (inserted/updated/deleted/copied)
	MergeRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "merge_rows_total",
			Help:      "Rows affected by merge operations by action",
		},
		[]string{"action"},
	)

	// StepDuration tracks workflow step latency in seconds.
	// Labels: step, status (success/failure)
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "step_duration_seconds",
			Help:      "Workflow step duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"step", "status"},
	)
)

// ObserveStorage records one object store call.
func ObserveStorage(operation, status string, d time.Duration) {
	StorageOperations.WithLabelValues(operation, status).Inc()
	StorageLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the name the timer was created with.
func (t *Timer) Name() string { return t.name }

// Stop returns the elapsed duration since creation. It may be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ObserveStep stops the timer and records it as a workflow step.
func (t *Timer) ObserveStep(success bool) time.Duration {
	d := t.Stop()
	status := "success"
	if !success {
		status = "failure"
	}
	StepDuration.WithLabelValues(t.name, status).Observe(d.Seconds())
	return d
}

var dumpMu sync.Mutex

// Dump writes every deltaflow metric from the default registry to w in the
// Prometheus text format.
func Dump(w io.Writer) error {
	return DumpFrom(prometheus.DefaultGatherer, w)
}

// DumpFrom writes the deltaflow metric families gathered from g to w.
func DumpFrom(g prometheus.Gatherer, w io.Writer) error {
	dumpMu.Lock()
	defer dumpMu.Unlock()

	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), Namespace+"_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

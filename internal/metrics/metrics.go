// Package metrics defines the process's Prometheus instrumentation:
// per-stage counters and histograms covering the pipeline components of
// spec.md §4, registered against the default registry the way the
// teacher wires its own runtime metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the counters and histograms the orchestrator updates
// as records move through the pipeline.
type Metrics struct {
	RecordsProcessed   prometheus.Counter
	RecordsFailed      *prometheus.CounterVec
	BatchSize          prometheus.Histogram
	BatchCollectionMs  prometheus.Histogram
	ScriptExecMs       prometheus.Histogram
	RowsInserted       prometheus.Counter
	ActiveWorkers      prometheus.Gauge
	PreparedStatements prometheus.Gauge
}

// New registers and returns a fresh Metrics bundle against the default
// registerer. Intended to be called once per process.
func New() *Metrics {
	return newForRegisterer(prometheus.DefaultRegisterer)
}

// newForRegistry builds a Metrics bundle against an isolated registry,
// for tests that need to assert on observed values without colliding
// with other tests' registrations against the package default.
func newForRegistry(reg *prometheus.Registry) *Metrics {
	return newForRegisterer(reg)
}

func newForRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecordsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kpt",
			Name:      "records_processed_total",
			Help:      "Records successfully transformed and inserted.",
		}),
		RecordsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kpt",
			Name:      "records_failed_total",
			Help:      "Records that failed processing, labeled by failing component.",
		}, []string{"component"}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kpt",
			Name:      "batch_size",
			Help:      "Size of batches yielded by the AIMD batcher.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		BatchCollectionMs: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kpt",
			Name:      "batch_collection_milliseconds",
			Help:      "Wall-clock time spent collecting one batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ScriptExecMs: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kpt",
			Name:      "script_exec_milliseconds",
			Help:      "Wall-clock time spent in one transform() invocation.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		RowsInserted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kpt",
			Name:      "rows_inserted_total",
			Help:      "Rows inserted by the database writer.",
		}),
		ActiveWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "kpt",
			Name:      "script_workers_active",
			Help:      "Number of script runtime workers currently executing a batch.",
		}),
		PreparedStatements: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "kpt",
			Name:      "prepared_statements_cached",
			Help:      "Number of distinct prepared statements currently cached by the database writer.",
		}),
	}
}

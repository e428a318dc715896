// Package metrics exposes the observability counters/gauges the write
// pipeline updates from both producer and writer goroutines (spec §5:
// "Metrics counters are updated from both producer and writer threads; they
// are relaxed atomics").
//
// Grounded on the teacher's internal/metrics/metrics.go, which defines one
// Prometheus collector per concern and registers them idempotently via a
// safeRegister helper. That file uses package-level vars registered into the
// global default registry; this package instead bundles the pipeline's
// collectors into a Registry struct registered into a caller-supplied
// *prometheus.Registry; so that multiple pipeline instances (as in tests)
// never collide on the global default registry the way package-level vars
// would.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every counter/gauge/histogram the pipeline emits.
type Registry struct {
	Enqueued     prometheus.Counter
	Written      prometheus.Counter
	Dropped      *prometheus.CounterVec // reason: drop_oldest|drop_newest
	QueueDepth   prometheus.Gauge
	Pending      prometheus.Gauge
	RestartsTotal prometheus.Counter
	SyncFallback prometheus.Gauge // 1 while the supervisor is in sync-fallback mode

	SerializationErrors prometheus.Counter
	DestinationErrors   *prometheus.CounterVec // destination name
	FlushDuration       prometheus.Histogram
	FlushTrigger        *prometheus.CounterVec // trigger name (spec §4.6 5 triggers)
	CircuitBreakerState *prometheus.GaugeVec   // destination name -> 0 closed/1 half-open/2 open

	DLQStoredTotal prometheus.Counter
	DLQSizeBytes   prometheus.Gauge

	// Plain atomic counters mirroring the six fields spec §6's metrics()
	// call returns, kept alongside the Prometheus collectors above rather
	// than read back out of them (prometheus client types are write-only
	// from the application's perspective without going through the
	// registry's Gather path).
	enqueued uint64
	written  uint64
	dropped  uint64
	errors   uint64
	pending  int64
	restarts uint64
}

// Snapshot is the plain Go struct form of spec §6's
// `metrics() -> { enqueued, written, dropped, errors, pending, restarts }`.
type Snapshot struct {
	Enqueued uint64
	Written  uint64
	Dropped  uint64
	Errors   uint64
	Pending  int64
	Restarts uint64
}

// Snapshot reads the current values of the six counters spec §6's public
// metrics() call exposes.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		Enqueued: atomic.LoadUint64(&r.enqueued),
		Written:  atomic.LoadUint64(&r.written),
		Dropped:  atomic.LoadUint64(&r.dropped),
		Errors:   atomic.LoadUint64(&r.errors),
		Pending:  atomic.LoadInt64(&r.pending),
		Restarts: atomic.LoadUint64(&r.restarts),
	}
}

// IncEnqueued records one record admitted onto the write queue.
func (r *Registry) IncEnqueued() {
	atomic.AddUint64(&r.enqueued, 1)
	atomic.AddInt64(&r.pending, 1)
	r.Enqueued.Inc()
	r.Pending.Set(float64(atomic.LoadInt64(&r.pending)))
}

// AddWritten records n records successfully dispatched to a destination.
func (r *Registry) AddWritten(n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(&r.written, uint64(n))
	atomic.AddInt64(&r.pending, -int64(n))
	r.Written.Add(float64(n))
	r.Pending.Set(float64(atomic.LoadInt64(&r.pending)))
}

// IncDropped records one record discarded under backpressure.
func (r *Registry) IncDropped(reason string) {
	atomic.AddUint64(&r.dropped, 1)
	atomic.AddInt64(&r.pending, -1)
	r.Dropped.WithLabelValues(reason).Inc()
	r.Pending.Set(float64(atomic.LoadInt64(&r.pending)))
}

// IncSerializationError records one field value that could not be encoded.
func (r *Registry) IncSerializationError() {
	atomic.AddUint64(&r.errors, 1)
	r.SerializationErrors.Inc()
}

// IncDestinationError records one destination write failure.
func (r *Registry) IncDestinationError(destination string) {
	atomic.AddUint64(&r.errors, 1)
	r.DestinationErrors.WithLabelValues(destination).Inc()
}

// IncRestarts records one writer-goroutine restart.
func (r *Registry) IncRestarts() {
	atomic.AddUint64(&r.restarts, 1)
	r.RestartsTotal.Inc()
}

// New constructs a Registry and registers every collector into reg. Passing
// prometheus.NewRegistry() (rather than the global DefaultRegisterer) keeps
// concurrent pipeline instances, as in tests, from fighting over duplicate
// registration the way the teacher's safeRegister/MustRegister pattern has
// to paper over.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		Enqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "logxpy_records_enqueued_total",
			Help: "Total records accepted onto the write queue.",
		}),
		Written: factory.NewCounter(prometheus.CounterOpts{
			Name: "logxpy_records_written_total",
			Help: "Total records successfully dispatched to at least one destination.",
		}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logxpy_records_dropped_total",
			Help: "Total records dropped under backpressure, by policy.",
		}, []string{"reason"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "logxpy_queue_depth",
			Help: "Current number of records resident in the write queue.",
		}),
		Pending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "logxpy_pending_records",
			Help: "Records accepted but not yet durably written.",
		}),
		RestartsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "logxpy_writer_restarts_total",
			Help: "Total times the writer goroutine was restarted after a crash.",
		}),
		SyncFallback: factory.NewGauge(prometheus.GaugeOpts{
			Name: "logxpy_sync_fallback",
			Help: "1 while the supervisor has fallen back to synchronous writes.",
		}),
		SerializationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "logxpy_serialization_errors_total",
			Help: "Total field values that could not be serialized and were replaced with a placeholder.",
		}),
		DestinationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logxpy_destination_errors_total",
			Help: "Total write errors by destination.",
		}, []string{"destination"}),
		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "logxpy_flush_duration_seconds",
			Help:    "Time spent flushing a batch to all destinations.",
			Buckets: prometheus.DefBuckets,
		}),
		FlushTrigger: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logxpy_flush_triggers_total",
			Help: "Total flushes by triggering condition.",
		}, []string{"trigger"}),
		CircuitBreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "logxpy_circuit_breaker_state",
			Help: "Per-destination circuit breaker state (0=closed,1=half-open,2=open).",
		}, []string{"destination"}),
		DLQStoredTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "logxpy_dlq_stored_total",
			Help: "Total batches spilled to the dead-letter queue.",
		}),
		DLQSizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "logxpy_dlq_size_bytes",
			Help: "Current size of the dead-letter queue on disk.",
		}),
	}
}

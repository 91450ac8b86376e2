// Package metrics provides Prometheus instrumentation for the retry engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsEnqueued counts operations created by Enqueue.
	OperationsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ojs",
		Subsystem: "retry",
		Name:      "operations_enqueued_total",
		Help:      "Total number of retry operations enqueued.",
	}, []string{"operation_type"})

	// IdempotentHits counts Enqueue calls collapsed onto an existing operation.
	IdempotentHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ojs",
		Subsystem: "retry",
		Name:      "idempotent_hits_total",
		Help:      "Total number of enqueue calls deduplicated by idempotency key.",
	}, []string{"operation_type"})

	// Attempts counts reported attempts by raw outcome.
	Attempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ojs",
		Subsystem: "retry",
		Name:      "attempts_total",
		Help:      "Total number of attempt results recorded.",
	}, []string{"operation_type", "outcome"})

	// AttemptLatency tracks executor-reported attempt latency.
	AttemptLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ojs",
		Subsystem: "retry",
		Name:      "attempt_latency_seconds",
		Help:      "Latency of attempts as reported by executors.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"operation_type"})

	// ScheduledDelay tracks backoff delays handed out to retrying operations.
	ScheduledDelay = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ojs",
		Subsystem: "retry",
		Name:      "scheduled_delay_seconds",
		Help:      "Backoff delay scheduled before the next attempt.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
	}, []string{"strategy"})

	// Transitions counts operation status transitions.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ojs",
		Subsystem: "retry",
		Name:      "transitions_total",
		Help:      "Total number of operation status transitions.",
	}, []string{"from", "to"})

	// DeadLettered counts operations moved to the dead letter queue.
	DeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ojs",
		Subsystem: "retry",
		Name:      "dead_lettered_total",
		Help:      "Total number of operations moved to the dead letter queue.",
	}, []string{"operation_type"})

	// Requeued counts dead letter entries requeued.
	Requeued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ojs",
		Subsystem: "retry",
		Name:      "requeued_total",
		Help:      "Total number of dead letter entries requeued.",
	})

	// StormDrops counts operations abandoned by the storm guard.
	StormDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ojs",
		Subsystem: "retry",
		Name:      "storm_drops_total",
		Help:      "Total number of operations abandoned because the retry budget was exceeded.",
	}, []string{"operation_type"})

	// PoisonQuarantined counts error signatures crossing the quarantine threshold.
	PoisonQuarantined = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ojs",
		Subsystem: "retry",
		Name:      "poison_quarantined_total",
		Help:      "Total number of error signatures quarantined as poison messages.",
	}, []string{"operation_type"})

	// AttemptLogSize tracks the number of attempts retained in the ring buffer.
	AttemptLogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ojs",
		Subsystem: "retry",
		Name:      "attempt_log_size",
		Help:      "Number of attempt records retained in memory.",
	})

	// Dispatched counts operations handed to the executor queue.
	Dispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ojs",
		Subsystem: "retry",
		Name:      "dispatched_total",
		Help:      "Total number of operations dispatched to executor queues.",
	}, []string{"operation_type", "result"})

	// ArchivedRecords counts records written to the archive store.
	ArchivedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ojs",
		Subsystem: "retry",
		Name:      "archived_records_total",
		Help:      "Total number of records written to the archive store.",
	}, []string{"kind"})

	// ServerInfo exposes static server metadata as labels.
	ServerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ojs",
		Name:      "server_info",
		Help:      "Static server metadata.",
	}, []string{"version", "backend"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ojs",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ojs",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})
)

// Init sets static server metadata on the info metric.
func Init(version, backend string) {
	ServerInfo.WithLabelValues(version, backend).Set(1)
}

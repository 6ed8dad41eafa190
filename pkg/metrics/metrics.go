package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EvaluatorCallLatency tracks LLM evaluator call latency in milliseconds.
	EvaluatorCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evaluator_call_latency_ms",
			Help:    "Signal evaluator call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"signal", "status"},
	)

	// DetectionTaskCount counts detection tasks by signal and outcome.
	DetectionTaskCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_task_count",
			Help: "Total number of detection tasks executed",
		},
		[]string{"signal", "outcome"}, // outcome: success, fallback
	)

	// FusionVerdictCount counts final fused verdicts.
	FusionVerdictCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fusion_verdict_count",
			Help: "Total number of fused detection verdicts",
		},
		[]string{"verdict"}, // verdict: phishing, legitimate
	)

	// EmailsFetchedCount counts emails ingested by mailbox sync.
	EmailsFetchedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emails_fetched_count",
			Help: "Total number of emails fetched by mailbox sync",
		},
		[]string{"status"}, // status: stored, duplicate
	)

	// SyncRunCount counts per-binding sync outcomes.
	SyncRunCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_run_count",
			Help: "Total number of per-binding sync runs",
		},
		[]string{"status"}, // status: success, error, locked
	)

	// DBQueryDuration tracks database query duration in seconds.
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)
)

// RecordEvaluatorCall records one evaluator call.
func RecordEvaluatorCall(signal, status string, duration time.Duration) {
	EvaluatorCallLatency.WithLabelValues(signal, status).Observe(float64(duration.Milliseconds()))
}

// IncrementDetectionTask increments the detection task counter.
func IncrementDetectionTask(signal, outcome string) {
	DetectionTaskCount.WithLabelValues(signal, outcome).Inc()
}

// IncrementFusionVerdict increments the fused verdict counter.
func IncrementFusionVerdict(verdict string) {
	FusionVerdictCount.WithLabelValues(verdict).Inc()
}

// IncrementEmailsFetched adds n to the fetched email counter.
func IncrementEmailsFetched(status string, n int) {
	if n <= 0 {
		return
	}
	EmailsFetchedCount.WithLabelValues(status).Add(float64(n))
}

// IncrementSyncRun increments the per-binding sync counter.
func IncrementSyncRun(status string) {
	SyncRunCount.WithLabelValues(status).Inc()
}

// RecordDBQuery records one database query.
func RecordDBQuery(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

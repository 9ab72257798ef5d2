package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts the total number of code executions by language and status.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_executions_total",
			Help: "Total number of code executions",
		},
		[]string{"language", "status"},
	)

	// ExecutionDuration tracks sandbox wall time in seconds, split by compile and run phase.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_execution_duration_seconds",
			Help:    "Duration of sandbox invocations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"language", "phase"},
	)

	// VerdictsTotal counts judged submissions by final status.
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_verdicts_total",
			Help: "Total number of judge verdicts",
		},
		[]string{"language", "status"},
	)

	// SandboxesActive tracks the number of sandbox slots currently in use.
	SandboxesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_sandboxes_active",
			Help: "Number of sandbox invocations currently running",
		},
	)

	// QueueDepth tracks how many executions are waiting for a sandbox slot.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_queue_depth",
			Help: "Number of executions waiting for a sandbox slot",
		},
	)

	// QueueRejections counts executions rejected because the wait queue was full.
	QueueRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_queue_rejections_total",
			Help: "Total number of executions rejected with system busy",
		},
	)

	// SandboxFailures counts sandbox infrastructure failures (not user code errors).
	SandboxFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_sandbox_failures_total",
			Help: "Total number of sandbox infrastructure failures",
		},
		[]string{"backend"},
	)

	// RateLimitHits counts requests rejected by the rate limiter.
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_rate_limit_hits_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	// JobsTotal counts queue messages processed by the worker by outcome.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_jobs_total",
			Help: "Total number of queued judge jobs processed",
		},
		[]string{"kind", "outcome"},
	)
)

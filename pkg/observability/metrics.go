// Package observability provides Prometheus metrics, HTTP middleware and
// OpenTelemetry tracing for the execution service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ExecutionBuckets defines histogram buckets suited for program run times,
// ranging from 10ms to 120s.
var ExecutionBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeexec_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeexec_request_duration_seconds",
			Help:    "Request duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"method", "route"},
	)

	// ExecutionsTotal counts program runs by language and outcome status.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeexec_executions_total",
			Help: "Program executions",
		},
		[]string{"language", "status"},
	)

	// ExecutionDuration records program run time in seconds by language.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeexec_execution_duration_seconds",
			Help:    "Execution duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"language"},
	)

	// BatchSize records the number of programs per batch request.
	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codeexec_batch_size",
			Help:    "Programs per batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9),
		},
	)

	// RunnerInFlight tracks the number of programs currently running.
	RunnerInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codeexec_runner_in_flight",
			Help: "Programs currently running",
		},
	)

	// CoverageRunsTotal counts coverage measurements by result ("ok" or "failed").
	CoverageRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeexec_coverage_runs_total",
			Help: "Coverage measurements",
		},
		[]string{"result"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeexec_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ExecutionsTotal,
		ExecutionDuration,
		BatchSize,
		RunnerInFlight,
		CoverageRunsTotal,
		RateLimitRejectedTotal,
	)
}

package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// JobsCreatedTotal counts jobs created per pipeline.
	JobsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alephauto_jobs_created_total",
			Help: "Total number of jobs created, by pipeline",
		},
		[]string{"pipeline_id"},
	)
	// JobsCompletedTotal counts terminal job outcomes per pipeline and status.
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alephauto_jobs_completed_total",
			Help: "Total number of jobs reaching a terminal state, by pipeline and status",
		},
		[]string{"pipeline_id", "status"},
	)
	// JobExecutionDuration records end-to-end job duration per pipeline.
	JobExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alephauto_job_execution_duration_seconds",
			Help:    "Job execution duration in seconds, by pipeline",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
		},
		[]string{"pipeline_id"},
	)
	// SecretCircuitBreakerState exposes the secret provider's current state
	// as a gauge (0 closed, 1 half_open, 2 open).
	SecretCircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "alephauto_secret_circuit_breaker_state",
			Help: "Secret provider circuit breaker state: 0=closed, 1=half_open, 2=open",
		},
	)
	// RepositoryDegraded reports whether the job repository is currently in
	// degraded mode.
	RepositoryDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "alephauto_repository_degraded",
			Help: "1 when the job repository is in degraded mode, 0 otherwise",
		},
	)
)

var metricsRegistered bool

// InitMetrics registers every collector with the default Prometheus
// registry exactly once per process.
func InitMetrics() {
	if metricsRegistered {
		return
	}
	metricsRegistered = true
	prometheus.MustRegister(
		JobsCreatedTotal,
		JobsCompletedTotal,
		JobExecutionDuration,
		SecretCircuitBreakerState,
		RepositoryDegraded,
	)
}

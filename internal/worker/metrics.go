package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_total",
			Help: "Jobs processed by outcome.",
		},
		[]string{"outcome"},
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_job_duration_seconds",
			Help:    "Duration of job runs in seconds.",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	retries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_retries_total",
			Help: "Jobs re-enqueued after a retryable failure.",
		},
	)

	deadLettered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_dead_letters_total",
			Help: "Jobs abandoned after exhausting retries.",
		},
	)

	workersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_pool_workers",
			Help: "Number of running workers.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal, jobDuration, retries, deadLettered, workersActive)
}

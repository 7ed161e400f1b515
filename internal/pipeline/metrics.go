package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	// outcomes counts finished runs by terminal outcome.
	outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_outcomes_total",
			Help: "Pipeline runs by terminal outcome.",
		},
		[]string{"outcome"},
	)

	// decisions counts which branch produced the reply.
	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_decisions_total",
			Help: "Pipeline replies by decision branch.",
		},
		[]string{"decision"},
	)

	deliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_delivery_failures_total",
			Help: "Replies that could not be delivered to the lead.",
		},
	)

	// stageDuration observes adapter and store stages. Buckets stretch to
	// the tens of seconds an LLM call may take.
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds.",
			Buckets: []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10, 20, 40},
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(outcomes, decisions, deliveryFailures, stageDuration)
}

// Package metrics defines the prometheus instrumentation for the poller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Poll metrics
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lavamon_polls_total",
			Help: "Total poll cycles by result",
		},
		[]string{"result"},
	)

	PollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lavamon_poll_duration_seconds",
			Help:    "Duration of one full poll cycle in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	ConsecutiveFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lavamon_consecutive_poll_failures",
			Help: "Number of poll cycles failed in a row",
		},
	)

	LastSuccessTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lavamon_last_successful_poll_timestamp_seconds",
			Help: "Unix timestamp of the last successful poll",
		},
	)

	// Command metrics
	StartCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lavamon_start_cycles_total",
			Help: "Start-cycle commands by result",
		},
		[]string{"result"},
	)
)

// Register registers all metrics with the given registry.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		PollsTotal,
		PollDuration,
		ConsecutiveFailures,
		LastSuccessTimestamp,
		StartCyclesTotal,
	)
}

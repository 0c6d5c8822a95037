package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	// relayCalls counts outbound calls by method and outcome
	// (ok|timeout|too_large|rejected|blocked|error).
	relayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_calls_total",
			Help: "Outbound try-console calls by outcome.",
		},
		[]string{"method", "outcome"},
	)

	// relayLatency covers completed upstream exchanges only.
	relayLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_upstream_duration_seconds",
			Help:    "Duration of completed upstream calls in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

func init() {
	prometheus.MustRegister(relayCalls, relayLatency)
}

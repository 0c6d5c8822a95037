package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// paidCalls counts ledger appends by paid route and success flag.
	paidCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_paid_calls_total",
			Help: "Metered paid-route calls recorded in the usage ledger.",
		},
		[]string{"route", "ok"},
	)

	// paidRevenue accumulates USD revenue of successful paid calls.
	paidRevenue = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_paid_revenue_usd_total",
			Help: "USD revenue of successful paid-route calls.",
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(paidCalls, paidRevenue)
}

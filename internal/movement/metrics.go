package movement

import "github.com/prometheus/client_golang/prometheus"

var (
	movementCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movement_requests_total",
			Help: "Movement fullnode and indexer requests by outcome.",
		},
		[]string{"target", "op", "outcome"},
	)

	coinInfoLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movement_coin_info_lookups_total",
			Help: "Coin metadata lookups by the layer that answered (memory|redis|fullnode).",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(movementCalls, coinInfoLookups)
}

func observe(target, op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsNotFound(err):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	movementCalls.WithLabelValues(target, op, outcome).Inc()
}

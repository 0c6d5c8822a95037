// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// Metrics() exposes Prometheus instrumentation for HTTP traffic, labelled by
// method, the registered Gin route and the status code. Requests that matched
// no route share the "unmatched" path label so probes against random URLs
// cannot grow the series count.
//
// Relay, paywall and Movement client metrics live next to their packages.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// UnmatchedPath is the path label for requests no route matched.
const UnmatchedPath = "unmatched"

// responseSizeBuckets top out above the relay response cap.
var responseSizeBuckets = []float64{
	200, 500, 1 << 10, 5 << 10,
	10 << 10, 50 << 10, 100 << 10,
	250 << 10, 500 << 10, 1 << 20, 5 << 20,
}

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes.",
			Buckets: responseSizeBuckets,
		},
		[]string{"method", "path"},
	)

	// paidOutcomes splits responses of /paid/ routes by what the caller got.
	paidOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_paid_responses_total",
			Help: "Responses of paid routes by outcome (payment_required, served, rejected, failed).",
		},
		[]string{"path", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, paidOutcomes)
}

// Metrics returns a Gin middleware that instruments requests with Prometheus.
//
//	r.Use(middleware.Metrics())
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
//
// Responses that never wrote a body (size -1) are left out of the size
// histogram.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = UnmatchedPath
		}
		method := c.Request.Method
		code := c.Writer.Status()

		httpReqs.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
		if strings.Contains(path, "/paid/") {
			paidOutcomes.WithLabelValues(path, paidOutcome(code)).Inc()
		}
	}
}

func paidOutcome(code int) string {
	switch {
	case code == http.StatusPaymentRequired:
		return "payment_required"
	case code < 400:
		return "served"
	case code < 500:
		return "rejected"
	default:
		return "failed"
	}
}

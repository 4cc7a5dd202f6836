package observability

import "github.com/prometheus/client_golang/prometheus"

// Streamed agent runs hold a request open for minutes, so the HTTP buckets
// reach further than prometheus.DefBuckets.
var httpDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlstudio_http_requests_total",
			Help: "Total number of HTTP requests by route and status.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlstudio_http_request_duration_seconds",
			Help:    "HTTP request latency by route, including streamed agent runs.",
			Buckets: httpDurationBuckets,
		},
		[]string{"method", "path", "status"},
	)
	httpInflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlstudio_http_inflight_requests",
			Help: "Requests currently being served, open NDJSON streams included.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDurationSeconds, httpInflightRequests)
}

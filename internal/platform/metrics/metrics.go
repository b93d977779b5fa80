// Package metrics holds the HTTP-level Prometheus metrics. Domain metrics
// live next to their services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP captures per-request counters and latency.
type HTTP struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewHTTP creates and registers the HTTP metrics on the default registry.
func NewHTTP() *HTTP {
	return &HTTP{
		Requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attest_http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "status"}),
		Duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attest_http_request_duration_seconds",
			Help:    "HTTP request latency by method",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Observe records one completed request.
func (h *HTTP) Observe(method string, status int, seconds float64) {
	if h == nil {
		return
	}
	h.Requests.WithLabelValues(method, statusLabel(status)).Inc()
	h.Duration.WithLabelValues(method).Observe(seconds)
}

func statusLabel(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

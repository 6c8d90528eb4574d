package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics observes served HTTP requests
type HTTPMetrics interface {
	RecordRequest(method, route string, status int, duration time.Duration)
}

type httpMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewHTTPMetrics creates HTTP metrics on the global registry,
// or a no-op implementation when metrics are disabled.
func NewHTTPMetrics() HTTPMetrics {
	if !IsEnabled() {
		return noopHTTPMetrics{}
	}
	return NewHTTPMetricsWith(GetRegistry())
}

// NewHTTPMetricsWith registers HTTP metrics on reg
func NewHTTPMetricsWith(reg prometheus.Registerer) HTTPMetrics {
	return &httpMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_http_requests_total",
				Help: "Total HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "code"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vault_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

func (m *httpMetrics) RecordRequest(method, route string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

type noopHTTPMetrics struct{}

func (noopHTTPMetrics) RecordRequest(string, string, int, time.Duration) {}

// Package metrics provides this client's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPMetrics provides counters for outbound view/query/search/analytics/
// eventing/management calls (spec.md §4.8). Adapted from the teacher's
// inbound HTTP server middleware: the request/duration/in-flight metrics are
// the same shape, but they are recorded through Begin and the func it
// returns around an outgoing call instead of an http.Handler wrapper, since
// this library has no inbound HTTP surface of its own. internal/httpclient
// does not call Begin itself.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	redirectsTotal  prometheus.Counter
}

// NewHTTPMetrics creates HTTPMetrics under the "lcb"/"http" namespace.
func NewHTTPMetrics() *HTTPMetrics {
	return NewHTTPMetricsWithNamespace("lcb", "http")
}

// NewHTTPMetricsWithNamespace creates HTTPMetrics under a custom
// namespace/subsystem, e.g. for a Registry with a non-default namespace.
func NewHTTPMetricsWithNamespace(namespace, subsystem string) *HTTPMetrics {
	return &HTTPMetrics{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "requests_total",
			Help: "Total outbound HTTP sub-client requests by service type and status class.",
		}, []string{"type", "status_class"}),
		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "request_duration_seconds",
			Help:    "Duration of an outbound HTTP sub-client request, including redirects.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"type"}),
		requestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "requests_in_flight",
			Help: "Number of outbound HTTP sub-client requests currently awaiting completion.",
		}),
		redirectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "redirects_total",
			Help: "Total redirects followed by the HTTP sub-client.",
		}),
	}
}

// Begin marks the start of an outbound request, returning a func to call on
// completion with its service type and resulting HTTP status code.
func (m *HTTPMetrics) Begin() func(reqType string, statusCode int) {
	if m == nil {
		return func(string, int) {}
	}
	m.requestsInFlight.Inc()
	start := time.Now()
	return func(reqType string, statusCode int) {
		m.requestsInFlight.Dec()
		m.requestsTotal.WithLabelValues(reqType, statusClass(statusCode)).Inc()
		m.requestDuration.WithLabelValues(reqType).Observe(time.Since(start).Seconds())
	}
}

// RecordRedirect records one followed redirect.
func (m *HTTPMetrics) RecordRedirect() {
	if m == nil {
		return
	}
	m.redirectsTotal.Inc()
}

// Handler returns the Prometheus scrape handler for this process's default
// registry.
func (m *HTTPMetrics) Handler() http.Handler {
	return promhttp.Handler()
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConfmonMetrics tracks config provider refresh activity (spec.md §4.4's
// ConfigMonitor), adapted from the teacher's CacheMetrics hit/miss/eviction
// shape: a provider refresh is analogous to a cache lookup that either
// yields a fresher entry (hit) or doesn't (miss).
type ConfmonMetrics struct {
	RefreshesTotal   *prometheus.CounterVec // labels: provider, outcome
	RefreshDuration  *prometheus.HistogramVec
	ConfigRevision   prometheus.Gauge
	ProvidersCycled  prometheus.Counter
}

// NewConfmonMetrics builds ConfmonMetrics under namespace/subsystem
// "confmon".
func NewConfmonMetrics(namespace string) *ConfmonMetrics {
	const subsystem = "confmon"
	return &ConfmonMetrics{
		RefreshesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "refreshes_total",
			Help: "Total provider refresh attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		RefreshDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "refresh_duration_seconds",
			Help:    "Duration of a single provider refresh call.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		ConfigRevision: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "config_revision",
			Help: "Revision number of the currently active cluster config.",
		}),
		ProvidersCycled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "providers_cycled_total",
			Help: "Total completed provider-chain refresh cycles.",
		}),
	}
}

// RecordRefresh records one provider refresh's outcome and latency.
func (m *ConfmonMetrics) RecordRefresh(provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RefreshesTotal.WithLabelValues(provider, outcome).Inc()
	m.RefreshDuration.WithLabelValues(provider).Observe(seconds)
}

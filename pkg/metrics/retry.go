package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RetryMetrics tracks package retry's admission/completion activity
// (spec.md §4.7). Adapted from the teacher's retry-metrics shape, with its
// class/outcome/error_type labels narrowed to retry.Class's fixed set and
// its hand-rolled no-op sync.Once replacement (a latent bug — Lock/Unlock
// did nothing) dropped in favor of the real sync.Once, since this package
// no longer needs to dodge an import cycle with "sync".
type RetryMetrics struct {
	AdmittedTotal      *prometheus.CounterVec // labels: class
	CompletedTotal     *prometheus.CounterVec // labels: class, outcome
	AttemptsHistogram  *prometheus.HistogramVec
	BackoffSeconds     *prometheus.HistogramVec
	QueueDepth         prometheus.Gauge
}

// NewRetryMetrics builds RetryMetrics under namespace/subsystem "retry".
func NewRetryMetrics(namespace string) *RetryMetrics {
	const subsystem = "retry"
	return &RetryMetrics{
		AdmittedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "admitted_total",
			Help: "Total packets admitted to the retry queue by class.",
		}, []string{"class"}),
		CompletedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "completed_total",
			Help: "Total retry-queue completions by class and outcome.",
		}, []string{"class", "outcome"}),
		AttemptsHistogram: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "attempts",
			Help:    "Number of attempts made before a packet left the retry queue.",
			Buckets: []float64{1, 2, 3, 4, 5, 10, 20},
		}, []string{"class", "outcome"}),
		BackoffSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "backoff_seconds",
			Help:    "Computed backoff delay before the next retry attempt.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"class"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "queue_depth",
			Help: "Number of packets currently held in the retry queue.",
		}),
	}
}

// RecordAdmit records a packet entering the retry queue under class.
func (m *RetryMetrics) RecordAdmit(class string) {
	if m == nil {
		return
	}
	m.AdmittedTotal.WithLabelValues(class).Inc()
}

// RecordBackoff records the computed delay before the next attempt.
func (m *RetryMetrics) RecordBackoff(class string, seconds float64) {
	if m == nil {
		return
	}
	m.BackoffSeconds.WithLabelValues(class).Observe(seconds)
}

// RecordCompletion records a packet leaving the retry queue, successfully
// or not, after the given number of attempts.
func (m *RetryMetrics) RecordCompletion(class, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.CompletedTotal.WithLabelValues(class, outcome).Inc()
	m.AttemptsHistogram.WithLabelValues(class, outcome).Observe(float64(attempts))
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics tracks per-node command-socket activity (spec.md §4.2's
// Pipeline / §4.6's CommandQueue), adapted from the teacher's
// DatabaseMetrics connection-pool shape: a command pipeline is, from a
// metrics standpoint, the same kind of thing as a DB connection pool —
// active connections, queries (commands) in flight, latency, errors.
type PipelineMetrics struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	ReconnectsTotal   prometheus.Counter

	CommandsInflight prometheus.Gauge
	CommandDuration  *prometheus.HistogramVec // labels: opcode, outcome
	CommandsTotal    *prometheus.CounterVec    // labels: opcode, outcome

	NotMyVbucketTotal prometheus.Counter
}

// NewPipelineMetrics builds PipelineMetrics under namespace/subsystem
// "pipeline".
func NewPipelineMetrics(namespace string) *PipelineMetrics {
	const subsystem = "pipeline"
	return &PipelineMetrics{
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "connections_active",
			Help: "Number of live command-pipeline sockets.",
		}),
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "connections_total",
			Help: "Total command-pipeline sockets ever established.",
		}),
		ReconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "reconnects_total",
			Help: "Total command-pipeline reconnects after a socket error.",
		}),
		CommandsInflight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "commands_inflight",
			Help: "Number of commands awaiting a response across all pipelines.",
		}),
		CommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "command_duration_seconds",
			Help:    "Latency of a command from enqueue to response.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"opcode", "outcome"}),
		CommandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "commands_total",
			Help: "Total commands completed by opcode and outcome.",
		}, []string{"opcode", "outcome"}),
		NotMyVbucketTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "not_my_vbucket_total",
			Help: "Total NOT_MY_VBUCKET responses observed.",
		}),
	}
}

// RecordCommand records one completed command's latency and outcome.
func (m *PipelineMetrics) RecordCommand(opcode, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.CommandDuration.WithLabelValues(opcode, outcome).Observe(seconds)
	m.CommandsTotal.WithLabelValues(opcode, outcome).Inc()
}

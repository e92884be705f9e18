// Package metrics provides this client's Prometheus instrumentation.
//
// Metrics are organized by subsystem the way the teacher's registry
// organizes them by business/technical/infra category:
//   - Pipeline: per-node command socket activity (spec.md §4.2/§4.6)
//   - Confmon: config provider refresh activity (spec.md §4.4)
//   - Retry: retry queue admission/completion (spec.md §4.7)
//   - HTTP: outbound view/query/search/analytics/management calls (spec.md §4.8)
//
// All metrics follow the naming convention
// <namespace>_<subsystem>_<metric_name>_<unit>, e.g.
// lcb_pipeline_commands_inflight, lcb_retry_admitted_total.
package metrics

import "sync"

// Registry is the central registry for this client's Prometheus metrics,
// lazy-initialized per subsystem the way the teacher's MetricsRegistry is.
type Registry struct {
	namespace string

	pipeline *PipelineMetrics
	confmon  *ConfmonMetrics
	retry    *RetryMetrics
	http     *HTTPMetrics

	pipelineOnce sync.Once
	confmonOnce  sync.Once
	retryOnce    sync.Once
	httpOnce     sync.Once
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the global singleton Registry under the "lcb"
// namespace. Safe for concurrent use.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry("lcb")
	})
	return defaultRegistry
}

// NewRegistry creates a Registry under namespace. Most callers should use
// DefaultRegistry(); NewRegistry exists for tests and for instances that
// need an isolated metric namespace (e.g. multiple lcb instances in one
// process registering under distinct namespaces).
func NewRegistry(namespace string) *Registry {
	if namespace == "" {
		namespace = "lcb"
	}
	return &Registry{namespace: namespace}
}

// Namespace returns the configured Prometheus namespace.
func (r *Registry) Namespace() string { return r.namespace }

// Pipeline returns the lazy-initialized PipelineMetrics.
func (r *Registry) Pipeline() *PipelineMetrics {
	r.pipelineOnce.Do(func() { r.pipeline = NewPipelineMetrics(r.namespace) })
	return r.pipeline
}

// Confmon returns the lazy-initialized ConfmonMetrics.
func (r *Registry) Confmon() *ConfmonMetrics {
	r.confmonOnce.Do(func() { r.confmon = NewConfmonMetrics(r.namespace) })
	return r.confmon
}

// Retry returns the lazy-initialized RetryMetrics.
func (r *Registry) Retry() *RetryMetrics {
	r.retryOnce.Do(func() { r.retry = NewRetryMetrics(r.namespace) })
	return r.retry
}

// HTTP returns the lazy-initialized HTTPMetrics.
func (r *Registry) HTTP() *HTTPMetrics {
	r.httpOnce.Do(func() { r.http = NewHTTPMetricsWithNamespace(r.namespace, "http") })
	return r.http
}

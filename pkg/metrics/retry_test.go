package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetryMetricsLifecycle(t *testing.T) {
	m := NewRetryMetrics("lcb_test_retry")
	require.NotPanics(t, func() {
		m.RecordAdmit("sockerr")
		m.RecordBackoff("sockerr", 0.25)
		m.RecordCompletion("sockerr", "success", 3)
		m.QueueDepth.Set(5)
	})

	var nilMetrics *RetryMetrics
	require.NotPanics(t, func() {
		nilMetrics.RecordAdmit("sockerr")
		nilMetrics.RecordBackoff("sockerr", 0.25)
		nilMetrics.RecordCompletion("sockerr", "success", 3)
	})
}

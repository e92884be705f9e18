package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPipelineMetricsRecordCommand(t *testing.T) {
	m := NewPipelineMetrics("lcb_test_pipeline")
	require.NotPanics(t, func() {
		m.RecordCommand("GET", "success", 0.002)
		m.ConnectionsActive.Inc()
		m.CommandsInflight.Set(3)
	})

	var nilMetrics *PipelineMetrics
	require.NotPanics(t, func() { nilMetrics.RecordCommand("GET", "success", 0.002) })
}

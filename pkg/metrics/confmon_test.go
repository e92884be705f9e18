package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfmonMetricsRecordRefresh(t *testing.T) {
	m := NewConfmonMetrics("lcb_test_confmon")
	require.NotPanics(t, func() {
		m.RecordRefresh("cccp", "new_config", 0.01)
		m.ConfigRevision.Set(42)
		m.ProvidersCycled.Inc()
	})

	var nilMetrics *ConfmonMetrics
	require.NotPanics(t, func() { nilMetrics.RecordRefresh("cccp", "new_config", 0.01) })
}

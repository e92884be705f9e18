package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPMetricsBeginRecordsOnCompletion(t *testing.T) {
	m := NewHTTPMetricsWithNamespace("lcb_test_http", "http")
	done := m.Begin()
	require.NotPanics(t, func() { done("QUERY", 200) })
	m.RecordRedirect()
	require.NotNil(t, m.Handler())
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{200: "2xx", 301: "3xx", 404: "4xx", 500: "5xx", 0: "unknown"}
	for code, want := range cases {
		require.Equal(t, want, statusClass(code))
	}
}

package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistryDefaultsNamespace(t *testing.T) {
	r := NewRegistry("")
	require.Equal(t, "lcb", r.Namespace())
}

func TestRegistryLazyInitIsIdempotent(t *testing.T) {
	r := NewRegistry("lcb_test_registry")
	p1 := r.Pipeline()
	p2 := r.Pipeline()
	require.Same(t, p1, p2)

	c1 := r.Confmon()
	c2 := r.Confmon()
	require.Same(t, c1, c2)

	rt1 := r.Retry()
	rt2 := r.Retry()
	require.Same(t, rt1, rt2)

	h1 := r.HTTP()
	h2 := r.HTTP()
	require.Same(t, h1, h2)
}

func TestDefaultRegistrySingleton(t *testing.T) {
	require.Same(t, DefaultRegistry(), DefaultRegistry())
}

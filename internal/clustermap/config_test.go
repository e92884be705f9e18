package clustermap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigNewerThanByRevision(t *testing.T) {
	a := &Config{Rev: 1, RevEpoch: 0, CompareClock: 100}
	b := &Config{Rev: 2, RevEpoch: 0, CompareClock: 50}
	require.True(t, b.NewerThan(a))
	require.False(t, a.NewerThan(b))
}

func TestConfigNewerThanEpochWins(t *testing.T) {
	a := &Config{Rev: 100, RevEpoch: 1}
	b := &Config{Rev: 1, RevEpoch: 2}
	require.True(t, b.NewerThan(a))
}

func TestConfigNewerThanFallsBackToCompareClock(t *testing.T) {
	a := &Config{CompareClock: 10}
	b := &Config{CompareClock: 20}
	require.True(t, b.NewerThan(a))
	require.False(t, a.NewerThan(b))
}

func TestNodeForVBucket(t *testing.T) {
	c := &Config{VBucketMap: [][]int{{0, 1}, {1, 0}}}
	require.Equal(t, 0, c.NodeForVBucket(0, 0))
	require.Equal(t, 1, c.NodeForVBucket(0, 1))
	require.Equal(t, -1, c.NodeForVBucket(5, 0))
}

func TestServerListEqual(t *testing.T) {
	a := &Config{Nodes: []NodeInfo{{Hostname: "a", KVPort: 1}}}
	b := &Config{Nodes: []NodeInfo{{Hostname: "a", KVPort: 1}}}
	c := &Config{Nodes: []NodeInfo{{Hostname: "b", KVPort: 1}}}
	require.True(t, ServerListEqual(a, b))
	require.False(t, ServerListEqual(a, c))
}

func TestKetamaRingLookupStable(t *testing.T) {
	nodes := []NodeInfo{{Hostname: "a"}, {Hostname: "b"}, {Hostname: "c"}}
	ring := BuildKetamaRing(nodes)

	idx1 := ring.Lookup([]byte("some-key"))
	idx2 := ring.Lookup([]byte("some-key"))
	require.Equal(t, idx1, idx2)
	require.GreaterOrEqual(t, idx1, 0)
	require.Less(t, idx1, len(nodes))
}

func TestVBucketForKeyDeterministic(t *testing.T) {
	v1 := VBucketForKey([]byte("abc"), 1024)
	v2 := VBucketForKey([]byte("abc"), 1024)
	require.Equal(t, v1, v2)
	require.GreaterOrEqual(t, v1, 0)
	require.Less(t, v1, 1024)
}

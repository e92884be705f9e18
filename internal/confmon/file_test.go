package confmon

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/lcbgo/internal/clustermap"
)

func TestFileProviderRefreshMissingFileReturnsNil(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "missing.json"))
	cfg, err := p.Refresh(context.Background())
	require.NoError(t, err)
	require.Nil(t, cfg)
}

func TestFileProviderPersistThenRefreshRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	p := NewFileProvider(path)

	cfg := clustermap.NewConfig(1)
	cfg.Rev = 42
	cfg.Dist = clustermap.DistVBucket
	cfg.NumReplicas = 1
	cfg.VBucketMap = [][]int{{0, 1}}
	cfg.Nodes = []clustermap.NodeInfo{{Hostname: "node1", KVPort: 11210}}

	raw, err := MarshalForCache(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Persist(raw))

	got, err := p.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.EqualValues(t, 42, got.Rev)
	require.Equal(t, "node1", got.Nodes[0].Hostname)
	require.Equal(t, [][]int{{0, 1}}, got.VBucketMap)
}

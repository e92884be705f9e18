package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/lcbgo/internal/cache"
	"github.com/couchbase/lcbgo/internal/clustermap"
	"github.com/couchbase/lcbgo/internal/ioloop"
	"github.com/couchbase/lcbgo/internal/memd"
	"github.com/couchbase/lcbgo/internal/netpool"
	"github.com/couchbase/lcbgo/internal/pipeline"
)

func seedGuess(t *testing.T, q *Queue, vb uint16, g vbGuess, ttl time.Duration) {
	t.Helper()
	require.NoError(t, cache.SetJSON(context.Background(), q.guesses, vbGuessKey(vb), g, ttl))
}

func fakeFactory(t *testing.T) PipelineFactory {
	loop := ioloop.New()
	pool := netpool.New[*pipeline.PooledSocket](1, time.Minute, pipeline.NewDialer(loop, time.Second, nil, pipeline.NegotiateOptions{}), nil)
	t.Cleanup(pool.Close)
	calls := 0
	return func(cfg *clustermap.Config, idx int) *pipeline.Pipeline {
		calls++
		return pipeline.New(idx, loop, pool, pipeline.Options{Host: cfg.Nodes[idx].Hostname})
	}
}

func twoNodeConfig(rev int64) *clustermap.Config {
	cfg := clustermap.NewConfig(rev)
	cfg.Rev = rev
	cfg.Dist = clustermap.DistVBucket
	cfg.Nodes = []clustermap.NodeInfo{{Hostname: "a", KVPort: 1}, {Hostname: "b", KVPort: 2}}
	cfg.VBucketMap = [][]int{{0}, {1}, {0}, {1}}
	return cfg
}

func TestResolveUsesVBucketMapByDefault(t *testing.T) {
	q := New(fakeFactory(t), nil, nil, nil)
	q.UpdateConfig(twoNodeConfig(1))

	require.Equal(t, 0, q.Resolve(0))
	require.Equal(t, 1, q.Resolve(1))
}

func TestResolveUsesFreshGuessOverMap(t *testing.T) {
	q := New(fakeFactory(t), nil, nil, nil)
	q.UpdateConfig(twoNodeConfig(1))

	seedGuess(t, q, 0, vbGuess{NodeIdx: 1}, vbGuessTTL)
	require.Equal(t, 1, q.Resolve(0))
}

func TestResolveIgnoresExpiredGuess(t *testing.T) {
	q := New(fakeFactory(t), nil, nil, nil)
	q.UpdateConfig(twoNodeConfig(1))

	seedGuess(t, q, 0, vbGuess{NodeIdx: 1}, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 0, q.Resolve(0))
}

func TestOnNotMyVbucketRecordsGuessAndTriggersRefresh(t *testing.T) {
	refreshed := make(chan struct{}, 1)
	q := New(fakeFactory(t), func() { refreshed <- struct{}{} }, func(p *memd.Packet, err error) {}, nil)
	q.UpdateConfig(twoNodeConfig(1))

	pkt := &memd.Packet{Opcode: memd.OpGet, VBucket: 2, PipelineIdx: 0}
	q.OnNotMyVbucket(pkt)

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("refresh was never requested")
	}
	require.Equal(t, 1, q.Resolve(2), "guess should point at the next node after the one that rejected it")
}

func TestOnNotMyVbucketForwardsPiggybackedConfigBody(t *testing.T) {
	q := New(fakeFactory(t), func() {}, func(p *memd.Packet, err error) {}, nil)
	q.UpdateConfig(twoNodeConfig(1))

	var gotData []byte
	var gotHost string
	q.OnNMVConfig(func(data []byte, hostOverride string) {
		gotData = data
		gotHost = hostOverride
	})

	pkt := &memd.Packet{Opcode: memd.OpGet, VBucket: 2, PipelineIdx: 0, Value: []byte(`{"rev":2}`)}
	q.OnNotMyVbucket(pkt)

	require.Equal(t, `{"rev":2}`, string(gotData))
	require.Equal(t, "a", gotHost, "host override should be the pipeline that sent the NMV reply")
}

func TestOnNotMyVbucketSkipsCallbackWhenBodyEmpty(t *testing.T) {
	q := New(fakeFactory(t), func() {}, func(p *memd.Packet, err error) {}, nil)
	q.UpdateConfig(twoNodeConfig(1))

	called := false
	q.OnNMVConfig(func(data []byte, hostOverride string) { called = true })

	pkt := &memd.Packet{Opcode: memd.OpGet, VBucket: 2, PipelineIdx: 0}
	q.OnNotMyVbucket(pkt)

	require.False(t, called, "no piggybacked body means no callback invocation")
}

func TestDispatchFallsBackToMissingNodeWhenGuessOutlivesTopology(t *testing.T) {
	q := New(fakeFactory(t), func() {}, func(p *memd.Packet, err error) {}, nil)
	q.UpdateConfig(twoNodeConfig(1))

	// A guess pointing at a node index that no longer exists after a
	// rebalance shrinks the topology down to a single node.
	seedGuess(t, q, 0, vbGuess{NodeIdx: 5}, vbGuessTTL)
	cfg := clustermap.NewConfig(2)
	cfg.Rev = 2
	cfg.Dist = clustermap.DistVBucket
	cfg.Nodes = []clustermap.NodeInfo{{Hostname: "a", KVPort: 1}}
	cfg.VBucketMap = [][]int{{0}}
	q.UpdateConfig(cfg)

	require.NotPanics(t, func() {
		err := q.Dispatch(context.Background(), &memd.Packet{Opcode: memd.OpGet, VBucket: 0})
		require.NoError(t, err)
	})
}

func TestUpdateConfigReusesUnchangedPipelinesAndClosesDropped(t *testing.T) {
	q := New(fakeFactory(t), nil, nil, nil)
	q.UpdateConfig(twoNodeConfig(1))

	q.mu.RLock()
	firstA := q.pipelines[0]
	firstB := q.pipelines[1]
	q.mu.RUnlock()

	cfg2 := clustermap.NewConfig(2)
	cfg2.Rev = 2
	cfg2.Dist = clustermap.DistVBucket
	cfg2.Nodes = []clustermap.NodeInfo{{Hostname: "a", KVPort: 1}, {Hostname: "c", KVPort: 3}}
	cfg2.VBucketMap = [][]int{{0}, {1}}
	q.UpdateConfig(cfg2)

	q.mu.RLock()
	secondA := q.pipelines[0]
	secondB := q.pipelines[1]
	q.mu.RUnlock()

	require.Same(t, firstA, secondA, "unchanged node must keep its pipeline")
	require.NotSame(t, firstB, secondB, "changed node must get a new pipeline")
}

package confmon

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/lcbgo/internal/clustermap"
)

type fakeProvider struct {
	baseProvider
	name    string
	configs []*clustermap.Config
	calls   int
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Shutdown()    {}
func (f *fakeProvider) Dump(io.Writer) {}
func (f *fakeProvider) Refresh(ctx context.Context) (*clustermap.Config, error) {
	if f.calls >= len(f.configs) {
		return nil, nil
	}
	cfg := f.configs[f.calls]
	f.calls++
	return cfg, nil
}

func TestMonitorPicksNewestAcrossProviders(t *testing.T) {
	stale := &clustermap.Config{Rev: 1}
	fresh := &clustermap.Config{Rev: 5}

	p1 := &fakeProvider{name: "p1", configs: []*clustermap.Config{stale}}
	p2 := &fakeProvider{name: "p2", configs: []*clustermap.Config{fresh}}

	m := New([]Provider{p1, p2}, Options{IterGrace: 10 * time.Millisecond})

	gotNew := make(chan *clustermap.Config, 4)
	m.Subscribe(func(ev Event, cfg *clustermap.Config) {
		if ev == EventGotNewConfig {
			gotNew <- cfg
		}
	})

	m.RequestRefresh(context.Background())

	select {
	case cfg := <-gotNew:
		require.EqualValues(t, 5, cfg.Rev)
	case <-time.After(time.Second):
		t.Fatal("monitor never emitted GOT_NEW_CONFIG")
	}
	require.EqualValues(t, 5, m.Current().Rev)
}

func TestMonitorCoalescesConcurrentRefreshes(t *testing.T) {
	p1 := &fakeProvider{name: "p1", configs: []*clustermap.Config{{Rev: 1}}}
	m := New([]Provider{p1}, Options{IterGrace: 10 * time.Millisecond})

	cycles := make(chan struct{}, 8)
	m.Subscribe(func(ev Event, cfg *clustermap.Config) {
		if ev == EventProvidersCycled {
			cycles <- struct{}{}
		}
	})

	m.RequestRefresh(context.Background())
	m.RequestRefresh(context.Background()) // should be a no-op: state already ACTIVE

	require.Eventually(t, func() bool {
		return len(cycles) >= 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, p1.calls, "second concurrent RequestRefresh must not start its own cycle")
}

func TestMonitorStopEmitsStoppedAndShutsDownProviders(t *testing.T) {
	p1 := &fakeProvider{name: "p1"}
	m := New([]Provider{p1}, Options{})

	stopped := make(chan struct{}, 1)
	m.Subscribe(func(ev Event, cfg *clustermap.Config) {
		if ev == EventMonitorStopped {
			close(stopped)
		}
	})

	m.Stop()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("MONITOR_STOPPED never fired")
	}
}

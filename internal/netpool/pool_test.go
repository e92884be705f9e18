package netpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	closed bool
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestPoolAcquireReleaseReuse(t *testing.T) {
	dialCount := 0
	p := New[*fakeConn](2, time.Minute, func(ctx context.Context, key string) (*fakeConn, error) {
		dialCount++
		return &fakeConn{}, nil
	}, nil)

	c1, err := p.Acquire(context.Background(), "a:1")
	require.NoError(t, err)
	p.Release("a:1", c1, true)

	c2, err := p.Acquire(context.Background(), "a:1")
	require.NoError(t, err)
	require.Same(t, c1, c2)
	require.Equal(t, 1, dialCount)
}

func TestPoolDiscardOnError(t *testing.T) {
	p := New[*fakeConn](2, time.Minute, func(ctx context.Context, key string) (*fakeConn, error) {
		return &fakeConn{}, nil
	}, nil)

	c1, _ := p.Acquire(context.Background(), "a:1")
	p.Release("a:1", c1, false)
	require.True(t, c1.closed)
	require.Equal(t, Stats{TotalConns: 0, IdleConns: 0, StaleConns: 0}, p.Stats())
}

func TestPoolEvictsStaleIdle(t *testing.T) {
	p := New[*fakeConn](2, time.Millisecond, func(ctx context.Context, key string) (*fakeConn, error) {
		return &fakeConn{}, nil
	}, nil)

	c1, _ := p.Acquire(context.Background(), "a:1")
	p.Release("a:1", c1, true)
	time.Sleep(5 * time.Millisecond)

	c2, err := p.Acquire(context.Background(), "a:1")
	require.NoError(t, err)
	require.NotSame(t, c1, c2)
	require.True(t, c1.closed)
}

func TestPoolMaxIdleCap(t *testing.T) {
	p := New[*fakeConn](1, time.Minute, func(ctx context.Context, key string) (*fakeConn, error) {
		return &fakeConn{}, nil
	}, nil)

	c1, _ := p.Acquire(context.Background(), "a:1")
	c2, _ := p.Acquire(context.Background(), "a:1")
	p.Release("a:1", c1, true)
	p.Release("a:1", c2, true) // over cap, discarded
	require.True(t, c2.closed)
	require.Equal(t, 1, p.Stats().IdleConns)
}

package retry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cberrors "github.com/couchbase/lcbgo/internal/errors"
	"github.com/couchbase/lcbgo/internal/memd"
)

type fakeDispatcher struct {
	mu        sync.Mutex
	resolve   map[uint16]int
	refreshing bool
	flushed   []int
}

func (f *fakeDispatcher) Resolve(vb uint16) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx, ok := f.resolve[vb]; ok {
		return idx
	}
	return -1
}

func (f *fakeDispatcher) Flush(idx int, p *memd.Packet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed = append(f.flushed, idx)
}

func (f *fakeDispatcher) ConfigRefreshing() bool { return f.refreshing }

func TestAdmitRejectsNonRetryableOpcode(t *testing.T) {
	disp := &fakeDispatcher{resolve: map[uint16]int{}}
	q := New(DefaultPolicy(), disp, func(p *memd.Packet, err error) {}, nil, nil)

	admitted := q.Admit(&memd.Packet{Opcode: memd.OpStat}, ClassSockErr, nil, memd.StatusSuccess, time.Time{}, nil, true)
	require.False(t, admitted)
}

func TestAdmitRejectsModeNone(t *testing.T) {
	disp := &fakeDispatcher{resolve: map[uint16]int{}}
	policy := DefaultPolicy()
	policy.Modes[ClassMissingNode] = ModeNone
	q := New(policy, disp, func(p *memd.Packet, err error) {}, nil, nil)

	admitted := q.Admit(&memd.Packet{Opcode: memd.OpGet}, ClassMissingNode, nil, memd.StatusSuccess, time.Time{}, nil, true)
	require.False(t, admitted)
}

func TestTickRetriesWhenMasterResolved(t *testing.T) {
	disp := &fakeDispatcher{resolve: map[uint16]int{5: 2}}
	done := make(chan struct{}, 1)
	q := New(DefaultPolicy(), disp, func(p *memd.Packet, err error) {
		done <- struct{}{}
	}, nil, nil)

	p := &memd.Packet{Opcode: memd.OpGet, VBucket: 5}
	ok := q.Admit(p, ClassVBMapErr, cberrors.ErrNotMyVbucket, memd.StatusNotMyVbucket, time.Time{}, nil, true)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		disp.mu.Lock()
		defer disp.mu.Unlock()
		return len(disp.flushed) == 1
	}, time.Second, time.Millisecond)
	require.Equal(t, 2, disp.flushed[0])
}

func TestTickFailsOnDeadline(t *testing.T) {
	disp := &fakeDispatcher{resolve: map[uint16]int{}}
	var gotErr error
	var mu sync.Mutex
	q := New(DefaultPolicy(), disp, func(p *memd.Packet, err error) {
		mu.Lock()
		gotErr = err
		mu.Unlock()
	}, nil, nil)

	p := &memd.Packet{Opcode: memd.OpGet, VBucket: 1}
	deadline := time.Now().Add(5 * time.Millisecond)
	ok := q.Admit(p, ClassSockErr, cberrors.ErrConnectFailed, memd.StatusSuccess, deadline, nil, true)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotErr != nil
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, cberrors.ErrConnectFailed, gotErr, "original error must survive, not be overwritten by TIMEOUT")
}

func TestAdmitPreservesEarlierErrorAcrossReAdmission(t *testing.T) {
	disp := &fakeDispatcher{resolve: map[uint16]int{}}
	q := New(DefaultPolicy(), disp, func(p *memd.Packet, err error) {}, nil, nil)

	p := &memd.Packet{Opcode: memd.OpGet, VBucket: 3}
	ok := q.Admit(p, ClassVBMapErr, cberrors.ErrNotMyVbucket, memd.StatusNotMyVbucket, time.Time{}, nil, true)
	require.True(t, ok)

	// Simulate the packet being flushed back out and then the pipeline
	// timing out before a reply arrives: it re-enters Admit with a less
	// specific error, which must not overwrite the NMV error.
	ok = q.Admit(p, ClassSockErr, cberrors.ErrTimeout, memd.StatusSuccess, time.Time{}, nil, true)
	require.True(t, ok)

	q.mu.Lock()
	var op *Op
	for _, o := range q.byTry {
		if o.Packet == p {
			op = o
		}
	}
	q.mu.Unlock()
	require.NotNil(t, op)
	require.Equal(t, cberrors.ErrNotMyVbucket, op.OrigErr)
}

func TestRetrySpecOverridesBackoff(t *testing.T) {
	disp := &fakeDispatcher{resolve: map[uint16]int{}}
	q := New(DefaultPolicy(), disp, func(p *memd.Packet, err error) {}, nil, nil)

	spec := &RetrySpec{Intervals: []time.Duration{time.Hour}}
	p := &memd.Packet{Opcode: memd.OpGet}
	before := time.Now()
	q.Admit(p, ClassSockErr, nil, memd.StatusSuccess, time.Time{}, spec, true)

	q.mu.Lock()
	op := q.byTry[0]
	q.mu.Unlock()
	require.True(t, op.TryTime.Sub(before) >= 59*time.Minute)
}

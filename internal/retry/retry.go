// Package retry implements the RetryQueue: detached packets awaiting
// re-dispatch, ordered by both next-attempt time and absolute deadline
// (spec.md §3, §4.7). The two teacher-grounded ideas this package reuses
// are internal/core/resilience/retry.go's backoff/jitter calculation and
// its "never let TIMEOUT overwrite a more specific error" rule.
package retry

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	cberrors "github.com/couchbase/lcbgo/internal/errors"
	"github.com/couchbase/lcbgo/internal/memd"
)

// origErrExtKey is the packet extension datum key (spec.md §4.1/§9) used to
// carry a packet's first-observed, non-timeout retry error across however
// many times it sojourns through the retry queue, so a later re-admission
// with a less specific error (typically ErrTimeout, from a pipeline failing
// while the packet was queued) never overwrites it — spec.md §4.7 "error
// preservation".
const origErrExtKey = "retry.origerr"

// origErrDatum is the value stored under origErrExtKey.
type origErrDatum struct {
	err    error
	status memd.Status
}

// Class is the retry-policy class an operation belongs to (spec.md §6:
// retry_policy option grammar "mode : class").
type Class int

const (
	ClassTopoChange Class = iota
	ClassSockErr
	ClassVBMapErr
	ClassMissingNode
)

// Mode is how aggressively a Class is retried.
type Mode int

const (
	ModeNone Mode = iota
	ModeSafe
	ModeGet
	ModeAll
)

// Policy maps each Class to a Mode, plus the base backoff parameters used
// when no error-map RetrySpec is attached.
type Policy struct {
	Modes          map[Class]Mode
	BaseInterval   time.Duration
	BackoffFactor  float64
	MaxInterval    time.Duration
	NMVRetryImmediate bool
}

// DefaultPolicy mirrors the teacher's DefaultRetryPolicy() defaults
// (internal/core/resilience/retry.go), translated into the KV-client's
// per-class terms.
func DefaultPolicy() Policy {
	return Policy{
		Modes: map[Class]Mode{
			ClassTopoChange:  ModeAll,
			ClassSockErr:     ModeAll,
			ClassVBMapErr:    ModeAll,
			ClassMissingNode: ModeSafe,
		},
		BaseInterval:      10 * time.Millisecond,
		BackoffFactor:     2.0,
		MaxInterval:       2 * time.Second,
		NMVRetryImmediate: true,
	}
}

// RetrySpec is an error-map-provided retry schedule (spec.md §4.7,
// glossary "Error-map"). When present it overrides policy-computed
// backoff, per SPEC_FULL.md Open Question (b).
type RetrySpec struct {
	Intervals   []time.Duration
	MaxDuration time.Duration
}

// Op is spec.md's RetryOp: a detached packet plus scheduling/error state.
type Op struct {
	Packet      *memd.Packet
	Start       time.Time
	Deadline    time.Time // zero = no deadline
	TryTime     time.Time
	Class       Class
	OrigErr     error
	OrigStatus  memd.Status
	Spec        *RetrySpec
	attempt     int

	tryIdx      int // heap index, by-trytime
	deadlineIdx int // heap index, by-deadline
}

// Dispatcher is how the retry queue hands a ready packet back to routing.
// Resolve returns the pipeline index that currently owns vb, or -1 if none
// is known. Flush re-submits the packet on that pipeline.
type Dispatcher interface {
	Resolve(vb uint16) int
	Flush(pipelineIdx int, p *memd.Packet)
	ConfigRefreshing() bool
}

// CompletionFunc is invoked exactly once per Op, either on success (handled
// upstream, not by the queue) or on terminal failure.
type CompletionFunc func(p *memd.Packet, err error)

// Queue is spec.md's RetryQueue.
type Queue struct {
	mu       sync.Mutex
	byTry    tryHeap
	byDead   deadlineHeap
	policy   Policy
	disp     Dispatcher
	complete CompletionFunc
	logger   *slog.Logger
	timer    *time.Timer
	closed   bool
	now      func() time.Time
}

// New creates a Queue. now defaults to time.Now but can be overridden in
// tests to control deadline drift (spec.md §4.7 "Reset on deadline drift").
func New(policy Policy, disp Dispatcher, complete CompletionFunc, logger *slog.Logger, now func() time.Time) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	q := &Queue{
		policy:   policy,
		disp:     disp,
		complete: complete,
		logger:   logger.With("component", "retryqueue"),
		now:      now,
	}
	heap.Init(&q.byTry)
	heap.Init(&q.byDead)
	return q
}

// eligibleOpcode implements spec.md §4.7's per-opcode retry-eligibility
// rules: GETs always, writes configurable, STAT/OBSERVE never,
// SELECT_BUCKET/GET_CLUSTER_CONFIG never via the retry queue.
func eligibleOpcode(op memd.Opcode, allowWrites bool) bool {
	switch op {
	case memd.OpStat, memd.OpObserve, memd.OpSelectBucket, memd.OpGetClusterCfg:
		return false
	case memd.OpGet, memd.OpGetQ, memd.OpGetK, memd.OpGetKQ, memd.OpGetReplica, memd.OpGetLocked:
		return true
	default:
		return allowWrites
	}
}

// preserveOrigErr implements spec.md §4.7's error-preservation rule: the
// first non-timeout error this packet was admitted with sticks for the
// packet's whole retry lifetime, even across a later admission (e.g. a
// pipeline timeout while the packet was sitting in the queue) that would
// otherwise overwrite it with something less specific.
func preserveOrigErr(p *memd.Packet, origErr error, origStatus memd.Status) (error, memd.Status) {
	if v, ok := p.GetExt(origErrExtKey); ok {
		if prev, ok := v.(*origErrDatum); ok && prev.err != nil {
			return prev.err, prev.status
		}
	}
	if origErr != nil && !errors.Is(origErr, cberrors.ErrTimeout) {
		p.PutExt(origErrExtKey, &origErrDatum{err: origErr, status: origStatus}, nil)
	}
	return origErr, origStatus
}

// Admit implements spec.md §4.7's admission policy. It returns false when
// the packet must instead be failed immediately.
func (q *Queue) Admit(p *memd.Packet, class Class, origErr error, origStatus memd.Status, deadline time.Time, spec *RetrySpec, allowWrites bool) bool {
	mode, ok := q.policy.Modes[class]
	if !ok || mode == ModeNone {
		return false
	}
	if !eligibleOpcode(p.Opcode, allowWrites) {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}

	now := q.now()
	origErr, origStatus = preserveOrigErr(p, origErr, origStatus)
	op := &Op{
		Packet:      p,
		Start:       now,
		Deadline:    deadline,
		Class:       class,
		OrigErr:     origErr,
		OrigStatus:  origStatus,
		Spec:        spec,
		tryIdx:      -1,
		deadlineIdx: -1,
	}
	if spec != nil && spec.MaxDuration > 0 {
		specDeadline := now.Add(spec.MaxDuration)
		if op.Deadline.IsZero() || specDeadline.Before(op.Deadline) {
			op.Deadline = specDeadline
		}
	}

	if class == ClassVBMapErr && q.policy.NMVRetryImmediate {
		op.TryTime = now
	} else {
		op.TryTime = now.Add(q.nextInterval(op))
	}

	heap.Push(&q.byTry, op)
	if !op.Deadline.IsZero() {
		heap.Push(&q.byDead, op)
	}
	q.rearmLocked()
	return true
}

// nextInterval computes the next backoff, honouring an attached RetrySpec
// over the policy's linear backoff: BaseInterval × (attempt+1) ×
// BackoffFactor, capped at MaxInterval, plus up to 10% jitter
// (SPEC_FULL.md Open Question b).
func (q *Queue) nextInterval(op *Op) time.Duration {
	if op.Spec != nil && len(op.Spec.Intervals) > 0 {
		idx := op.attempt
		if idx >= len(op.Spec.Intervals) {
			idx = len(op.Spec.Intervals) - 1
		}
		return op.Spec.Intervals[idx]
	}
	d := time.Duration(float64(q.policy.BaseInterval) * float64(op.attempt+1) * q.policy.BackoffFactor)
	if d > q.policy.MaxInterval {
		d = q.policy.MaxInterval
	}
	jitter := time.Duration(rand.Int63n(int64(d/10) + 1))
	return d + jitter
}

// rearmLocked arms the single timer at min(next trytime, next deadline),
// per spec.md §4.7. Caller must hold q.mu.
func (q *Queue) rearmLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	if q.byTry.Len() == 0 && q.byDead.Len() == 0 {
		return
	}
	var next time.Time
	if q.byTry.Len() > 0 {
		next = q.byTry[0].TryTime
	}
	if q.byDead.Len() > 0 {
		d := q.byDead[0].Deadline
		if next.IsZero() || d.Before(next) {
			next = d
		}
	}
	delay := next.Sub(q.now())
	if delay < 0 {
		delay = 0
	}
	q.timer = time.AfterFunc(delay, q.tick)
}

// tick is spec.md §4.7's timer-fire algorithm.
func (q *Queue) tick() {
	now := q.now()

	var toFail []*Op
	var toRetry []*Op

	q.mu.Lock()
	for q.byDead.Len() > 0 && !q.byDead[0].Deadline.After(now) {
		op := heap.Pop(&q.byDead).(*Op)
		q.removeFromTryHeapLocked(op)
		toFail = append(toFail, op)
	}
	for q.byTry.Len() > 0 && !q.byTry[0].TryTime.After(now) {
		op := heap.Pop(&q.byTry).(*Op)
		toRetry = append(toRetry, op)
	}
	q.rearmLocked()
	q.mu.Unlock()

	for _, op := range toFail {
		err := op.OrigErr
		if err == nil {
			err = cberrors.ErrTimeout
		}
		q.complete(op.Packet, err)
	}

	for _, op := range toRetry {
		idx := q.disp.Resolve(op.Packet.VBucket)
		if idx >= 0 {
			q.removeFromDeadlineHeap(op)
			op.Packet.Clear(memd.FlagDetached)
			q.disp.Flush(idx, op.Packet)
			continue
		}
		if q.disp.ConfigRefreshing() || q.policy.Modes[ClassMissingNode] != ModeNone {
			op.attempt++
			q.mu.Lock()
			op.TryTime = now.Add(q.nextInterval(op))
			heap.Push(&q.byTry, op)
			q.rearmLocked()
			q.mu.Unlock()
			continue
		}
		q.removeFromDeadlineHeap(op)
		q.complete(op.Packet, cberrors.ErrNoMatchingServer)
	}
}

func (q *Queue) removeFromTryHeapLocked(op *Op) {
	if op.tryIdx >= 0 && op.tryIdx < q.byTry.Len() && q.byTry[op.tryIdx] == op {
		heap.Remove(&q.byTry, op.tryIdx)
	}
}

func (q *Queue) removeFromDeadlineHeap(op *Op) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if op.deadlineIdx >= 0 && op.deadlineIdx < q.byDead.Len() && q.byDead[op.deadlineIdx] == op {
		heap.Remove(&q.byDead, op.deadlineIdx)
	}
}

// RebaseDeadlines shifts every pending op's deadline by delta, preserving
// relative durations, per spec.md §4.7 "Reset on deadline drift".
func (q *Queue) RebaseDeadlines(delta time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, op := range q.byDead {
		op.Deadline = op.Deadline.Add(delta)
	}
	heap.Init(&q.byDead)
	q.rearmLocked()
}

// Len reports the number of ops currently pending retry.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.byTry.Len()
}

// Close stops the timer and fails every pending op, used during instance
// teardown.
func (q *Queue) Close(ctx context.Context) {
	q.mu.Lock()
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
	}
	all := append([]*Op(nil), q.byTry...)
	q.byTry = nil
	q.byDead = nil
	q.mu.Unlock()

	for _, op := range all {
		q.complete(op.Packet, cberrors.ErrDestroying)
	}
}

// tryHeap orders Ops by TryTime ascending.
type tryHeap []*Op

func (h tryHeap) Len() int            { return len(h) }
func (h tryHeap) Less(i, j int) bool  { return h[i].TryTime.Before(h[j].TryTime) }
func (h tryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].tryIdx = i
	h[j].tryIdx = j
}
func (h *tryHeap) Push(x interface{}) {
	op := x.(*Op)
	op.tryIdx = len(*h)
	*h = append(*h, op)
}
func (h *tryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	op := old[n-1]
	old[n-1] = nil
	op.tryIdx = -1
	*h = old[:n-1]
	return op
}

// deadlineHeap orders Ops by Deadline ascending.
type deadlineHeap []*Op

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].Deadline.Before(h[j].Deadline) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].deadlineIdx = i
	h[j].deadlineIdx = j
}
func (h *deadlineHeap) Push(x interface{}) {
	op := x.(*Op)
	op.deadlineIdx = len(*h)
	*h = append(*h, op)
}
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	op := old[n-1]
	old[n-1] = nil
	op.deadlineIdx = -1
	*h = old[:n-1]
	return op
}

package instance

import "sync/atomic"

// PendingOps tracks the four categories of outstanding asynchronous work
// spec.md §4.9 names explicitly for the Instance to hold: timers, HTTP
// requests, durability polls, and counter (INCREMENT/DECREMENT) ops.
// Ordinary KV ops are tracked by the pipeline's own packet log instead —
// these four exist because each lives outside that log (a time.Timer, an
// internal/httpclient.Request, a durability re-poll loop, or a detached
// counter retry) and so needs its own refcount, which Destroy reads to log a
// warning when such work is still outstanding.
type PendingOps struct {
	timer      atomic.Int64
	http       atomic.Int64
	durability atomic.Int64
	counter    atomic.Int64
}

// Category names the four pending-op buckets.
type Category int

const (
	CategoryTimer Category = iota
	CategoryHTTP
	CategoryDurability
	CategoryCounter
)

func (c Category) counterFor(p *PendingOps) *atomic.Int64 {
	switch c {
	case CategoryTimer:
		return &p.timer
	case CategoryHTTP:
		return &p.http
	case CategoryDurability:
		return &p.durability
	case CategoryCounter:
		return &p.counter
	default:
		return &p.timer
	}
}

// Begin increments cat's counter, returning an End func to call on
// completion — mirrors the teacher's metrics Begin()/end-closure pattern in
// pkg/metrics/prometheus.go, reused here for lifecycle bookkeeping instead
// of latency.
func (p *PendingOps) Begin(cat Category) func() {
	c := cat.counterFor(p)
	c.Add(1)
	done := false
	return func() {
		if done {
			return
		}
		done = true
		c.Add(-1)
	}
}

// Counts returns a snapshot of all four counters.
func (p *PendingOps) Counts() (timer, http, durability, counter int64) {
	return p.timer.Load(), p.http.Load(), p.durability.Load(), p.counter.Load()
}

// Total returns the sum of all four counters, used by Destroy to log a
// warning when async work is still outstanding; Destroy does not wait for it.
func (p *PendingOps) Total() int64 {
	t, h, d, c := p.Counts()
	return t + h + d + c
}

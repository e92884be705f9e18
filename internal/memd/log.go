package memd

import (
	"container/list"
)

// Log is the per-pipeline in-flight packet log: a FIFO ordered by opaque
// with O(1) amortised find/remove (spec.md §4.1). Opaques on a pipeline are
// allocated by AllocateOpaque and are strictly monotonic, satisfying the
// ordering invariant in spec.md §8.
type Log struct {
	order   *list.List
	byOp    map[uint32]*list.Element
	nextOp  uint32
	pending [][]byte // scatter buffers not yet flushed
}

// NewLog creates an empty packet log.
func NewLog() *Log {
	return &Log{
		order: list.New(),
		byOp:  make(map[uint32]*list.Element),
	}
}

// AllocateOpaque reserves the next monotonic opaque for this pipeline.
func (l *Log) AllocateOpaque() uint32 {
	l.nextOp++
	return l.nextOp
}

// Enqueue appends packet to the in-flight log.
func (l *Log) Enqueue(p *Packet) {
	p.Set(0) // no-op, keeps symmetry with other log ops
	el := l.order.PushBack(p)
	l.byOp[p.Opaque] = el
}

// Find locates an in-flight packet by opaque.
func (l *Log) Find(opaque uint32) (*Packet, bool) {
	el, ok := l.byOp[opaque]
	if !ok {
		return nil, false
	}
	return el.Value.(*Packet), true
}

// Remove detaches the packet identified by opaque from the log. It is a
// no-op if the opaque is unknown (e.g. already removed).
func (l *Log) Remove(opaque uint32) (*Packet, bool) {
	el, ok := l.byOp[opaque]
	if !ok {
		return nil, false
	}
	delete(l.byOp, opaque)
	l.order.Remove(el)
	return el.Value.(*Packet), true
}

// Len reports the number of in-flight packets.
func (l *Log) Len() int { return l.order.Len() }

// Handled completes a streaming-response packet (e.g. the empty-key STAT
// terminator) and removes it from the log, matching the request it answers
// by opaque. It is a no-op if the opaque is unknown, consistent with Remove.
func (l *Log) Handled(opaque uint32) (*Packet, bool) {
	return l.Remove(opaque)
}

// Oldest returns the packet that has been in flight longest (front of the
// FIFO).
func (l *Log) Oldest() (*Packet, bool) {
	el := l.order.Front()
	if el == nil {
		return nil, false
	}
	return el.Value.(*Packet), true
}

// Each iterates the log in opaque/FIFO order. fn returning false stops
// iteration early.
func (l *Log) Each(fn func(*Packet) bool) {
	for el := l.order.Front(); el != nil; {
		next := el.Next()
		if !fn(el.Value.(*Packet)) {
			return
		}
		el = next
	}
}

// DrainAll removes and returns every packet still in the log, in FIFO
// order, used by fail_chain (spec.md §4.2) when a pipeline fails.
func (l *Log) DrainAll() []*Packet {
	out := make([]*Packet, 0, l.order.Len())
	for el := l.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Packet))
	}
	l.order.Init()
	l.byOp = make(map[uint32]*list.Element)
	return out
}

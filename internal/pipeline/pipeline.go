// Package pipeline implements the per-server command pipeline: the packet
// log, the connect/negotiate/flush/read state machine, and the fail-chain
// path that hands still-retryable packets off to package retry. This is the
// Go-native form of spec.md's [Pipeline / Server] module, grounded on the
// teacher's PostgresPool (internal/database/postgres/pool.go) for the
// connect/health-check shape and on internal/realtime/bus.go for the
// goroutine-driven read loop.
package pipeline

import (
	"bufio"
	"container/list"
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	cberrors "github.com/couchbase/lcbgo/internal/errors"
	"github.com/couchbase/lcbgo/internal/ioloop"
	"github.com/couchbase/lcbgo/internal/memd"
	"github.com/couchbase/lcbgo/internal/netpool"
)

// State is the pipeline connection state (spec.md §4.2).
type State int

const (
	StateClean State = iota
	StateErrDrain
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "CLEAN"
	case StateErrDrain:
		return "ERRDRAIN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// PooledSocket is the connection type held by the memcached netpool.Pool: a
// raw socket plus whatever session (HELLO features, SASL mechanism, selected
// bucket) was negotiated on it at dial time.
type PooledSocket struct {
	*ioloop.SocketContext
	Session *SessionInfo
	// Reader is the buffered reader Negotiate used; the read loop must
	// keep reading through it rather than the raw net.Conn; see Negotiate.
	Reader *bufio.Reader
}

// FailChainFunc receives the packets drained from a failed pipeline, for the
// caller (normally the dispatch layer) to route into package retry.
type FailChainFunc func(pkts []*memd.Packet, err error)

// ResponseFunc receives a matched response packet.
type ResponseFunc func(p *memd.Packet)

// Options configures a Pipeline.
type Options struct {
	Host          string
	TLSConfig     *tls.Config
	IOTimeout     time.Duration
	ConnectTimeout time.Duration
	Negotiate     NegotiateOptions
	OnFailChain   FailChainFunc
	OnResponse    ResponseFunc
	OnNotMyVbucket func(p *memd.Packet)
	Logger        *slog.Logger
}

// Pipeline is one server's command channel: spec.md's mcreq pipeline plus
// the server-side connect/negotiate/flush/read machinery.
type Pipeline struct {
	Idx  int
	Host string

	loop *ioloop.Loop
	pool *netpool.Pool[*PooledSocket]
	opts Options

	mu      sync.Mutex
	log     *memd.Log
	pending *list.List // FIFO of *memd.Packet not yet written to the socket
	conn    *PooledSocket
	state   State
	ioTimer ioloop.TimerHandle
	closed  bool

	logger *slog.Logger
}

// New builds a Pipeline for one server. pool is shared across pipelines that
// talk to different hosts but want a single idle-connection budget; its
// Dialer is expected to call Negotiate (see NewDialer below).
func New(idx int, loop *ioloop.Loop, pool *netpool.Pool[*PooledSocket], opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.IOTimeout == 0 {
		opts.IOTimeout = 2500 * time.Millisecond
	}
	return &Pipeline{
		Idx:     idx,
		Host:    opts.Host,
		loop:    loop,
		pool:    pool,
		opts:    opts,
		log:     memd.NewLog(),
		pending: list.New(),
		logger:  logger.With("component", "pipeline", "host", opts.Host, "idx", idx),
	}
}

// NewDialer builds a netpool.Dialer that dials + negotiates a session on a
// freshly connected socket, for use with a shared netpool.Pool[*PooledSocket].
func NewDialer(loop *ioloop.Loop, connectTimeout time.Duration, tlsCfg *tls.Config, negotiate NegotiateOptions) netpool.Dialer[*PooledSocket] {
	return func(ctx context.Context, key string) (*PooledSocket, error) {
		dctx := ctx
		var cancel context.CancelFunc
		if connectTimeout > 0 {
			dctx, cancel = context.WithTimeout(ctx, connectTimeout)
			defer cancel()
		}
		sc, err := loop.Socket(dctx, "tcp", key, tlsCfg)
		if err != nil {
			return nil, cberrors.Wrap("pipeline.connect", err)
		}
		br := bufio.NewReader(sc.Conn())
		session, err := Negotiate(dctx, sc.Conn(), br, negotiate)
		if err != nil {
			sc.Close()
			return nil, err
		}
		return &PooledSocket{SocketContext: sc, Session: session, Reader: br}, nil
	}
}

// SupportsFeature reports whether the currently connected socket's session
// negotiated the given HELLO feature (e.g. mutation tokens, snappy).
func (p *Pipeline) SupportsFeature(f memd.HelloFeature) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return false
	}
	return p.conn.Session.HasFeature(f)
}

// SelectedBucket returns the bucket name the currently connected socket's
// session has selected, or "" if none (no connection, or negotiation never
// selected one). Used by the instance layer to decide which pipelines
// still need an explicit SELECT_BUCKET after lcb_open.
func (p *Pipeline) SelectedBucket() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return ""
	}
	return p.conn.Session.Bucket
}

// MarkBucketSelected records that the currently connected socket has since
// selected bucket, e.g. after an out-of-band SELECT_BUCKET Broadcast
// succeeded. A no-op if the pipeline has reconnected since.
func (p *Pipeline) MarkBucketSelected(bucket string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Session.Bucket = bucket
	}
}

// Enqueue assigns the packet an opaque, appends it to both the in-flight log
// and the pending-write FIFO, and schedules on the loop an asynchronous
// connect-if-needed followed by Flush. It does not flush synchronously.
func (p *Pipeline) Enqueue(ctx context.Context, pkt *memd.Packet) uint32 {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		if p.opts.OnFailChain != nil {
			p.opts.OnFailChain([]*memd.Packet{pkt}, cberrors.ErrDestroying)
		}
		return 0
	}
	pkt.Opaque = p.log.AllocateOpaque()
	pkt.PipelineIdx = p.Idx
	p.log.Enqueue(pkt)
	p.pending.PushBack(pkt)
	p.mu.Unlock()

	p.loop.Async(func() { p.ensureConnectedAndFlush(ctx) })
	return pkt.Opaque
}

func (p *Pipeline) ensureConnectedAndFlush(ctx context.Context) {
	p.mu.Lock()
	if p.conn != nil {
		p.mu.Unlock()
		p.Flush()
		return
	}
	p.mu.Unlock()

	conn, err := p.pool.Acquire(ctx, p.Host)
	if err != nil {
		p.failChain(cberrors.Wrap("pipeline.connect", err))
		return
	}

	p.mu.Lock()
	p.conn = conn
	p.state = StateClean
	p.mu.Unlock()

	go p.readLoop(conn)
	p.Flush()
}

// Flush writes every pending packet to the socket, batching up to
// memd.MaxIOV scatter-gather segments per syscall via net.Buffers (spec.md
// §4.2's "gather up to MCREQ_MAXIOV segments"). Flushed packets leave the
// pending FIFO, so each pending packet is written once.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	conn := p.conn
	if conn == nil || p.state != StateClean {
		p.mu.Unlock()
		return
	}

	var segs net.Buffers
	var flushing []*memd.Packet
	for el := p.pending.Front(); el != nil; {
		next := el.Next()
		pkt := el.Value.(*memd.Packet)
		segCount := headerSegCount(pkt)
		if len(segs)+segCount > memd.MaxIOV {
			break
		}
		segs = appendWireSegments(segs, pkt)
		flushing = append(flushing, pkt)
		p.pending.Remove(el)
		el = next
	}
	p.mu.Unlock()

	if len(flushing) == 0 {
		return
	}

	if _, err := segs.WriteTo(conn.Conn()); err != nil {
		p.failChain(cberrors.Wrap("pipeline.write", err))
		return
	}
	for _, pkt := range flushing {
		pkt.Set(memd.FlagFlushed)
	}
	p.rearmIOTimer()
}

func headerSegCount(pkt *memd.Packet) int {
	n := 1 // header
	if len(pkt.Extras) > 0 {
		n++
	}
	if len(pkt.Key) > 0 {
		n++
	}
	if len(pkt.Value) > 0 {
		n++
	}
	return n
}

func appendWireSegments(segs net.Buffers, pkt *memd.Packet) net.Buffers {
	body := len(pkt.Extras) + len(pkt.Key) + len(pkt.Value)
	hdr := make([]byte, memd.HeaderSize)
	memd.EncodeRequest(hdr, memd.Header{
		Opcode:  pkt.Opcode,
		KeyLen:  uint16(len(pkt.Key)),
		ExtLen:  uint8(len(pkt.Extras)),
		VBucket: pkt.VBucket,
		BodyLen: uint32(body),
		Opaque:  pkt.Opaque,
		Cas:     pkt.Cas,
	})
	segs = append(segs, hdr)
	if len(pkt.Extras) > 0 {
		segs = append(segs, pkt.Extras)
	}
	if len(pkt.Key) > 0 {
		segs = append(segs, pkt.Key)
	}
	if len(pkt.Value) > 0 {
		segs = append(segs, pkt.Value)
	}
	return segs
}

// rearmIOTimer (re)starts the idle-socket timer with a full IOTimeout from
// now whenever packets are in flight; the time the oldest in-flight packet
// has already waited is not taken into account. A pipeline with no
// in-flight packets does not hold a timer at all.
func (p *Pipeline) rearmIOTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ioTimer != nil {
		p.ioTimer.Stop()
		p.ioTimer = nil
	}
	if p.log.Len() == 0 {
		return
	}
	p.ioTimer = p.loop.Timer(p.opts.IOTimeout, func() {
		p.failChain(cberrors.ErrTimeout)
	})
}

// readLoop decodes responses off conn until it errors or the pipeline is
// closed, matching each to its in-flight request by opaque and handing it to
// the owner via OnResponse/OnNotMyVbucket.
func (p *Pipeline) readLoop(conn *PooledSocket) {
	r := conn.Reader
	hdrBuf := make([]byte, memd.HeaderSize)
	for {
		if _, err := io.ReadFull(r, hdrBuf); err != nil {
			p.failChain(cberrors.Wrap("pipeline.read", err))
			return
		}
		h, err := memd.DecodeHeader(hdrBuf)
		if err != nil {
			p.failChain(cberrors.New(cberrors.CodeProtocol, "pipeline.read", "", err))
			return
		}
		body := make([]byte, h.BodyLen)
		if h.BodyLen > 0 {
			if _, err := io.ReadFull(r, body); err != nil {
				p.failChain(cberrors.Wrap("pipeline.read", err))
				return
			}
		}
		resp, err := memd.FromResponse(h, body)
		if err != nil {
			p.failChain(cberrors.New(cberrors.CodeProtocol, "pipeline.read", "", err))
			return
		}

		p.mu.Lock()
		req, ok := p.log.Find(resp.Opaque)
		if ok && !(req.Opcode == memd.OpStat && len(resp.Key) > 0) {
			// A quiet opcode (GETQ/GETKQ/GATQ) only ever gets a response at
			// all on error, since the server suppresses it on success — so
			// arriving here means this is its one and only, terminal reply.
			// Non-final STAT rows are the sole case that stays logged.
			p.log.Handled(resp.Opaque)
		}
		p.mu.Unlock()

		if !ok {
			p.logger.Warn("response for unknown opaque", "opaque", resp.Opaque)
			continue
		}
		resp.Cookie = req.Cookie
		resp.PipelineIdx = p.Idx

		if resp.Status == memd.StatusNotMyVbucket && p.opts.OnNotMyVbucket != nil {
			resp.VBucket = req.VBucket
			p.opts.OnNotMyVbucket(resp)
		} else if p.opts.OnResponse != nil {
			p.opts.OnResponse(resp)
		}
		p.rearmIOTimer()
	}
}

// failChain transitions the pipeline to ERRDRAIN, drains every in-flight and
// still-pending packet, and hands them to OnFailChain so the caller (the
// dispatch layer) can route retryable ones into package retry — spec.md
// §4.2's fail_chain operation.
func (p *Pipeline) failChain(err error) {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	p.state = StateErrDrain
	if p.ioTimer != nil {
		p.ioTimer.Stop()
		p.ioTimer = nil
	}
	drained := p.log.DrainAll()
	for el := p.pending.Front(); el != nil; el = el.Next() {
		drained = append(drained, el.Value.(*memd.Packet))
	}
	p.pending.Init()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn != nil {
		p.pool.Release(p.Host, conn, false)
	}

	detached := make([]*memd.Packet, 0, len(drained))
	for _, pkt := range drained {
		detached = append(detached, pkt.Renew())
	}

	p.logger.Warn("pipeline failed", "error", err, "packets", len(detached))
	if p.opts.OnFailChain != nil && len(detached) > 0 {
		p.opts.OnFailChain(detached, err)
	}

	p.mu.Lock()
	if p.state == StateErrDrain {
		p.state = StateClean
	}
	p.mu.Unlock()
}

// Close tears the pipeline down permanently; no further Enqueue will
// succeed.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.state = StateClosed
	if p.ioTimer != nil {
		p.ioTimer.Stop()
	}
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// PendingLen reports in-flight + not-yet-written packet counts, used by
// tests and diagnostics dumps.
func (p *Pipeline) PendingLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.log.Len() + p.pending.Len()
}

// Package dispatch implements spec.md's [CommandQueue]: routing a packet to
// the pipeline that owns its vbucket (or ketama point), absorbing
// NOT_MY_VBUCKET and fail_chain events from the pipeline layer into package
// retry, and caching vbucket-ownership guesses across a config refresh so a
// storm of NMVs during a rebalance doesn't all block on the same slow
// refresh. Grounded on spec.md §4.6 directly; the vbguess cache itself rides
// internal/cache.Store so a fleet can share guesses over Redis, falling
// back to an in-process LRU (internal/cache.LocalStore) when none is
// configured.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchbase/lcbgo/internal/cache"
	"github.com/couchbase/lcbgo/internal/clustermap"
	cberrors "github.com/couchbase/lcbgo/internal/errors"
	"github.com/couchbase/lcbgo/internal/memd"
	"github.com/couchbase/lcbgo/internal/pipeline"
	"github.com/couchbase/lcbgo/internal/retry"
)

// vbGuessTTL bounds how long a post-NMV routing guess is trusted before
// falling back to the published map again, per SPEC_FULL.md Open Question
// (a). Enforced by the backing cache.Store's own TTL rather than a
// timestamp comparison here.
const vbGuessTTL = 10 * time.Second

// vbGuess is JSON-serialized into the backing cache.Store, so its field
// must be exported.
type vbGuess struct {
	NodeIdx int `json:"node_idx"`
}

func vbGuessKey(vb uint16) string { return fmt.Sprintf("vbguess:%d", vb) }

// PipelineFactory builds a *pipeline.Pipeline for node i of cfg, used when
// CommandQueue reshapes its pipeline list after a config update.
type PipelineFactory func(cfg *clustermap.Config, nodeIdx int) *pipeline.Pipeline

// Queue is spec.md's CommandQueue: pipeline fan-out plus vbucket/ketama
// routing, NMV absorption, and retry hand-off.
type Queue struct {
	factory PipelineFactory
	logger  *slog.Logger

	cfg atomic.Pointer[clustermap.Config]

	mu        sync.RWMutex
	pipelines []*pipeline.Pipeline

	guesses cache.Store

	retryQ         *retry.Queue
	confRefreshing atomic.Bool
	requestRefresh func()

	onTerminal func(p *memd.Packet, err error)

	// onNMVConfig, when set via OnNMVConfig, receives a NOT_MY_VBUCKET
	// response body whenever it's non-empty, along with the host the
	// response arrived from. Left nil, a piggybacked config is simply
	// dropped after the vbguess/retry handling below.
	onNMVConfig func(data []byte, hostOverride string)
}

// New builds an empty Queue with a process-local vbguess cache. Call
// UpdateConfig once a first config is known before routing any packets.
// requestRefresh is called whenever a NOT_MY_VBUCKET response suggests the
// topology moved, normally wired to confmon.Monitor.RequestRefresh.
func New(factory PipelineFactory, requestRefresh func(), onTerminal func(p *memd.Packet, err error), logger *slog.Logger) *Queue {
	return NewWithCache(factory, cache.NewLocalStore(4096), requestRefresh, onTerminal, logger)
}

// NewWithCache is New but lets the vbguess cache be backed by any
// cache.Store — in particular cache.RedisStore, so a fleet of instances can
// share routing guesses across a rebalance instead of each re-learning them
// independently.
func NewWithCache(factory PipelineFactory, guesses cache.Store, requestRefresh func(), onTerminal func(p *memd.Packet, err error), logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if guesses == nil {
		guesses = cache.NewLocalStore(4096)
	}
	q := &Queue{
		factory:        factory,
		logger:         logger.With("component", "dispatch"),
		guesses:        guesses,
		requestRefresh: requestRefresh,
		onTerminal:     onTerminal,
	}
	q.retryQ = retry.New(retry.DefaultPolicy(), q, q.completeRetry, logger, nil)
	return q
}

func (q *Queue) completeRetry(p *memd.Packet, err error) {
	if q.onTerminal != nil {
		q.onTerminal(p, err)
	}
}

// Config returns the currently active cluster config, or nil before the
// first UpdateConfig.
func (q *Queue) Config() *clustermap.Config {
	return q.cfg.Load()
}

// UpdateConfig reshapes the pipeline list to match cfg's node list, reusing
// existing pipelines whose (host, port) are unchanged and closing ones that
// dropped out, then publishes cfg. Existing in-flight packets on a reused
// pipeline are left alone; packets on a dropped pipeline were already routed
// through that pipeline's own fail_chain before Close.
func (q *Queue) UpdateConfig(cfg *clustermap.Config) {
	old := q.cfg.Load()

	q.mu.Lock()
	oldPipelines := q.pipelines
	newPipelines := make([]*pipeline.Pipeline, len(cfg.Nodes))
	for i, n := range cfg.Nodes {
		if old != nil && i < len(oldPipelines) && i < len(old.Nodes) &&
			old.Nodes[i].Hostname == n.Hostname && old.Nodes[i].KVPort == n.KVPort {
			newPipelines[i] = oldPipelines[i]
			continue
		}
		newPipelines[i] = q.factory(cfg, i)
	}
	q.pipelines = newPipelines
	q.mu.Unlock()

	for i, p := range oldPipelines {
		if i >= len(newPipelines) || newPipelines[i] != p {
			p.Close()
		}
	}

	q.cfg.Store(cfg)
	q.confRefreshing.Store(false)
	// A fresh config supersedes the routing guess for every vbucket whose
	// master it moved; guesses for vbuckets it left in place still expire
	// via vbGuessTTL.
	if old != nil {
		for vb := range cfg.VBucketMap {
			if old.NodeForVBucket(vb, 0) != cfg.NodeForVBucket(vb, 0) {
				if err := q.guesses.Delete(context.Background(), vbGuessKey(uint16(vb))); err != nil {
					q.logger.Warn("failed to drop vbucket routing guess", "error", err)
				}
			}
		}
	}
}

// BeginConfigRefresh marks a refresh as in flight, so the retry queue knows
// to keep waiting rather than fail ops with ErrNoMatchingServer (spec.md
// §4.7's ConfigRefreshing() signal).
func (q *Queue) BeginConfigRefresh() { q.confRefreshing.Store(true) }

// Dispatch routes pkt to the pipeline owning its key, assigning VBucket
// first. Returns ErrNoMatchingServer synchronously only when there is no
// config at all yet; once a config exists, routing failures go through the
// retry queue instead of returning an error here, matching spec.md §4.6's
// "dispatch never blocks the caller on topology uncertainty" invariant.
func (q *Queue) Dispatch(ctx context.Context, pkt *memd.Packet) error {
	cfg := q.cfg.Load()
	if cfg == nil {
		return cberrors.ErrNoMatchingServer
	}

	idx := q.resolveForDispatch(cfg, pkt)

	q.mu.RLock()
	if idx < 0 || idx >= len(q.pipelines) {
		q.mu.RUnlock()
		q.admitMissingNode(pkt)
		return nil
	}
	p := q.pipelines[idx]
	q.mu.RUnlock()
	p.Enqueue(ctx, pkt)
	return nil
}

// resolveForDispatch computes the owning pipeline index using the vbucket
// map or ketama ring, stamping pkt.VBucket as a side effect for vbucket
// distribution (ketama has no vbucket concept, so it is left at 0).
func (q *Queue) resolveForDispatch(cfg *clustermap.Config, pkt *memd.Packet) int {
	if cfg.Dist == clustermap.DistKetama {
		if cfg.Ketama == nil {
			return -1
		}
		return cfg.Ketama.Lookup(pkt.Key)
	}

	if len(cfg.VBucketMap) > 0 {
		pkt.VBucket = uint16(clustermap.VBucketForKey(pkt.Key, len(cfg.VBucketMap)))
	}
	if guess, ok := q.lookupGuess(pkt.VBucket); ok {
		return guess
	}
	return cfg.NodeForVBucket(int(pkt.VBucket), 0)
}

func (q *Queue) lookupGuess(vb uint16) (int, bool) {
	var g vbGuess
	if err := cache.GetJSON(context.Background(), q.guesses, vbGuessKey(vb), &g); err != nil {
		return 0, false
	}
	return g.NodeIdx, true
}

func (q *Queue) admitMissingNode(pkt *memd.Packet) {
	detached := pkt.Renew()
	if !q.retryQ.Admit(detached, retry.ClassMissingNode, cberrors.ErrNoMatchingServer, memd.StatusSuccess, time.Time{}, nil, true) {
		q.completeRetry(detached, cberrors.ErrNoMatchingServer)
	}
}

// OnPipelineResponse is wired as a pipeline.Options.OnResponse callback: it
// just forwards to whatever op-completion mechanism the instance layer
// attaches; dispatch itself doesn't interpret response bodies.
func (q *Queue) OnPipelineResponse(onResponse func(*memd.Packet)) pipeline.ResponseFunc {
	return func(p *memd.Packet) {
		onResponse(p)
	}
}

// OnNMVConfig registers fn to receive a NOT_MY_VBUCKET response body
// whenever OnNotMyVbucket sees one, along with the host the response
// arrived from. Wired by the instance layer to parse the body with
// confmon.ParseWireConfig and push it into confmon.Monitor via
// ConfigUpdatedExternally — spec.md §4.6 point 1's "push the piggybacked
// config into the CCCP provider for consideration."
func (q *Queue) OnNMVConfig(fn func(data []byte, hostOverride string)) {
	q.onNMVConfig = fn
}

// OnNotMyVbucket is wired as a pipeline.Options.OnNotMyVbucket callback.
// Lacking a fast-forward map (spec.md §4.6 doesn't require one), the best
// available heuristic is "try the next node in the list instead" — so it
// records a short-lived guess pointing one node past the one that just
// rejected it, asks for a config refresh, and re-admits the packet through
// the retry queue for an immediate NMV-class retry (spec.md §4.6/§4.7). A
// NOT_MY_VBUCKET response commonly piggybacks a fresh config document in
// its body; when present, it's handed to onNMVConfig so the new topology
// doesn't have to wait on the next CCCP/HTTP poll.
func (q *Queue) OnNotMyVbucket(pkt *memd.Packet) {
	q.mu.RLock()
	n := len(q.pipelines)
	var host string
	if pkt.PipelineIdx >= 0 && pkt.PipelineIdx < n {
		host = q.pipelines[pkt.PipelineIdx].Host
	}
	q.mu.RUnlock()
	if n > 0 {
		next := (pkt.PipelineIdx + 1) % n
		if err := cache.SetJSON(context.Background(), q.guesses, vbGuessKey(pkt.VBucket), vbGuess{NodeIdx: next}, vbGuessTTL); err != nil {
			q.logger.Warn("failed to record vbucket routing guess", "error", err)
		}
	}

	if len(pkt.Value) > 0 && q.onNMVConfig != nil {
		q.onNMVConfig(pkt.Value, host)
	}

	if q.requestRefresh != nil {
		q.requestRefresh()
	}

	detached := pkt.Renew()
	if !q.retryQ.Admit(detached, retry.ClassVBMapErr, cberrors.ErrNotMyVbucket, memd.StatusNotMyVbucket, time.Time{}, nil, true) {
		q.completeRetry(detached, cberrors.ErrNotMyVbucket)
	}
}

// OnPipelineFailChain is wired as a pipeline.Options.OnFailChain callback:
// every packet a failed pipeline drained is admitted into the retry queue
// under the socket-error class.
func (q *Queue) OnPipelineFailChain(pkts []*memd.Packet, err error) {
	for _, pkt := range pkts {
		if !q.retryQ.Admit(pkt, retry.ClassSockErr, err, memd.StatusSuccess, time.Time{}, nil, true) {
			q.completeRetry(pkt, err)
		}
	}
}

// --- retry.Dispatcher ---

// Resolve implements retry.Dispatcher: returns the pipeline index currently
// responsible for vb, or -1 if the config doesn't know yet.
func (q *Queue) Resolve(vb uint16) int {
	cfg := q.cfg.Load()
	if cfg == nil {
		return -1
	}
	if guess, ok := q.lookupGuess(vb); ok {
		return guess
	}
	if cfg.Dist == clustermap.DistKetama {
		return -1 // ketama has no vbucket-indexed resolution path
	}
	return cfg.NodeForVBucket(int(vb), 0)
}

// Flush implements retry.Dispatcher: re-enqueues p on the resolved pipeline.
func (q *Queue) Flush(idx int, p *memd.Packet) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if idx < 0 || idx >= len(q.pipelines) {
		return
	}
	q.pipelines[idx].Enqueue(context.Background(), p)
}

// ConfigRefreshing implements retry.Dispatcher.
func (q *Queue) ConfigRefreshing() bool { return q.confRefreshing.Load() }

// Broadcast sends one packet, built fresh per pipeline by build, to every
// currently connected pipeline. Used by the instance layer to fan
// SELECT_BUCKET out to every node already holding a socket when a bucket is
// selected after connect (spec.md §4.9's lcb_open).
func (q *Queue) Broadcast(ctx context.Context, build func(idx int) *memd.Packet) {
	q.mu.RLock()
	pipelines := append([]*pipeline.Pipeline(nil), q.pipelines...)
	q.mu.RUnlock()
	for i, p := range pipelines {
		pkt := build(i)
		if pkt == nil {
			continue
		}
		p.Enqueue(ctx, pkt)
	}
}

// NumPipelines reports the current pipeline count, for iterating indices
// alongside Broadcast/Dispatch without racing a concurrent UpdateConfig.
func (q *Queue) NumPipelines() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.pipelines)
}

// Pipelines returns a snapshot of the current pipeline list, indexed the
// same way Dispatch/Broadcast route against it.
func (q *Queue) Pipelines() []*pipeline.Pipeline {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]*pipeline.Pipeline(nil), q.pipelines...)
}

// Close tears every pipeline and the retry queue down.
func (q *Queue) Close(ctx context.Context) {
	q.mu.Lock()
	pipelines := q.pipelines
	q.pipelines = nil
	q.mu.Unlock()
	for _, p := range pipelines {
		p.Close()
	}
	q.retryQ.Close(ctx)
}

// Package instance implements spec.md §4.9's Instance: the glue object a
// caller actually holds — lcb_create/lcb_connect/lcb_open/lcb_destroy plus
// the KV data operations and the N1QL query convenience wrapper layered on
// top of internal/dispatch, internal/confmon, and internal/httpclient.
// Grounded on the teacher's Service struct (internal/core/services) for the
// "one object owns every collaborator, built once in a constructor" shape.
package instance

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/couchbase/lcbgo/internal/cache"
	"github.com/couchbase/lcbgo/internal/clustermap"
	"github.com/couchbase/lcbgo/internal/confmon"
	"github.com/couchbase/lcbgo/internal/config"
	"github.com/couchbase/lcbgo/internal/dispatch"
	cberrors "github.com/couchbase/lcbgo/internal/errors"
	"github.com/couchbase/lcbgo/internal/httpclient"
	"github.com/couchbase/lcbgo/internal/ioloop"
	"github.com/couchbase/lcbgo/internal/memd"
	"github.com/couchbase/lcbgo/internal/netpool"
	"github.com/couchbase/lcbgo/internal/pipeline"
	"github.com/couchbase/lcbgo/pkg/logger"
	"github.com/couchbase/lcbgo/pkg/metrics"
)

// State is spec.md §4.9's Instance lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateConnecting
	StateConnected
	StateBucketOpen
	StateDestroying
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateBucketOpen:
		return "BUCKET_OPEN"
	case StateDestroying:
		return "DESTROYING"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// kvResult is what onKVResponse/onKVTerminal deliver through a kvWait.
type kvResult struct {
	pkt *memd.Packet
	err error
}

// kvWait is stashed in memd.Packet.Cookie for the lifetime of a KV op,
// including across retries: Packet.Renew preserves Cookie verbatim, so the
// same channel receives whichever attempt finally completes.
type kvWait chan kvResult

// Instance is spec.md §4.9's lcb_t: every per-connection collaborator plus
// the bucket/credentials/crypto/rate-limit state layered on top of them.
type Instance struct {
	logger  *slog.Logger
	metrics *metrics.Registry

	settings *config.Settings

	instanceID  string
	bootstrapID string

	loop   *ioloop.Loop
	kvPool *netpool.Pool[*pipeline.PooledSocket]
	queue  *dispatch.Queue

	monitor    *confmon.Monitor
	httpClient *httpclient.Client

	guessCache cache.Store
	queryPlans *QueryPlanCache

	crypto  *CryptoRegistry
	pending PendingOps

	mu          sync.RWMutex
	bucket      string
	rateLimiter *rate.Limiter

	firstConfig     chan struct{}
	firstConfigOnce sync.Once

	state     atomic.Int32
	closeOnce sync.Once
}

func (inst *Instance) transition(from, to State) bool {
	return inst.state.CompareAndSwap(int32(from), int32(to))
}

// State reports the instance's current lifecycle state.
func (inst *Instance) State() State { return State(inst.state.Load()) }

// Create parses connStr (spec.md §6) and assembles every collaborator —
// the io loop, the KV socket pool and its dispatch queue, the confmon
// provider chain, and the HTTP sub-client. Cluster nodes are not dialed
// here; Connect does that. When configured, the Redis cache and the
// config-push websocket are dialed here. Mirrors the teacher's NewService
// constructor shape: one function building a fully wired object graph.
// Options are applied before the remaining collaborators are built, so a
// caller-supplied logger, metrics registry or cache replaces the default.
func Create(connStr string, opts ...Option) (*Instance, error) {
	settings, err := config.Load(connStr)
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		settings:    settings,
		bucket:      settings.Bucket,
		firstConfig: make(chan struct{}),
		crypto:      newCryptoRegistry(),
	}
	inst.logger = logger.New(logger.Config{Level: settings.ConsoleLogLevel, Output: "file", Filename: settings.ConsoleLogFile}).
		With("component", "instance")
	inst.metrics = metrics.DefaultRegistry()

	for _, opt := range opts {
		opt(inst)
	}
	if inst.logger == nil {
		inst.logger = slog.Default()
	}
	if inst.metrics == nil {
		inst.metrics = metrics.DefaultRegistry()
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, cberrors.Wrap("instance.create", err)
	}
	inst.instanceID = id.String()
	inst.bootstrapID = inst.instanceID
	inst.logger = inst.logger.With("instance_id", inst.instanceID)

	if inst.guessCache == nil {
		store, err := inst.buildSharedCache()
		if err != nil {
			return nil, err
		}
		inst.guessCache = store
	}
	if inst.queryPlans == nil {
		inst.queryPlans = NewQueryPlanCache(inst.guessCache)
	}

	inst.loop = ioloop.New()
	inst.loop.Ref()

	dialer := func(ctx context.Context, key string) (*pipeline.PooledSocket, error) {
		d := pipeline.NewDialer(inst.loop, inst.settings.Timeouts.ConfigNode, inst.tlsConfig(), inst.negotiateOptions())
		return d(ctx, key)
	}
	inst.kvPool = netpool.New[*pipeline.PooledSocket](inst.settings.HTTP.PoolSize, inst.settings.HTTP.PoolTimeout, dialer, inst.logger)

	inst.queue = dispatch.NewWithCache(inst.pipelineFactory, inst.guessCache, inst.requestConfigRefresh, inst.onKVTerminal, inst.logger)
	inst.queue.OnNMVConfig(inst.onNMVConfig)

	inst.httpClient = httpclient.New(inst.queue.Config, inst, inst.tlsConfig(), inst.logger)

	inst.monitor = confmon.New(inst.buildProviders(), confmon.Options{Logger: inst.logger})
	inst.monitor.Subscribe(inst.onConfmonEvent)

	return inst, nil
}

// buildSharedCache constructs the vbguess/query-plan cache tier: a Redis
// store when settings.CacheRedisAddr is set, so a fleet of Instances share
// routing guesses and query plans, else a process-local LRU.
func (inst *Instance) buildSharedCache() (cache.Store, error) {
	if inst.settings.CacheRedisAddr == "" {
		return cache.NewLocalStore(4096), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := cache.NewRedisStore(ctx, cache.RedisOptions{Addr: inst.settings.CacheRedisAddr}, inst.logger)
	if err != nil {
		return nil, cberrors.Wrap("instance.create.cache", err)
	}
	return store, nil
}

// negotiateOptions builds a fresh pipeline.NegotiateOptions, reading the
// currently selected bucket dynamically so a dialer closure always
// negotiates against whatever bucket Open last selected, even for sockets
// dialed long after Create.
func (inst *Instance) negotiateOptions() pipeline.NegotiateOptions {
	s := inst.settings
	var sasl pipeline.SASLProvider
	user, pass := s.EffectiveCredentials()
	if user != "" {
		sasl = newPlainSASL(user, pass)
	}
	return pipeline.NegotiateOptions{
		AgentJSON:         pipeline.AgentJSON(clientString(s)),
		RequestedFeatures: inst.helloFeatures(),
		EnableErrorMap:    true,
		TLSEnabled:        s.TLS.Enabled,
		AllowPlainOnClear: s.UnsafeOptimize,
		Bucket:            inst.bucketName(),
		SASL:              sasl,
	}
}

func clientString(s *config.Settings) string {
	if s.ClientString != "" {
		return s.ClientString
	}
	return "lcbgo/0.1"
}

// helloFeatures turns the boolean enable_* settings into the HELLO feature
// list, always requesting the handful spec.md §4.3 treats as baseline
// (error maps, SELECT_BUCKET, JSON datatype).
func (inst *Instance) helloFeatures() []memd.HelloFeature {
	s := inst.settings
	f := []memd.HelloFeature{memd.FeatureXerror, memd.FeatureSelectBucket, memd.FeatureJSON}
	if s.TLS.Enabled {
		f = append(f, memd.FeatureTLS)
	}
	if s.EnableMutationTokens {
		f = append(f, memd.FeatureMutationSeqno)
	}
	if s.EnableCollections {
		f = append(f, memd.FeatureCollections)
	}
	if s.EnableDurableWrite {
		f = append(f, memd.FeatureSyncReplication)
	}
	if s.EnableUnorderedExecution {
		f = append(f, memd.FeatureUnorderedExecution)
	}
	if s.EnableTracing {
		f = append(f, memd.FeatureTracing)
	}
	if s.Compression.Mode != "" && s.Compression.Mode != "off" {
		f = append(f, memd.FeatureSnappy)
	}
	if s.TCPNoDelay {
		f = append(f, memd.FeatureTCPNoDelay)
	}
	return f
}

func (inst *Instance) pipelineFactory(cfg *clustermap.Config, idx int) *pipeline.Pipeline {
	n := cfg.Nodes[idx]
	host := fmt.Sprintf("%s:%d", n.Hostname, n.KVPort)
	return pipeline.New(idx, inst.loop, inst.kvPool, pipeline.Options{
		Host:           host,
		TLSConfig:      inst.tlsConfig(),
		IOTimeout:      inst.settings.Timeouts.Operation,
		ConnectTimeout: inst.settings.Timeouts.ConfigNode,
		Negotiate:      inst.negotiateOptions(),
		OnFailChain:    inst.queue.OnPipelineFailChain,
		OnResponse:     inst.queue.OnPipelineResponse(inst.onKVResponse),
		OnNotMyVbucket: inst.queue.OnNotMyVbucket,
		Logger:         inst.logger,
	})
}

func (inst *Instance) requestConfigRefresh() {
	inst.queue.BeginConfigRefresh()
	inst.monitor.RequestRefresh(context.Background())
}

// onNMVConfig parses a config document piggybacked on a NOT_MY_VBUCKET
// response and feeds it to the monitor outside the normal CCCP poll cycle,
// per spec.md §4.6 point 1.
func (inst *Instance) onNMVConfig(data []byte, hostOverride string) {
	cfg, err := confmon.ParseWireConfig(data, "cccp", hostOverride)
	if err != nil {
		inst.logger.Warn("failed to parse NOT_MY_VBUCKET piggybacked config", "error", err)
		return
	}
	inst.monitor.ConfigUpdatedExternally(cfg)
}

func (inst *Instance) onConfmonEvent(ev confmon.Event, cfg *clustermap.Config) {
	switch ev {
	case confmon.EventGotNewConfig:
		inst.queue.UpdateConfig(cfg)
		inst.metrics.Confmon().RecordRefresh(cfg.Origin, "success", 0)
		inst.firstConfigOnce.Do(func() { close(inst.firstConfig) })
	}
}

func (inst *Instance) onKVResponse(p *memd.Packet) {
	w, ok := p.Cookie.(kvWait)
	if !ok {
		return
	}
	var err error
	if p.Status != memd.StatusSuccess {
		err = statusErr(p.Status)
	}
	select {
	case w <- kvResult{pkt: p, err: err}:
	default:
	}
}

func (inst *Instance) onKVTerminal(p *memd.Packet, err error) {
	w, ok := p.Cookie.(kvWait)
	if !ok {
		return
	}
	select {
	case w <- kvResult{pkt: p, err: err}:
	default:
	}
}

func (inst *Instance) bucketName() string {
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	return inst.bucket
}

func (inst *Instance) currentLimiter() *rate.Limiter {
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	return inst.rateLimiter
}

// engageThrottle creates or tightens the instance's self-throttle limiter
// the first time (and every subsequent time) the server reports
// RATE_LIMITED/QUOTA_LIMITED, giving spec.md §7's CodeThrottle taxonomy
// entry an actual client-side behaviour instead of just a sentinel error.
func (inst *Instance) engageThrottle() {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.rateLimiter == nil {
		inst.rateLimiter = rate.NewLimiter(rate.Limit(200), 50)
		return
	}
	next := inst.rateLimiter.Limit() / 2
	if next < 1 {
		next = 1
	}
	inst.rateLimiter.SetLimit(next)
}

// Connect drives confmon to its first config, per spec.md §4.9's
// lcb_connect: bootstrap is considered complete once any provider returns a
// config, not once every provider has been tried.
func (inst *Instance) Connect(ctx context.Context) error {
	if !inst.transition(StateCreated, StateConnecting) {
		return cberrors.New(cberrors.CodeUsage, "instance.connect", "already connecting or connected", nil)
	}
	inst.monitor.RequestRefresh(ctx)

	timeout := inst.settings.Timeouts.ConfigTotal
	if timeout <= 0 {
		timeout = 2500 * time.Millisecond
	}
	select {
	case <-inst.firstConfig:
		inst.state.Store(int32(StateConnected))
		return nil
	case <-ctx.Done():
		return cberrors.Wrap("instance.connect", ctx.Err())
	case <-time.After(timeout):
	}

	if !inst.settings.WaitForConfig {
		return cberrors.ErrTimeout
	}
	select {
	case <-inst.firstConfig:
		inst.state.Store(int32(StateConnected))
		return nil
	case <-ctx.Done():
		return cberrors.Wrap("instance.connect", ctx.Err())
	}
}

// Open selects bucket on every pipeline that hasn't already selected one as
// part of its own connect-time negotiation, per spec.md §4.9's lcb_open:
// sockets dialed after Open still pick the bucket up automatically via
// negotiateOptions, so only already-connected pipelines need this fan-out.
func (inst *Instance) Open(ctx context.Context, bucket string) error {
	if State(inst.state.Load()) < StateConnected {
		return cberrors.New(cberrors.CodeUsage, "instance.open", "instance is not connected", nil)
	}

	inst.mu.Lock()
	inst.bucket = bucket
	inst.mu.Unlock()

	pipelines := inst.queue.Pipelines()
	waits := make([]kvWait, len(pipelines))
	inst.queue.Broadcast(ctx, func(idx int) *memd.Packet {
		if idx >= len(pipelines) || pipelines[idx].SelectedBucket() == bucket {
			return nil
		}
		done := make(kvWait, 1)
		waits[idx] = done
		return &memd.Packet{Opcode: memd.OpSelectBucket, Key: []byte(bucket), Cookie: done}
	})

	timeout := inst.settings.Timeouts.Operation
	for idx, done := range waits {
		if done == nil {
			continue
		}
		select {
		case res := <-done:
			if res.err == nil {
				pipelines[idx].MarkBucketSelected(bucket)
			} else {
				inst.logger.Warn("select_bucket failed", "pipeline", idx, "error", res.err)
			}
		case <-ctx.Done():
			return cberrors.Wrap("instance.open", ctx.Err())
		case <-time.After(timeout):
			inst.logger.Warn("select_bucket timed out", "pipeline", idx)
		}
	}

	inst.state.Store(int32(StateBucketOpen))
	return nil
}

// Credentials implements httpclient.Authenticator.
func (inst *Instance) Credentials(bucket string) (user, pass string) {
	return inst.settings.EffectiveCredentials()
}

// CurrentConfig returns the cluster map the dispatch queue is currently
// routing against, or nil before the first config has arrived.
func (inst *Instance) CurrentConfig() *clustermap.Config {
	return inst.queue.Config()
}

// Destroy tears every collaborator down, per spec.md §4.9's lcb_destroy.
// Idempotent: a second call is a no-op.
func (inst *Instance) Destroy(ctx context.Context) error {
	inst.closeOnce.Do(func() {
		inst.state.Store(int32(StateDestroying))
		if pending := inst.pending.Total(); pending > 0 {
			inst.logger.Warn("destroying instance with pending async ops", "count", pending)
		}
		inst.monitor.Stop()
		inst.queue.Close(ctx)
		inst.kvPool.Close()
		if inst.guessCache != nil {
			inst.guessCache.Close()
		}
		inst.loop.Unref()
		inst.state.Store(int32(StateDestroyed))
	})
	return nil
}

func (inst *Instance) dispatchKV(ctx context.Context, pkt *memd.Packet, timeout time.Duration) (*memd.Packet, error) {
	if State(inst.state.Load()) < StateConnected {
		return nil, cberrors.New(cberrors.CodeUsage, "instance.kv", "instance is not connected", nil)
	}
	if lim := inst.currentLimiter(); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, cberrors.Wrap("instance.kv.throttle", err)
		}
	}
	if timeout <= 0 {
		timeout = inst.settings.Timeouts.Operation
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(kvWait, 1)
	pkt.Cookie = done
	start := time.Now()
	if err := inst.queue.Dispatch(dctx, pkt); err != nil {
		return nil, err
	}

	select {
	case res := <-done:
		outcome := "success"
		if res.err != nil {
			outcome = "error"
		}
		if inst.metrics != nil {
			inst.metrics.Pipeline().RecordCommand(pkt.Opcode.String(), outcome, time.Since(start).Seconds())
		}
		if res.pkt != nil && isThrottleStatus(res.pkt.Status) {
			inst.engageThrottle()
		}
		return res.pkt, res.err
	case <-dctx.Done():
		return nil, cberrors.ErrTimeout
	}
}

func extrasFlagsExpiry(flags, expiry uint32) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], flags)
	binary.BigEndian.PutUint32(buf[4:8], expiry)
	return buf
}

func extrasExpiry(expiry uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, expiry)
	return buf
}

func extrasDelta(delta, initial uint64, expiry uint32) []byte {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint64(buf[0:8], delta)
	binary.BigEndian.PutUint64(buf[8:16], initial)
	binary.BigEndian.PutUint32(buf[16:20], expiry)
	return buf
}

// Get implements spec.md §4.9's GET.
func (inst *Instance) Get(ctx context.Context, key []byte) (value []byte, flags uint32, cas uint64, err error) {
	resp, err := inst.dispatchKV(ctx, &memd.Packet{Opcode: memd.OpGet, Key: key}, 0)
	if err != nil {
		return nil, 0, 0, err
	}
	if len(resp.Extras) >= 4 {
		flags = binary.BigEndian.Uint32(resp.Extras)
	}
	return resp.Value, flags, resp.Cas, nil
}

// Upsert implements spec.md §4.9's SET (store unconditionally).
func (inst *Instance) Upsert(ctx context.Context, key, value []byte, flags uint32, expiry uint32) (cas uint64, err error) {
	resp, err := inst.dispatchKV(ctx, &memd.Packet{
		Opcode: memd.OpSet, Key: key, Value: value, Extras: extrasFlagsExpiry(flags, expiry),
	}, 0)
	if err != nil {
		return 0, err
	}
	return resp.Cas, nil
}

// Add implements spec.md §4.9's ADD (store only if absent).
func (inst *Instance) Add(ctx context.Context, key, value []byte, flags uint32, expiry uint32) (cas uint64, err error) {
	resp, err := inst.dispatchKV(ctx, &memd.Packet{
		Opcode: memd.OpAdd, Key: key, Value: value, Extras: extrasFlagsExpiry(flags, expiry),
	}, 0)
	if err != nil {
		return 0, err
	}
	return resp.Cas, nil
}

// Replace implements spec.md §4.9's REPLACE (store only if present, with an
// optional CAS precondition).
func (inst *Instance) Replace(ctx context.Context, key, value []byte, flags uint32, expiry uint32, cas uint64) (newCas uint64, err error) {
	resp, err := inst.dispatchKV(ctx, &memd.Packet{
		Opcode: memd.OpReplace, Key: key, Value: value, Extras: extrasFlagsExpiry(flags, expiry), Cas: cas,
	}, 0)
	if err != nil {
		return 0, err
	}
	return resp.Cas, nil
}

// Delete implements spec.md §4.9's DELETE, with an optional CAS
// precondition (cas == 0 means unconditional).
func (inst *Instance) Delete(ctx context.Context, key []byte, cas uint64) error {
	_, err := inst.dispatchKV(ctx, &memd.Packet{Opcode: memd.OpDelete, Key: key, Cas: cas}, 0)
	return err
}

// Touch implements spec.md §4.9's TOUCH (refresh expiry without reading the
// value).
func (inst *Instance) Touch(ctx context.Context, key []byte, expiry uint32) (cas uint64, err error) {
	resp, err := inst.dispatchKV(ctx, &memd.Packet{Opcode: memd.OpTouch, Key: key, Extras: extrasExpiry(expiry)}, 0)
	if err != nil {
		return 0, err
	}
	return resp.Cas, nil
}

// Increment implements spec.md §4.9's INCREMENT.
func (inst *Instance) Increment(ctx context.Context, key []byte, delta, initial uint64, expiry uint32) (value uint64, cas uint64, err error) {
	end := inst.pending.Begin(CategoryCounter)
	defer end()
	resp, err := inst.dispatchKV(ctx, &memd.Packet{Opcode: memd.OpIncrement, Key: key, Extras: extrasDelta(delta, initial, expiry)}, 0)
	if err != nil {
		return 0, 0, err
	}
	if len(resp.Value) < 8 {
		return 0, 0, cberrors.New(cberrors.CodeProtocol, "instance.increment", "short counter value", nil)
	}
	return binary.BigEndian.Uint64(resp.Value), resp.Cas, nil
}

// Decrement implements spec.md §4.9's DECREMENT.
func (inst *Instance) Decrement(ctx context.Context, key []byte, delta, initial uint64, expiry uint32) (value uint64, cas uint64, err error) {
	end := inst.pending.Begin(CategoryCounter)
	defer end()
	resp, err := inst.dispatchKV(ctx, &memd.Packet{Opcode: memd.OpDecrement, Key: key, Extras: extrasDelta(delta, initial, expiry)}, 0)
	if err != nil {
		return 0, 0, err
	}
	if len(resp.Value) < 8 {
		return 0, 0, cberrors.New(cberrors.CodeProtocol, "instance.decrement", "short counter value", nil)
	}
	return binary.BigEndian.Uint64(resp.Value), resp.Cas, nil
}

// WaitForDurability approximates spec.md §4.9's durability poll by
// re-GETing key until its CAS matches expectCas or durability_timeout
// elapses. A full OBSERVE-based persistence/replication check would need
// OBSERVE's non-standard wire framing (its key list travels in the body,
// not the header's key field, which internal/pipeline's generic wire
// encoder doesn't special-case) — see DESIGN.md for why that was cut.
func (inst *Instance) WaitForDurability(ctx context.Context, key []byte, expectCas uint64) error {
	end := inst.pending.Begin(CategoryDurability)
	defer end()

	interval := inst.settings.Timeouts.DurabilityInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.Now().Add(inst.settings.Timeouts.Durability)
	for {
		_, _, cas, err := inst.Get(ctx, key)
		if err == nil && cas == expectCas {
			return nil
		}
		if time.Now().After(deadline) {
			return cberrors.ErrTimeout
		}
		endTimer := inst.pending.Begin(CategoryTimer)
		select {
		case <-ctx.Done():
			endTimer()
			return ctx.Err()
		case <-time.After(interval):
			endTimer()
		}
	}
}

// preparedResult is the subset of a N1QL PREPARE response this client
// reads: the plan name to replay on later EXECUTE-style queries.
type preparedResult struct {
	Results []struct {
		Name string `json:"name"`
	} `json:"results"`
}

// Prepare issues a PREPARE for statement and caches the resulting plan
// name, so a later Query for the same statement text can send "prepared"
// instead of re-parsing it server-side every time.
func (inst *Instance) Prepare(ctx context.Context, statement string) (string, error) {
	end := inst.pending.Begin(CategoryHTTP)
	defer end()

	body, err := json.Marshal(map[string]string{"statement": "PREPARE " + statement})
	if err != nil {
		return "", cberrors.Wrap("instance.query.prepare.encode", err)
	}
	resp, err := inst.httpClient.Do(ctx, &httpclient.Request{
		Type: httpclient.TypeQuery, Method: http.MethodPost, Path: "/query/service",
		Body: body, ContentType: "application/json", Bucket: inst.bucketName(), Timeout: inst.settings.Timeouts.Query,
	})
	if err != nil {
		return "", err
	}
	var parsed preparedResult
	if err := json.Unmarshal(resp.Body, &parsed); err != nil || len(parsed.Results) == 0 {
		return "", cberrors.New(cberrors.CodeProtocol, "instance.query.prepare", "no plan name in PREPARE response", err)
	}
	name := parsed.Results[0].Name
	if err := inst.queryPlans.Set(ctx, statement, []byte(name)); err != nil {
		inst.logger.Warn("failed to cache query plan", "error", err)
	}
	return name, nil
}

// QueryResult is the N1QL query service's raw accumulated response.
type QueryResult struct {
	StatusCode int
	Body       []byte
}

// Query executes statement against the query service, replaying a cached
// prepared plan when one exists for this exact statement text.
func (inst *Instance) Query(ctx context.Context, statement string, namedParams map[string]interface{}) (*QueryResult, error) {
	end := inst.pending.Begin(CategoryHTTP)
	defer end()

	body := map[string]interface{}{}
	if plan, ok := inst.queryPlans.Get(ctx, statement); ok {
		body["prepared"] = string(plan)
	} else {
		body["statement"] = statement
	}
	for k, v := range namedParams {
		body["$"+k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, cberrors.Wrap("instance.query.encode", err)
	}

	resp, err := inst.httpClient.Do(ctx, &httpclient.Request{
		Type: httpclient.TypeQuery, Method: http.MethodPost, Path: "/query/service",
		Body: raw, ContentType: "application/json", Bucket: inst.bucketName(), Timeout: inst.settings.Timeouts.Query,
	})
	if err != nil {
		return nil, err
	}
	return &QueryResult{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

// Encrypt runs plaintext through the crypto provider registered under
// alias, per spec.md §4.9's field-level-encryption hook.
func (inst *Instance) Encrypt(alias string, plaintext []byte) ([]byte, error) {
	p, ok := inst.crypto.Get(alias)
	if !ok {
		return nil, errNoCryptoProvider
	}
	return p.Encrypt(plaintext)
}

// Decrypt is Encrypt's inverse.
func (inst *Instance) Decrypt(alias string, ciphertext []byte) ([]byte, error) {
	p, ok := inst.crypto.Get(alias)
	if !ok {
		return nil, errNoCryptoProvider
	}
	return p.Decrypt(ciphertext)
}

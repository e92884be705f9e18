package confmon

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/couchbase/lcbgo/internal/clustermap"
	cberrors "github.com/couchbase/lcbgo/internal/errors"
	"github.com/couchbase/lcbgo/internal/memd"
)

// CCCPProvider fetches cluster configs via GET_CLUSTER_CONFIG over a plain
// memcached connection (spec.md §4.4's CCCP provider). It deliberately opens
// its own short-lived socket per refresh rather than sharing the dispatch
// layer's negotiated connection pool: CCCP's one request has no session
// requirements (no SASL, no HELLO) and piggybacking it onto live traffic
// pipelines would entangle confmon with dispatch's lifecycle for no benefit
// at this scale.
type CCCPProvider struct {
	baseProvider

	DialTimeout time.Duration
	Logger      *slog.Logger

	mu      sync.Mutex
	nodeIdx int
	opaque  uint32
}

func NewCCCPProvider(logger *slog.Logger) *CCCPProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &CCCPProvider{
		DialTimeout: 2 * time.Second,
		Logger:      logger.With("component", "confmon.cccp"),
	}
}

func (p *CCCPProvider) Name() string { return "cccp" }

func (p *CCCPProvider) Shutdown() {}

func (p *CCCPProvider) Dump(w io.Writer) {
	fmt.Fprintf(w, "cccp provider: node=%d\n", p.nodeIdx)
}

func (p *CCCPProvider) Refresh(ctx context.Context) (*clustermap.Config, error) {
	if p.isPaused() {
		return nil, nil
	}
	nodes := p.GetNodes()
	if len(nodes) == 0 {
		return nil, cberrors.New(cberrors.CodeUsage, "confmon.cccp", "no nodes configured", nil)
	}

	var lastErr error
	for i := 0; i < len(nodes); i++ {
		n := p.nextNode(nodes)
		cfg, err := p.fetchOne(ctx, n)
		if err == nil {
			p.setCached(cfg)
			return cfg, nil
		}
		lastErr = err
		p.Logger.Debug("cccp fetch failed, trying next node", "host", n.Hostname, "error", err)
	}
	return nil, cberrors.Wrap("confmon.cccp.refresh", lastErr)
}

func (p *CCCPProvider) nextNode(nodes []clustermap.NodeInfo) clustermap.NodeInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodeIdx = (p.nodeIdx + 1) % len(nodes)
	return nodes[p.nodeIdx]
}

func (p *CCCPProvider) fetchOne(ctx context.Context, n clustermap.NodeInfo) (*clustermap.Config, error) {
	port := n.KVPort
	if port == 0 {
		port = 11210
	}
	addr := fmt.Sprintf("%s:%d", n.Hostname, port)

	dctx, cancel := context.WithTimeout(ctx, p.DialTimeout)
	defer cancel()
	d := net.Dialer{}
	conn, err := d.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, cberrors.Wrap("confmon.cccp.dial", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(p.DialTimeout))
	}

	p.mu.Lock()
	p.opaque++
	opaque := p.opaque
	p.mu.Unlock()

	req := &memd.Packet{Opcode: memd.OpGetClusterCfg, Opaque: opaque}
	if _, err := conn.Write(req.Encode()); err != nil {
		return nil, cberrors.Wrap("confmon.cccp.write", err)
	}

	br := bufio.NewReader(conn)
	hdrBuf := make([]byte, memd.HeaderSize)
	if _, err := io.ReadFull(br, hdrBuf); err != nil {
		return nil, cberrors.Wrap("confmon.cccp.read", err)
	}
	h, err := memd.DecodeHeader(hdrBuf)
	if err != nil {
		return nil, cberrors.New(cberrors.CodeProtocol, "confmon.cccp.decode", "", err)
	}
	body := make([]byte, h.BodyLen)
	if h.BodyLen > 0 {
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, cberrors.Wrap("confmon.cccp.read_body", err)
		}
	}
	resp, err := memd.FromResponse(h, body)
	if err != nil {
		return nil, cberrors.New(cberrors.CodeProtocol, "confmon.cccp.parse", "", err)
	}
	if resp.Status != memd.StatusSuccess {
		return nil, fmt.Errorf("confmon.cccp: status %s", resp.Status)
	}

	return parseWireConfig(resp.Value, "cccp", n.Hostname, clustermap.NowNano())
}

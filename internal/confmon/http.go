package confmon

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/couchbase/lcbgo/internal/clustermap"
	cberrors "github.com/couchbase/lcbgo/internal/errors"
)

// chunkDelimiter separates successive config documents on a streaming
// bucketsStreaming/bs connection (spec.md §4.4's HTTP provider).
var chunkDelimiter = []byte("\n\n\n\n")

// HTTPProvider fetches cluster configs over chunked HTTP, rotating between
// the terse ("/pools/default/bs/<bucket>") and compat
// ("/pools/default/bucketsStreaming/<bucket>") endpoints on 404, and between
// nodes on connection failure (spec.md §4.4). Each Refresh call opens a new
// streaming GET, reads just the first delimited document, and closes the
// response — the simplest faithful rendition of "pull a config now" over a
// protocol whose native mode is push. This provider holds no persistent
// streaming connection; unsolicited updates arrive only through WSProvider.
type HTTPProvider struct {
	baseProvider

	Bucket   string
	Username string
	Password string
	Client   *http.Client
	Logger   *slog.Logger

	mu       sync.Mutex
	nodeIdx  int
	useTerse bool
}

func NewHTTPProvider(bucket, username, password string, client *http.Client, logger *slog.Logger) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProvider{
		Bucket:   bucket,
		Username: username,
		Password: password,
		Client:   client,
		Logger:   logger.With("component", "confmon.http"),
		useTerse: true,
	}
}

func (p *HTTPProvider) Name() string { return "http" }

func (p *HTTPProvider) Shutdown() {}

func (p *HTTPProvider) Dump(w io.Writer) {
	fmt.Fprintf(w, "http provider: bucket=%s terse=%v node=%d\n", p.Bucket, p.useTerse, p.nodeIdx)
}

// Refresh tries each configured node in turn until one yields a parseable
// config document, falling back to the compat endpoint on a 404.
func (p *HTTPProvider) Refresh(ctx context.Context) (*clustermap.Config, error) {
	if p.isPaused() {
		return nil, nil
	}
	nodes := p.GetNodes()
	if len(nodes) == 0 {
		return nil, cberrors.New(cberrors.CodeUsage, "confmon.http", "no nodes configured", nil)
	}

	var lastErr error
	for i := 0; i < len(nodes); i++ {
		node := p.nextNode(nodes)
		cfg, err := p.fetchOne(ctx, node)
		if err == nil {
			p.setCached(cfg)
			return cfg, nil
		}
		lastErr = err
		p.Logger.Debug("http config fetch failed, trying next node", "node", node, "error", err)
	}
	return nil, cberrors.Wrap("confmon.http.refresh", lastErr)
}

func (p *HTTPProvider) fetchOne(ctx context.Context, node string) (*clustermap.Config, error) {
	// A single node is tried at both endpoint styles before giving up on it:
	// a 404 on the terse URL toggles style and retries once against the
	// same node, since a cluster that doesn't support /bs will 404 on every
	// node, not just this one.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		cfg, retry, err := p.fetchOnceAt(ctx, node)
		if err == nil {
			return cfg, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, lastErr
}

func (p *HTTPProvider) fetchOnceAt(ctx context.Context, node string) (cfg *clustermap.Config, retryOtherStyle bool, err error) {
	url := p.endpoint(node)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	if p.Username != "" {
		req.SetBasicAuth(p.Username, p.Password)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		p.mu.Lock()
		p.useTerse = !p.useTerse
		p.mu.Unlock()
		return nil, true, fmt.Errorf("confmon.http: 404 from %s", url)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("confmon.http: unexpected status %d from %s", resp.StatusCode, url)
	}

	chunk, err := readFirstChunk(resp.Body)
	if err != nil {
		return nil, false, err
	}
	parsed, err := parseWireConfig(chunk, "http", hostOnly(node), clustermap.NowNano())
	return parsed, false, err
}

func (p *HTTPProvider) nextNode(nodes []clustermap.NodeInfo) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodeIdx = (p.nodeIdx + 1) % len(nodes)
	n := nodes[p.nodeIdx]
	port := n.MgmtPort
	if port == 0 {
		port = 8091
	}
	return fmt.Sprintf("%s:%d", n.Hostname, port)
}

func (p *HTTPProvider) endpoint(node string) string {
	p.mu.Lock()
	terse := p.useTerse
	p.mu.Unlock()
	if terse {
		return fmt.Sprintf("http://%s/pools/default/bs/%s", node, p.Bucket)
	}
	return fmt.Sprintf("http://%s/pools/default/bucketsStreaming/%s", node, p.Bucket)
}

func hostOnly(hostport string) string {
	for i := 0; i < len(hostport); i++ {
		if hostport[i] == ':' {
			return hostport[:i]
		}
	}
	return hostport
}

// readFirstChunk reads bytes from r until chunkDelimiter is seen (or EOF),
// returning everything before the delimiter.
func readFirstChunk(r io.Reader) ([]byte, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var buf bytes.Buffer
	tmp := make([]byte, 4096)
	for {
		n, err := br.Read(tmp)
		if n > 0 {
			buf.Write(tmp[:n])
			if idx := bytes.Index(buf.Bytes(), chunkDelimiter); idx >= 0 {
				return bytes.TrimSpace(buf.Bytes()[:idx]), nil
			}
		}
		if err != nil {
			if err == io.EOF {
				if rem := bytes.TrimSpace(buf.Bytes()); len(rem) > 0 {
					return rem, nil
				}
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

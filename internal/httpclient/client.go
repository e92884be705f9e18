// Package httpclient implements spec.md's [HttpRequest]: the streaming
// HTTP/1.1 sub-client views/query/search/analytics/eventing/management
// requests ride over. It deliberately builds on net/http's own chunked
// decoder and connection pooling (http.Transport) rather than re-parsing
// S_HEADER/S_BODY/S_DONE byte-by-byte the way the C client has to — Go's
// standard library already does that job correctly, so reimplementing it
// by hand would just be worse net/http. What this package adds on top is
// the service-node selection, used_nodes exclusion, and redirect-cap
// behaviour spec.md §4.8 actually asks for.
package httpclient

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/couchbase/lcbgo/internal/clustermap"
	cberrors "github.com/couchbase/lcbgo/internal/errors"
)

// Type is the request's target service (spec.md §4.8).
type Type int

const (
	TypeView Type = iota
	TypeQuery
	TypeSearch
	TypeAnalytics
	TypeEventing
	TypeManagement
	TypeRaw
)

func (t Type) String() string {
	switch t {
	case TypeView:
		return "VIEW"
	case TypeQuery:
		return "QUERY"
	case TypeSearch:
		return "SEARCH"
	case TypeAnalytics:
		return "ANALYTICS"
	case TypeEventing:
		return "EVENTING"
	case TypeManagement:
		return "MANAGEMENT"
	case TypeRaw:
		return "RAW"
	default:
		return "UNKNOWN"
	}
}

// Authenticator resolves basic-auth credentials for a request, unless the
// request sets NoUserPass.
type Authenticator interface {
	Credentials(bucket string) (user, pass string)
}

// RowFunc receives streamed body fragments. final is true exactly once, on
// the last call for a request (spec.md's RESP_F_FINAL), with buf holding
// any trailing bytes (possibly empty).
type RowFunc func(buf []byte, final bool)

// Request is spec.md's HttpRequest construction parameters.
type Request struct {
	Type         Type
	Method       string
	Path         string // e.g. "/default/_design/dev_x/_view/y"
	Body         []byte
	ContentType  string
	Bucket       string
	RawHost      string // used only when Type == TypeRaw
	NoUserPass   bool
	Streaming    bool
	MaxRedirects int // -1 = unlimited (spec.md default)
	Timeout      time.Duration
	Row          RowFunc // required when Streaming; ignored otherwise
}

// Response is the non-streaming accumulated result (used when
// Request.Streaming is false).
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client dispatches HttpRequests against the current cluster config.
type Client struct {
	cfgFunc func() *clustermap.Config
	auth    Authenticator
	http    *http.Client
	logger  *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a Client. cfgFunc returns the live cluster config (normally
// dispatch.Queue.Config); it may return nil before the first config arrives,
// in which case only TypeRaw requests can succeed.
func New(cfgFunc func() *clustermap.Config, auth Authenticator, tlsCfg *tls.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		TLSClientConfig:     tlsCfg,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}
	return &Client{
		cfgFunc: cfgFunc,
		auth:    auth,
		http:    &http.Client{Transport: transport, CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }},
		logger:  logger.With("component", "httpclient"),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// servicePort returns the config port field relevant to t, or 0 if t has no
// data-service port concept (management/raw).
func servicePort(t Type, n clustermap.NodeInfo) int {
	switch t {
	case TypeView:
		return n.ViewsPort
	case TypeQuery:
		return n.N1QLPort
	case TypeSearch, TypeAnalytics, TypeEventing:
		return n.SearchPort
	case TypeManagement:
		return n.MgmtPort
	default:
		return 0
	}
}

// pickNode chooses a random node offering req.Type's service, excluding
// indices already in used. Returns ok=false if none remain.
func (c *Client) pickNode(req *Request, used map[int]bool) (host string, idx int, ok bool) {
	cfg := c.cfgFunc()
	if cfg == nil {
		return "", -1, false
	}
	var candidates []int
	for i, n := range cfg.Nodes {
		if used[i] {
			continue
		}
		port := servicePort(req.Type, n)
		if port == 0 {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return "", -1, false
	}
	c.mu.Lock()
	pick := candidates[c.rng.Intn(len(candidates))]
	c.mu.Unlock()
	n := cfg.Nodes[pick]
	return fmt.Sprintf("%s:%d", n.Hostname, servicePort(req.Type, n)), pick, true
}

// configRev returns the currently visible config revision, or -1 if no
// config is available yet (used to invalidate used_nodes on a topology
// change, spec.md §4.8).
func (c *Client) configRev() int64 {
	cfg := c.cfgFunc()
	if cfg == nil {
		return -1
	}
	return cfg.Rev
}

// Do executes req, following redirects and retrying across service nodes on
// network failure, and returns the accumulated Response when req.Streaming
// is false (Row is invoked instead, when it is true).
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	used := make(map[int]bool)
	usedRev := c.configRev()
	redirects := 0

	host, nodeIdx, rawURL, err := c.initialTarget(req, used)
	if err != nil {
		return nil, err
	}

	for {
		if rev := c.configRev(); rev != usedRev {
			used = make(map[int]bool)
			usedRev = rev
		}

		httpReq, err := c.buildRequest(ctx, req, rawURL)
		if err != nil {
			return nil, cberrors.Wrap("httpclient.build", err)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			if req.Type == TypeRaw || nodeIdx < 0 {
				return nil, cberrors.Wrap("httpclient.do", err)
			}
			used[nodeIdx] = true
			nextHost, nextIdx, ok := c.pickNode(req, used)
			if !ok {
				return nil, cberrors.Wrap("httpclient.do", err)
			}
			host, nodeIdx = nextHost, nextIdx
			rawURL = recompose(rawURL, host)
			continue
		}

		if isRedirect(resp.StatusCode) {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, cberrors.New(cberrors.CodeProtocol, "httpclient", "redirect with no Location", nil)
			}
			if req.MaxRedirects >= 0 && redirects >= req.MaxRedirects {
				return nil, cberrors.ErrTooManyRedirects
			}
			redirects++
			next, err := url.Parse(loc)
			if err != nil {
				return nil, cberrors.Wrap("httpclient.redirect", err)
			}
			rawURL = next.String()
			continue
		}

		return c.consume(resp, req)
	}
}

func (c *Client) initialTarget(req *Request, used map[int]bool) (host string, nodeIdx int, rawURL string, err error) {
	if req.Type == TypeRaw {
		if req.RawHost == "" {
			return "", -1, "", cberrors.New(cberrors.CodeUsage, "httpclient", "RAW request requires RawHost", nil)
		}
		return req.RawHost, -1, "http://" + req.RawHost + req.Path, nil
	}
	h, idx, ok := c.pickNode(req, used)
	if !ok {
		return "", -1, "", cberrors.ErrNoMatchingServer
	}
	return h, idx, "http://" + h + req.Path, nil
}

func (c *Client) buildRequest(ctx context.Context, req *Request, rawURL string) (*http.Request, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if !req.NoUserPass && c.auth != nil {
		user, pass := c.auth.Credentials(req.Bucket)
		if user != "" {
			httpReq.SetBasicAuth(user, pass)
		}
	}
	return httpReq, nil
}

// consume reads resp.Body, invoking req.Row incrementally when streaming,
// or accumulating into a Response otherwise. The socket is returned to
// http.Transport's own pool once the body is fully drained and closed — the
// net/http equivalent of spec.md's "keep-alive-eligible -> return to pool".
func (c *Client) consume(resp *http.Response, req *Request) (*Response, error) {
	defer resp.Body.Close()

	if !req.Streaming {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, cberrors.Wrap("httpclient.read", err)
		}
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
	}

	br := bufio.NewReaderSize(resp.Body, 32*1024)
	buf := make([]byte, 32*1024)
	for {
		n, err := br.Read(buf)
		if n > 0 && req.Row != nil {
			chunk := append([]byte(nil), buf[:n]...)
			req.Row(chunk, false)
		}
		if err != nil {
			if err == io.EOF {
				if req.Row != nil {
					req.Row(nil, true)
				}
				return &Response{StatusCode: resp.StatusCode, Header: resp.Header}, nil
			}
			return nil, cberrors.Wrap("httpclient.stream", err)
		}
	}
}

func isRedirect(code int) bool { return code >= 300 && code < 400 }

// recompose replaces the host:port of rawURL with newHost, preserving
// scheme/path/query (spec.md §4.8 "recompose the URL by replacing
// host-port in place").
func recompose(rawURL, newHost string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Host = newHost
	return u.String()
}

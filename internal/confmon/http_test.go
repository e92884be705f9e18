package confmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/lcbgo/internal/clustermap"
)

func TestHTTPProviderRefreshParsesFirstChunk(t *testing.T) {
	doc1 := []byte(`{"rev":1,"nodesExt":[{"hostname":"h1","services":{"kv":11210}}],"vBucketServerMap":{"vBucketMap":[[0]]}}`)
	doc2 := []byte(`{"rev":2,"nodesExt":[{"hostname":"h1","services":{"kv":11210}}],"vBucketServerMap":{"vBucketMap":[[0]]}}`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(doc1)
		w.Write(chunkDelimiter)
		flusher, ok := w.(http.Flusher)
		if ok {
			flusher.Flush()
		}
		w.Write(doc2)
		w.Write(chunkDelimiter)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	p := NewHTTPProvider("default", "", "", srv.Client(), nil)
	p.ConfigureNodes([]clustermap.NodeInfo{{Hostname: u.Hostname(), MgmtPort: port}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cfg, err := p.Refresh(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.EqualValues(t, 1, cfg.Rev, "refresh should only consume the first delimited document")
}

func TestHTTPProviderTogglesEndpointOn404(t *testing.T) {
	var sawTerse, sawCompat bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pools/default/bs/default" {
			sawTerse = true
			w.WriteHeader(http.StatusNotFound)
			return
		}
		sawCompat = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"rev":9,"nodesExt":[{"hostname":"h1","services":{"kv":11210}}],"vBucketServerMap":{"vBucketMap":[[0]]}}`))
		w.Write(chunkDelimiter)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	p := NewHTTPProvider("default", "", "", srv.Client(), nil)
	p.ConfigureNodes([]clustermap.NodeInfo{{Hostname: u.Hostname(), MgmtPort: port}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cfg, err := p.Refresh(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.True(t, sawTerse)
	require.True(t, sawCompat)
}

package confmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestWSProviderRefreshReceivesPushedConfig(t *testing.T) {
	upgrader := websocket.Upgrader{}
	doc := []byte(`{"rev":5,"nodesExt":[{"hostname":"h1","services":{"kv":11210}}],"vBucketServerMap":{"vBucketMap":[[0]]}}`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, doc))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	p := NewWSProvider(wsURL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Start(ctx))
	defer p.Shutdown()

	cfg, err := p.Refresh(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.EqualValues(t, 5, cfg.Rev)
}

func TestWSProviderRefreshRespectsContextDeadline(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	p := NewWSProvider(wsURL, nil)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	defer p.Shutdown()

	shortCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Refresh(shortCtx)
	require.Error(t, err)
}

package confmon

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/lcbgo/internal/clustermap"
	"github.com/couchbase/lcbgo/internal/memd"
)

func startCCCPFakeServer(t *testing.T, body []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		hdrBuf := make([]byte, memd.HeaderSize)
		if _, err := io.ReadFull(conn, hdrBuf); err != nil {
			return
		}
		h, err := memd.DecodeHeader(hdrBuf)
		if err != nil {
			return
		}
		if h.BodyLen > 0 {
			io.CopyN(io.Discard, conn, int64(h.BodyLen))
		}

		buf := make([]byte, memd.HeaderSize+len(body))
		memd.EncodeRequest(buf, memd.Header{
			Opcode:  memd.OpGetClusterCfg,
			VBucket: uint16(memd.StatusSuccess),
			BodyLen: uint32(len(body)),
			Opaque:  h.Opaque,
		})
		copy(buf[memd.HeaderSize:], body)
		conn.Write(buf)
	}()
	return ln.Addr().String()
}

func TestCCCPProviderRefreshParsesConfig(t *testing.T) {
	doc := []byte(`{"rev":7,"nodesExt":[{"hostname":"h1","services":{"kv":11210}}],"vBucketServerMap":{"numReplicas":1,"vBucketMap":[[0,1]]}}`)
	addr := startCCCPFakeServer(t, doc)

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	p := NewCCCPProvider(nil)
	p.ConfigureNodes([]clustermap.NodeInfo{{Hostname: host, KVPort: port}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cfg, err := p.Refresh(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.EqualValues(t, 7, cfg.Rev)
	require.Equal(t, "h1", cfg.Nodes[0].Hostname)
}

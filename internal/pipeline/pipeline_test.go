package pipeline

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/lcbgo/internal/ioloop"
	"github.com/couchbase/lcbgo/internal/memd"
	"github.com/couchbase/lcbgo/internal/netpool"
)

type noSASL struct{}

func (noSASL) Mechanisms() []string                            { return nil }
func (noSASL) Start(string) ([]byte, error)                    { return nil, nil }
func (noSASL) Step([]byte) ([]byte, bool, error)                { return nil, true, nil }
func (noSASL) VerifyFinal([]byte) error                         { return nil }

// readWire reads one full request/response frame off conn.
func readWire(t *testing.T, conn net.Conn) (memd.Header, []byte) {
	t.Helper()
	hdrBuf := make([]byte, memd.HeaderSize)
	_, err := io.ReadFull(conn, hdrBuf)
	require.NoError(t, err)
	h, err := memd.DecodeHeader(hdrBuf)
	require.NoError(t, err)
	body := make([]byte, h.BodyLen)
	if h.BodyLen > 0 {
		_, err = io.ReadFull(conn, body)
		require.NoError(t, err)
	}
	return h, body
}

func writeResponse(t *testing.T, conn net.Conn, h memd.Header, status memd.Status, value []byte) {
	t.Helper()
	buf := make([]byte, memd.HeaderSize+len(value))
	memd.EncodeRequest(buf, memd.Header{
		Opcode:  h.Opcode,
		VBucket: uint16(status),
		BodyLen: uint32(len(value)),
		Opaque:  h.Opaque,
	})
	copy(buf[memd.HeaderSize:], value)
	_, err := conn.Write(buf)
	require.NoError(t, err)
}

func writeKeyedResponse(t *testing.T, conn net.Conn, h memd.Header, status memd.Status, key, value []byte) {
	t.Helper()
	buf := make([]byte, memd.HeaderSize+len(key)+len(value))
	memd.EncodeRequest(buf, memd.Header{
		Opcode:  h.Opcode,
		VBucket: uint16(status),
		KeyLen:  uint16(len(key)),
		BodyLen: uint32(len(key) + len(value)),
		Opaque:  h.Opaque,
	})
	copy(buf[memd.HeaderSize:], key)
	copy(buf[memd.HeaderSize+len(key):], value)
	_, err := conn.Write(buf)
	require.NoError(t, err)
}

func startFakeServer(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		handle(conn)
	}()
	return ln.Addr().String()
}

func negotiateOnlyServer(t *testing.T, afterHello func(conn net.Conn)) string {
	return startFakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		h, _ := readWire(t, conn)
		require.Equal(t, memd.OpHello, h.Opcode)
		writeResponse(t, conn, h, memd.StatusSuccess, nil)
		if afterHello != nil {
			afterHello(conn)
		}
	})
}

func newTestPipeline(t *testing.T, addr string, onResp ResponseFunc, onNMV func(*memd.Packet), onFail FailChainFunc) (*Pipeline, *netpool.Pool[*PooledSocket]) {
	loop := ioloop.New()
	dialer := NewDialer(loop, time.Second, nil, NegotiateOptions{})
	pool := netpool.New[*PooledSocket](4, time.Minute, dialer, nil)
	p := New(0, loop, pool, Options{
		Host:        addr,
		IOTimeout:   time.Second,
		OnResponse:  onResp,
		OnNotMyVbucket: onNMV,
		OnFailChain: onFail,
	})
	return p, pool
}

func TestPipelineEnqueueFlushRoundTrip(t *testing.T) {
	done := make(chan struct{})
	addr := negotiateOnlyServer(t, func(conn net.Conn) {
		h, _ := readWire(t, conn)
		require.Equal(t, memd.OpGet, h.Opcode)
		writeResponse(t, conn, h, memd.StatusSuccess, []byte("value"))
		close(done)
	})

	respCh := make(chan *memd.Packet, 1)
	p, pool := newTestPipeline(t, addr, func(pkt *memd.Packet) { respCh <- pkt }, nil, nil)
	defer pool.Close()
	defer p.Close()

	p.Enqueue(context.Background(), &memd.Packet{Opcode: memd.OpGet, Key: []byte("foo")})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw GET request")
	}

	select {
	case resp := <-respCh:
		require.Equal(t, memd.StatusSuccess, resp.Status)
		require.Equal(t, "value", string(resp.Value))
	case <-time.After(2 * time.Second):
		t.Fatal("no response delivered")
	}
}

func TestPipelineNotMyVbucketRoutedToCallback(t *testing.T) {
	addr := negotiateOnlyServer(t, func(conn net.Conn) {
		h, _ := readWire(t, conn)
		writeResponse(t, conn, h, memd.StatusNotMyVbucket, nil)
	})

	nmvCh := make(chan *memd.Packet, 1)
	p, pool := newTestPipeline(t, addr, nil, func(pkt *memd.Packet) { nmvCh <- pkt }, nil)
	defer pool.Close()
	defer p.Close()

	p.Enqueue(context.Background(), &memd.Packet{Opcode: memd.OpGet, Key: []byte("bar"), VBucket: 7})

	select {
	case pkt := <-nmvCh:
		require.Equal(t, memd.StatusNotMyVbucket, pkt.Status)
		require.EqualValues(t, 7, pkt.VBucket)
	case <-time.After(2 * time.Second):
		t.Fatal("NOT_MY_VBUCKET callback never fired")
	}
}

func TestPipelineStatStreamingRowsAllDelivered(t *testing.T) {
	addr := negotiateOnlyServer(t, func(conn net.Conn) {
		h, _ := readWire(t, conn)
		require.Equal(t, memd.OpStat, h.Opcode)
		writeKeyedResponse(t, conn, h, memd.StatusSuccess, []byte("curr_connections"), []byte("4"))
		writeKeyedResponse(t, conn, h, memd.StatusSuccess, []byte("total_connections"), []byte("9"))
		writeKeyedResponse(t, conn, h, memd.StatusSuccess, nil, nil) // terminator row
	})

	respCh := make(chan *memd.Packet, 4)
	p, pool := newTestPipeline(t, addr, func(pkt *memd.Packet) { respCh <- pkt }, nil, nil)
	defer pool.Close()
	defer p.Close()

	p.Enqueue(context.Background(), &memd.Packet{Opcode: memd.OpStat})

	var rows []*memd.Packet
	for len(rows) < 3 {
		select {
		case pkt := <-respCh:
			rows = append(rows, pkt)
		case <-time.After(2 * time.Second):
			t.Fatalf("only got %d of 3 expected STAT rows", len(rows))
		}
	}
	require.Equal(t, "curr_connections", string(rows[0].Key))
	require.Equal(t, "total_connections", string(rows[1].Key))
	require.Empty(t, rows[2].Key, "terminator row has an empty key")
}

func TestPipelineFailChainOnSocketClose(t *testing.T) {
	addr := negotiateOnlyServer(t, func(conn net.Conn) {
		readWire(t, conn)
		conn.Close()
	})

	failCh := make(chan []*memd.Packet, 1)
	p, pool := newTestPipeline(t, addr, nil, nil, func(pkts []*memd.Packet, err error) {
		failCh <- pkts
	})
	defer pool.Close()
	defer p.Close()

	p.Enqueue(context.Background(), &memd.Packet{Opcode: memd.OpGet, Key: []byte("baz")})

	select {
	case pkts := <-failCh:
		require.Len(t, pkts, 1)
		require.True(t, pkts[0].Has(memd.FlagDetached))
	case <-time.After(2 * time.Second):
		t.Fatal("fail chain never invoked")
	}
}

// Package ioloop provides the minimal concrete form of spec.md's IoTable: a
// black-box async loop exposing sockets, timers, and async callbacks. Per
// spec.md §1 this component is an external collaborator; this
// implementation is a thin, swappable Go-idiomatic substitute built on
// goroutines and channels rather than a cooperative single-thread reactor
// (see DESIGN.md / SPEC_FULL.md for the Open-Question rationale), grounded
// on the worker-goroutine + context-cancellation shape of the teacher's
// internal/realtime/bus.go.
package ioloop

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"
)

// TimerHandle cancels an armed timer.
type TimerHandle interface {
	Stop() bool
}

// Loop is the event-loop handle every long-lived component holds a
// reference to, per spec.md §2.
type Loop struct {
	mu   sync.Mutex
	refs int
	done chan struct{}
}

// New creates a Loop. There is no global loop singleton: each Instance
// owns one, matching spec.md §5's "one event loop per instance".
func New() *Loop {
	return &Loop{done: make(chan struct{})}
}

// Ref/Unref model the refcounted lifetime spec.md §2 requires of IoTable.
func (l *Loop) Ref() {
	l.mu.Lock()
	l.refs++
	l.mu.Unlock()
}

func (l *Loop) Unref() {
	l.mu.Lock()
	l.refs--
	r := l.refs
	l.mu.Unlock()
	if r <= 0 {
		select {
		case <-l.done:
		default:
			close(l.done)
		}
	}
}

// Socket dials a new connection, optionally over TLS, and wraps it as a
// SocketContext.
func (l *Loop) Socket(ctx context.Context, network, addr string, tlsCfg *tls.Config) (*SocketContext, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		tc := tls.Client(conn, tlsCfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tc
	}
	return newSocketContext(conn), nil
}

// Timer arms a one-shot timer that calls fn on its own goroutine after d.
func (l *Loop) Timer(d time.Duration, fn func()) TimerHandle {
	t := time.AfterFunc(d, fn)
	return t
}

// Async schedules fn to run asynchronously (spec.md's "async-signal").
func (l *Loop) Async(fn func()) {
	go fn()
}

// SocketContext wraps a net.Conn. It keeps no read/write intent flags:
// callers read and write the connection returned by Conn directly.
type SocketContext struct {
	conn net.Conn
	mu   sync.Mutex
}

func newSocketContext(conn net.Conn) *SocketContext {
	return &SocketContext{conn: conn}
}

// Conn exposes the underlying net.Conn for read/write.
func (s *SocketContext) Conn() net.Conn { return s.conn }

// Close closes the underlying connection.
func (s *SocketContext) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// SetDeadline proxies to the underlying conn.
func (s *SocketContext) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// Package netpool implements a generic, host-keyed connection pool, used for
// the memcached socket pool; HTTP connections use net/http's own Transport.
// It generalizes the teacher's PostgresPool
// (internal/database/postgres/pool.go) — connect/idle-eviction shape — into
// a type-parameterized pool that isn't tied to a SQL driver. There is no
// background health-check loop: an idle connection past tmoIdle is closed
// when Acquire comes across it.
package netpool

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Conn is the minimal capability netpool needs from a pooled resource.
type Conn interface {
	Close() error
}

// Dialer creates a new Conn for the given host:port key.
type Dialer[T Conn] func(ctx context.Context, key string) (T, error)

// Stats mirrors the teacher's PoolStats (postgres/pool.go) shape.
type Stats struct {
	TotalConns int
	IdleConns  int
	StaleConns int
}

type entry[T Conn] struct {
	conn   T
	idleAt time.Time
}

// Pool is a per-key pool of idle connections with a max-idle-count and an
// idle-timeout, following spec.md §4.2's "per-host pool; idle sockets kept
// with tmoidle; on error discarded rather than returned".
type Pool[T Conn] struct {
	mu      sync.Mutex
	idle    map[string][]entry[T]
	maxIdle int
	tmoIdle time.Duration
	dial    Dialer[T]
	logger  *slog.Logger

	totalLive int
	staleSeen int
}

// New creates a Pool. maxIdle is the max idle connections retained per key;
// tmoIdle is how long an idle connection may sit before being discarded
// rather than handed out.
func New[T Conn](maxIdle int, tmoIdle time.Duration, dial Dialer[T], logger *slog.Logger) *Pool[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool[T]{
		idle:    make(map[string][]entry[T]),
		maxIdle: maxIdle,
		tmoIdle: tmoIdle,
		dial:    dial,
		logger:  logger.With("component", "netpool"),
	}
}

// Acquire returns an idle connection for key if one is fresh enough,
// otherwise dials a new one.
func (p *Pool[T]) Acquire(ctx context.Context, key string) (T, error) {
	p.mu.Lock()
	bucket := p.idle[key]
	now := time.Now()
	for len(bucket) > 0 {
		e := bucket[len(bucket)-1]
		bucket = bucket[:len(bucket)-1]
		p.idle[key] = bucket
		if now.Sub(e.idleAt) > p.tmoIdle {
			p.staleSeen++
			p.totalLive--
			p.mu.Unlock()
			e.conn.Close()
			p.mu.Lock()
			bucket = p.idle[key]
			continue
		}
		p.mu.Unlock()
		p.logger.Debug("reused idle connection", "key", key)
		return e.conn, nil
	}
	p.mu.Unlock()

	conn, err := p.dial(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}
	p.mu.Lock()
	p.totalLive++
	p.mu.Unlock()
	p.logger.Debug("dialed new connection", "key", key)
	return conn, nil
}

// Release returns conn to the idle pool for reuse, or discards it when
// reusable is false or the per-key idle cap is already full — matching
// spec.md §8's "a socket returned with reusable=true is reused only if the
// consumer does not pass discard=true".
func (p *Pool[T]) Release(key string, conn T, reusable bool) {
	if !reusable {
		p.discard(key, conn)
		return
	}
	p.mu.Lock()
	if len(p.idle[key]) >= p.maxIdle {
		p.mu.Unlock()
		conn.Close()
		p.mu.Lock()
		p.totalLive--
		p.mu.Unlock()
		return
	}
	p.idle[key] = append(p.idle[key], entry[T]{conn: conn, idleAt: time.Now()})
	p.mu.Unlock()
}

func (p *Pool[T]) discard(key string, conn T) {
	p.mu.Lock()
	p.totalLive--
	p.mu.Unlock()
	conn.Close()
}

// Stats reports pool-wide counters, mirroring postgres/pool.go's Stats().
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle := 0
	for _, b := range p.idle {
		idle += len(b)
	}
	return Stats{TotalConns: p.totalLive, IdleConns: idle, StaleConns: p.staleSeen}
}

// Close closes every idle connection across all keys.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, bucket := range p.idle {
		for _, e := range bucket {
			e.conn.Close()
		}
		delete(p.idle, key)
	}
	p.totalLive = 0
}

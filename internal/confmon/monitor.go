package confmon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/couchbase/lcbgo/internal/clustermap"
)

// State is the monitor's ACTIVE/INACTIVE/ITERGRACE state machine (spec.md
// §4.4): INACTIVE means no refresh is in flight; ACTIVE means one is;
// ACTIVE+ITERGRACE follows every completed cycle, whether or not it found a
// new config, and lasts Options.IterGrace before the monitor returns to
// INACTIVE. RequestRefresh starts a new cycle from ACTIVE+ITERGRACE just as
// it does from INACTIVE.
type State int

const (
	StateInactive State = iota
	StateActive
	StateActiveIterGrace
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateActiveIterGrace:
		return "ACTIVE_ITERGRACE"
	default:
		return "INACTIVE"
	}
}

// Options configures a Monitor.
type Options struct {
	// IterGrace is how long the monitor stays in ACTIVE+ITERGRACE after a
	// provider cycle completes before returning to INACTIVE. It does not
	// delay or refuse a RequestRefresh made during that time.
	IterGrace time.Duration
	Logger    *slog.Logger
}

// Monitor sequences a chain of Providers, tracks the current best Config,
// and fans out notifications to Listeners — spec.md's [ConfigMonitor].
type Monitor struct {
	providers []Provider
	opts      Options
	logger    *slog.Logger

	mu        sync.Mutex
	state     State
	current   *clustermap.Config
	listeners []Listener
	stopped   bool
	graceTimer *time.Timer
}

// New builds a Monitor over the given provider chain; every refresh cycle
// asks each provider in order and keeps the newest config any of them
// returns.
func New(providers []Provider, opts Options) *Monitor {
	if opts.IterGrace == 0 {
		opts.IterGrace = 1 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		providers: providers,
		opts:      opts,
		logger:    logger.With("component", "confmon"),
	}
}

// Subscribe registers a listener for fan-out notifications.
func (m *Monitor) Subscribe(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Current returns the monitor's best-known config, or nil before the first
// successful refresh.
func (m *Monitor) Current() *clustermap.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// RequestRefresh runs one cycle over the provider chain: every provider is
// asked for a fresh config in turn, and the newest config returned is
// published if it is NewerThan the current one. The cycle does not stop at
// the first provider that succeeds. If INACTIVE, this transitions
// to ACTIVE; while already ACTIVE, a concurrent request piggybacks on the
// in-flight cycle (spec.md §4.4: refreshes coalesce, never pile up).
func (m *Monitor) RequestRefresh(ctx context.Context) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if m.state == StateActive {
		m.mu.Unlock()
		return
	}
	m.state = StateActive
	if m.graceTimer != nil {
		m.graceTimer.Stop()
	}
	m.mu.Unlock()

	go m.runCycle(ctx)
}

func (m *Monitor) runCycle(ctx context.Context) {
	var best *clustermap.Config
	var anySeen bool

	for _, p := range m.providers {
		cfg, err := p.Refresh(ctx)
		if err != nil {
			m.logger.Warn("provider refresh failed", "provider", p.Name(), "error", err)
			continue
		}
		if cfg == nil {
			continue
		}
		anySeen = true
		m.emit(EventGotAnyConfig, cfg)
		if best == nil || cfg.NewerThan(best) {
			best = cfg
		}
	}

	m.mu.Lock()
	isNew := best != nil && (m.current == nil || best.NewerThan(m.current))
	if isNew {
		m.current = best
	}
	m.mu.Unlock()

	if isNew {
		for _, p := range m.providers {
			p.ConfigUpdated(best)
		}
		m.emit(EventGotNewConfig, best)
	}
	m.emit(EventProvidersCycled, nil)
	_ = anySeen

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.state = StateActiveIterGrace
	m.graceTimer = time.AfterFunc(m.opts.IterGrace, func() {
		m.mu.Lock()
		if m.state == StateActiveIterGrace {
			m.state = StateInactive
		}
		m.mu.Unlock()
	})
	m.mu.Unlock()
}

// ConfigUpdatedExternally lets a pushed config (e.g. a CCCP piggyback
// arriving on ordinary pipeline traffic, or a websocket push) update the
// monitor's view outside of an explicit RequestRefresh cycle.
func (m *Monitor) ConfigUpdatedExternally(cfg *clustermap.Config) {
	m.mu.Lock()
	isNew := m.current == nil || cfg.NewerThan(m.current)
	if isNew {
		m.current = cfg
	}
	m.mu.Unlock()

	if isNew {
		for _, p := range m.providers {
			p.ConfigUpdated(cfg)
		}
		m.emit(EventGotNewConfig, cfg)
	}
	m.emit(EventGotAnyConfig, cfg)
}

func (m *Monitor) emit(ev Event, cfg *clustermap.Config) {
	m.mu.Lock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		l(ev, cfg)
	}
}

// Stop shuts every provider down and fans out MONITOR_STOPPED.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.graceTimer != nil {
		m.graceTimer.Stop()
	}
	m.mu.Unlock()

	for _, p := range m.providers {
		p.Shutdown()
	}
	m.emit(EventMonitorStopped, nil)
}

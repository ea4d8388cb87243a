// Package connectivity provides network-reachability signals for the action
// queue engine. A Monitor polls a pluggable Probe and converts the raw
// reachable/unreachable samples into an edge-triggered became-online event.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thittam1hub/queuekit/logging"
)

// Probe answers a single reachability question. Implementations should apply
// their own dial timeout via the context.
type Probe interface {
	// Ping returns nil when the remote endpoint is reachable.
	Ping(ctx context.Context) error
}

// ProbeFunc adapts a plain function to the Probe interface.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Ping(ctx context.Context) error { return f(ctx) }

// Config holds configuration options for the Monitor.
type Config struct {
	// Interval between probe attempts. Defaults to 15s.
	Interval time.Duration

	// ProbeTimeout bounds each probe attempt. Defaults to 5s.
	ProbeTimeout time.Duration

	// AssumeOnline sets the state reported before the first probe
	// completes. Mobile callers usually start optimistic.
	AssumeOnline bool

	// Logger for monitor internals. Defaults to the package logger.
	Logger *logging.Logger
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.Default().WithComponent(logging.Component("connectivity"))
	}
}

// Monitor tracks online/offline state and notifies subscribers exactly once
// per offline-to-online transition. It satisfies the engine's
// ConnectivitySignal interface.
type Monitor struct {
	probe  Probe
	config Config
	logger *logging.Logger

	mu        sync.Mutex
	online    bool
	nextToken int
	callbacks map[int]func()
	stop      chan struct{}
	started   bool
}

// NewMonitor creates a monitor over the given probe. Call Start to begin
// polling; SetOnline can drive the state directly when the platform already
// delivers reachability callbacks.
func NewMonitor(probe Probe, config *Config) *Monitor {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	cfg.setDefaults()

	return &Monitor{
		probe:     probe,
		config:    cfg,
		logger:    cfg.Logger,
		online:    cfg.AssumeOnline,
		callbacks: make(map[int]func()),
	}
}

// IsOnline returns the current reachability snapshot.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnBecameOnline registers fn to run on each offline-to-online edge. The
// returned cancel func stops future deliveries; cancelling twice is a no-op.
func (m *Monitor) OnBecameOnline(fn func()) (cancel func()) {
	m.mu.Lock()
	m.nextToken++
	token := m.nextToken
	m.callbacks[token] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.callbacks, token)
		m.mu.Unlock()
	}
}

// SetOnline records a reachability sample. Subscribers fire only when the
// state changes from offline to online, never on repeated online samples.
// Callbacks run on a separate goroutine so the caller is never blocked.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	var fns []func()
	if online && !wasOnline {
		fns = make([]func(), 0, len(m.callbacks))
		for _, fn := range m.callbacks {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	if online != wasOnline {
		m.logger.Info("connectivity changed", slog.Bool("online", online))
	}

	if len(fns) > 0 {
		go func() {
			for _, fn := range fns {
				fn()
			}
		}()
	}
}

// Start begins background polling. Safe to call once; subsequent calls are
// no-ops until Stop.
func (m *Monitor) Start(ctx context.Context) {
	if m.probe == nil {
		return
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	stop := make(chan struct{})
	m.stop = stop
	m.mu.Unlock()

	go m.pollLoop(ctx, stop)
}

// Stop halts background polling.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.stop)
	m.stop = nil
}

func (m *Monitor) pollLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.sample(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	err := m.probe.Ping(probeCtx)
	if err != nil {
		m.logger.Debug("probe failed", slog.String("error", err.Error()))
	}
	m.SetOnline(err == nil)
}

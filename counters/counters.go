// Package counters implements local-first counters, the pattern behind unread
// message tracking: reads are served instantly from local state, mutations
// apply synchronously in memory and persist asynchronously with debouncing,
// and a periodic background pull reconciles against server truth.
package counters

import (
	"context"
	"log/slog"
	"sync"
	"time"

	qerrors "github.com/thittam1hub/queuekit/errors"
	"github.com/thittam1hub/queuekit/logging"
)

// SnapshotStore persists the full counter map. Implementations can use any
// durable local storage; storage/sqlite provides one.
type SnapshotStore interface {
	// Save replaces the persisted snapshot with values.
	Save(ctx context.Context, values map[string]int64) error

	// Load returns the persisted snapshot, empty when none exists.
	Load(ctx context.Context) (map[string]int64, error)
}

// DefaultDebounce batches mutations for this long before writing a snapshot.
const DefaultDebounce = 2 * time.Second

// Manager holds locally authoritative counters keyed by string (e.g. a
// conversation id). All reads and mutations are synchronous; persistence is
// debounced so a burst of mutations costs one disk write.
type Manager struct {
	store        SnapshotStore
	debounce     time.Duration
	flushTimeout time.Duration
	logger       *logging.Logger

	mu         sync.Mutex
	values     map[string]int64
	flushTimer *time.Timer
	closed     bool
}

// Config holds configuration options for the Manager.
type Config struct {
	// Debounce is the delay between the first unpersisted mutation and
	// the snapshot write. Defaults to DefaultDebounce.
	Debounce time.Duration

	// FlushTimeout bounds each background snapshot write. Defaults to 5s.
	FlushTimeout time.Duration

	// Logger for persistence failures. Defaults to the package logger.
	Logger *logging.Logger
}

func (c *Config) setDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.Default().WithComponent(logging.Component("counters"))
	}
}

// NewManager creates a counter manager over store. Call Load to rehydrate
// persisted values before first use.
func NewManager(store SnapshotStore, config *Config) *Manager {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	cfg.setDefaults()

	return &Manager{
		store:        store,
		debounce:     cfg.Debounce,
		flushTimeout: cfg.FlushTimeout,
		logger:       cfg.Logger,
		values:       make(map[string]int64),
	}
}

// Load rehydrates counters from the snapshot store.
func (m *Manager) Load(ctx context.Context) error {
	values, err := m.store.Load(ctx)
	if err != nil {
		return qerrors.NewStorageError(qerrors.OpLoad, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if values != nil {
		m.values = values
	}
	return nil
}

// Get returns the locally authoritative value for key. Never waits on I/O.
func (m *Manager) Get(key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key]
}

// Total returns the sum across all tracked keys.
func (m *Manager) Total() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	for _, v := range m.values {
		total += v
	}
	return total
}

// Increment adds by to key's value and schedules a debounced persist.
func (m *Manager) Increment(key string, by int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] += by
	m.scheduleFlushLocked()
}

// Set overwrites key's value and schedules a debounced persist.
func (m *Manager) Set(key string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.scheduleFlushLocked()
}

// Clear removes key and schedules a debounced persist.
func (m *Manager) Clear(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	m.scheduleFlushLocked()
}

// ReconcileFromRemote overwrites key with an authoritative server value,
// typically after a periodic background pull. Last write wins.
func (m *Manager) ReconcileFromRemote(key string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.scheduleFlushLocked()
}

// Flush writes the snapshot immediately, cancelling any pending debounce
// timer.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	if m.flushTimer != nil {
		m.flushTimer.Stop()
		m.flushTimer = nil
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if err := m.store.Save(ctx, snapshot); err != nil {
		return qerrors.NewStorageError(qerrors.OpFlush, err)
	}
	return nil
}

// Close flushes pending state and stops the debounce timer. The manager must
// not be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.flushTimeout)
	defer cancel()
	return m.Flush(ctx)
}

// scheduleFlushLocked arms the debounce timer if one is not already pending.
// Callers hold mu.
func (m *Manager) scheduleFlushLocked() {
	if m.closed || m.flushTimer != nil {
		return
	}
	m.flushTimer = time.AfterFunc(m.debounce, m.backgroundFlush)
}

func (m *Manager) backgroundFlush() {
	m.mu.Lock()
	m.flushTimer = nil
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.flushTimeout)
	defer cancel()

	if err := m.store.Save(ctx, snapshot); err != nil {
		// A failed background write is a storage problem; local state
		// stays authoritative and the next mutation re-arms the timer.
		m.logger.LogError(ctx, qerrors.NewStorageError(qerrors.OpFlush, err),
			"failed to persist counter snapshot",
			slog.Int("keys", len(snapshot)),
		)
	}
}

func (m *Manager) snapshotLocked() map[string]int64 {
	snapshot := make(map[string]int64, len(m.values))
	for k, v := range m.values {
		snapshot[k] = v
	}
	return snapshot
}

// Package queuekit provides an offline-first action queue for mobile and
// edge clients. Mutations performed while offline are persisted locally and
// replayed against the remote backend with exponential-backoff retry once
// connectivity returns.
package queuekit

import (
	"context"
	"time"
)

// ActionType tags a queued action with the remote-apply behavior to invoke.
// The set of types is defined by the application (e.g. "send_message",
// "save_item", "add_reaction", "mark_read").
type ActionType string

// Action is a single deferred remote mutation. Instances are created by the
// engine on Enqueue and mutated only by the engine on failed sync attempts.
type Action struct {
	// ID uniquely identifies the action for its whole lifetime.
	ID string `json:"id"`

	// Type selects the Applier used to replay the action remotely.
	Type ActionType `json:"type"`

	// Payload carries the JSON-compatible values needed to replay the
	// action. The engine treats it as opaque.
	Payload map[string]interface{} `json:"payload"`

	// CreatedAt is the original enqueue time; actions are attempted in
	// CreatedAt order within a sync pass.
	CreatedAt time.Time `json:"created_at"`

	// RetryCount is the number of failed sync attempts so far.
	RetryCount int `json:"retry_count"`

	// NextRetryAt gates the next attempt. Nil means eligible immediately.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// LastError is the diagnostic string from the most recent failure.
	LastError string `json:"last_error,omitempty"`
}

// Ready reports whether the action is eligible for a sync attempt at t.
func (a *Action) Ready(t time.Time) bool {
	return a.NextRetryAt == nil || !t.Before(*a.NextRetryAt)
}

// clone returns a copy safe to hand to callers while the engine keeps
// mutating its own instance.
func (a *Action) clone() *Action {
	cp := *a
	if a.NextRetryAt != nil {
		t := *a.NextRetryAt
		cp.NextRetryAt = &t
	}
	return &cp
}

// Applier replays one action's payload against the remote system. It returns
// true on success; returning false or an error counts as a failed attempt.
// Transport-level timeouts are the applier's own responsibility - the engine
// only bounds retry attempts, not per-call duration.
type Applier func(ctx context.Context, payload map[string]interface{}) (bool, error)

// ActionStore provides durable persistence for queued actions.
// Implementations can use any local storage backend (SQLite, PostgreSQL, an
// in-memory map for tests). The engine is the store's only writer.
type ActionStore interface {
	// Put upserts one action's full serialized state. The stored action
	// and the live-id manifest must stay consistent after a successful
	// call.
	Put(ctx context.Context, action *Action) error

	// Delete removes an action's serialized state. Deleting an unknown id
	// is a no-op, not an error.
	Delete(ctx context.Context, id string) error

	// LoadAll returns every live action, in unspecified order. Used only
	// at startup; the engine re-sorts by CreatedAt.
	LoadAll(ctx context.Context) ([]*Action, error)

	// SaveIndex replaces the compact manifest of live action ids.
	SaveIndex(ctx context.Context, ids []string) error

	// LoadIndex returns the manifest of live action ids.
	LoadIndex(ctx context.Context) ([]string, error)

	// Close closes the store and releases resources.
	Close() error
}

// ConnectivitySignal exposes the device's network reachability to the engine.
// Implementations must fire the callback once per offline-to-online edge, not
// on every underlying network-state event.
type ConnectivitySignal interface {
	// IsOnline returns the current reachability snapshot.
	IsOnline() bool

	// OnBecameOnline registers fn to run on each offline-to-online
	// transition. The returned cancel func stops future deliveries.
	OnBecameOnline(fn func()) (cancel func())
}

// SyncStatus describes the engine's externally visible state.
type SyncStatus string

const (
	// StatusIdle means no actions are pending.
	StatusIdle SyncStatus = "idle"

	// StatusSyncing means a sync pass is in flight.
	StatusSyncing SyncStatus = "syncing"

	// StatusRetrying means actions remain queued after at least one
	// failed attempt.
	StatusRetrying SyncStatus = "retrying"

	// StatusFailed means at least one action exhausted its retries and
	// was dropped during the most recent pass.
	StatusFailed SyncStatus = "failed"
)

// Engine coordinates the offline action queue. This is the main entry point
// for the queuekit package.
type Engine interface {
	// Init rehydrates pending actions from the store and registers with
	// the connectivity signal. Safe to call more than once; subsequent
	// calls are no-ops.
	Init(ctx context.Context) error

	// Enqueue persists a new action and schedules a sync attempt if the
	// device is online. It returns after the local persist completes and
	// never blocks on network I/O.
	Enqueue(ctx context.Context, actionType ActionType, payload map[string]interface{}) (string, error)

	// Dequeue removes an action, typically after external confirmation of
	// success. Idempotent.
	Dequeue(ctx context.Context, id string) error

	// Cancel removes an action and reports whether it existed. Used for
	// undo windows.
	Cancel(ctx context.Context, id string) (bool, error)

	// PendingActions returns copies of all queued actions sorted by
	// CreatedAt ascending.
	PendingActions() []*Action

	// PendingCount returns the number of queued actions.
	PendingCount() int

	// Status returns the engine's current sync status.
	Status() SyncStatus

	// ForceSyncNow clears every action's backoff gate and runs a sync
	// pass in the calling goroutine, returning when the pass completes.
	ForceSyncNow(ctx context.Context)

	// RetryAction clears the backoff gate for exactly one action and
	// triggers a sync pass.
	RetryAction(ctx context.Context, id string) error

	// ClearAll removes every pending action and resets status to idle.
	// Used on account sign-out.
	ClearAll(ctx context.Context) error

	// RegisterApplier installs the remote-apply callback for one action
	// type, replacing any previous registration.
	RegisterApplier(actionType ActionType, fn Applier)

	// AddQueueListener registers a callback invoked whenever the set of
	// pending actions changes. The returned token removes it.
	AddQueueListener(fn func()) int

	// RemoveQueueListener removes a queue-changed listener.
	RemoveQueueListener(token int)

	// AddStatusListener registers a callback invoked on status changes.
	AddStatusListener(fn func(SyncStatus)) int

	// RemoveStatusListener removes a status-changed listener.
	RemoveStatusListener(token int)

	// Close cancels timers, unregisters the connectivity listener and
	// closes the store. No timers remain scheduled afterwards.
	Close() error
}

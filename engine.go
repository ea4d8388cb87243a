package queuekit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	qerrors "github.com/thittam1hub/queuekit/errors"
	"github.com/thittam1hub/queuekit/logging"
)

// Options configures the action queue engine.
type Options struct {
	// MaxRetries bounds failed attempts per action; an action reaching the
	// bound is dropped. Defaults to 5.
	MaxRetries int

	// Backoff computes the delay before each retry. Defaults to
	// NewExponentialBackoff().
	Backoff BackoffStrategy

	// WakeMargin is the safety margin added when scheduling the wake-up
	// timer for the earliest NextRetryAt. Defaults to 100ms.
	WakeMargin time.Duration

	// Validator optionally checks payloads against per-type JSON Schemas
	// at enqueue time.
	Validator *PayloadValidator

	// Logger for engine internals. Defaults to the package logger.
	Logger *logging.Logger

	// Metrics for observability hooks. Defaults to a no-op collector.
	Metrics MetricsCollector
}

func (o *Options) setDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.Backoff == nil {
		o.Backoff = NewExponentialBackoff()
	}
	if o.WakeMargin <= 0 {
		o.WakeMargin = 100 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = logging.Default().WithComponent(logging.Component("queue-engine"))
	}
	if o.Metrics == nil {
		o.Metrics = &NoOpMetricsCollector{}
	}
}

// engine implements the Engine interface
type engine struct {
	store   ActionStore
	signal  ConnectivitySignal
	options Options
	hub     *ListenerHub
	logger  *logging.Logger

	// Internal state. The syncing flag is the single-flight guard for
	// sync passes; it is only read and written under mu.
	mu           sync.Mutex
	actions      map[string]*Action
	appliers     map[ActionType]Applier
	syncing      bool
	status       SyncStatus
	wakeTimer    *time.Timer
	initialized  bool
	closed       bool
	cancelOnline func()
}

// NewEngine creates an action queue engine over the given store and
// connectivity signal. Call Init before enqueueing.
func NewEngine(store ActionStore, signal ConnectivitySignal, opts *Options) Engine {
	options := Options{}
	if opts != nil {
		options = *opts
	}
	options.setDefaults()

	return &engine{
		store:    store,
		signal:   signal,
		options:  options,
		hub:      NewListenerHub(options.Logger),
		logger:   options.Logger,
		actions:  make(map[string]*Action),
		appliers: make(map[ActionType]Applier),
		status:   StatusIdle,
	}
}

// Init rehydrates the in-memory index from the persistent store, registers
// with the connectivity signal, and kicks off an initial sync pass when
// actions are pending and the device is online. Subsequent calls are no-ops.
func (e *engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return qerrors.New(qerrors.OpInit, fmt.Errorf("engine is closed"))
	}
	if e.initialized {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	actions, err := e.store.LoadAll(ctx)
	if err != nil {
		e.options.Metrics.RecordSyncErrors("init", "load_failure")
		return qerrors.NewStorageError(qerrors.OpInit, err)
	}

	e.mu.Lock()
	if e.initialized || e.closed {
		e.mu.Unlock()
		return nil
	}
	for _, a := range actions {
		e.actions[a.ID] = a
	}
	e.initialized = true
	pending := len(e.actions) > 0
	e.mu.Unlock()

	// Registered exactly once per engine; Close unregisters. A Close that
	// raced this registration unsubscribes here instead.
	cancel := e.signal.OnBecameOnline(e.onBecameOnline)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return nil
	}
	e.cancelOnline = cancel
	e.mu.Unlock()

	e.logger.Info("action queue initialized",
		slog.Int("pending_actions", len(actions)),
		slog.Bool("online", e.signal.IsOnline()),
	)

	if pending && e.signal.IsOnline() {
		go e.runSyncPass(context.Background())
	}
	return nil
}

// RegisterApplier installs the remote-apply callback for actionType.
func (e *engine) RegisterApplier(actionType ActionType, fn Applier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appliers[actionType] = fn
}

// Enqueue persists a new action and schedules a sync attempt when online.
// The local persist is the only wait; network I/O happens in the background.
func (e *engine) Enqueue(ctx context.Context, actionType ActionType, payload map[string]interface{}) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", qerrors.New(qerrors.OpEnqueue, fmt.Errorf("engine is closed"))
	}
	e.mu.Unlock()

	if e.options.Validator != nil {
		if err := e.options.Validator.Validate(actionType, payload); err != nil {
			return "", qerrors.NewValidationError(qerrors.OpEnqueue, err)
		}
	}

	action := &Action{
		ID:        uuid.NewString(),
		Type:      actionType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}

	if err := e.store.Put(ctx, action); err != nil {
		e.options.Metrics.RecordSyncErrors("enqueue", "put_failure")
		e.logger.LogError(ctx, err, "failed to persist enqueued action",
			slog.String("action_type", string(actionType)),
		)
		return "", qerrors.NewStorageError(qerrors.OpEnqueue, err)
	}

	e.mu.Lock()
	e.actions[action.ID] = action
	shouldSync := e.signal.IsOnline() && !e.syncing
	e.mu.Unlock()

	e.hub.NotifyQueueChanged()

	if shouldSync {
		go e.runSyncPass(context.Background())
	}
	return action.ID, nil
}

// Dequeue removes an action after external confirmation. Idempotent.
func (e *engine) Dequeue(ctx context.Context, id string) error {
	existed, err := e.remove(ctx, id)
	if err != nil {
		return qerrors.NewStorageError(qerrors.OpDequeue, err)
	}
	if existed {
		e.hub.NotifyQueueChanged()
	}
	return nil
}

// Cancel removes an action and reports whether it existed.
func (e *engine) Cancel(ctx context.Context, id string) (bool, error) {
	existed, err := e.remove(ctx, id)
	if err != nil {
		return existed, qerrors.NewStorageError(qerrors.OpCancel, err)
	}
	if existed {
		e.hub.NotifyQueueChanged()
	}
	return existed, nil
}

// remove deletes an action from the index and the store. The in-memory
// removal takes effect immediately; an in-flight apply for the same id will
// find the action gone and discard its result. A failed store delete puts the
// action back so memory and store stay in agreement and the caller can retry.
func (e *engine) remove(ctx context.Context, id string) (bool, error) {
	e.mu.Lock()
	a, existed := e.actions[id]
	delete(e.actions, id)
	remaining := len(e.actions)
	e.mu.Unlock()

	if err := e.store.Delete(ctx, id); err != nil {
		if existed {
			e.mu.Lock()
			if !e.closed {
				e.actions[id] = a
			}
			e.mu.Unlock()
		}
		return existed, err
	}

	if existed && remaining == 0 {
		e.setStatus(StatusIdle)
	}
	return existed, nil
}

// PendingActions returns copies of all queued actions sorted by CreatedAt.
func (e *engine) PendingActions() []*Action {
	e.mu.Lock()
	out := make([]*Action, 0, len(e.actions))
	for _, a := range e.actions {
		out = append(out, a.clone())
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// PendingCount returns the number of queued actions.
func (e *engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.actions)
}

// Status returns the engine's current sync status.
func (e *engine) Status() SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// ForceSyncNow clears every backoff gate and runs a sync pass in the calling
// goroutine. Used for manual "retry" affordances.
func (e *engine) ForceSyncNow(ctx context.Context) {
	e.mu.Lock()
	for _, a := range e.actions {
		a.NextRetryAt = nil
	}
	e.stopWakeTimerLocked()
	e.mu.Unlock()

	e.runSyncPass(ctx)
}

// RetryAction clears the backoff gate for one action and triggers a pass.
// Unknown ids are a no-op.
func (e *engine) RetryAction(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return qerrors.New(qerrors.OpSync, fmt.Errorf("engine is closed"))
	}
	a, ok := e.actions[id]
	if ok {
		a.NextRetryAt = nil
	}
	e.mu.Unlock()

	if ok {
		go e.runSyncPass(context.Background())
	}
	return nil
}

// ClearAll removes every pending action and resets status to idle.
func (e *engine) ClearAll(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.actions))
	for id := range e.actions {
		ids = append(ids, id)
	}
	e.actions = make(map[string]*Action)
	e.stopWakeTimerLocked()
	e.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := e.store.Delete(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.store.SaveIndex(ctx, nil); err != nil && firstErr == nil {
		firstErr = err
	}

	if len(ids) > 0 {
		e.hub.NotifyQueueChanged()
	}
	e.setStatus(StatusIdle)

	if firstErr != nil {
		e.logger.LogError(ctx, firstErr, "failed to clear persisted actions")
		return qerrors.NewStorageError(qerrors.OpDelete, firstErr)
	}
	return nil
}

// AddQueueListener registers a queue-changed listener.
func (e *engine) AddQueueListener(fn func()) int { return e.hub.AddQueueListener(fn) }

// RemoveQueueListener removes a queue-changed listener.
func (e *engine) RemoveQueueListener(token int) { e.hub.RemoveQueueListener(token) }

// AddStatusListener registers a status-changed listener.
func (e *engine) AddStatusListener(fn func(SyncStatus)) int { return e.hub.AddStatusListener(fn) }

// RemoveStatusListener removes a status-changed listener.
func (e *engine) RemoveStatusListener(token int) { e.hub.RemoveStatusListener(token) }

// Close cancels timers, unregisters the connectivity listener and closes the
// store.
func (e *engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopWakeTimerLocked()
	cancel := e.cancelOnline
	e.cancelOnline = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if err := e.store.Close(); err != nil {
		return qerrors.NewWithComponent(qerrors.OpClose, "store", err)
	}
	return nil
}

// onBecameOnline handles the offline-to-online edge: any pending wake-up
// timer is cancelled and replaced by an immediate pass.
func (e *engine) onBecameOnline() {
	e.mu.Lock()
	e.stopWakeTimerLocked()
	pending := len(e.actions) > 0
	e.mu.Unlock()

	e.logger.Debug("connectivity restored", slog.Bool("pending", pending))

	if pending {
		go e.runSyncPass(context.Background())
	}
}

// runSyncPass executes one full iteration over ready pending actions. At most
// one pass runs at a time; overlapping calls return immediately.
func (e *engine) runSyncPass(ctx context.Context) {
	start := time.Now()

	e.mu.Lock()
	if e.closed || e.syncing || !e.signal.IsOnline() {
		e.mu.Unlock()
		return
	}
	e.syncing = true
	statusChanged := e.status != StatusSyncing
	e.status = StatusSyncing

	now := time.Now()
	ready := make([]*Action, 0, len(e.actions))
	for _, a := range e.actions {
		if a.Ready(now) {
			ready = append(ready, a)
		}
	}
	e.mu.Unlock()

	if statusChanged {
		e.hub.NotifyStatusChanged(StatusSyncing)
	}

	// Ready actions are attempted oldest-first. Actions still inside their
	// backoff window are skipped this pass and picked up by the wake-up
	// timer.
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].CreatedAt.Equal(ready[j].CreatedAt) {
			return ready[i].ID < ready[j].ID
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})

	var succeeded, failed int
	queueChanged := false
	dropped := false

	for _, a := range ready {
		// Check for context cancellation between actions
		select {
		case <-ctx.Done():
			e.options.Metrics.RecordSyncErrors("sync", "context_canceled")
		default:
		}
		if ctx.Err() != nil {
			break
		}

		ok, err := e.apply(ctx, a)
		if ok && err == nil {
			succeeded++
			e.mu.Lock()
			_, present := e.actions[a.ID]
			delete(e.actions, a.ID)
			e.mu.Unlock()
			if present {
				queueChanged = true
			}

			// An applied action is never re-queued in-process. If the
			// store delete fails, the stored copy resurrects on restart
			// and replays; apply is at-least-once.
			if rmErr := e.store.Delete(ctx, a.ID); rmErr != nil {
				e.logger.LogError(ctx, rmErr, "failed to delete applied action",
					slog.String("action_id", a.ID),
				)
			}
			continue
		}

		failed++
		wasDropped, changed := e.recordFailure(ctx, a.ID, err)
		dropped = dropped || wasDropped
		queueChanged = queueChanged || changed
	}

	e.mu.Lock()
	e.syncing = false
	final := e.finalStatusLocked(dropped)
	statusChanged = e.status != final
	e.status = final
	e.scheduleWakeLocked()
	e.mu.Unlock()

	if queueChanged {
		e.hub.NotifyQueueChanged()
	}
	if statusChanged {
		e.hub.NotifyStatusChanged(final)
	}

	e.options.Metrics.RecordSyncDuration(time.Since(start))
	e.options.Metrics.RecordActionsApplied(succeeded, failed)

	e.logger.Debug("sync pass completed",
		slog.Int("succeeded", succeeded),
		slog.Int("failed", failed),
		slog.Bool("dropped", dropped),
		slog.String("status", string(final)),
		slog.Duration("duration", time.Since(start)),
	)
}

// apply invokes the applier for one action, isolating panics so a misbehaving
// callback counts as a failed attempt instead of crashing the process.
func (e *engine) apply(ctx context.Context, a *Action) (ok bool, err error) {
	e.mu.Lock()
	fn := e.appliers[a.Type]
	e.mu.Unlock()

	if fn == nil {
		return false, fmt.Errorf("no applier registered for action type %q", a.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("applier panic: %v", r)
		}
	}()
	return fn(ctx, a.Payload)
}

// recordFailure increments the retry count for id and either reschedules the
// action with backoff or, when the retry bound is reached, drops it
// permanently. A cancellation that raced the in-flight attempt makes this a
// no-op. Returns (dropped, queueChanged).
func (e *engine) recordFailure(ctx context.Context, id string, applyErr error) (bool, bool) {
	e.mu.Lock()
	a, alive := e.actions[id]
	if !alive {
		// Removed mid-flight; the attempt's result is discarded.
		e.mu.Unlock()
		return false, false
	}

	a.RetryCount++
	if applyErr != nil {
		a.LastError = applyErr.Error()
	} else {
		a.LastError = "remote apply returned false"
	}

	if a.RetryCount >= e.options.MaxRetries {
		delete(e.actions, id)
		actionType := a.Type
		e.mu.Unlock()

		if err := e.store.Delete(ctx, id); err != nil {
			e.logger.LogError(ctx, err, "failed to delete exhausted action",
				slog.String("action_id", id),
			)
		}

		e.options.Metrics.RecordActionDropped(string(actionType))
		e.logger.Warn("action dropped after exhausting retries",
			slog.String("action_id", id),
			slog.String("action_type", string(actionType)),
			slog.String("last_error", a.LastError),
		)
		return true, true
	}

	next := time.Now().Add(e.options.Backoff.Delay(a.RetryCount))
	a.NextRetryAt = &next
	cp := a.clone()
	e.mu.Unlock()

	// Persist the updated retry metadata so a restart resumes the same
	// backoff schedule. A persistence failure is a storage problem, not an
	// action problem: log it and keep the in-memory state authoritative.
	if err := e.store.Put(ctx, cp); err != nil {
		e.options.Metrics.RecordSyncErrors("sync", "put_failure")
		e.logger.LogError(ctx, err, "failed to persist retry state",
			slog.String("action_id", id),
		)
	}

	e.options.Metrics.RecordRetryScheduled(string(cp.Type), cp.RetryCount)
	return false, false
}

// finalStatusLocked derives the post-pass status. Callers hold mu.
func (e *engine) finalStatusLocked(dropped bool) SyncStatus {
	if dropped {
		return StatusFailed
	}
	if len(e.actions) == 0 {
		return StatusIdle
	}
	for _, a := range e.actions {
		if a.RetryCount > 0 {
			return StatusRetrying
		}
	}
	return StatusIdle
}

// scheduleWakeLocked arms exactly one timer for the next eligible action,
// replacing any previous timer. An action that is already eligible (enqueued
// while the pass was in flight, or its gate expired during the pass) gets an
// immediate follow-up; otherwise the timer targets the earliest NextRetryAt.
// Callers hold mu.
func (e *engine) scheduleWakeLocked() {
	e.stopWakeTimerLocked()

	if e.closed || len(e.actions) == 0 {
		return
	}

	now := time.Now()
	readyNow := false
	var earliest *time.Time
	for _, a := range e.actions {
		if a.Ready(now) {
			readyNow = true
			break
		}
		if earliest == nil || a.NextRetryAt.Before(*earliest) {
			earliest = a.NextRetryAt
		}
	}

	var delay time.Duration
	switch {
	case readyNow:
		if !e.signal.IsOnline() {
			// The reconnect callback wakes offline queues.
			return
		}
		delay = e.options.WakeMargin
	case earliest != nil:
		delay = time.Until(*earliest) + e.options.WakeMargin
		if delay < e.options.WakeMargin {
			delay = e.options.WakeMargin
		}
	default:
		return
	}

	e.wakeTimer = time.AfterFunc(delay, func() {
		e.runSyncPass(context.Background())
	})
}

func (e *engine) stopWakeTimerLocked() {
	if e.wakeTimer != nil {
		e.wakeTimer.Stop()
		e.wakeTimer = nil
	}
}

// setStatus updates the status outside a sync pass and notifies listeners on
// change.
func (e *engine) setStatus(status SyncStatus) {
	e.mu.Lock()
	changed := e.status != status
	e.status = status
	e.mu.Unlock()

	if changed {
		e.hub.NotifyStatusChanged(status)
	}
}

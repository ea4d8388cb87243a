package queuekit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	qerrors "github.com/thittam1hub/queuekit/errors"
)

// fastBackoff keeps retry delays tiny so tests never wait on real backoff.
func fastBackoff() *ExponentialBackoff {
	return NewSeededBackoff(time.Millisecond, 10*time.Millisecond, 0, 1)
}

func newTestEngine(store ActionStore, signal ConnectivitySignal, opts *Options) Engine {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Backoff == nil {
		opts.Backoff = fastBackoff()
	}
	if opts.WakeMargin == 0 {
		opts.WakeMargin = time.Millisecond
	}
	return NewEngine(store, signal, opts)
}

func TestEnqueueWhileOfflinePersistsWithoutApplying(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(false)
	eng := newTestEngine(store, signal, nil)
	defer eng.Close()

	var applied int32
	eng.RegisterApplier("send_message", func(ctx context.Context, payload map[string]interface{}) (bool, error) {
		atomic.AddInt32(&applied, 1)
		return true, nil
	})

	id, err := eng.Enqueue(context.Background(), "send_message", map[string]interface{}{"body": "hi"})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated action id")
	}

	if got := eng.PendingCount(); got != 1 {
		t.Errorf("expected 1 pending action, got %d", got)
	}
	if got := atomic.LoadInt32(&applied); got != 0 {
		t.Errorf("applier must not run while offline, ran %d times", got)
	}

	persisted, err := store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(persisted) != 1 || persisted[0].ID != id {
		t.Errorf("expected the action persisted before Enqueue returned, got %+v", persisted)
	}
}

func TestForceSyncAppliesAndDrains(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(false)
	eng := newTestEngine(store, signal, nil)
	defer eng.Close()

	var applied []string
	var mu sync.Mutex
	eng.RegisterApplier("send_message", func(ctx context.Context, payload map[string]interface{}) (bool, error) {
		mu.Lock()
		applied = append(applied, payload["n"].(string))
		mu.Unlock()
		return true, nil
	})

	for _, n := range []string{"first", "second", "third"} {
		if _, err := eng.Enqueue(context.Background(), "send_message", map[string]interface{}{"n": n}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		time.Sleep(time.Millisecond) // distinct CreatedAt values
	}

	signal.SetOnline(true)
	eng.ForceSyncNow(context.Background())

	if got := eng.PendingCount(); got != 0 {
		t.Errorf("expected an empty queue after sync, got %d pending", got)
	}
	if eng.Status() != StatusIdle {
		t.Errorf("expected idle status after draining, got %s", eng.Status())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(applied) != 3 || applied[0] != "first" || applied[1] != "second" || applied[2] != "third" {
		t.Errorf("expected oldest-first apply order, got %v", applied)
	}

	persisted, err := store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(persisted) != 0 {
		t.Errorf("applied actions must be deleted from the store, found %d", len(persisted))
	}
}

func TestSyncPassSkipsWhileOffline(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(false)
	eng := newTestEngine(store, signal, nil)
	defer eng.Close()

	var applied int32
	eng.RegisterApplier("send_message", func(ctx context.Context, payload map[string]interface{}) (bool, error) {
		atomic.AddInt32(&applied, 1)
		return true, nil
	})

	if _, err := eng.Enqueue(context.Background(), "send_message", map[string]interface{}{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	eng.ForceSyncNow(context.Background())

	if got := atomic.LoadInt32(&applied); got != 0 {
		t.Errorf("sync must not run while offline, applied %d", got)
	}
	if got := eng.PendingCount(); got != 1 {
		t.Errorf("expected the action to stay queued, got %d pending", got)
	}
}

func TestRetryCountsAndDropAfterMaxRetries(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(true)
	// Hour-long backoff keeps the wake-up timer out of the picture; only
	// the forced passes below make attempts.
	eng := newTestEngine(store, signal, &Options{
		MaxRetries: 3,
		Backoff:    NewSeededBackoff(time.Hour, time.Hour, 0, 1),
	})
	defer eng.Close()

	var attempts int32
	eng.RegisterApplier("save_item", func(ctx context.Context, payload map[string]interface{}) (bool, error) {
		atomic.AddInt32(&attempts, 1)
		return false, fmt.Errorf("remote rejected")
	})

	signal.SetOnline(false)
	if _, err := eng.Enqueue(context.Background(), "save_item", map[string]interface{}{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	signal.SetOnline(true)

	// Each forced pass clears the backoff gate and makes exactly one
	// attempt; the third attempt reaches the retry bound.
	eng.ForceSyncNow(context.Background())
	if eng.Status() != StatusRetrying {
		t.Errorf("expected retrying status after first failure, got %s", eng.Status())
	}

	pending := eng.PendingActions()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending action, got %d", len(pending))
	}
	if pending[0].RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", pending[0].RetryCount)
	}
	if pending[0].LastError == "" {
		t.Error("expected last error to be recorded")
	}

	eng.ForceSyncNow(context.Background())
	eng.ForceSyncNow(context.Background())

	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
	if got := eng.PendingCount(); got != 0 {
		t.Errorf("expected the action dropped after exhausting retries, got %d pending", got)
	}
	if eng.Status() != StatusFailed {
		t.Errorf("expected failed status after a drop, got %s", eng.Status())
	}

	persisted, err := store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(persisted) != 0 {
		t.Errorf("dropped actions must be removed from the store, found %d", len(persisted))
	}
}

func TestBackoffGateSkipsActionWithinWindow(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(true)
	eng := newTestEngine(store, signal, &Options{
		MaxRetries: 5,
		Backoff:    NewSeededBackoff(time.Hour, time.Hour, 0, 1),
	})
	defer eng.Close()

	var attempts int32
	eng.RegisterApplier("save_item", func(ctx context.Context, payload map[string]interface{}) (bool, error) {
		atomic.AddInt32(&attempts, 1)
		return false, fmt.Errorf("still failing")
	})

	signal.SetOnline(false)
	if _, err := eng.Enqueue(context.Background(), "save_item", map[string]interface{}{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	signal.SetOnline(true)

	eng.ForceSyncNow(context.Background())
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected one attempt, got %d", got)
	}

	pending := eng.PendingActions()
	if len(pending) != 1 || pending[0].NextRetryAt == nil {
		t.Fatal("expected a future retry gate after the failure")
	}

	// A second enqueue triggers a pass; the gated action must be skipped.
	eng.RegisterApplier("mark_read", func(ctx context.Context, payload map[string]interface{}) (bool, error) {
		return true, nil
	})
	if _, err := eng.Enqueue(context.Background(), "mark_read", map[string]interface{}{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitFor(t, func() bool { return eng.PendingCount() == 1 })
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("gated action must not be reattempted inside its window, got %d attempts", got)
	}
}

func TestAtMostOneConcurrentSyncPass(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(true)
	eng := newTestEngine(store, signal, nil)
	defer eng.Close()

	var current, peak int32
	eng.RegisterApplier("send_message", func(ctx context.Context, payload map[string]interface{}) (bool, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return true, nil
	})

	signal.SetOnline(false)
	for i := 0; i < 5; i++ {
		if _, err := eng.Enqueue(context.Background(), "send_message", map[string]interface{}{}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	signal.SetOnline(true)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eng.ForceSyncNow(context.Background())
		}()
	}
	wg.Wait()

	// Overlapping calls return immediately; drain whatever remains.
	for i := 0; i < 10 && eng.PendingCount() > 0; i++ {
		eng.ForceSyncNow(context.Background())
	}

	if got := atomic.LoadInt32(&peak); got > 1 {
		t.Errorf("expected at most one concurrent sync pass, observed %d", got)
	}
	if got := eng.PendingCount(); got != 0 {
		t.Errorf("expected the queue drained, got %d pending", got)
	}
}

func TestEnqueueDuringSyncPassSchedulesFollowUp(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(false)
	eng := newTestEngine(store, signal, nil)
	defer eng.Close()

	var followUpApplied int32
	eng.RegisterApplier("mark_read", func(ctx context.Context, payload map[string]interface{}) (bool, error) {
		atomic.AddInt32(&followUpApplied, 1)
		return true, nil
	})

	// The nested enqueue lands while the pass is in flight, so no pass is
	// spawned for it; the end-of-pass wake-up must pick it up.
	var nestedErr error
	eng.RegisterApplier("send_message", func(ctx context.Context, payload map[string]interface{}) (bool, error) {
		_, nestedErr = eng.Enqueue(ctx, "mark_read", map[string]interface{}{})
		return true, nil
	})

	if _, err := eng.Enqueue(context.Background(), "send_message", map[string]interface{}{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	signal.SetOnline(true)

	eng.ForceSyncNow(context.Background())
	if nestedErr != nil {
		t.Fatalf("mid-pass enqueue failed: %v", nestedErr)
	}

	waitFor(t, func() bool { return eng.PendingCount() == 0 })
	if got := atomic.LoadInt32(&followUpApplied); got != 1 {
		t.Errorf("expected the mid-pass action applied by a follow-up pass, got %d", got)
	}
}

func TestDequeueAndCancelAreIdempotent(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(false)
	eng := newTestEngine(store, signal, nil)
	defer eng.Close()

	id, err := eng.Enqueue(context.Background(), "send_message", map[string]interface{}{})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	existed, err := eng.Cancel(context.Background(), id)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !existed {
		t.Error("first cancel should report the action existed")
	}

	existed, err = eng.Cancel(context.Background(), id)
	if err != nil {
		t.Fatalf("second cancel failed: %v", err)
	}
	if existed {
		t.Error("second cancel should report the action gone")
	}

	if err := eng.Dequeue(context.Background(), id); err != nil {
		t.Errorf("dequeue of a removed id should be a no-op, got %v", err)
	}
	if err := eng.Dequeue(context.Background(), "unknown-id"); err != nil {
		t.Errorf("dequeue of an unknown id should be a no-op, got %v", err)
	}
}

func TestInitRehydratesPersistedActions(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(false)

	first := newTestEngine(store, signal, nil)
	if _, err := first.Enqueue(context.Background(), "send_message", map[string]interface{}{"n": "a"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := first.Enqueue(context.Background(), "send_message", map[string]interface{}{"n": "b"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// A fresh engine over the same store stands in for a process restart.
	second := newTestEngine(store, signal, nil)
	defer second.Close()

	var applied int32
	second.RegisterApplier("send_message", func(ctx context.Context, payload map[string]interface{}) (bool, error) {
		atomic.AddInt32(&applied, 1)
		return true, nil
	})

	if err := second.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := second.Init(context.Background()); err != nil {
		t.Errorf("second init should be a no-op, got %v", err)
	}

	if got := second.PendingCount(); got != 2 {
		t.Fatalf("expected 2 rehydrated actions, got %d", got)
	}

	signal.SetOnline(true)
	waitFor(t, func() bool { return second.PendingCount() == 0 })
	if got := atomic.LoadInt32(&applied); got != 2 {
		t.Errorf("expected both rehydrated actions applied, got %d", got)
	}
}

func TestReconnectTriggersSyncPass(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(false)
	eng := newTestEngine(store, signal, nil)
	defer eng.Close()

	var applied int32
	eng.RegisterApplier("send_message", func(ctx context.Context, payload map[string]interface{}) (bool, error) {
		atomic.AddInt32(&applied, 1)
		return true, nil
	})

	if err := eng.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, err := eng.Enqueue(context.Background(), "send_message", map[string]interface{}{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	signal.SetOnline(true)

	waitFor(t, func() bool { return eng.PendingCount() == 0 })
	if got := atomic.LoadInt32(&applied); got != 1 {
		t.Errorf("expected the queued action applied on reconnect, got %d", got)
	}
}

func TestRetryActionClearsOneGate(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(true)
	eng := newTestEngine(store, signal, &Options{
		MaxRetries: 5,
		Backoff:    NewSeededBackoff(time.Hour, time.Hour, 0, 1),
	})
	defer eng.Close()

	var attempts int32
	eng.RegisterApplier("save_item", func(ctx context.Context, payload map[string]interface{}) (bool, error) {
		atomic.AddInt32(&attempts, 1)
		return false, fmt.Errorf("still failing")
	})

	signal.SetOnline(false)
	id, err := eng.Enqueue(context.Background(), "save_item", map[string]interface{}{})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	signal.SetOnline(true)

	eng.ForceSyncNow(context.Background())
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected one attempt, got %d", got)
	}

	if err := eng.RetryAction(context.Background(), id); err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&attempts) == 2 })

	if err := eng.RetryAction(context.Background(), "unknown-id"); err != nil {
		t.Errorf("retrying an unknown id should be a no-op, got %v", err)
	}
}

func TestClearAllEmptiesQueueAndStore(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(false)
	eng := newTestEngine(store, signal, nil)
	defer eng.Close()

	for i := 0; i < 3; i++ {
		if _, err := eng.Enqueue(context.Background(), "send_message", map[string]interface{}{}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	if err := eng.ClearAll(context.Background()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	if got := eng.PendingCount(); got != 0 {
		t.Errorf("expected empty queue, got %d", got)
	}
	if eng.Status() != StatusIdle {
		t.Errorf("expected idle status, got %s", eng.Status())
	}

	persisted, err := store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(persisted) != 0 {
		t.Errorf("expected the store emptied, found %d actions", len(persisted))
	}
}

func TestEnqueueSurfacesStorageFailure(t *testing.T) {
	store := newMemoryStore()
	store.failPuts = fmt.Errorf("disk full")
	signal := newManualSignal(false)
	eng := newTestEngine(store, signal, nil)
	defer eng.Close()

	_, err := eng.Enqueue(context.Background(), "send_message", map[string]interface{}{})
	if err == nil {
		t.Fatal("expected an error when the persist fails")
	}

	var qerr *qerrors.QueueError
	if !errors.As(err, &qerr) {
		t.Fatalf("expected a QueueError, got %T", err)
	}
	if qerr.Code != qerrors.ErrCodeStorageFailure {
		t.Errorf("expected storage failure code, got %s", qerr.Code)
	}
	if !qerrors.IsRetryable(err) {
		t.Error("storage failures should be retryable")
	}

	if got := eng.PendingCount(); got != 0 {
		t.Errorf("a failed enqueue must not leave the action queued, got %d", got)
	}
}

func TestPanickingApplierCountsAsFailure(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(true)
	eng := newTestEngine(store, signal, &Options{
		MaxRetries: 5,
		Backoff:    NewSeededBackoff(time.Hour, time.Hour, 0, 1),
	})
	defer eng.Close()

	eng.RegisterApplier("save_item", func(ctx context.Context, payload map[string]interface{}) (bool, error) {
		panic("applier bug")
	})

	signal.SetOnline(false)
	if _, err := eng.Enqueue(context.Background(), "save_item", map[string]interface{}{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	signal.SetOnline(true)

	eng.ForceSyncNow(context.Background())

	pending := eng.PendingActions()
	if len(pending) != 1 {
		t.Fatalf("expected the action to survive the panic, got %d pending", len(pending))
	}
	if pending[0].RetryCount != 1 {
		t.Errorf("expected the panic recorded as one failed attempt, got %d", pending[0].RetryCount)
	}
}

func TestMissingApplierCountsAsFailure(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(true)
	eng := newTestEngine(store, signal, &Options{
		MaxRetries: 5,
		Backoff:    NewSeededBackoff(time.Hour, time.Hour, 0, 1),
	})
	defer eng.Close()

	signal.SetOnline(false)
	if _, err := eng.Enqueue(context.Background(), "unregistered_type", map[string]interface{}{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	signal.SetOnline(true)

	eng.ForceSyncNow(context.Background())

	pending := eng.PendingActions()
	if len(pending) != 1 || pending[0].RetryCount != 1 {
		t.Fatalf("expected one failed attempt for the unregistered type, got %+v", pending)
	}
}

func TestListenersObserveQueueAndStatusChanges(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(false)
	eng := newTestEngine(store, signal, nil)
	defer eng.Close()

	eng.RegisterApplier("send_message", func(ctx context.Context, payload map[string]interface{}) (bool, error) {
		return true, nil
	})

	var queueEvents int32
	var mu sync.Mutex
	var statuses []SyncStatus

	queueToken := eng.AddQueueListener(func() { atomic.AddInt32(&queueEvents, 1) })
	eng.AddStatusListener(func(s SyncStatus) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})

	if _, err := eng.Enqueue(context.Background(), "send_message", map[string]interface{}{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if got := atomic.LoadInt32(&queueEvents); got != 1 {
		t.Errorf("expected one queue event after enqueue, got %d", got)
	}

	signal.SetOnline(true)
	eng.ForceSyncNow(context.Background())

	mu.Lock()
	gotStatuses := append([]SyncStatus(nil), statuses...)
	mu.Unlock()

	if len(gotStatuses) < 2 || gotStatuses[0] != StatusSyncing || gotStatuses[len(gotStatuses)-1] != StatusIdle {
		t.Errorf("expected syncing then idle, got %v", gotStatuses)
	}

	// The pass itself also fires a queue event when it removes the applied
	// action; capture the count before testing removal.
	before := atomic.LoadInt32(&queueEvents)

	eng.RemoveQueueListener(queueToken)
	if _, err := eng.Enqueue(context.Background(), "send_message", map[string]interface{}{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if got := atomic.LoadInt32(&queueEvents); got != before {
		t.Errorf("removed listener must not fire, got %d events after %d", got, before)
	}
}

func TestCancelKeepsActionOnStorageFailure(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(false)
	eng := newTestEngine(store, signal, nil)
	defer eng.Close()

	id, err := eng.Enqueue(context.Background(), "send_message", map[string]interface{}{})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	store.failDeletes = fmt.Errorf("disk error")
	if _, err := eng.Cancel(context.Background(), id); err == nil {
		t.Fatal("expected an error when the store delete fails")
	}

	// The failed cancel must leave memory and store in agreement.
	if got := eng.PendingCount(); got != 1 {
		t.Errorf("expected the action still queued after a failed cancel, got %d", got)
	}
	persisted, err := store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(persisted) != 1 {
		t.Errorf("expected the action still persisted, found %d", len(persisted))
	}

	store.failDeletes = nil
	existed, err := eng.Cancel(context.Background(), id)
	if err != nil {
		t.Fatalf("retried cancel failed: %v", err)
	}
	if !existed {
		t.Error("retried cancel should report the action existed")
	}
	if got := eng.PendingCount(); got != 0 {
		t.Errorf("expected an empty queue after the retried cancel, got %d", got)
	}
}

func TestCloseUnregistersConnectivityListener(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(false)
	eng := newTestEngine(store, signal, nil)

	if err := eng.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if got := signal.callbackCount(); got != 1 {
		t.Fatalf("expected one registered connectivity callback, got %d", got)
	}

	if err := eng.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if got := signal.callbackCount(); got != 0 {
		t.Errorf("expected the connectivity callback unregistered on close, got %d", got)
	}
}

func TestCloseRejectsFurtherWork(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(true)
	eng := newTestEngine(store, signal, nil)

	if err := eng.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	if _, err := eng.Enqueue(context.Background(), "send_message", map[string]interface{}{}); err == nil {
		t.Error("expected enqueue to fail after close")
	}
	if err := eng.Init(context.Background()); err == nil {
		t.Error("expected init to fail after close")
	}
}

func TestPendingActionsReturnsDetachedCopies(t *testing.T) {
	store := newMemoryStore()
	signal := newManualSignal(false)
	eng := newTestEngine(store, signal, nil)
	defer eng.Close()

	if _, err := eng.Enqueue(context.Background(), "send_message", map[string]interface{}{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	pending := eng.PendingActions()
	pending[0].RetryCount = 99

	again := eng.PendingActions()
	if again[0].RetryCount != 0 {
		t.Error("mutating a returned action must not affect engine state")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

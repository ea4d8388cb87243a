package queuekit

import (
	"log/slog"
	"sync"

	"github.com/thittam1hub/queuekit/logging"
)

// ListenerHub broadcasts queue-changed and status-changed events to UI
// observers. Delivery is synchronous per call: every registered listener is
// invoked before the triggering method returns. A panicking listener is
// isolated so it can neither prevent other listeners from running nor
// propagate into the engine.
type ListenerHub struct {
	mu              sync.RWMutex
	nextToken       int
	queueListeners  map[int]func()
	statusListeners map[int]func(SyncStatus)
	logger          *logging.Logger
}

// NewListenerHub creates an empty hub.
func NewListenerHub(logger *logging.Logger) *ListenerHub {
	if logger == nil {
		logger = logging.Default()
	}
	return &ListenerHub{
		queueListeners:  make(map[int]func()),
		statusListeners: make(map[int]func(SyncStatus)),
		logger:          logger,
	}
}

// AddQueueListener registers fn and returns a removal token.
func (h *ListenerHub) AddQueueListener(fn func()) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextToken++
	h.queueListeners[h.nextToken] = fn
	return h.nextToken
}

// RemoveQueueListener removes the listener for token. Unknown tokens are a
// no-op.
func (h *ListenerHub) RemoveQueueListener(token int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.queueListeners, token)
}

// AddStatusListener registers fn and returns a removal token.
func (h *ListenerHub) AddStatusListener(fn func(SyncStatus)) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextToken++
	h.statusListeners[h.nextToken] = fn
	return h.nextToken
}

// RemoveStatusListener removes the listener for token. Unknown tokens are a
// no-op.
func (h *ListenerHub) RemoveStatusListener(token int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.statusListeners, token)
}

// NotifyQueueChanged invokes every queue-changed listener.
func (h *ListenerHub) NotifyQueueChanged() {
	h.mu.RLock()
	listeners := make([]func(), 0, len(h.queueListeners))
	for _, fn := range h.queueListeners {
		listeners = append(listeners, fn)
	}
	h.mu.RUnlock()

	for _, fn := range listeners {
		h.invoke(func() { fn() })
	}
}

// NotifyStatusChanged invokes every status-changed listener with status.
func (h *ListenerHub) NotifyStatusChanged(status SyncStatus) {
	h.mu.RLock()
	listeners := make([]func(SyncStatus), 0, len(h.statusListeners))
	for _, fn := range h.statusListeners {
		listeners = append(listeners, fn)
	}
	h.mu.RUnlock()

	for _, fn := range listeners {
		h.invoke(func() { fn(status) })
	}
}

func (h *ListenerHub) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("listener panicked",
				slog.Any("panic", r),
			)
		}
	}()
	fn()
}

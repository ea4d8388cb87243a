package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/thittam1hub/queuekit/logging"
)

// wakeChannel is the LISTEN/NOTIFY channel the queued_actions insert trigger
// publishes to.
const wakeChannel = "queuekit_wake"

// WakeEvent describes one inserted action as published by the trigger.
type WakeEvent struct {
	ID         string `json:"id"`
	ActionType string `json:"action_type"`
}

// WakeHandler runs on each wake event. A typical handler calls the engine's
// ForceSyncNow or schedules a drain on its own worker.
type WakeHandler func(event WakeEvent)

// WakeListener watches the queuekit_wake channel so a server-side consumer
// can drain the queue the moment a producer inserts an action, instead of
// polling queued_actions. Built on pq.Listener, which reconnects on its own.
type WakeListener struct {
	listener     *pq.Listener
	logger       *logging.Logger
	handler      WakeHandler
	pingInterval time.Duration

	closed int32 // atomic
	done   chan struct{}
}

// WakeListenerConfig holds configuration options for the WakeListener.
type WakeListenerConfig struct {
	// ConnectionString is the PostgreSQL connection string. Required.
	ConnectionString string

	// ReconnectInterval is the minimum wait between reconnect attempts.
	// Defaults to 5s.
	ReconnectInterval time.Duration

	// MaxReconnectInterval caps the reconnect backoff. Defaults to 30s.
	MaxReconnectInterval time.Duration

	// PingInterval is the keepalive period for the idle connection.
	// Defaults to 90s.
	PingInterval time.Duration

	// Logger for connection events. Defaults to the package logger.
	Logger *logging.Logger
}

func (c *WakeListenerConfig) setDefaults() {
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = 5 * time.Second
	}
	if c.MaxReconnectInterval == 0 {
		c.MaxReconnectInterval = 30 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 90 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.Default().WithComponent(logging.Component("wake-listener"))
	}
}

// NewWakeListener creates a listener for the wake channel. Call Start to
// begin receiving events.
func NewWakeListener(config *WakeListenerConfig, handler WakeHandler) (*WakeListener, error) {
	if config == nil || config.ConnectionString == "" {
		return nil, fmt.Errorf("ConnectionString is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	cfg := *config
	cfg.setDefaults()

	wl := &WakeListener{
		logger:  cfg.Logger,
		handler: handler,
		done:    make(chan struct{}),
	}

	wl.listener = pq.NewListener(
		cfg.ConnectionString,
		cfg.ReconnectInterval,
		cfg.MaxReconnectInterval,
		wl.connectionEvent,
	)

	wl.pingInterval = cfg.PingInterval
	return wl, nil
}

func (wl *WakeListener) connectionEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		wl.logger.Info("connected for LISTEN/NOTIFY")
	case pq.ListenerEventDisconnected:
		wl.logger.Warn("disconnected from postgres", slog.Any("error", err))
	case pq.ListenerEventReconnected:
		wl.logger.Info("reconnected to postgres")
	case pq.ListenerEventConnectionAttemptFailed:
		wl.logger.Warn("connection attempt failed", slog.Any("error", err))
	}
}

// Start subscribes to the wake channel and begins dispatching events to the
// handler until ctx is cancelled or Close is called.
func (wl *WakeListener) Start(ctx context.Context) error {
	if atomic.LoadInt32(&wl.closed) == 1 {
		return fmt.Errorf("listener is closed")
	}

	if err := wl.listener.Listen(wakeChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", wakeChannel, err)
	}

	go wl.listenLoop(ctx)
	return nil
}

func (wl *WakeListener) listenLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-wl.done:
			return
		case notification := <-wl.listener.Notify:
			// Nil notifications signal a reconnect; an event may have
			// been missed, so fire an empty wake to force a drain.
			if notification == nil {
				wl.handler(WakeEvent{})
				continue
			}
			wl.dispatch(notification)
		case <-time.After(wl.pingInterval):
			go func() {
				if err := wl.listener.Ping(); err != nil {
					wl.logger.Warn("keepalive ping failed", slog.Any("error", err))
				}
			}()
		}
	}
}

func (wl *WakeListener) dispatch(notification *pq.Notification) {
	var event WakeEvent
	if err := json.Unmarshal([]byte(notification.Extra), &event); err != nil {
		wl.logger.Warn("malformed wake payload",
			slog.String("payload", notification.Extra),
			slog.Any("error", err),
		)
		// Still wake the consumer; a drain pass is cheap relative to a
		// stuck queue.
	}
	wl.handler(event)
}

// IsConnected reports whether the underlying connection is alive.
func (wl *WakeListener) IsConnected() bool {
	if atomic.LoadInt32(&wl.closed) == 1 {
		return false
	}
	return wl.listener.Ping() == nil
}

// Close shuts down the listener. Idempotent.
func (wl *WakeListener) Close() error {
	if !atomic.CompareAndSwapInt32(&wl.closed, 0, 1) {
		return nil
	}

	close(wl.done)
	return wl.listener.Close()
}

// Command queuekit-demo exercises the offline action queue end to end: it
// opens a SQLite-backed store, simulates a flaky remote, queues actions while
// "offline" and drains them once connectivity returns.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/thittam1hub/queuekit"
	"github.com/thittam1hub/queuekit/connectivity"
	"github.com/thittam1hub/queuekit/counters"
	"github.com/thittam1hub/queuekit/logging"
	"github.com/thittam1hub/queuekit/storage/sqlite"
)

const messageSchema = `{
	"type": "object",
	"required": ["conversation_id", "body"],
	"properties": {
		"conversation_id": {"type": "string"},
		"body": {"type": "string", "minLength": 1}
	}
}`

func main() {
	dbPath := flag.String("db", "queuekit-demo.db", "path to the SQLite database")
	probeURL := flag.String("probe", "", "optional websocket URL for connectivity probing")
	failureRate := flag.Float64("failure-rate", 0.5, "fraction of simulated remote calls that fail")
	flag.Parse()

	logging.Init(logging.GetConfigFromEnv())

	if err := run(*dbPath, *probeURL, *failureRate); err != nil {
		logging.Error("demo failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(dbPath, probeURL string, failureRate float64) error {
	ctx := context.Background()

	store, err := sqlite.NewWithDataSource("file:" + dbPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	var probe connectivity.Probe
	if probeURL != "" {
		probe = &connectivity.WSProbe{URL: probeURL}
	}
	monitor := connectivity.NewMonitor(probe, &connectivity.Config{
		Interval: 5 * time.Second,
	})

	// Simulated remote: fails a configurable fraction of calls so retry and
	// backoff behavior is visible in the log output.
	applier := func(ctx context.Context, payload map[string]interface{}) (bool, error) {
		if rand.Float64() < failureRate {
			return false, fmt.Errorf("simulated remote failure")
		}
		logging.Info("remote apply succeeded", slog.Any("payload", payload))
		return true, nil
	}

	engine, err := queuekit.NewEngineBuilder().
		WithStore(store).
		WithConnectivity(monitor).
		WithMaxRetries(5).
		WithBackoff(queuekit.NewExponentialBackoff()).
		WithApplier("send_message", applier).
		WithApplier("mark_read", applier).
		WithPayloadSchema("send_message", []byte(messageSchema)).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer engine.Close()

	engine.AddStatusListener(func(status queuekit.SyncStatus) {
		logging.Info("sync status changed", slog.String("status", string(status)))
	})
	engine.AddQueueListener(func() {
		logging.Info("queue changed", slog.Int("pending", engine.PendingCount()))
	})

	if err := engine.Init(ctx); err != nil {
		return fmt.Errorf("failed to init engine: %w", err)
	}

	unread := counters.NewManager(sqlite.NewCounterStore(store), nil)
	if err := unread.Load(ctx); err != nil {
		return fmt.Errorf("failed to load counters: %w", err)
	}

	// Queue work while offline.
	for i := 1; i <= 3; i++ {
		id, err := engine.Enqueue(ctx, "send_message", map[string]interface{}{
			"conversation_id": "conv-1",
			"body":            fmt.Sprintf("message %d", i),
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue: %w", err)
		}
		logging.Info("queued while offline", slog.String("action_id", id))
		unread.Increment("conv-1", 1)
	}

	if _, err := engine.Enqueue(ctx, "send_message", map[string]interface{}{"body": 42}); err != nil {
		logging.Info("schema rejected malformed payload", slog.Any("error", err))
	}

	logging.Info("going online")
	if probe != nil {
		monitor.Start(ctx)
		defer monitor.Stop()
	} else {
		monitor.SetOnline(true)
	}

	// Drive forced passes until the queue drains or we give up; with the
	// simulated failure rate some actions will take several attempts.
	for i := 0; i < 20 && engine.PendingCount() > 0; i++ {
		engine.ForceSyncNow(ctx)
		time.Sleep(200 * time.Millisecond)
	}

	logging.Info("demo finished",
		slog.Int("pending", engine.PendingCount()),
		slog.String("status", string(engine.Status())),
		slog.Int64("unread_total", unread.Total()),
	)

	return unread.Close()
}

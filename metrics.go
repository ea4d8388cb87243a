package queuekit

import "time"

// MetricsCollector provides hooks for observability.
type MetricsCollector interface {
	// RecordSyncDuration records how long a sync pass took
	RecordSyncDuration(d time.Duration)

	// RecordActionsApplied records per-pass apply outcomes
	RecordActionsApplied(succeeded, failed int)

	// RecordRetryScheduled records an action rescheduled with backoff
	RecordRetryScheduled(actionType string, retryCount int)

	// RecordActionDropped records an action dropped after exhausting retries
	RecordActionDropped(actionType string)

	// RecordSyncErrors records engine-level errors by operation and reason
	RecordSyncErrors(op, reason string)
}

// NoOpMetricsCollector is a stub implementation that discards metrics.
type NoOpMetricsCollector struct{}

func (*NoOpMetricsCollector) RecordSyncDuration(d time.Duration) {}

func (*NoOpMetricsCollector) RecordActionsApplied(succeeded, failed int) {}

func (*NoOpMetricsCollector) RecordRetryScheduled(actionType string, retries int) {}

func (*NoOpMetricsCollector) RecordActionDropped(actionType string) {}

func (*NoOpMetricsCollector) RecordSyncErrors(op, reason string) {}

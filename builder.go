package queuekit

import (
	"fmt"
	"time"

	"github.com/thittam1hub/queuekit/logging"
)

// EngineBuilder provides a fluent interface for constructing Engine instances.
type EngineBuilder struct {
	store    ActionStore
	signal   ConnectivitySignal
	appliers map[ActionType]Applier
	schemas  map[ActionType][]byte
	options  *Options
}

// NewEngineBuilder creates a new builder with default options.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{
		appliers: make(map[ActionType]Applier),
		schemas:  make(map[ActionType][]byte),
		options:  &Options{},
	}
}

// WithStore sets the ActionStore for the engine.
func (b *EngineBuilder) WithStore(store ActionStore) *EngineBuilder {
	b.store = store
	return b
}

// WithConnectivity sets the ConnectivitySignal for the engine.
func (b *EngineBuilder) WithConnectivity(signal ConnectivitySignal) *EngineBuilder {
	b.signal = signal
	return b
}

// WithMaxRetries sets the retry bound per action.
func (b *EngineBuilder) WithMaxRetries(n int) *EngineBuilder {
	b.options.MaxRetries = n
	return b
}

// WithBackoff sets the backoff strategy for retries.
func (b *EngineBuilder) WithBackoff(strategy BackoffStrategy) *EngineBuilder {
	b.options.Backoff = strategy
	return b
}

// WithWakeMargin sets the safety margin for retry wake-up timers.
func (b *EngineBuilder) WithWakeMargin(margin time.Duration) *EngineBuilder {
	b.options.WakeMargin = margin
	return b
}

// WithApplier registers the remote-apply callback for an action type.
func (b *EngineBuilder) WithApplier(actionType ActionType, fn Applier) *EngineBuilder {
	b.appliers[actionType] = fn
	return b
}

// WithPayloadSchema registers a JSON Schema validated against payloads of the
// given action type at enqueue time.
func (b *EngineBuilder) WithPayloadSchema(actionType ActionType, schemaJSON []byte) *EngineBuilder {
	b.schemas[actionType] = schemaJSON
	return b
}

// WithLogger sets the logger for engine internals.
func (b *EngineBuilder) WithLogger(logger *logging.Logger) *EngineBuilder {
	b.options.Logger = logger
	return b
}

// WithMetrics sets the metrics collector.
func (b *EngineBuilder) WithMetrics(metrics MetricsCollector) *EngineBuilder {
	b.options.Metrics = metrics
	return b
}

// Build creates a new Engine instance with the configured options.
func (b *EngineBuilder) Build() (Engine, error) {
	if b.store == nil {
		return nil, fmt.Errorf("ActionStore is required")
	}
	if b.signal == nil {
		return nil, fmt.Errorf("ConnectivitySignal is required")
	}
	if b.options.MaxRetries < 0 {
		return nil, fmt.Errorf("MaxRetries must not be negative, got %d", b.options.MaxRetries)
	}

	if len(b.schemas) > 0 {
		validator := NewPayloadValidator()
		for actionType, schemaJSON := range b.schemas {
			if err := validator.Register(actionType, schemaJSON); err != nil {
				return nil, err
			}
		}
		b.options.Validator = validator
	}

	eng := NewEngine(b.store, b.signal, b.options)
	for actionType, fn := range b.appliers {
		eng.RegisterApplier(actionType, fn)
	}
	return eng, nil
}

// Reset clears the builder, allowing reuse.
func (b *EngineBuilder) Reset() *EngineBuilder {
	b.store = nil
	b.signal = nil
	b.appliers = make(map[ActionType]Applier)
	b.schemas = make(map[ActionType][]byte)
	b.options = &Options{}
	return b
}

package queuekit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// PayloadValidator checks action payloads against per-type JSON Schemas at
// enqueue time. Action types without a registered schema are accepted as-is;
// the payload bag stays opaque to the engine either way.
type PayloadValidator struct {
	mu      sync.RWMutex
	schemas map[ActionType]*jsonschema.Schema
}

// NewPayloadValidator creates an empty validator.
func NewPayloadValidator() *PayloadValidator {
	return &PayloadValidator{
		schemas: make(map[ActionType]*jsonschema.Schema),
	}
}

// Register compiles schemaJSON and installs it for actionType, replacing any
// previous schema.
func (v *PayloadValidator) Register(actionType ActionType, schemaJSON []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return fmt.Errorf("invalid schema document for %q: %w", actionType, err)
	}

	compiler := jsonschema.NewCompiler()
	resource := fmt.Sprintf("queuekit://schemas/%s.json", actionType)
	if err := compiler.AddResource(resource, doc); err != nil {
		return fmt.Errorf("failed to add schema resource for %q: %w", actionType, err)
	}

	schema, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %q: %w", actionType, err)
	}

	v.mu.Lock()
	v.schemas[actionType] = schema
	v.mu.Unlock()
	return nil
}

// Validate checks payload against the schema registered for actionType.
// It returns nil when no schema is registered.
func (v *PayloadValidator) Validate(actionType ActionType, payload map[string]interface{}) error {
	v.mu.RLock()
	schema, ok := v.schemas[actionType]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	// Round-trip through JSON so the instance uses the exact value types
	// the validator expects, regardless of how the caller built the map.
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payload for %q is not JSON-compatible: %w", actionType, err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("payload for %q is not JSON-compatible: %w", actionType, err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("payload for %q rejected by schema: %w", actionType, err)
	}
	return nil
}

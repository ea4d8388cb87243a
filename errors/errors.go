// Package errors provides custom error types for the queuekit package
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeNetworkFailure    ErrorCode = "NETWORK_FAILURE"
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
	ErrCodeRetriesExhausted  ErrorCode = "RETRIES_EXHAUSTED"
)

// Operation represents the type of queue operation
type Operation string

const (
	OpInit    Operation = "init"
	OpEnqueue Operation = "enqueue"
	OpDequeue Operation = "dequeue"
	OpCancel  Operation = "cancel"
	OpSync    Operation = "sync"
	OpApply   Operation = "apply"
	OpPut     Operation = "put"
	OpDelete  Operation = "delete"
	OpLoad    Operation = "load"
	OpFlush   Operation = "flush"
	OpClose   Operation = "close"
)

// QueueError represents an error that occurred while operating the offline
// action queue
type QueueError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "store", "engine")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *QueueError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage-related QueueError
func NewStorageError(op Operation, cause error) *QueueError {
	return &QueueError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewNetworkError creates a new network-related QueueError
func NewNetworkError(op Operation, cause error) *QueueError {
	return &QueueError{
		Code:      ErrCodeNetworkFailure,
		Op:        op,
		Component: "applier",
		Err:       cause,
		Retryable: true,
	}
}

// NewValidationError creates a new validation-related QueueError
func NewValidationError(op Operation, cause error) *QueueError {
	return &QueueError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// NewExhaustedError marks an action that was dropped after its final retry
func NewExhaustedError(op Operation, cause error) *QueueError {
	return &QueueError{
		Code:      ErrCodeRetriesExhausted,
		Op:        op,
		Component: "engine",
		Err:       cause,
		Retryable: false,
	}
}

// New creates a new QueueError
func New(op Operation, err error) *QueueError {
	return &QueueError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new QueueError with component information
func NewWithComponent(op Operation, component string, err error) *QueueError {
	return &QueueError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewRetryable creates a new retryable QueueError
func NewRetryable(op Operation, err error) *QueueError {
	return &QueueError{
		Op:        op,
		Err:       err,
		Retryable: true,
	}
}

// IsRetryable checks if an error is a retryable QueueError
func IsRetryable(err error) bool {
	var queueErr *QueueError
	if errors.As(err, &queueErr) {
		return queueErr.Retryable
	}
	return false
}

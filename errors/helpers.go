package errors

// WrapOpComponent provides a convenience helper to wrap errors with consistent
// Op and Component propagation. It avoids repetition when creating structured
// errors throughout the codebase. If err is nil, returns nil.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	return NewWithComponent(op, component, err)
}

// WrapStorage wraps a storage-layer error, preserving nil.
func WrapStorage(err error, op Operation) error {
	if err == nil {
		return nil
	}
	return NewStorageError(op, err)
}

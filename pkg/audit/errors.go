package audit

import (
	"errors"
	"fmt"
)

// ErrRecorderClosed is returned by Record after Close.
var ErrRecorderClosed = errors.New("audit recorder closed")

// StorageError represents an error from a storage backend.
type StorageError struct {
	Backend   string // "memory", "sqlite"
	Operation string // "store", "query", "delete", ...
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("audit storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// RecorderError represents an entry that could not be persisted.
type RecorderError struct {
	EntryID string
	Cause   error
}

// Error implements the error interface.
func (e *RecorderError) Error() string {
	return fmt.Sprintf("audit recorder error [entry=%s]: %v", e.EntryID, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *RecorderError) Unwrap() error {
	return e.Cause
}

// NewRecorderError creates a new RecorderError.
func NewRecorderError(entryID string, cause error) *RecorderError {
	return &RecorderError{
		EntryID: entryID,
		Cause:   cause,
	}
}

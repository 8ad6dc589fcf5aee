package storage

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrStoreClosed      = errors.New("store is closed")
	ErrInvalidID        = errors.New("invalid document ID")
	ErrMarshalFailed    = errors.New("marshal failed")
)

// StorageError provides structured error information for store operations.
type StorageError struct {
	Op    string // Operation that failed (e.g., "Put", "Get", "Enumerate")
	ID    uint64 // Document ID (if applicable)
	Cause error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s document %d: %v", e.Op, e.ID, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches this error or its cause.
func (e *StorageError) Is(target error) bool {
	if target == nil {
		return false
	}
	return errors.Is(e.Cause, target)
}

func opError(op string, id uint64, cause error) *StorageError {
	return &StorageError{Op: op, ID: id, Cause: cause}
}

package rotation

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	ErrRotationInProgress = errors.New("rotation already in progress")
	ErrInvalidTransition  = errors.New("invalid rotation state transition")
	ErrUnknownRotation    = errors.New("unknown rotation id")
	ErrCorruptCheckpoint  = errors.New("corrupt rotation checkpoint")
	ErrCorruptState       = errors.New("corrupt rotation state record")
	ErrRotationNotFailed  = errors.New("rotation state is not failed")
	ErrCursorRegression   = errors.New("checkpoint cursor regression")
	ErrIncompleteCoverage = errors.New("sweep did not reach full coverage")
)

// FailureKind classifies unrecoverable rotation failures.
type FailureKind string

const (
	KindCrypto            FailureKind = "crypto_failure"
	KindStorageIO         FailureKind = "storage_io_error"
	KindCorruptCheckpoint FailureKind = "corrupt_checkpoint"
)

// RotationError provides structured error information for rotation
// operations. Document-level and I/O errors abort the entire sweep; the
// kind records why so an operator can decide whether to retry or restore.
type RotationError struct {
	Op         string      // Operation that failed (e.g., "Sweep", "Finalize")
	RotationID string      // Rotation attempt this error belongs to
	DocumentID uint64      // Document being processed (if applicable)
	Kind       FailureKind // Failure classification
	Cause      error       // Underlying error
}

// Error implements the error interface.
func (e *RotationError) Error() string {
	if e.DocumentID != 0 {
		return fmt.Sprintf("%s rotation %s document %d (%s): %v", e.Op, e.RotationID, e.DocumentID, e.Kind, e.Cause)
	}
	if e.RotationID != "" {
		return fmt.Sprintf("%s rotation %s (%s): %v", e.Op, e.RotationID, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RotationError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches this error or its cause.
func (e *RotationError) Is(target error) bool {
	if target == nil {
		return false
	}
	return errors.Is(e.Cause, target)
}

// FatalStateError is returned by the startup guard when the persisted
// rotation state forbids normal serving. It is not recoverable without
// operator action.
type FatalStateError struct {
	State      State
	RotationID string
	Reason     string
}

// Error names the offending state and directs the operator to the
// recovery procedure.
func (e *FatalStateError) Error() string {
	switch e.State {
	case StateReEncrypting:
		return fmt.Sprintf(
			"refusing to serve: key rotation %s is in state %q; run 'docstore-admin recover' to resume the re-encryption sweep from its last checkpoint",
			e.RotationID, e.State)
	case StateFailed:
		msg := fmt.Sprintf(
			"refusing to serve: key rotation state is %q", e.State)
		if e.RotationID != "" {
			msg += fmt.Sprintf(" (rotation %s)", e.RotationID)
		}
		if e.Reason != "" {
			msg += fmt.Sprintf(": %s", e.Reason)
		}
		return msg + "; inspect the failure, then run 'docstore-admin reset' to clear it or restore from backup"
	default:
		return fmt.Sprintf("refusing to serve: key rotation state is %q", e.State)
	}
}

package rotation

import (
	"fmt"
	"time"
)

// State is the authoritative status of the rotation subsystem. Exactly one
// value is current at any time; the state machine is the only mutation path.
type State int

const (
	// StateIdle means no rotation exists. The absence of a persisted
	// record also means idle (fresh install).
	StateIdle State = iota
	// StateReEncrypting means a sweep is (or was, at crash time) running.
	StateReEncrypting
	// StateCompleted means the sweep reached full coverage and the record
	// is durable, but finalization has not finished.
	StateCompleted
	// StateFailed is terminal until an operator clears it explicitly.
	StateFailed
)

// String returns the persisted string form of a state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReEncrypting:
		return "re_encrypting"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseState converts a persisted string to a State. Unknown strings are an
// error so that a corrupt record is never mistaken for a valid state.
func ParseState(s string) (State, error) {
	switch s {
	case "idle":
		return StateIdle, nil
	case "re_encrypting":
		return StateReEncrypting, nil
	case "completed":
		return StateCompleted, nil
	case "failed":
		return StateFailed, nil
	default:
		return StateFailed, fmt.Errorf("unknown rotation state %q", s)
	}
}

// StateRecord is the durable form of the rotation state.
type StateRecord struct {
	State         State
	RotationID    string
	TargetKeyID   uint32
	FailureReason string
	UpdatedAt     time.Time
}

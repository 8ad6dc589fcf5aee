package rotation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StateMachine owns the durable rotation state. Every transition goes
// through it; there is no other mutation path. The in-process mutex plus
// the durable write make Begin a single atomic check-and-set: two
// concurrent Begin calls cannot both observe idle.
type StateMachine struct {
	mu          sync.Mutex
	states      *StateStore
	checkpoints *CheckpointStore
	current     *StateRecord
}

// NewStateMachine loads the persisted state and returns the machine. A
// corrupt state record is kept as failed (fail-closed); the startup guard
// will refuse to serve and the record's reason names the corruption.
func NewStateMachine(states *StateStore, checkpoints *CheckpointStore) (*StateMachine, error) {
	rec, err := states.Load()
	if err != nil && rec == nil {
		return nil, err
	}

	return &StateMachine{
		states:      states,
		checkpoints: checkpoints,
		current:     rec,
	}, nil
}

// Current returns a copy of the current state record.
func (m *StateMachine) Current() StateRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.current
}

// Begin admits a new rotation. It fails with ErrRotationInProgress unless
// the current state is idle. On success a fresh checkpoint and the
// re_encrypting record are both durable before Begin returns. The
// checkpoint is written first so that a re_encrypting record always has a
// checkpoint to resume from; a checkpoint stranded by a crash before the
// state write is inert and overwritten by the next Begin.
func (m *StateMachine) Begin(targetKeyID uint32) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.State != StateIdle {
		return "", fmt.Errorf("%w: state is %q", ErrRotationInProgress, m.current.State)
	}

	rotationID := uuid.NewString()
	now := time.Now()

	cp := &Checkpoint{
		RotationID:              rotationID,
		TargetKeyID:             targetKeyID,
		LastProcessedDocumentID: 0,
		DocumentsProcessed:      0,
		StartedAt:               now,
	}
	if err := m.checkpoints.Advance(cp); err != nil {
		return "", &RotationError{Op: "Begin", RotationID: rotationID, Kind: KindStorageIO, Cause: err}
	}

	rec := &StateRecord{
		State:       StateReEncrypting,
		RotationID:  rotationID,
		TargetKeyID: targetKeyID,
		UpdatedAt:   now,
	}
	if err := m.states.Save(rec); err != nil {
		return "", &RotationError{Op: "Begin", RotationID: rotationID, Kind: KindStorageIO, Cause: err}
	}

	m.current = rec
	return rotationID, nil
}

// MarkCompleted durably records that the sweep reached full coverage.
// Only valid from re_encrypting for the matching rotation id.
func (m *StateMachine) MarkCompleted(rotationID string, outcome SweepOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireLocked(StateReEncrypting, rotationID, "MarkCompleted"); err != nil {
		return err
	}
	if !outcome.FullCoverage {
		return fmt.Errorf("%w: rotation %s stopped at document %d",
			ErrIncompleteCoverage, rotationID, outcome.LastProcessedDocumentID)
	}

	rec := &StateRecord{
		State:       StateCompleted,
		RotationID:  rotationID,
		TargetKeyID: m.current.TargetKeyID,
		UpdatedAt:   time.Now(),
	}
	if err := m.states.Save(rec); err != nil {
		return &RotationError{Op: "MarkCompleted", RotationID: rotationID, Kind: KindStorageIO, Cause: err}
	}

	m.current = rec
	return nil
}

// MarkFailed durably records an unrecoverable sweep error. Only valid from
// re_encrypting; the failed state is terminal until an operator resets it.
func (m *StateMachine) MarkFailed(rotationID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireLocked(StateReEncrypting, rotationID, "MarkFailed"); err != nil {
		return err
	}

	rec := &StateRecord{
		State:         StateFailed,
		RotationID:    rotationID,
		TargetKeyID:   m.current.TargetKeyID,
		FailureReason: reason,
		UpdatedAt:     time.Now(),
	}
	if err := m.states.Save(rec); err != nil {
		return &RotationError{Op: "MarkFailed", RotationID: rotationID, Kind: KindStorageIO, Cause: err}
	}

	m.current = rec
	return nil
}

// finalizeToIdle is the completed -> idle edge. Only the finalizer calls
// it, as the last step after key metadata is durable and the old key is
// invalidated.
func (m *StateMachine) finalizeToIdle(rotationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireLocked(StateCompleted, rotationID, "Finalize"); err != nil {
		return err
	}

	rec := &StateRecord{
		State:     StateIdle,
		UpdatedAt: time.Now(),
	}
	if err := m.states.Save(rec); err != nil {
		return &RotationError{Op: "Finalize", RotationID: rotationID, Kind: KindStorageIO, Cause: err}
	}

	m.current = rec
	return nil
}

// Reset clears a failed rotation back to idle. Operator-invoked only; it
// is the sole exit from the failed state. The stale checkpoint is removed
// with it.
func (m *StateMachine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.State != StateFailed {
		return fmt.Errorf("%w: state is %q", ErrRotationNotFailed, m.current.State)
	}

	if err := m.checkpoints.Delete(); err != nil {
		return &RotationError{Op: "Reset", RotationID: m.current.RotationID, Kind: KindStorageIO, Cause: err}
	}

	rec := &StateRecord{
		State:     StateIdle,
		UpdatedAt: time.Now(),
	}
	if err := m.states.Save(rec); err != nil {
		return &RotationError{Op: "Reset", RotationID: m.current.RotationID, Kind: KindStorageIO, Cause: err}
	}

	m.current = rec
	return nil
}

// requireLocked checks the expected state and rotation id. Caller must
// hold m.mu.
func (m *StateMachine) requireLocked(want State, rotationID, op string) error {
	if m.current.State != want {
		return fmt.Errorf("%s: %w: %q -> requires %q", op, ErrInvalidTransition, m.current.State, want)
	}
	if m.current.RotationID != rotationID {
		return fmt.Errorf("%s: %w: %s (current is %s)", op, ErrUnknownRotation, rotationID, m.current.RotationID)
	}
	return nil
}

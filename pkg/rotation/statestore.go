package rotation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dd0wney/cluso-docstore/pkg/fsutil"
)

const stateFileName = "rotation_state.json"

// stateRecordJSON is the on-disk encoding of a StateRecord.
type stateRecordJSON struct {
	State         string    `json:"state"`
	RotationID    string    `json:"rotation_id,omitempty"`
	TargetKeyID   uint32    `json:"target_key_id,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StateStore persists the rotation state record. Writes are atomic and
// fsync'd; Save does not return until the record is durable.
type StateStore struct {
	path string
}

// NewStateStore creates a state store rooted at dir. The directory must
// already exist; NewRotator creates it.
func NewStateStore(dir string) *StateStore {
	return &StateStore{path: filepath.Join(dir, stateFileName)}
}

// Load reads the persisted state record. An absent file means a fresh
// install and is reported as idle. A corrupt or unparsable record is
// reported as failed together with ErrCorruptState: fail-closed, never
// inferred as idle.
func (s *StateStore) Load() (*StateRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &StateRecord{State: StateIdle}, nil
		}
		return nil, fmt.Errorf("failed to read rotation state: %w", err)
	}

	var rec stateRecordJSON
	if err := json.Unmarshal(data, &rec); err != nil {
		return &StateRecord{
			State:         StateFailed,
			FailureReason: fmt.Sprintf("corrupt rotation state record: %v", err),
			UpdatedAt:     time.Now(),
		}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	state, err := ParseState(rec.State)
	if err != nil {
		return &StateRecord{
			State:         StateFailed,
			FailureReason: fmt.Sprintf("corrupt rotation state record: %v", err),
			UpdatedAt:     time.Now(),
		}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	return &StateRecord{
		State:         state,
		RotationID:    rec.RotationID,
		TargetKeyID:   rec.TargetKeyID,
		FailureReason: rec.FailureReason,
		UpdatedAt:     rec.UpdatedAt,
	}, nil
}

// Save durably writes the state record, blocking until fsync completes.
func (s *StateStore) Save(rec *StateRecord) error {
	data, err := json.MarshalIndent(stateRecordJSON{
		State:         rec.State.String(),
		RotationID:    rec.RotationID,
		TargetKeyID:   rec.TargetKeyID,
		FailureReason: rec.FailureReason,
		UpdatedAt:     rec.UpdatedAt,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rotation state: %w", err)
	}

	if err := fsutil.WriteFileAtomic(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write rotation state: %w", err)
	}

	return nil
}

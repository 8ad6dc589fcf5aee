package rotation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dd0wney/cluso-docstore/pkg/fsutil"
)

const checkpointFileName = "rotation_checkpoint.json"

// Checkpoint is the durable progress marker for one rotation attempt. It
// lets a sweep resume after a crash without reprocessing or skipping
// documents.
type Checkpoint struct {
	RotationID              string    `json:"rotation_id"`
	TargetKeyID             uint32    `json:"target_key_id"`
	LastProcessedDocumentID uint64    `json:"last_processed_document_id"`
	DocumentsProcessed      uint64    `json:"documents_processed"`
	StartedAt               time.Time `json:"started_at"`
}

// CheckpointStore persists rotation checkpoints with atomic replace and
// fsync. Advance does not return until the checkpoint is durable, which is
// what lets the sweep start the next batch safely.
type CheckpointStore struct {
	path string
	mu   sync.Mutex
	last *Checkpoint // cached last written/loaded checkpoint
}

// NewCheckpointStore creates a checkpoint store rooted at dir. The
// directory must already exist; NewRotator creates it.
func NewCheckpointStore(dir string) *CheckpointStore {
	return &CheckpointStore{path: filepath.Join(dir, checkpointFileName)}
}

// Load reads the persisted checkpoint. Returns nil when no checkpoint
// exists. A checkpoint that cannot be parsed is ErrCorruptCheckpoint:
// fail-closed, never treated as a fresh start.
func (s *CheckpointStore) Load() (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.last = nil
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if cp.RotationID == "" || cp.TargetKeyID == 0 {
		return nil, fmt.Errorf("%w: missing rotation or key id", ErrCorruptCheckpoint)
	}

	copied := cp
	s.last = &copied
	return &cp, nil
}

// Advance durably writes a checkpoint, blocking until fsync completes.
// Within one rotation the cursor must never decrease; a regression is a
// programming error and is rejected.
func (s *CheckpointStore) Advance(cp *Checkpoint) error {
	if cp == nil || cp.RotationID == "" {
		return fmt.Errorf("%w: empty checkpoint", ErrCorruptCheckpoint)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last != nil && s.last.RotationID == cp.RotationID {
		if cp.LastProcessedDocumentID < s.last.LastProcessedDocumentID {
			return fmt.Errorf("%w: cursor %d behind %d for rotation %s",
				ErrCursorRegression, cp.LastProcessedDocumentID, s.last.LastProcessedDocumentID, cp.RotationID)
		}
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := fsutil.WriteFileAtomic(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	copied := *cp
	s.last = &copied
	return nil
}

// Delete removes the checkpoint. Deleting an absent checkpoint is a no-op,
// which keeps rotation finalization idempotent.
func (s *CheckpointStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	s.last = nil
	return nil
}

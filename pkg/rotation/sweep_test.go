package rotation

import (
	"errors"
	"testing"
	"time"

	"github.com/dd0wney/cluso-docstore/pkg/encryption"
	"github.com/dd0wney/cluso-docstore/pkg/logging"
)

func freshCheckpoint(t *testing.T, store *CheckpointStore, rotationID string, target uint32) *Checkpoint {
	t.Helper()
	cp := &Checkpoint{
		RotationID:  rotationID,
		TargetKeyID: target,
		StartedAt:   time.Now(),
	}
	if err := store.Advance(cp); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	return cp
}

func TestSweepReEncryptsAllDocuments(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seedDocuments(t, 10)
	target := env.pendingKey(t)

	checkpoints := NewCheckpointStore(env.rotDir)
	sweeper := NewSweeper(env.store, env.keys, checkpoints, 3, logging.NewNopLogger())
	cp := freshCheckpoint(t, checkpoints, "rot-1", target)

	outcome, err := sweeper.Run("rot-1", cp)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !outcome.FullCoverage {
		t.Error("FullCoverage = false")
	}
	if outcome.DocumentsProcessed != 10 {
		t.Errorf("DocumentsProcessed = %d, want 10", outcome.DocumentsProcessed)
	}
	if outcome.LastProcessedDocumentID != ids[len(ids)-1] {
		t.Errorf("LastProcessedDocumentID = %d, want %d", outcome.LastProcessedDocumentID, ids[len(ids)-1])
	}

	env.assertAllUnderKey(t, ids, target)

	// The final checkpoint covers the whole sweep
	final, err := checkpoints.Load()
	if err != nil {
		t.Fatalf("checkpoint Load() error = %v", err)
	}
	if final.DocumentsProcessed != 10 || final.LastProcessedDocumentID != ids[len(ids)-1] {
		t.Errorf("final checkpoint = %+v", final)
	}
}

func TestSweepEmptyStoreIsFullCoverage(t *testing.T) {
	env := newTestEnv(t)
	target := env.pendingKey(t)

	checkpoints := NewCheckpointStore(env.rotDir)
	sweeper := NewSweeper(env.store, env.keys, checkpoints, 0, logging.NewNopLogger())
	cp := freshCheckpoint(t, checkpoints, "rot-1", target)

	outcome, err := sweeper.Run("rot-1", cp)
	if err != nil {
		t.Fatalf("Run() on empty store error = %v", err)
	}
	if !outcome.FullCoverage || outcome.DocumentsProcessed != 0 {
		t.Errorf("outcome = %+v, want full coverage over zero documents", outcome)
	}
}

func TestSweepChecksCheckpointIdentity(t *testing.T) {
	env := newTestEnv(t)
	target := env.pendingKey(t)
	checkpoints := NewCheckpointStore(env.rotDir)
	sweeper := NewSweeper(env.store, env.keys, checkpoints, 0, logging.NewNopLogger())

	if _, err := sweeper.Run("rot-1", nil); !errors.Is(err, ErrCorruptCheckpoint) {
		t.Errorf("Run(nil checkpoint) error = %v, want ErrCorruptCheckpoint", err)
	}

	cp := freshCheckpoint(t, checkpoints, "rot-other", target)
	if _, err := sweeper.Run("rot-1", cp); !errors.Is(err, ErrCorruptCheckpoint) {
		t.Errorf("Run(foreign checkpoint) error = %v, want ErrCorruptCheckpoint", err)
	}
}

func TestSweepTamperedDocumentAbortsWholeSweep(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seedDocuments(t, 5)
	target := env.pendingKey(t)

	// Flip a ciphertext byte in the third document
	tampered := ids[2]
	docEnv, err := env.store.Get(tampered)
	if err != nil {
		t.Fatal(err)
	}
	docEnv.Ciphertext[0] ^= 0xFF
	if err := env.store.Put(tampered, docEnv); err != nil {
		t.Fatal(err)
	}

	checkpoints := NewCheckpointStore(env.rotDir)
	sweeper := NewSweeper(env.store, env.keys, checkpoints, 2, logging.NewNopLogger())
	cp := freshCheckpoint(t, checkpoints, "rot-1", target)

	outcome, err := sweeper.Run("rot-1", cp)
	if err == nil {
		t.Fatalf("Run() succeeded over tampered document, outcome = %+v", outcome)
	}
	if !errors.Is(err, encryption.ErrAuthenticationFailed) {
		t.Errorf("error = %v, want ErrAuthenticationFailed in chain", err)
	}
	var rotErr *RotationError
	if !errors.As(err, &rotErr) {
		t.Fatalf("error %T is not a RotationError", err)
	}
	if rotErr.Kind != KindCrypto {
		t.Errorf("Kind = %s, want %s", rotErr.Kind, KindCrypto)
	}
	if rotErr.DocumentID != tampered {
		t.Errorf("DocumentID = %d, want %d", rotErr.DocumentID, tampered)
	}
}

func TestSweepResumesFromCheckpointAfterCrash(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seedDocuments(t, 10)
	target := env.pendingKey(t)

	checkpoints := NewCheckpointStore(env.rotDir)
	cp := freshCheckpoint(t, checkpoints, "rot-1", target)

	// First run dies after 4 writes; only the first batch of 3 is
	// durably checkpointed.
	faulty := &faultySource{DocumentSource: env.store, remaining: 4}
	sweeper := NewSweeper(faulty, env.keys, checkpoints, 3, logging.NewNopLogger())

	_, err := sweeper.Run("rot-1", cp)
	if !errors.Is(err, errPutInjected) {
		t.Fatalf("Run() error = %v, want injected failure", err)
	}

	// Simulate restart: reload the checkpoint from disk
	resumed, err := NewCheckpointStore(env.rotDir).Load()
	if err != nil {
		t.Fatalf("checkpoint Load() error = %v", err)
	}
	if resumed == nil || resumed.DocumentsProcessed != 3 || resumed.LastProcessedDocumentID != ids[2] {
		t.Fatalf("checkpoint after crash = %+v, want cursor at document %d", resumed, ids[2])
	}

	// Second run resumes strictly after the cursor and finishes
	sweeper = NewSweeper(env.store, env.keys, NewCheckpointStore(env.rotDir), 3, logging.NewNopLogger())
	outcome, err := sweeper.Run("rot-1", resumed)
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if !outcome.FullCoverage {
		t.Error("FullCoverage = false after resume")
	}
	if outcome.DocumentsProcessed != 10 {
		t.Errorf("DocumentsProcessed = %d, want 10", outcome.DocumentsProcessed)
	}

	env.assertAllUnderKey(t, ids, target)
}

func TestSweepProgressCallback(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocuments(t, 4)
	target := env.pendingKey(t)

	checkpoints := NewCheckpointStore(env.rotDir)
	sweeper := NewSweeper(env.store, env.keys, checkpoints, 0, logging.NewNopLogger())

	var seen []uint64
	sweeper.SetProgressFunc(func(processed uint64) { seen = append(seen, processed) })

	cp := freshCheckpoint(t, checkpoints, "rot-1", target)
	if _, err := sweeper.Run("rot-1", cp); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(seen) != 4 {
		t.Fatalf("progress callback fired %d times, want 4", len(seen))
	}
	for i, p := range seen {
		if p != uint64(i+1) {
			t.Errorf("progress[%d] = %d, want %d", i, p, i+1)
		}
	}
}

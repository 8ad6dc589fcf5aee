package rotation

import (
	"fmt"
	"time"

	"github.com/dd0wney/cluso-docstore/pkg/encryption"
	"github.com/dd0wney/cluso-docstore/pkg/logging"
)

// Finalizer makes a completed rotation's key change authoritative. It may
// only run once a completed record is durable, and it must be safe to
// re-invoke after a crash between any two of its steps.
type Finalizer struct {
	machine     *StateMachine
	metadata    *MetadataStore
	checkpoints *CheckpointStore
	keys        encryption.KeyInvalidator
	log         logging.Logger
}

// NewFinalizer creates a finalizer.
func NewFinalizer(machine *StateMachine, metadata *MetadataStore, checkpoints *CheckpointStore, keys encryption.KeyInvalidator, log logging.Logger) *Finalizer {
	if log == nil {
		log = logging.DefaultLogger()
	}
	return &Finalizer{
		machine:     machine,
		metadata:    metadata,
		checkpoints: checkpoints,
		keys:        keys,
		log:         log,
	}
}

// Finalize transitions completed -> idle, in this exact order: update the
// key metadata to the rotation's target key, invalidate the old key
// material, delete the checkpoint, write the idle record. Every step is a
// no-op when its effect is already visible, so re-running after a crash
// between steps finishes the job instead of failing.
func (f *Finalizer) Finalize(rotationID string) error {
	rec := f.machine.Current()
	if rec.State != StateCompleted {
		return fmt.Errorf("Finalize: %w: %q -> requires %q", ErrInvalidTransition, rec.State, StateCompleted)
	}
	if rec.RotationID != rotationID {
		return fmt.Errorf("Finalize: %w: %s (current is %s)", ErrUnknownRotation, rotationID, rec.RotationID)
	}

	target := rec.TargetKeyID

	// Step 1: key metadata names the new key.
	meta, err := f.metadata.Load()
	if err != nil {
		return &RotationError{Op: "Finalize", RotationID: rotationID, Kind: KindStorageIO, Cause: err}
	}
	if meta == nil || meta.ActiveKeyID != target {
		if err := f.metadata.Save(&KeyMetadata{
			ActiveKeyID: target,
			Algorithm:   encryption.AlgorithmAESGCM,
			ActivatedAt: time.Now(),
		}); err != nil {
			return &RotationError{Op: "Finalize", RotationID: rotationID, Kind: KindStorageIO, Cause: err}
		}
	}
	if err := f.keys.Activate(target); err != nil {
		return &RotationError{Op: "Finalize", RotationID: rotationID, Kind: KindStorageIO, Cause: err}
	}

	// Step 2: old key material can no longer decrypt anything.
	if err := f.keys.InvalidateRetired(); err != nil {
		return &RotationError{Op: "Finalize", RotationID: rotationID, Kind: KindStorageIO, Cause: err}
	}

	// Step 3: the checkpoint has served its purpose.
	if err := f.checkpoints.Delete(); err != nil {
		return &RotationError{Op: "Finalize", RotationID: rotationID, Kind: KindStorageIO, Cause: err}
	}

	// Step 4: back to idle.
	if err := f.machine.finalizeToIdle(rotationID); err != nil {
		return err
	}

	f.log.Info("rotation finalized",
		logging.RotationID(rotationID),
		logging.KeyID(target))

	return nil
}

package rotation

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dd0wney/cluso-docstore/pkg/audit"
	"github.com/dd0wney/cluso-docstore/pkg/encryption"
	"github.com/dd0wney/cluso-docstore/pkg/logging"
	"github.com/dd0wney/cluso-docstore/pkg/metrics"
)

// Keys is everything the rotation subsystem needs from the key material
// provider.
type Keys interface {
	encryption.EnvelopeCipher
	encryption.KeyInvalidator
	encryption.KeyProvider
}

// Options configures a Rotator.
type Options struct {
	BatchSize int
	Logger    logging.Logger
	Metrics   *metrics.Registry // optional
	Audit     *audit.Logger     // optional
}

// Status is the externally visible rotation status.
type Status struct {
	State          string `json:"state"`
	RotationID     string `json:"rotation_id,omitempty"`
	TargetKeyID    uint32 `json:"target_key_id,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`
	Processed      uint64 `json:"processed"`
	EstimatedTotal uint64 `json:"estimated_total"`
}

// Rotator ties the state machine, sweep executor, and finalizer together
// behind the operations the server and CLI expose: rotate, status,
// recover, reset.
type Rotator struct {
	// writeGate excludes document writes from a running rotation. The
	// sweep enumerates the store once; a write admitted after that
	// snapshot would stay under the old key and become undecryptable at
	// finalization, so writes hold the gate shared and a rotation holds
	// it exclusively.
	writeGate sync.RWMutex

	machine     *StateMachine
	sweeper     *Sweeper
	finalizer   *Finalizer
	checkpoints *CheckpointStore
	metadata    *MetadataStore
	docs        DocumentSource
	keys        Keys
	log         logging.Logger
	metrics     *metrics.Registry
	audit       *audit.Logger
}

// NewRotator opens the rotation records under dir and assembles the
// subsystem.
func NewRotator(dir string, docs DocumentSource, keys Keys, opts Options) (*Rotator, error) {
	log := opts.Logger
	if log == nil {
		log = logging.DefaultLogger()
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create rotation directory: %w", err)
	}

	checkpoints := NewCheckpointStore(dir)
	states := NewStateStore(dir)
	metadata := NewMetadataStore(dir)

	machine, err := NewStateMachine(states, checkpoints)
	if err != nil {
		return nil, fmt.Errorf("failed to load rotation state: %w", err)
	}

	sweeper := NewSweeper(docs, keys, checkpoints, opts.BatchSize, log)
	finalizer := NewFinalizer(machine, metadata, checkpoints, keys, log)

	r := &Rotator{
		machine:     machine,
		sweeper:     sweeper,
		finalizer:   finalizer,
		checkpoints: checkpoints,
		metadata:    metadata,
		docs:        docs,
		keys:        keys,
		log:         log,
		metrics:     opts.Metrics,
		audit:       opts.Audit,
	}

	if r.metrics != nil {
		rec := machine.Current()
		r.metrics.SetRotationState(rec.State.String())
		sweeper.SetProgressFunc(func(processed uint64) {
			r.metrics.SetRotationProgress(processed)
		})
	}

	return r, nil
}

// Metadata returns the persisted key metadata (nil on a fresh install).
func (r *Rotator) Metadata() (*KeyMetadata, error) {
	return r.metadata.Load()
}

// EnforceStartup applies the startup guard to the current state.
func (r *Rotator) EnforceStartup() error {
	return EnforceStartup(r.machine.Current())
}

// AcquireWrite admits a document write when no rotation holds the store.
// A successful call must be paired with ReleaseWrite; until then no
// rotation can begin, so an admitted write is always visible to the next
// sweep's enumeration. Returns false while a rotation is running.
func (r *Rotator) AcquireWrite() bool {
	if !r.writeGate.TryRLock() {
		return false
	}
	if r.machine.Current().State == StateReEncrypting {
		r.writeGate.RUnlock()
		return false
	}
	return true
}

// ReleaseWrite releases a slot taken by AcquireWrite.
func (r *Rotator) ReleaseWrite() {
	r.writeGate.RUnlock()
}

// RotateKey re-encrypts every stored document under the target key. The
// target must be a pending key. The call is synchronous and exclusive: it
// returns after the rotation has fully completed and finalized, or with
// the error that stopped it.
func (r *Rotator) RotateKey(targetKeyID uint32) (string, error) {
	// Waits for in-flight document writes to drain, then holds the store
	// exclusively until the rotation has finalized or failed.
	r.writeGate.Lock()
	defer r.writeGate.Unlock()

	status, err := r.keys.KeyStatusOf(targetKeyID)
	if err != nil {
		return "", fmt.Errorf("target key %d: %w", targetKeyID, err)
	}
	if status != encryption.KeyStatusPending {
		return "", fmt.Errorf("target key %d is %s: %w", targetKeyID, status, encryption.ErrKeyNotPending)
	}

	rotationID, err := r.machine.Begin(targetKeyID)
	if err != nil {
		return "", err
	}

	started := time.Now()
	r.log.Info("rotation admitted",
		logging.RotationID(rotationID),
		logging.KeyID(targetKeyID))
	r.auditEvent(audit.ActionRotationBegin, audit.StatusSuccess, rotationID, targetKeyID, "")
	if r.metrics != nil {
		r.metrics.SetRotationState(StateReEncrypting.String())
	}

	if err := r.runSweep(rotationID); err != nil {
		return rotationID, err
	}

	if err := r.finalize(rotationID, targetKeyID); err != nil {
		return rotationID, err
	}

	if r.metrics != nil {
		r.metrics.RecordRotationCompleted(time.Since(started))
	}

	return rotationID, nil
}

// runSweep loads the checkpoint, runs the sweep, and records the outcome.
// Any sweep error transitions the state machine to failed.
func (r *Rotator) runSweep(rotationID string) error {
	cp, err := r.checkpoints.Load()
	if err != nil || cp == nil {
		reason := "checkpoint missing before sweep"
		if err != nil {
			reason = err.Error()
		}
		r.fail(rotationID, reason)
		return &RotationError{Op: "Sweep", RotationID: rotationID, Kind: KindCorruptCheckpoint,
			Cause: fmt.Errorf("%w: %s", ErrCorruptCheckpoint, reason)}
	}

	outcome, err := r.sweeper.Run(rotationID, cp)
	if err != nil {
		r.fail(rotationID, err.Error())
		return err
	}

	if err := r.machine.MarkCompleted(rotationID, *outcome); err != nil {
		if !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrUnknownRotation) {
			r.fail(rotationID, err.Error())
		}
		return err
	}

	return nil
}

func (r *Rotator) finalize(rotationID string, targetKeyID uint32) error {
	previousKeyID := r.keys.ActiveKeyID()

	if err := r.finalizer.Finalize(rotationID); err != nil {
		// State remains durably completed; recovery re-runs finalize
		// without touching documents.
		r.log.Error("rotation finalization interrupted",
			logging.RotationID(rotationID),
			logging.Error(err))
		return err
	}

	if previousKeyID != 0 && previousKeyID != targetKeyID {
		r.auditEvent(audit.ActionKeyInvalidated, audit.StatusSuccess, rotationID, previousKeyID, "retired key material destroyed")
	}
	r.auditEvent(audit.ActionRotationFinalized, audit.StatusSuccess, rotationID, targetKeyID, "")
	if r.metrics != nil {
		r.metrics.SetRotationState(StateIdle.String())
		r.metrics.SetKeyLastRotationTimestamp(time.Now())
	}

	return nil
}

// fail marks the rotation failed and records the reason. The failure
// itself is the primary error; a failure to persist the failed record is
// logged but not returned over it.
func (r *Rotator) fail(rotationID, reason string) {
	if err := r.machine.MarkFailed(rotationID, reason); err != nil {
		r.log.Error("failed to record rotation failure",
			logging.RotationID(rotationID),
			logging.Error(err))
	}
	r.auditEvent(audit.ActionRotationFailed, audit.StatusFailure, rotationID, 0, reason)
	if r.metrics != nil {
		r.metrics.SetRotationState(StateFailed.String())
		r.metrics.RecordRotationFailed()
	}
	r.log.Error("rotation failed",
		logging.RotationID(rotationID),
		logging.String("reason", reason))
}

// Status reports the current state and sweep progress.
func (r *Rotator) Status() (*Status, error) {
	rec := r.machine.Current()

	st := &Status{
		State:         rec.State.String(),
		RotationID:    rec.RotationID,
		TargetKeyID:   rec.TargetKeyID,
		FailureReason: rec.FailureReason,
	}

	total, err := r.docs.Count()
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	st.EstimatedTotal = total

	if rec.State == StateReEncrypting || rec.State == StateCompleted || rec.State == StateFailed {
		cp, err := r.checkpoints.Load()
		if err == nil && cp != nil && cp.RotationID == rec.RotationID {
			st.Processed = cp.DocumentsProcessed
		}
	}
	if rec.State == StateCompleted {
		st.Processed = total
	}

	return st, nil
}

// Recover is the explicit, operator-invoked recovery entry point. For an
// interrupted sweep it re-validates the checkpoint and resumes from the
// cursor; for a durable completed record it re-runs finalization; a failed
// rotation requires Reset instead. Recover never runs automatically on
// boot.
func (r *Rotator) Recover() error {
	// Recovery resumes the sweep or re-runs finalization, both of which
	// must exclude document writes just like a fresh rotation.
	r.writeGate.Lock()
	defer r.writeGate.Unlock()

	rec := r.machine.Current()

	switch rec.State {
	case StateIdle:
		return nil

	case StateCompleted:
		r.log.Info("recovering: completed record found, finalizing",
			logging.RotationID(rec.RotationID))
		if err := r.finalize(rec.RotationID, rec.TargetKeyID); err != nil {
			return err
		}
		r.auditEvent(audit.ActionRotationRecovered, audit.StatusSuccess, rec.RotationID, rec.TargetKeyID, "finalized completed rotation")
		return nil

	case StateReEncrypting:
		cp, err := r.checkpoints.Load()
		if err != nil {
			r.fail(rec.RotationID, fmt.Sprintf("checkpoint validation failed during recovery: %v", err))
			return &RotationError{Op: "Recover", RotationID: rec.RotationID, Kind: KindCorruptCheckpoint, Cause: err}
		}
		if cp == nil || cp.RotationID != rec.RotationID || cp.TargetKeyID != rec.TargetKeyID {
			reason := "checkpoint does not match interrupted rotation"
			r.fail(rec.RotationID, reason)
			return &RotationError{Op: "Recover", RotationID: rec.RotationID, Kind: KindCorruptCheckpoint,
				Cause: fmt.Errorf("%w: %s", ErrCorruptCheckpoint, reason)}
		}

		r.log.Info("recovering: resuming interrupted sweep",
			logging.RotationID(rec.RotationID),
			logging.Uint64("resume_after", cp.LastProcessedDocumentID))

		if err := r.runSweep(rec.RotationID); err != nil {
			return err
		}
		if err := r.finalize(rec.RotationID, rec.TargetKeyID); err != nil {
			return err
		}
		r.auditEvent(audit.ActionRotationRecovered, audit.StatusSuccess, rec.RotationID, rec.TargetKeyID, "resumed interrupted sweep")
		return nil

	case StateFailed:
		return &FatalStateError{State: StateFailed, RotationID: rec.RotationID, Reason: rec.FailureReason}

	default:
		return fmt.Errorf("Recover: %w: %q", ErrInvalidTransition, rec.State)
	}
}

// Reset clears a failed rotation back to idle. Operator-invoked only.
func (r *Rotator) Reset() error {
	rec := r.machine.Current()
	if err := r.machine.Reset(); err != nil {
		return err
	}

	r.auditEvent(audit.ActionRotationReset, audit.StatusSuccess, rec.RotationID, 0, rec.FailureReason)
	if r.metrics != nil {
		r.metrics.SetRotationState(StateIdle.String())
	}
	r.log.Warn("failed rotation cleared by operator",
		logging.RotationID(rec.RotationID),
		logging.String("reason", rec.FailureReason))

	return nil
}

func (r *Rotator) auditEvent(action audit.Action, status audit.Status, rotationID string, keyID uint32, detail string) {
	if r.audit == nil {
		return
	}
	r.audit.Record(audit.Event{
		Action:     action,
		Status:     status,
		RotationID: rotationID,
		KeyID:      keyID,
		Detail:     detail,
	})
}

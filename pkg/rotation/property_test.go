package rotation

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dd0wney/cluso-docstore/pkg/logging"
)

// TestSweepRecoveryInvariants verifies, for arbitrary document counts,
// batch sizes, and crash points, that resuming from the durable
// checkpoint always ends with every document under the target key and
// readable. These properties must hold for any interleaving of batches
// and crashes.
func TestSweepRecoveryInvariants(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("crash and resume reaches full coverage", prop.ForAll(
		func(docCount, batchSize, crashAfter int) bool {
			env := newTestEnv(t)
			ids := env.seedDocuments(t, docCount)
			target := env.pendingKey(t)

			checkpoints := NewCheckpointStore(env.rotDir)
			machine, err := NewStateMachine(NewStateStore(env.rotDir), checkpoints)
			if err != nil {
				return false
			}
			rotationID, err := machine.Begin(target)
			if err != nil {
				return false
			}
			cp, err := checkpoints.Load()
			if err != nil {
				return false
			}

			// First attempt crashes after crashAfter successful writes
			faulty := &faultySource{DocumentSource: env.store, remaining: crashAfter}
			sweeper := NewSweeper(faulty, env.keys, checkpoints, batchSize, logging.NewNopLogger())
			_, err = sweeper.Run(rotationID, cp)
			if err != nil && !errors.Is(err, errPutInjected) {
				return false
			}

			if err != nil {
				// Resume from whatever checkpoint is durable
				resumed, loadErr := NewCheckpointStore(env.rotDir).Load()
				if loadErr != nil || resumed == nil {
					return false
				}
				if resumed.LastProcessedDocumentID > uint64(crashAfter) {
					// The checkpoint can never be ahead of the writes
					// that actually happened.
					return false
				}
				sweeper = NewSweeper(env.store, env.keys, NewCheckpointStore(env.rotDir), batchSize, logging.NewNopLogger())
				outcome, runErr := sweeper.Run(rotationID, resumed)
				if runErr != nil || !outcome.FullCoverage {
					return false
				}
				if outcome.DocumentsProcessed < uint64(docCount) {
					return false
				}
			}

			// Every document must now be under the target key
			for _, id := range ids {
				docEnv, getErr := env.store.Get(id)
				if getErr != nil || docEnv.KeyID != target {
					return false
				}
				if _, decErr := env.keys.Decrypt(docEnv); decErr != nil {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 20),
		gen.IntRange(1, 8),
		gen.IntRange(0, 25),
	))

	properties.TestingRun(t)
}

package rotation

import (
	"fmt"

	"github.com/dd0wney/cluso-docstore/pkg/encryption"
	"github.com/dd0wney/cluso-docstore/pkg/logging"
	"github.com/dd0wney/cluso-docstore/pkg/storage"
)

// DefaultBatchSize is how many documents are re-encrypted between durable
// checkpoint advances.
const DefaultBatchSize = 128

// DocumentSource is the slice of the storage engine the sweep needs:
// ordered enumeration, atomic replacement, and a size estimate.
type DocumentSource interface {
	// EnumerateAfter returns documents with id strictly greater than
	// cursor, in ascending id order.
	EnumerateAfter(cursor uint64) (*storage.DocumentCursor, error)

	// Put atomically replaces a document's envelope.
	Put(id uint64, env *encryption.Envelope) error

	// Count returns the number of stored documents.
	Count() (uint64, error)
}

// SweepOutcome reports what a sweep run achieved.
type SweepOutcome struct {
	FullCoverage            bool
	DocumentsProcessed      uint64
	LastProcessedDocumentID uint64
}

// Sweeper performs one full, ordered re-encryption pass over all
// documents. It is a single logical worker: the design is synchronous and
// exclusive, and once started the only exits are full coverage or an
// unrecoverable error.
type Sweeper struct {
	docs        DocumentSource
	cipher      encryption.EnvelopeCipher
	checkpoints *CheckpointStore
	batchSize   int
	log         logging.Logger
	onProgress  func(processed uint64) // optional, for metrics
}

// NewSweeper creates a sweep executor. batchSize <= 0 selects
// DefaultBatchSize.
func NewSweeper(docs DocumentSource, cipher encryption.EnvelopeCipher, checkpoints *CheckpointStore, batchSize int, log logging.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = logging.DefaultLogger()
	}
	return &Sweeper{
		docs:        docs,
		cipher:      cipher,
		checkpoints: checkpoints,
		batchSize:   batchSize,
		log:         log,
	}
}

// SetProgressFunc installs a callback invoked with the running processed
// count after every document.
func (s *Sweeper) SetProgressFunc(fn func(processed uint64)) {
	s.onProgress = fn
}

// Run executes the sweep for rotationID starting strictly after the
// checkpoint cursor. Every document is decrypted with the key named by its
// envelope and re-encrypted with the checkpoint's target key; the new
// envelope replaces the old one atomically. After every batch the
// checkpoint is durable before the next batch begins. Any decrypt,
// encrypt, or storage error aborts the whole sweep: partial batches
// already committed remain valid, but coverage is never reported unless
// the enumeration was exhausted without error.
func (s *Sweeper) Run(rotationID string, cp *Checkpoint) (*SweepOutcome, error) {
	if cp == nil {
		return nil, &RotationError{Op: "Sweep", RotationID: rotationID, Kind: KindCorruptCheckpoint,
			Cause: fmt.Errorf("%w: no checkpoint to sweep from", ErrCorruptCheckpoint)}
	}
	if cp.RotationID != rotationID {
		return nil, &RotationError{Op: "Sweep", RotationID: rotationID, Kind: KindCorruptCheckpoint,
			Cause: fmt.Errorf("%w: checkpoint belongs to rotation %s", ErrCorruptCheckpoint, cp.RotationID)}
	}

	cursor := cp.LastProcessedDocumentID
	processed := cp.DocumentsProcessed
	target := cp.TargetKeyID

	s.log.Info("re-encryption sweep starting",
		logging.RotationID(rotationID),
		logging.KeyID(target),
		logging.Uint64("resume_after", cursor),
		logging.Uint64("already_processed", processed))

	it, err := s.docs.EnumerateAfter(cursor)
	if err != nil {
		return nil, &RotationError{Op: "Sweep", RotationID: rotationID, Kind: KindStorageIO, Cause: err}
	}

	inBatch := 0
	for it.Next() {
		id, env := it.Document()

		plaintext, err := s.cipher.Decrypt(env)
		if err != nil {
			// No retry with a different key is attempted. The envelope
			// names its key; if that key cannot authenticate the
			// ciphertext, the sweep is over.
			return nil, &RotationError{Op: "Sweep", RotationID: rotationID, DocumentID: id, Kind: KindCrypto, Cause: err}
		}

		newEnv, err := s.cipher.Encrypt(plaintext, target)
		zero(plaintext)
		if err != nil {
			return nil, &RotationError{Op: "Sweep", RotationID: rotationID, DocumentID: id, Kind: KindCrypto, Cause: err}
		}

		if err := s.docs.Put(id, newEnv); err != nil {
			return nil, &RotationError{Op: "Sweep", RotationID: rotationID, DocumentID: id, Kind: KindStorageIO, Cause: err}
		}

		cursor = id
		processed++
		inBatch++
		if s.onProgress != nil {
			s.onProgress(processed)
		}

		if inBatch >= s.batchSize {
			if err := s.advance(rotationID, cp, cursor, processed); err != nil {
				return nil, err
			}
			inBatch = 0
		}
	}
	if err := it.Err(); err != nil {
		return nil, &RotationError{Op: "Sweep", RotationID: rotationID, Kind: KindStorageIO, Cause: err}
	}

	if inBatch > 0 {
		if err := s.advance(rotationID, cp, cursor, processed); err != nil {
			return nil, err
		}
	}

	s.log.Info("re-encryption sweep reached full coverage",
		logging.RotationID(rotationID),
		logging.KeyID(target),
		logging.Uint64("documents_processed", processed))

	return &SweepOutcome{
		FullCoverage:            true,
		DocumentsProcessed:      processed,
		LastProcessedDocumentID: cursor,
	}, nil
}

// advance durably records sweep progress. It blocks until fsync completes;
// the next batch must not begin before the checkpoint lands.
func (s *Sweeper) advance(rotationID string, cp *Checkpoint, cursor, processed uint64) error {
	next := &Checkpoint{
		RotationID:              cp.RotationID,
		TargetKeyID:             cp.TargetKeyID,
		LastProcessedDocumentID: cursor,
		DocumentsProcessed:      processed,
		StartedAt:               cp.StartedAt,
	}
	if err := s.checkpoints.Advance(next); err != nil {
		return &RotationError{Op: "Sweep", RotationID: rotationID, Kind: KindStorageIO, Cause: err}
	}

	s.log.Debug("checkpoint advanced",
		logging.RotationID(rotationID),
		logging.Uint64("cursor", cursor),
		logging.Uint64("documents_processed", processed))

	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

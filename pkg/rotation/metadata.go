package rotation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dd0wney/cluso-docstore/pkg/fsutil"
)

const metadataFileName = "key_metadata.json"

// KeyMetadata records which key is authoritative for new encryption. It is
// stored separately from the checkpoint and is mutated only by the
// finalizer, only after a durable completed record exists.
type KeyMetadata struct {
	ActiveKeyID uint32    `json:"active_key_id"`
	Algorithm   string    `json:"algorithm"`
	ActivatedAt time.Time `json:"activated_at"`
}

// MetadataStore persists the key metadata record with atomic replace and
// fsync.
type MetadataStore struct {
	path string
}

// NewMetadataStore creates a metadata store rooted at dir.
func NewMetadataStore(dir string) *MetadataStore {
	return &MetadataStore{path: filepath.Join(dir, metadataFileName)}
}

// Load reads the key metadata. Returns nil when no metadata exists yet
// (fresh install, no key activated).
func (s *MetadataStore) Load() (*KeyMetadata, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read key metadata: %w", err)
	}

	var meta KeyMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("corrupt key metadata: %w", err)
	}

	return &meta, nil
}

// Save durably writes the key metadata, blocking until fsync completes.
func (s *MetadataStore) Save(meta *KeyMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key metadata: %w", err)
	}

	if err := fsutil.WriteFileAtomic(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write key metadata: %w", err)
	}

	return nil
}

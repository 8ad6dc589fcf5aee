package encryption

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dd0wney/cluso-docstore/pkg/fsutil"
)

func (kr *Keyring) keyPath(id uint32) string {
	return filepath.Join(kr.keyDir, fmt.Sprintf("key_v%d.json", id))
}

// saveKey persists a key entry to disk. Caller must hold kr.mu.
func (kr *Keyring) saveKey(entry *KeyEntry) error {
	if err := os.MkdirAll(kr.keyDir, 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key entry: %w", err)
	}

	// Atomic replace: activation rewrites the file holding the wrapped
	// key that protects every document, so a crash mid-write must leave
	// the previous version intact.
	keyPath := kr.keyPath(entry.Info.ID)
	if err := fsutil.WriteFileAtomic(keyPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}

	return nil
}

// loadKeys reads all key files from the key directory
func (kr *Keyring) loadKeys() error {
	entries, err := os.ReadDir(kr.keyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Directory doesn't exist yet, no keys to load
		}
		return fmt.Errorf("failed to read key directory: %w", err)
	}

	maxActiveID := uint32(0)

	for _, dirEntry := range entries {
		if dirEntry.IsDir() {
			continue
		}
		if filepath.Ext(dirEntry.Name()) != ".json" {
			continue
		}

		keyPath := filepath.Join(kr.keyDir, dirEntry.Name())

		data, err := os.ReadFile(keyPath)
		if err != nil {
			return fmt.Errorf("failed to read key file %s: %w", keyPath, err)
		}

		var keyEntry KeyEntry
		if err := json.Unmarshal(data, &keyEntry); err != nil {
			return fmt.Errorf("failed to unmarshal key file %s: %w", keyPath, err)
		}

		kr.keys[keyEntry.Info.ID] = &keyEntry

		if keyEntry.Info.Status == KeyStatusActive && keyEntry.Info.ID > maxActiveID {
			maxActiveID = keyEntry.Info.ID
		}
	}

	kr.activeID = maxActiveID

	return nil
}

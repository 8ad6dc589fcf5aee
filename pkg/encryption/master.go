package encryption

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/dd0wney/cluso-docstore/pkg/fsutil"
)

const saltFileName = "master_salt.bin"

// DeriveMasterKey derives the master key from a passphrase and salt.
func DeriveMasterKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, KeySize, sha256.New)
}

// GenerateSalt returns a fresh random salt for master key derivation.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// LoadOrCreateSalt returns the persisted master key salt for dir,
// creating one on first use. The salt is not secret but must be stable
// across restarts or the derived master key changes.
func LoadOrCreateSalt(dir string) ([]byte, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	path := filepath.Join(dir, saltFileName)
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != SaltSize {
			return nil, fmt.Errorf("master salt file %s has %d bytes, want %d", path, len(salt), SaltSize)
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read master salt: %w", err)
	}

	salt, err = GenerateSalt()
	if err != nil {
		return nil, err
	}
	if err := fsutil.WriteFileAtomic(path, salt, 0600); err != nil {
		return nil, fmt.Errorf("failed to persist master salt: %w", err)
	}
	return salt, nil
}

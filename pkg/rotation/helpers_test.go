package rotation

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/dd0wney/cluso-docstore/pkg/encryption"
	"github.com/dd0wney/cluso-docstore/pkg/logging"
	"github.com/dd0wney/cluso-docstore/pkg/storage"
)

// testEnv wires real storage and key components against a temp dir.
type testEnv struct {
	dir     string
	rotDir  string
	keys    *encryption.Keyring
	store   *storage.DocumentStore
	firstID uint32 // the initially active key
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	rotDir := filepath.Join(dir, "rotation")
	if err := os.MkdirAll(rotDir, 0700); err != nil {
		t.Fatalf("failed to create rotation dir: %v", err)
	}

	keys, err := encryption.NewKeyring(encryption.KeyringConfig{
		KeyDir:    filepath.Join(dir, "keys"),
		MasterKey: bytes.Repeat([]byte{9}, encryption.KeySize),
	})
	if err != nil {
		t.Fatalf("failed to create keyring: %v", err)
	}
	id, err := keys.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if err := keys.Activate(id); err != nil {
		t.Fatalf("failed to activate key: %v", err)
	}

	store, err := storage.NewDocumentStore(filepath.Join(dir, "docs"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
		keys.Close()
	})

	return &testEnv{
		dir:     dir,
		rotDir:  rotDir,
		keys:    keys,
		store:   store,
		firstID: id,
	}
}

// seedDocuments stores n documents encrypted under the active key and
// returns their ids.
func (e *testEnv) seedDocuments(t *testing.T, n int) []uint64 {
	t.Helper()
	ids := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		id, err := e.store.NextID()
		if err != nil {
			t.Fatalf("NextID() error = %v", err)
		}
		env, err := e.keys.Encrypt([]byte(fmt.Sprintf("document %d body", id)), e.keys.ActiveKeyID())
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if err := e.store.Put(id, env); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

// pendingKey generates a fresh pending key for use as a rotation target.
func (e *testEnv) pendingKey(t *testing.T) uint32 {
	t.Helper()
	id, err := e.keys.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	return id
}

// assertAllUnderKey verifies every document's envelope names keyID and
// still decrypts to its original body.
func (e *testEnv) assertAllUnderKey(t *testing.T, ids []uint64, keyID uint32) {
	t.Helper()
	for _, id := range ids {
		env, err := e.store.Get(id)
		if err != nil {
			t.Fatalf("Get(%d) error = %v", id, err)
		}
		if env.KeyID != keyID {
			t.Errorf("document %d encrypted under key %d, want %d", id, env.KeyID, keyID)
		}
		plaintext, err := e.keys.Decrypt(env)
		if err != nil {
			t.Fatalf("Decrypt(%d) error = %v", id, err)
		}
		want := fmt.Sprintf("document %d body", id)
		if string(plaintext) != want {
			t.Errorf("document %d decrypted to %q, want %q", id, plaintext, want)
		}
	}
}

func (e *testEnv) newRotator(t *testing.T, batchSize int) *Rotator {
	t.Helper()
	r, err := NewRotator(e.rotDir, e.store, e.keys, Options{
		BatchSize: batchSize,
		Logger:    logging.NewNopLogger(),
	})
	if err != nil {
		t.Fatalf("NewRotator() error = %v", err)
	}
	return r
}

// errPutInjected marks writes refused by faultySource.
var errPutInjected = errors.New("injected write failure")

// faultySource wraps a DocumentSource and fails Put after a set number of
// successful writes, simulating a crash mid-sweep.
type faultySource struct {
	DocumentSource
	remaining int
}

func (f *faultySource) Put(id uint64, env *encryption.Envelope) error {
	if f.remaining <= 0 {
		return errPutInjected
	}
	f.remaining--
	return f.DocumentSource.Put(id, env)
}

// corruptFile overwrites a file under dir with garbage.
func corruptFile(dir, name string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte("{corrupt"), 0600)
}

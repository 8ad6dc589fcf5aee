package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dd0wney/cluso-docstore/pkg/encryption"
)

func testEnvelope(keyID uint32, body string) *encryption.Envelope {
	return &encryption.Envelope{
		KeyID:      keyID,
		Nonce:      bytes.Repeat([]byte{0x01}, encryption.NonceSize),
		Ciphertext: []byte(body),
		Tag:        bytes.Repeat([]byte{0x02}, encryption.TagSize),
	}
}

func TestDocumentStorePutGet(t *testing.T) {
	ds, err := NewDocumentStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDocumentStore() failed: %v", err)
	}
	defer ds.Close()

	id, _ := ds.NextID()
	env := testEnvelope(1, "ciphertext-1")

	if err := ds.Put(id, env); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := ds.Get(id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.KeyID != env.KeyID || !bytes.Equal(got.Ciphertext, env.Ciphertext) {
		t.Errorf("Get() = %+v, want %+v", got, env)
	}
}

func TestDocumentStoreGetMissing(t *testing.T) {
	ds, _ := NewDocumentStore(t.TempDir())
	defer ds.Close()

	if _, err := ds.Get(42); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Get() error = %v, want %v", err, ErrDocumentNotFound)
	}
}

func TestDocumentStoreIDAllocation(t *testing.T) {
	dir := t.TempDir()

	ds1, _ := NewDocumentStore(dir)
	for i := 0; i < 5; i++ {
		id, _ := ds1.NextID()
		if err := ds1.Put(id, testEnvelope(1, "body")); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}
	ds1.Close()

	// IDs continue ascending after reopen
	ds2, _ := NewDocumentStore(dir)
	defer ds2.Close()
	id, _ := ds2.NextID()
	if id != 6 {
		t.Errorf("NextID() after reopen = %d, want 6", id)
	}
}

func TestDocumentStoreEnumerateAfter(t *testing.T) {
	ds, _ := NewDocumentStore(t.TempDir())
	defer ds.Close()

	for i := uint64(1); i <= 10; i++ {
		if err := ds.Put(i, testEnvelope(1, "body")); err != nil {
			t.Fatalf("Put(%d) failed: %v", i, err)
		}
	}

	tests := []struct {
		cursor uint64
		want   []uint64
	}{
		{0, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{4, []uint64{5, 6, 7, 8, 9, 10}},
		{10, nil},
		{99, nil},
	}

	for _, tt := range tests {
		cursor, err := ds.EnumerateAfter(tt.cursor)
		if err != nil {
			t.Fatalf("EnumerateAfter(%d) failed: %v", tt.cursor, err)
		}

		var got []uint64
		for cursor.Next() {
			id, _ := cursor.Document()
			got = append(got, id)
		}
		if err := cursor.Err(); err != nil {
			t.Fatalf("cursor error: %v", err)
		}

		if len(got) != len(tt.want) {
			t.Errorf("EnumerateAfter(%d) returned %v, want %v", tt.cursor, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("EnumerateAfter(%d)[%d] = %d, want %d", tt.cursor, i, got[i], tt.want[i])
			}
		}
	}
}

func TestDocumentStoreAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	ds, _ := NewDocumentStore(dir)
	defer ds.Close()

	if err := ds.Put(1, testEnvelope(1, "old")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := ds.Put(1, testEnvelope(2, "new")); err != nil {
		t.Fatalf("Put() replace failed: %v", err)
	}

	got, _ := ds.Get(1)
	if got.KeyID != 2 {
		t.Errorf("Replaced envelope key id = %d, want 2", got.KeyID)
	}

	// No stray temp files after a successful replace
	entries, _ := os.ReadDir(filepath.Join(dir, "docs"))
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp") {
			t.Errorf("Stray temp file left behind: %s", e.Name())
		}
	}
}

func TestDocumentStoreClosed(t *testing.T) {
	ds, _ := NewDocumentStore(t.TempDir())
	ds.Close()

	if err := ds.Put(1, testEnvelope(1, "body")); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Put() after Close error = %v, want %v", err, ErrStoreClosed)
	}
	if _, err := ds.Get(1); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Get() after Close error = %v, want %v", err, ErrStoreClosed)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	body := bytes.Repeat([]byte("compressible content "), 100)

	compressed := Compress(body)
	if len(compressed) >= len(body) {
		t.Errorf("Compressed size %d not smaller than original %d", len(compressed), len(body))
	}

	out, err := Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress() failed: %v", err)
	}
	if !bytes.Equal(out, body) {
		t.Error("Decompressed body does not match original")
	}
}

func TestDocumentFilesLiveDirectlyUnderDir(t *testing.T) {
	dir := t.TempDir()
	ds, err := NewDocumentStore(dir)
	if err != nil {
		t.Fatalf("NewDocumentStore() failed: %v", err)
	}
	defer ds.Close()

	if err := ds.Put(1, testEnvelope(1, "body")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "doc_00000000000000000001.json")); err != nil {
		t.Errorf("document file not directly under store dir: %v", err)
	}
	// Callers choose the directory; the store must not nest another
	// level under it.
	if _, err := os.Stat(filepath.Join(dir, "docs")); !os.IsNotExist(err) {
		t.Error("store created a nested docs directory")
	}
}

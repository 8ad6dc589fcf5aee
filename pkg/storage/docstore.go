package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dd0wney/cluso-docstore/pkg/encryption"
	"github.com/dd0wney/cluso-docstore/pkg/fsutil"
)

const (
	docFilePrefix = "doc_"
	docFileSuffix = ".json"
)

// DocumentStore persists encrypted document envelopes, one file per
// document, directly under dir. Writes are atomic: a half-written envelope
// is never observable, even across a crash mid-write.
type DocumentStore struct {
	dir    string
	mu     sync.RWMutex
	closed bool
	nextID uint64
}

// NewDocumentStore opens (or creates) a document store rooted at dir.
func NewDocumentStore(dir string) (*DocumentStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create document directory: %w", err)
	}

	ds := &DocumentStore{dir: dir}

	ids, err := ds.listIDs()
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		ds.nextID = ids[len(ids)-1]
	}

	return ds, nil
}

// NextID allocates the next document identifier. Identifiers are assigned
// in ascending order, which is what makes sweep enumeration deterministic.
func (ds *DocumentStore) NextID() (uint64, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.closed {
		return 0, ErrStoreClosed
	}

	ds.nextID++
	return ds.nextID, nil
}

// Put atomically writes the envelope for a document. The old envelope (if
// any) is replaced only by the fully-formed new one in a single rename.
func (ds *DocumentStore) Put(id uint64, env *encryption.Envelope) error {
	if id == 0 {
		return opError("Put", id, ErrInvalidID)
	}
	if err := env.Validate(); err != nil {
		return opError("Put", id, err)
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.closed {
		return opError("Put", id, ErrStoreClosed)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return opError("Put", id, fmt.Errorf("%w: %v", ErrMarshalFailed, err))
	}

	if err := fsutil.WriteFileAtomic(ds.docPath(id), data, 0600); err != nil {
		return opError("Put", id, err)
	}

	if id > ds.nextID {
		ds.nextID = id
	}

	return nil
}

// Get reads the envelope for a document.
func (ds *DocumentStore) Get(id uint64) (*encryption.Envelope, error) {
	if id == 0 {
		return nil, opError("Get", id, ErrInvalidID)
	}

	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if ds.closed {
		return nil, opError("Get", id, ErrStoreClosed)
	}

	return ds.readEnvelope(id)
}

// Count returns the number of stored documents.
func (ds *DocumentStore) Count() (uint64, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if ds.closed {
		return 0, ErrStoreClosed
	}

	ids, err := ds.listIDs()
	if err != nil {
		return 0, err
	}
	return uint64(len(ids)), nil
}

// EnumerateAfter returns a cursor over all documents with id strictly
// greater than cursor, in ascending id order. Envelopes are read lazily.
func (ds *DocumentStore) EnumerateAfter(cursor uint64) (*DocumentCursor, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if ds.closed {
		return nil, ErrStoreClosed
	}

	ids, err := ds.listIDs()
	if err != nil {
		return nil, err
	}

	start := sort.Search(len(ids), func(i int) bool { return ids[i] > cursor })

	return &DocumentCursor{store: ds, ids: ids[start:]}, nil
}

// Close marks the store closed. Outstanding cursors fail on next read.
func (ds *DocumentStore) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.closed = true
	return nil
}

func (ds *DocumentStore) docPath(id uint64) string {
	return filepath.Join(ds.dir, fmt.Sprintf("%s%020d%s", docFilePrefix, id, docFileSuffix))
}

func (ds *DocumentStore) readEnvelope(id uint64) (*encryption.Envelope, error) {
	data, err := os.ReadFile(ds.docPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, opError("Get", id, ErrDocumentNotFound)
		}
		return nil, opError("Get", id, err)
	}

	var env encryption.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, opError("Get", id, fmt.Errorf("corrupt envelope: %w", err))
	}

	return &env, nil
}

// listIDs returns all document ids in ascending order.
func (ds *DocumentStore) listIDs() ([]uint64, error) {
	entries, err := os.ReadDir(ds.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read document directory: %w", err)
	}

	ids := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, docFilePrefix) || !strings.HasSuffix(name, docFileSuffix) {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, docFilePrefix), docFileSuffix)
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids, nil
}

// DocumentCursor iterates documents in ascending id order.
type DocumentCursor struct {
	store *DocumentStore
	ids   []uint64
	pos   int

	id  uint64
	env *encryption.Envelope
	err error
}

// Next advances the cursor. It returns false when the enumeration is
// exhausted or an error occurred; check Err() to distinguish.
func (c *DocumentCursor) Next() bool {
	if c.err != nil || c.pos >= len(c.ids) {
		return false
	}

	id := c.ids[c.pos]
	c.pos++

	c.store.mu.RLock()
	closed := c.store.closed
	c.store.mu.RUnlock()
	if closed {
		c.err = ErrStoreClosed
		return false
	}

	env, err := c.store.readEnvelope(id)
	if err != nil {
		c.err = err
		return false
	}

	c.id = id
	c.env = env
	return true
}

// Document returns the current document id and envelope.
func (c *DocumentCursor) Document() (uint64, *encryption.Envelope) {
	return c.id, c.env
}

// Err returns the error that stopped the cursor, if any.
func (c *DocumentCursor) Err() error {
	return c.err
}

// Remaining returns how many documents the cursor has not yet visited.
func (c *DocumentCursor) Remaining() int {
	return len(c.ids) - c.pos
}

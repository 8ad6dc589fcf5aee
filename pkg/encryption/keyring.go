package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// KeyStatus represents the lifecycle status of a data-encryption key
type KeyStatus string

const (
	KeyStatusPending KeyStatus = "pending" // Generated, not yet active (rotation target)
	KeyStatusActive  KeyStatus = "active"  // Currently used for new encryption
	KeyStatusRetired KeyStatus = "retired" // Replaced by a newer key, decryption only
	KeyStatusRevoked KeyStatus = "revoked" // Material destroyed, can no longer decrypt
)

// KeyInfo contains metadata about a data-encryption key
type KeyInfo struct {
	ID          uint32    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
	RevokedAt   time.Time `json:"revoked_at,omitempty"`
	Status      KeyStatus `json:"status"`
	Algorithm   string    `json:"algorithm"`
}

// KeyEntry represents a stored key with its metadata
type KeyEntry struct {
	Info         KeyInfo `json:"info"`
	EncryptedKey []byte  `json:"encrypted_key,omitempty"` // DEK encrypted with the master key; empty once revoked

	material []byte // decrypted DEK, cached while the keyring is open
}

// Keyring manages the data-encryption keys used for document envelopes.
// Key material is encrypted at rest under the master engine. Exactly one
// key is active at a time; pending keys exist only as rotation targets.
type Keyring struct {
	master   *Engine              // Engine with master key for wrapping DEKs
	keys     map[uint32]*KeyEntry // id -> key entry
	activeID uint32               // Current active key id
	keyDir   string               // Directory for key storage
	mu       sync.RWMutex         // Protects keys map and activeID
}

// KeyringConfig holds configuration for the keyring
type KeyringConfig struct {
	KeyDir    string // Directory to store key files
	MasterKey []byte // Master encryption key (MEK)
}

// NewKeyring creates a keyring, loading any existing keys from disk
func NewKeyring(config KeyringConfig) (*Keyring, error) {
	master, err := NewEngine(config.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create master engine: %w", err)
	}

	kr := &Keyring{
		master: master,
		keys:   make(map[uint32]*KeyEntry),
		keyDir: config.KeyDir,
	}

	if err := kr.loadKeys(); err != nil {
		return nil, fmt.Errorf("failed to load keys: %w", err)
	}

	return kr, nil
}

// GenerateKey generates a new pending data-encryption key and persists it.
// The key is not used for encryption until it is activated.
func (kr *Keyring) GenerateKey() (uint32, error) {
	kr.mu.Lock()
	defer kr.mu.Unlock()

	dek, err := GenerateKey()
	if err != nil {
		return 0, fmt.Errorf("failed to generate key: %w", err)
	}

	encrypted, err := kr.master.WrapKey(dek)
	if err != nil {
		return 0, fmt.Errorf("failed to wrap key: %w", err)
	}

	id := kr.nextID()
	entry := &KeyEntry{
		Info: KeyInfo{
			ID:        id,
			CreatedAt: time.Now(),
			Status:    KeyStatusPending,
			Algorithm: AlgorithmAESGCM,
		},
		EncryptedKey: encrypted,
		material:     dek,
	}

	kr.keys[id] = entry

	if err := kr.saveKey(entry); err != nil {
		delete(kr.keys, id)
		return 0, fmt.Errorf("failed to save key: %w", err)
	}

	return id, nil
}

// Activate makes the given key the active encryption key. The previous
// active key becomes retired. Activating the already-active key is a no-op,
// which keeps rotation finalization idempotent.
func (kr *Keyring) Activate(id uint32) error {
	kr.mu.Lock()
	defer kr.mu.Unlock()

	entry, exists := kr.keys[id]
	if !exists {
		return ErrKeyNotFound
	}
	if entry.Info.Status == KeyStatusRevoked {
		return ErrKeyRevoked
	}
	if kr.activeID == id && entry.Info.Status == KeyStatusActive {
		return nil
	}

	now := time.Now()

	if kr.activeID != 0 && kr.activeID != id {
		if prev, ok := kr.keys[kr.activeID]; ok && prev.Info.Status == KeyStatusActive {
			prev.Info.Status = KeyStatusRetired
			if err := kr.saveKey(prev); err != nil {
				return fmt.Errorf("failed to save retired key: %w", err)
			}
		}
	}

	entry.Info.Status = KeyStatusActive
	entry.Info.ActivatedAt = now
	kr.activeID = id

	if err := kr.saveKey(entry); err != nil {
		return fmt.Errorf("failed to save key: %w", err)
	}

	return nil
}

// Invalidate destroys the key's material so it can no longer decrypt
// anything. Invalidating an already-revoked key is a no-op.
func (kr *Keyring) Invalidate(id uint32) error {
	kr.mu.Lock()
	defer kr.mu.Unlock()

	entry, exists := kr.keys[id]
	if !exists {
		return ErrKeyNotFound
	}
	if entry.Info.Status == KeyStatusRevoked {
		return nil
	}
	if id == kr.activeID {
		return fmt.Errorf("cannot invalidate active key %d, activate a replacement first", id)
	}

	kr.revokeLocked(entry)

	if err := kr.saveKey(entry); err != nil {
		return fmt.Errorf("failed to save key: %w", err)
	}

	return nil
}

// InvalidateRetired destroys the material of every retired key. Used by
// rotation finalization, which must be safe to re-run after a crash at any
// point: once the new key is active, every retired key is invalidated
// regardless of which steps already ran.
func (kr *Keyring) InvalidateRetired() error {
	kr.mu.Lock()
	defer kr.mu.Unlock()

	for _, entry := range kr.keys {
		if entry.Info.Status != KeyStatusRetired {
			continue
		}
		kr.revokeLocked(entry)
		if err := kr.saveKey(entry); err != nil {
			return fmt.Errorf("failed to save key %d: %w", entry.Info.ID, err)
		}
	}

	return nil
}

// revokeLocked zeroes key material and marks the entry revoked.
// Caller must hold kr.mu.
func (kr *Keyring) revokeLocked(entry *KeyEntry) {
	for i := range entry.material {
		entry.material[i] = 0
	}
	entry.material = nil
	entry.EncryptedKey = nil
	entry.Info.Status = KeyStatusRevoked
	entry.Info.RevokedAt = time.Now()
}

// Encrypt encrypts plaintext under the given key and returns a fully-formed
// envelope. The key must be resolvable and not revoked.
func (kr *Keyring) Encrypt(plaintext []byte, keyID uint32) (*Envelope, error) {
	key, err := kr.keyMaterial(keyID)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	if len(sealed) < TagSize {
		return nil, ErrInvalidEnvelope
	}

	return &Envelope{
		KeyID:      keyID,
		Nonce:      nonce,
		Ciphertext: sealed[:len(sealed)-TagSize],
		Tag:        sealed[len(sealed)-TagSize:],
	}, nil
}

// Decrypt decrypts an envelope with the key named by its key id. It never
// tries any other key: a mismatch or tampered ciphertext is an
// authentication failure, not a prompt to guess.
func (kr *Keyring) Decrypt(env *Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	key, err := kr.keyMaterial(env.KeyID)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.Tag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)

	plaintext, err := gcm.Open(nil, env.Nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	return plaintext, nil
}

// ActiveKeyID returns the id of the active key, or 0 if none exists
func (kr *Keyring) ActiveKeyID() uint32 {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return kr.activeID
}

// KeyStatusOf returns the status of a key
func (kr *Keyring) KeyStatusOf(id uint32) (KeyStatus, error) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()

	entry, exists := kr.keys[id]
	if !exists {
		return "", ErrKeyNotFound
	}
	return entry.Info.Status, nil
}

// ListKeys returns metadata for all keys
func (kr *Keyring) ListKeys() []KeyInfo {
	kr.mu.RLock()
	defer kr.mu.RUnlock()

	result := make([]KeyInfo, 0, len(kr.keys))
	for _, entry := range kr.keys {
		result = append(result, entry.Info)
	}
	return result
}

// keyMaterial resolves and caches the decrypted material for a key id
func (kr *Keyring) keyMaterial(id uint32) ([]byte, error) {
	kr.mu.Lock()
	defer kr.mu.Unlock()

	entry, exists := kr.keys[id]
	if !exists {
		return nil, ErrKeyNotFound
	}
	if entry.Info.Status == KeyStatusRevoked {
		return nil, ErrKeyRevoked
	}

	if entry.material == nil {
		dek, err := kr.master.UnwrapKey(entry.EncryptedKey)
		if err != nil {
			return nil, fmt.Errorf("failed to unwrap key %d: %w", id, err)
		}
		entry.material = dek
	}

	return entry.material, nil
}

func (kr *Keyring) nextID() uint32 {
	maxID := uint32(0)
	for id := range kr.keys {
		if id > maxID {
			maxID = id
		}
	}
	return maxID + 1
}

// Close zeroes all cached key material
func (kr *Keyring) Close() error {
	kr.mu.Lock()
	defer kr.mu.Unlock()

	for _, entry := range kr.keys {
		for i := range entry.material {
			entry.material[i] = 0
		}
		entry.material = nil
	}
	kr.keys = nil

	return nil
}

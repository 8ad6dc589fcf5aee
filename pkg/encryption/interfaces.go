package encryption

// EnvelopeCipher is the interface for envelope-level encryption operations.
// Packages that re-encrypt documents depend on this instead of the concrete
// Keyring implementation.
type EnvelopeCipher interface {
	// Encrypt encrypts plaintext under the given key and returns a
	// fully-formed envelope.
	Encrypt(plaintext []byte, keyID uint32) (*Envelope, error)

	// Decrypt decrypts an envelope with the key named by its key id.
	// Returns ErrAuthenticationFailed if the data has been tampered with
	// and ErrKeyRevoked if the key material has been destroyed.
	Decrypt(env *Envelope) ([]byte, error)
}

// KeyInvalidator destroys key material so it can no longer decrypt anything.
type KeyInvalidator interface {
	// Activate makes the given key the active encryption key.
	Activate(id uint32) error

	// InvalidateRetired destroys the material of every retired key.
	InvalidateRetired() error
}

// KeyProvider exposes key lifecycle state without key material.
type KeyProvider interface {
	// ActiveKeyID returns the id of the active key, or 0 if none exists.
	ActiveKeyID() uint32

	// KeyStatusOf returns the status of a key.
	KeyStatusOf(id uint32) (KeyStatus, error)
}

// Verify that Keyring implements the interfaces
var _ EnvelopeCipher = (*Keyring)(nil)
var _ KeyInvalidator = (*Keyring)(nil)
var _ KeyProvider = (*Keyring)(nil)

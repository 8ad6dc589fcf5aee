package encryption

import "fmt"

const (
	// Encryption constants
	KeySize          = 32     // AES-256
	NonceSize        = 12     // GCM standard nonce size
	TagSize          = 16     // GCM authentication tag size
	SaltSize         = 32     // Salt for PBKDF2
	PBKDF2Iterations = 600000 // OWASP recommended minimum

	// Algorithm identifier recorded in key files and key metadata
	AlgorithmAESGCM = "AES-256-GCM"
)

var (
	ErrInvalidKey           = fmt.Errorf("invalid encryption key")
	ErrInvalidEnvelope      = fmt.Errorf("invalid envelope")
	ErrAuthenticationFailed = fmt.Errorf("authentication failed - data may be tampered")
	ErrKeyNotFound          = fmt.Errorf("key not found")
	ErrKeyRevoked           = fmt.Errorf("key is revoked")
	ErrKeyNotPending        = fmt.Errorf("key is not pending activation")
	ErrNoActiveKey          = fmt.Errorf("no active key")
)

// Envelope is the stored unit of ciphertext: the key that encrypted it,
// the GCM nonce, the ciphertext body, and the authentication tag.
// An envelope is only ever written whole; there is no partial form.
type Envelope struct {
	KeyID      uint32 `json:"key_id"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Tag        []byte `json:"auth_tag"`
}

// Validate checks the envelope's structural invariants.
func (e *Envelope) Validate() error {
	if e == nil {
		return ErrInvalidEnvelope
	}
	if e.KeyID == 0 {
		return fmt.Errorf("%w: missing key id", ErrInvalidEnvelope)
	}
	if len(e.Nonce) != NonceSize {
		return fmt.Errorf("%w: nonce must be %d bytes", ErrInvalidEnvelope, NonceSize)
	}
	if len(e.Tag) != TagSize {
		return fmt.Errorf("%w: tag must be %d bytes", ErrInvalidEnvelope, TagSize)
	}
	return nil
}

package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// Engine wraps and unwraps data-encryption keys under the master key.
// Wrapped keys are AES-256-GCM sealed, laid out as nonce || ciphertext ||
// tag, which is the format stored in the key files.
type Engine struct {
	aead cipher.AEAD
}

// NewEngine prepares a wrapping engine for the given master key.
func NewEngine(masterKey []byte) (*Engine, error) {
	if len(masterKey) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Engine{aead: aead}, nil
}

// WrapKey seals a data-encryption key under the master key.
func (e *Engine) WrapKey(dek []byte) ([]byte, error) {
	if len(dek) != KeySize {
		return nil, ErrInvalidKey
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return e.aead.Seal(nonce, nonce, dek, nil), nil
}

// UnwrapKey opens a wrapped data-encryption key. A blob sealed under a
// different master key, or tampered with, fails authentication.
func (e *Engine) UnwrapKey(wrapped []byte) ([]byte, error) {
	if len(wrapped) < NonceSize+TagSize {
		return nil, ErrInvalidEnvelope
	}

	dek, err := e.aead.Open(nil, wrapped[:NonceSize], wrapped[NonceSize:], nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return dek, nil
}

// GenerateKey returns a fresh random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

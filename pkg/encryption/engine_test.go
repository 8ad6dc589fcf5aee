package encryption

import (
	"bytes"
	"errors"
	"testing"
)

func TestEngineWrapUnwrapRoundTrip(t *testing.T) {
	masterKey, _ := GenerateKey()
	engine, err := NewEngine(masterKey)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}

	dek, _ := GenerateKey()
	wrapped, err := engine.WrapKey(dek)
	if err != nil {
		t.Fatalf("WrapKey() failed: %v", err)
	}
	if bytes.Contains(wrapped, dek) {
		t.Error("wrapped blob contains the raw key")
	}

	unwrapped, err := engine.UnwrapKey(wrapped)
	if err != nil {
		t.Fatalf("UnwrapKey() failed: %v", err)
	}
	if !bytes.Equal(unwrapped, dek) {
		t.Error("unwrapped key differs from original")
	}
}

func TestEngineRejectsInvalidKeySizes(t *testing.T) {
	if _, err := NewEngine(make([]byte, 16)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("NewEngine(16 bytes) = %v, want ErrInvalidKey", err)
	}

	masterKey, _ := GenerateKey()
	engine, _ := NewEngine(masterKey)
	if _, err := engine.WrapKey(make([]byte, 16)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("WrapKey(16 bytes) = %v, want ErrInvalidKey", err)
	}
}

func TestEngineUnwrapTamperedBlob(t *testing.T) {
	masterKey, _ := GenerateKey()
	engine, _ := NewEngine(masterKey)

	dek, _ := GenerateKey()
	wrapped, _ := engine.WrapKey(dek)
	wrapped[len(wrapped)-1] ^= 0x01

	if _, err := engine.UnwrapKey(wrapped); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("UnwrapKey(tampered) = %v, want ErrAuthenticationFailed", err)
	}
}

func TestEngineUnwrapWrongMasterKey(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()
	e1, _ := NewEngine(k1)
	e2, _ := NewEngine(k2)

	dek, _ := GenerateKey()
	wrapped, _ := e1.WrapKey(dek)

	if _, err := e2.UnwrapKey(wrapped); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("UnwrapKey(wrong master) = %v, want ErrAuthenticationFailed", err)
	}
}

func TestEngineUnwrapTruncatedBlob(t *testing.T) {
	masterKey, _ := GenerateKey()
	engine, _ := NewEngine(masterKey)

	if _, err := engine.UnwrapKey(make([]byte, NonceSize)); !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("UnwrapKey(short) = %v, want ErrInvalidEnvelope", err)
	}
}

func TestDeriveMasterKeyDeterministic(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() failed: %v", err)
	}

	k1 := DeriveMasterKey("correct horse battery staple", salt)
	k2 := DeriveMasterKey("correct horse battery staple", salt)
	if !bytes.Equal(k1, k2) {
		t.Error("same passphrase and salt derived different keys")
	}
	if len(k1) != KeySize {
		t.Errorf("derived key is %d bytes, want %d", len(k1), KeySize)
	}

	otherSalt, _ := GenerateSalt()
	if bytes.Equal(k1, DeriveMasterKey("correct horse battery staple", otherSalt)) {
		t.Error("different salts derived the same key")
	}
}

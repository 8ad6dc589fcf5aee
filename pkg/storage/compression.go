package storage

import (
	"fmt"

	"github.com/golang/snappy"
)

// Compress compresses a document body with snappy. Bodies are compressed
// before encryption so the ciphertext carries no plaintext structure and
// re-encryption sweeps never need to understand the body.
func Compress(data []byte) []byte {
	return snappy.Encode(nil, data)
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress document body: %w", err)
	}
	return out, nil
}

// Package sha256 derives content versions for blob stores without native
// object generations.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher hashes snapshot contents into a hex digest.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

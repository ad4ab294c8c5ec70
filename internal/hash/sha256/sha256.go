// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher produces hex digests. The geocode cache keys addresses by digest
// so arbitrary free-text addresses become fixed-width primary keys.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashAddress normalizes a free-text address (trimmed, lowercased,
// whitespace collapsed) and returns its digest.
func (h *Hasher) HashAddress(address string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(address)), " ")
	return h.Hash([]byte(normalized))
}

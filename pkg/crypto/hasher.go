package crypto

import (
	"crypto/sha256"
)

// Hash returns SHA-256 of canonical bytes.
func Hash(canonical []byte) [HashSize]byte {
	return sha256.Sum256(canonical)
}

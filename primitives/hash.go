// Package primitives provides the low-level, allocation-conscious building
// blocks every other package is built on: hashing, little-endian integer
// codecs, and Bitcoin's two variable-length integer encodings.
package primitives

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for HASH160, not a security choice
)

// HashSize is the length in bytes of a double-SHA-256 digest.
const HashSize = 32

// Hash is a double-SHA-256 digest, stored internally in the order produced
// by hashing (not the reversed, human-readable display order).
type Hash [HashSize]byte

// String renders the hash in the reversed, big-endian display order used by
// block explorers and RPC interfaces.
func (h Hash) String() string {
	var reversed Hash
	for i := 0; i < HashSize; i++ {
		reversed[i] = h[HashSize-1-i]
	}
	return hex.EncodeToString(reversed[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Sha256d computes double-SHA-256: SHA-256(SHA-256(data)).
func Sha256d(data []byte) Hash {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return Hash(second)
}

// Hash160 computes RIPEMD-160(SHA-256(data)), used for P2PKH/P2SH script
// hashes.
func Hash160(data []byte) [20]byte {
	sh := sha256.Sum256(data)
	return Ripemd160(sh[:])
}

// Ripemd160 computes the bare RIPEMD-160 digest of data, used directly by
// OP_RIPEMD160 (as opposed to Hash160's SHA-256-then-RIPEMD-160 chain).
func Ripemd160(data []byte) [20]byte {
	r := ripemd160.New()
	_, _ = r.Write(data) // ripemd160.digest.Write never errors
	var out [20]byte
	copy(out[:], r.Sum(nil))
	return out
}

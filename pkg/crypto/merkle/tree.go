// Package merkle provides the hash-combining primitives the finality
// digest chains block to block. Savanna's finality_mroot is a simple
// sequential accumulator, not a leaf-indexed tree with inclusion
// proofs, so only the two combinators survive here.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashData returns SHA256(data).
func HashData(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:]
}

// HashDataHex returns SHA256(data) as hex.
func HashDataHex(data []byte) string {
	return hex.EncodeToString(HashData(data))
}

// CombineHashes concatenates hashes and returns their SHA256.
func CombineHashes(hashes ...[]byte) []byte {
	var combined []byte
	for _, h := range hashes {
		combined = append(combined, h...)
	}
	return HashData(combined)
}

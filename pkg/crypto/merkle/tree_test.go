// Copyright 2025 Certen Protocol
//
// Merkle Tree Tests

package merkle

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestHashData(t *testing.T) {
	data := []byte("test data")
	hash := HashData(data)

	if len(hash) != 32 {
		t.Errorf("hash length mismatch: got %d, want 32", len(hash))
	}

	// Verify deterministic
	hash2 := HashData(data)
	if !bytes.Equal(hash, hash2) {
		t.Error("hash is not deterministic")
	}
}

func TestHashDataHex(t *testing.T) {
	data := []byte("test data")
	if got, want := HashDataHex(data), HashDataHex(data); got != want {
		t.Error("hex encoding is not deterministic")
	}
	if len(HashDataHex(data)) != 64 {
		t.Errorf("hex length mismatch: got %d, want 64", len(HashDataHex(data)))
	}
}

func TestCombineHashes(t *testing.T) {
	h1 := sha256.Sum256([]byte("hash1"))
	h2 := sha256.Sum256([]byte("hash2"))

	combined := CombineHashes(h1[:], h2[:])

	if len(combined) != 32 {
		t.Errorf("combined hash length mismatch: got %d, want 32", len(combined))
	}

	// Order matters
	combined2 := CombineHashes(h2[:], h1[:])
	if bytes.Equal(combined, combined2) {
		t.Error("combine order should matter")
	}

	// Matches hashing the concatenation directly
	want := sha256.Sum256(append(append([]byte{}, h1[:]...), h2[:]...))
	if !bytes.Equal(combined, want[:]) {
		t.Error("CombineHashes should equal sha256 of the concatenated inputs")
	}
}

// Package finalizer models the finalizer set that votes on blocks: the
// weighted policy a proposer installs, its digest, and the registry
// that tracks active and pending policies across generations.
package finalizer

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/svnnchain/svnn/pkg/crypto/bls"
	"github.com/svnnchain/svnn/pkg/svnnerr"
)

// Entry is a single finalizer's voting weight and public key.
type Entry struct {
	Description string
	Weight      uint64
	PublicKey   *bls.PublicKey
}

// Policy is a generation of the finalizer set: who can vote, how much
// their vote counts, and the quorum threshold.
type Policy struct {
	Generation uint32
	Threshold  uint64
	Finalizers []Entry
}

// TotalWeight sums the weight of every finalizer in the policy.
func (p *Policy) TotalWeight() uint64 {
	var total uint64
	for _, f := range p.Finalizers {
		total += f.Weight
	}
	return total
}

// Validate checks the invariants a policy must hold before it can be
// installed: every finalizer has positive weight, no duplicate keys,
// and the threshold requires strictly more than half the total weight.
func (p *Policy) Validate() error {
	if len(p.Finalizers) == 0 {
		return fmt.Errorf("%w: policy has no finalizers", svnnerr.ErrInvalidPolicyDigest)
	}
	seen := make(map[string]bool, len(p.Finalizers))
	for _, f := range p.Finalizers {
		if f.Weight == 0 {
			return fmt.Errorf("%w: finalizer %q has zero weight", svnnerr.ErrInvalidPolicyDigest, f.Description)
		}
		if f.PublicKey == nil {
			return fmt.Errorf("%w: finalizer %q has no public key", svnnerr.ErrInvalidPolicyDigest, f.Description)
		}
		key := string(f.PublicKey.Bytes())
		if seen[key] {
			return fmt.Errorf("%w: duplicate finalizer public key", svnnerr.ErrInvalidPolicyDigest)
		}
		seen[key] = true
	}
	total := p.TotalWeight()
	if p.Threshold*2 <= total {
		return fmt.Errorf("%w: threshold %d does not exceed half of total weight %d", svnnerr.ErrInvalidPolicyDigest, p.Threshold, total)
	}
	return nil
}

// Digest deterministically hashes the policy's generation, threshold,
// and ordered finalizer list. Two policies with the same digest are
// interchangeable for every protocol purpose.
func (p *Policy) Digest() [32]byte {
	h := sha256.New()

	var u32Buf [4]byte
	binary.BigEndian.PutUint32(u32Buf[:], p.Generation)
	h.Write(u32Buf[:])

	var u64Buf [8]byte
	binary.BigEndian.PutUint64(u64Buf[:], p.Threshold)
	h.Write(u64Buf[:])

	binary.BigEndian.PutUint32(u32Buf[:], uint32(len(p.Finalizers)))
	h.Write(u32Buf[:])

	for _, f := range p.Finalizers {
		binary.BigEndian.PutUint32(u32Buf[:], uint32(len(f.Description)))
		h.Write(u32Buf[:])
		h.Write([]byte(f.Description))
		binary.BigEndian.PutUint64(u64Buf[:], f.Weight)
		h.Write(u64Buf[:])
		h.Write(f.PublicKey.Bytes())
	}

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

// FindByPublicKey returns the entry for a finalizer identified by its
// public key bytes, and whether it was found.
func (p *Policy) FindByPublicKey(pubKey *bls.PublicKey) (Entry, bool) {
	target := string(pubKey.Bytes())
	for _, f := range p.Finalizers {
		if string(f.PublicKey.Bytes()) == target {
			return f, true
		}
	}
	return Entry{}, false
}

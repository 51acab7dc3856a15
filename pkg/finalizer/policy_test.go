package finalizer

import (
	"errors"
	"testing"

	"github.com/svnnchain/svnn/pkg/crypto/bls"
	"github.com/svnnchain/svnn/pkg/svnnerr"
)

func mustEntry(t *testing.T, desc string, weight uint64) Entry {
	t.Helper()
	_, pub, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	return Entry{Description: desc, Weight: weight, PublicKey: pub}
}

func TestPolicyValidateAcceptsMajorityThreshold(t *testing.T) {
	p := &Policy{
		Generation: 1,
		Threshold:  16,
		Finalizers: []Entry{
			mustEntry(t, "a", 10),
			mustEntry(t, "b", 10),
			mustEntry(t, "c", 10),
		},
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestPolicyValidateRejectsLowThreshold(t *testing.T) {
	p := &Policy{
		Generation: 1,
		Threshold:  15,
		Finalizers: []Entry{
			mustEntry(t, "a", 10),
			mustEntry(t, "b", 10),
			mustEntry(t, "c", 10),
			mustEntry(t, "d", 10),
		},
	}
	err := p.Validate()
	if !errors.Is(err, svnnerr.ErrInvalidPolicyDigest) {
		t.Fatalf("expected ErrInvalidPolicyDigest, got %v", err)
	}
}

func TestPolicyValidateRejectsZeroWeight(t *testing.T) {
	p := &Policy{
		Generation: 1,
		Threshold:  1,
		Finalizers: []Entry{mustEntry(t, "a", 0)},
	}
	if err := p.Validate(); !errors.Is(err, svnnerr.ErrInvalidPolicyDigest) {
		t.Fatalf("expected ErrInvalidPolicyDigest, got %v", err)
	}
}

func TestPolicyDigestStableUnderReconstruction(t *testing.T) {
	e := mustEntry(t, "a", 10)
	p1 := &Policy{Generation: 1, Threshold: 6, Finalizers: []Entry{e}}
	p2 := &Policy{Generation: 1, Threshold: 6, Finalizers: []Entry{e}}
	if p1.Digest() != p2.Digest() {
		t.Fatal("identical policies produced different digests")
	}
}

func TestPolicyDigestChangesWithThreshold(t *testing.T) {
	e := mustEntry(t, "a", 10)
	p1 := &Policy{Generation: 1, Threshold: 6, Finalizers: []Entry{e}}
	p2 := &Policy{Generation: 1, Threshold: 7, Finalizers: []Entry{e}}
	if p1.Digest() == p2.Digest() {
		t.Fatal("different thresholds produced the same digest")
	}
}

func TestRegistryInstallAndPromote(t *testing.T) {
	genesis := &Policy{Generation: 0, Threshold: 6, Finalizers: []Entry{mustEntry(t, "a", 10)}}
	r, err := NewRegistry(genesis)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	next := &Policy{Generation: 1, Threshold: 6, Finalizers: []Entry{mustEntry(t, "b", 10)}}
	if err := r.Install(next); err != nil {
		t.Fatalf("install: %v", err)
	}

	if _, ok := r.Pending(); !ok {
		t.Fatal("expected pending policy after install")
	}
	if r.Active().Generation != 0 {
		t.Fatalf("active generation = %d, want 0 before promotion", r.Active().Generation)
	}

	r.PromoteIfFinal()
	if r.Active().Generation != 1 {
		t.Fatalf("active generation = %d, want 1 after promotion", r.Active().Generation)
	}
	if _, ok := r.Pending(); ok {
		t.Fatal("expected no pending policy after promotion")
	}
}

func TestRegistryInstallRejectsLowerGeneration(t *testing.T) {
	genesis := &Policy{Generation: 5, Threshold: 6, Finalizers: []Entry{mustEntry(t, "a", 10)}}
	r, err := NewRegistry(genesis)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	stale := &Policy{Generation: 3, Threshold: 6, Finalizers: []Entry{mustEntry(t, "b", 10)}}
	if err := r.Install(stale); !errors.Is(err, svnnerr.ErrInvalidPolicyDigest) {
		t.Fatalf("expected ErrInvalidPolicyDigest, got %v", err)
	}
}

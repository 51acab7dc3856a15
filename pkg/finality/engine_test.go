package finality

import (
	"testing"

	"github.com/svnnchain/svnn/pkg/blockstate"
	"github.com/svnnchain/svnn/pkg/chain"
	"github.com/svnnchain/svnn/pkg/crypto/bls"
	"github.com/svnnchain/svnn/pkg/finalizer"
	"github.com/svnnchain/svnn/pkg/forkdb"
)

func mkPolicy(t *testing.T) *finalizer.Policy {
	t.Helper()
	_, pk, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	return &finalizer.Policy{Generation: 0, Threshold: 1, Finalizers: []finalizer.Entry{{Description: "f", Weight: 1, PublicKey: pk}}}
}

func buildChain(n int) []*blockstate.BlockState {
	h0 := &chain.Header{Producer: "p", BlockNum: 1}
	states := []*blockstate.BlockState{blockstate.Genesis(h0, 0, [32]byte{})}
	for i := 2; i <= n; i++ {
		parent := states[len(states)-1]
		h := &chain.Header{Producer: "p", BlockNum: uint32(i), Previous: parent.ID}
		claim := chain.QCClaim{BlockNum: parent.Header.BlockNum, IsStrong: true}
		states = append(states, blockstate.New(parent, h, claim, false, 0, [32]byte{}, 0))
	}
	return states
}

func TestTwoConsecutiveStrongQCsAdvanceLIB(t *testing.T) {
	states := buildChain(4)
	db := forkdb.New(states[0])
	for _, bs := range states[1:] {
		if err := db.Add(bs, true, false); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	registry, err := finalizer.NewRegistry(mkPolicy(t))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	engine := New(db, registry, nil)

	if err := engine.OnHeadChanged(); err != nil {
		t.Fatalf("on head changed: %v", err)
	}

	// states[3] claims strong on states[2], whose own claim was strong on
	// states[1]: two consecutive strong links finalize states[1] (block 2).
	if engine.LIB() != 2 {
		t.Fatalf("LIB = %d, want 2", engine.LIB())
	}
	if db.Root().ID != states[1].ID {
		t.Fatalf("root did not advance to the newly final block")
	}
}

func TestLIBNeverRetreats(t *testing.T) {
	states := buildChain(4)
	db := forkdb.New(states[0])
	for _, bs := range states[1:3] {
		if err := db.Add(bs, true, false); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	registry, err := finalizer.NewRegistry(mkPolicy(t))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	engine := New(db, registry, nil)
	if err := engine.OnHeadChanged(); err != nil {
		t.Fatalf("on head changed: %v", err)
	}
	before := engine.LIB()

	// Re-running with no new blocks must not move LIB backward.
	if err := engine.OnHeadChanged(); err != nil {
		t.Fatalf("on head changed again: %v", err)
	}
	if engine.LIB() < before {
		t.Fatalf("LIB retreated from %d to %d", before, engine.LIB())
	}
}

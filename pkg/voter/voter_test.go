package voter

import (
	"path/filepath"
	"testing"

	"github.com/svnnchain/svnn/pkg/blockstate"
	"github.com/svnnchain/svnn/pkg/chain"
	"github.com/svnnchain/svnn/pkg/crypto/bls"
)

func genesisChain(t *testing.T, n int) []*blockstate.BlockState {
	t.Helper()
	h0 := &chain.Header{Producer: "p", BlockNum: 1, Timestamp: 1}
	states := []*blockstate.BlockState{blockstate.Genesis(h0, 0, [32]byte{})}
	for i := 2; i <= n; i++ {
		parent := states[len(states)-1]
		h := &chain.Header{Producer: "p", BlockNum: uint32(i), Timestamp: uint64(i), Previous: parent.ID}
		states = append(states, blockstate.New(parent, h, chain.QCClaim{BlockNum: parent.Header.BlockNum, IsStrong: true}, false, 0, [32]byte{}, 0))
	}
	return states
}

func lookupFunc(states []*blockstate.BlockState) func(chain.BlockID) (*blockstate.BlockState, bool) {
	byID := make(map[chain.BlockID]*blockstate.BlockState, len(states))
	for _, s := range states {
		byID[s.ID] = s
	}
	return func(id chain.BlockID) (*blockstate.BlockState, bool) {
		bs, ok := byID[id]
		return bs, ok
	}
}

func newFinalizer(t *testing.T) *Finalizer {
	t.Helper()
	sk, _, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	path := filepath.Join(t.TempDir(), "safety.dat")
	f, err := Load(sk, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return f
}

func TestVotesStrongOnFirstBlock(t *testing.T) {
	states := genesisChain(t, 2)
	f := newFinalizer(t)

	strong, sig, err := f.Vote(states[1], lookupFunc(states))
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if !strong || sig == nil {
		t.Fatal("expected a strong vote with no prior lock")
	}
}

func TestAbstainsOnStaleBlock(t *testing.T) {
	states := genesisChain(t, 3)
	f := newFinalizer(t)

	if _, _, err := f.Vote(states[2], lookupFunc(states)); err != nil {
		t.Fatalf("vote: %v", err)
	}

	decision := f.Decide(states[1], lookupFunc(states))
	if decision != DecisionAbstain {
		t.Fatalf("expected abstain on a block not after last vote, got %v", decision)
	}
}

func TestStrongVoteLocksAndExtendingBlockAlsoVotesStrong(t *testing.T) {
	states := genesisChain(t, 3)
	f := newFinalizer(t)

	if _, _, err := f.Vote(states[1], lookupFunc(states)); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	strong, _, err := f.Vote(states[2], lookupFunc(states))
	if err != nil {
		t.Fatalf("second vote: %v", err)
	}
	if !strong {
		t.Fatal("expected a block extending the lock to also vote strong")
	}
}

func TestSafetyStatePersistsAcrossReload(t *testing.T) {
	states := genesisChain(t, 2)
	sk, _, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	path := filepath.Join(t.TempDir(), "safety.dat")

	f1, err := Load(sk, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, _, err := f1.Vote(states[1], lookupFunc(states)); err != nil {
		t.Fatalf("vote: %v", err)
	}

	f2, err := Load(sk, path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if f2.state.LastVote.ID != states[1].ID {
		t.Fatalf("reloaded last vote = %v, want %v", f2.state.LastVote.ID, states[1].ID)
	}
}

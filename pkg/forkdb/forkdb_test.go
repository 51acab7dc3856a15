package forkdb

import (
	"errors"
	"testing"

	"github.com/svnnchain/svnn/pkg/blockstate"
	"github.com/svnnchain/svnn/pkg/chain"
	"github.com/svnnchain/svnn/pkg/svnnerr"
)

func mkHeader(num uint32, prev chain.BlockID, ts uint64) *chain.Header {
	return &chain.Header{Producer: "p", BlockNum: num, Previous: prev, Timestamp: ts}
}

func mkChain(t *testing.T, n int) []*blockstate.BlockState {
	t.Helper()
	h0 := mkHeader(1, chain.BlockID{}, 1)
	states := []*blockstate.BlockState{blockstate.Genesis(h0, 0, [32]byte{})}
	for i := 2; i <= n; i++ {
		prev := states[len(states)-1]
		h := mkHeader(uint32(i), prev.ID, uint64(i))
		claim := chain.QCClaim{BlockNum: prev.Header.BlockNum, IsStrong: true}
		states = append(states, blockstate.New(prev, h, claim, false, 0, [32]byte{}, 0))
	}
	return states
}

func TestNewForkDBHeadIsRoot(t *testing.T) {
	states := mkChain(t, 1)
	db := New(states[0])
	if db.Head().ID != states[0].ID {
		t.Fatal("expected head to be root on a fresh db")
	}
	if db.PendingHead().ID != states[0].ID {
		t.Fatal("expected pending head to be root on a fresh db")
	}
}

func TestAddUnlinkableBlockFails(t *testing.T) {
	states := mkChain(t, 1)
	db := New(states[0])

	orphanHeader := mkHeader(2, chain.BlockID{0xFF}, 2)
	orphan := blockstate.New(states[0], orphanHeader, chain.QCClaim{}, false, 0, [32]byte{}, 0)
	err := db.Add(orphan, false, false)
	if !errors.Is(err, svnnerr.ErrUnlinkableBlock) {
		t.Fatalf("expected ErrUnlinkableBlock, got %v", err)
	}
}

func TestAddDuplicateRejectedUnlessIgnored(t *testing.T) {
	states := mkChain(t, 2)
	db := New(states[0])
	if err := db.Add(states[1], false, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	err := db.Add(states[1], false, false)
	if !errors.Is(err, svnnerr.ErrDuplicateBlockID) {
		t.Fatalf("expected ErrDuplicateBlockID, got %v", err)
	}
	if err := db.Add(states[1], false, true); err != nil {
		t.Fatalf("expected ignored duplicate to succeed, got %v", err)
	}
}

func TestHeadOnlyAdvancesWhenValidated(t *testing.T) {
	states := mkChain(t, 2)
	db := New(states[0])

	if err := db.Add(states[1], false, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if db.Head().ID != states[0].ID {
		t.Fatal("head should stay at root while candidate is unvalidated")
	}
	if db.PendingHead().ID != states[1].ID {
		t.Fatal("pending head should reflect the unvalidated candidate")
	}

	if err := db.MarkValid(states[1].ID); err != nil {
		t.Fatalf("mark valid: %v", err)
	}
	if db.Head().ID != states[1].ID {
		t.Fatal("head should advance once the candidate validates")
	}
}

func TestAdvanceRootPrunesSideBranches(t *testing.T) {
	// states[0]=root(1) -> states[1](2) -> states[2](3) -> states[3](4).
	// A side branch hangs off states[1], an ancestor strictly between the
	// old root and the new root (states[3]); it must be pruned, along with
	// states[1] and states[2] themselves, while the new root stays on as
	// the root pointer.
	states := mkChain(t, 4)
	db := New(states[0])
	for _, bs := range states[1:] {
		if err := db.Add(bs, true, false); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	sideHeader := mkHeader(3, states[1].ID, 30)
	side := blockstate.New(states[1], sideHeader, chain.QCClaim{}, false, 0, [32]byte{}, 0)
	if err := db.Add(side, true, false); err != nil {
		t.Fatalf("add side branch: %v", err)
	}

	if err := db.AdvanceRoot(states[3].ID); err != nil {
		t.Fatalf("advance root: %v", err)
	}
	if db.Root().ID != states[3].ID {
		t.Fatal("expected root to advance to states[3]")
	}
	if _, ok := db.GetBlock(side.ID); ok {
		t.Fatal("expected side branch off an intermediate ancestor to be pruned")
	}
	if _, ok := db.GetBlock(states[0].ID); ok {
		t.Fatal("expected old root to be dropped")
	}
}

func TestAdvanceRootPrunesSideBranchOffOldRoot(t *testing.T) {
	// states[0]=root(1) -> states[1](2) -> states[2](3). A side branch
	// hangs directly off the old root itself, not off an intermediate
	// ancestor; it must be pruned along with the old root when the root
	// advances to states[2].
	states := mkChain(t, 3)
	db := New(states[0])
	for _, bs := range states[1:] {
		if err := db.Add(bs, true, false); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	sideHeader := mkHeader(2, states[0].ID, 20)
	side := blockstate.New(states[0], sideHeader, chain.QCClaim{}, false, 0, [32]byte{}, 0)
	if err := db.Add(side, true, false); err != nil {
		t.Fatalf("add side branch off old root: %v", err)
	}

	if err := db.AdvanceRoot(states[2].ID); err != nil {
		t.Fatalf("advance root: %v", err)
	}
	if db.Root().ID != states[2].ID {
		t.Fatal("expected root to advance to states[2]")
	}
	if _, ok := db.GetBlock(side.ID); ok {
		t.Fatal("expected side branch off the old root to be pruned")
	}
	if _, ok := db.GetBlock(states[0].ID); ok {
		t.Fatal("expected old root to be dropped")
	}
}

func TestAdvanceRootToCurrentRootIsNoOp(t *testing.T) {
	states := mkChain(t, 1)
	db := New(states[0])
	if err := db.AdvanceRoot(states[0].ID); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestRemoveHeadFails(t *testing.T) {
	states := mkChain(t, 2)
	db := New(states[0])
	if err := db.Add(states[1], true, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := db.Remove(states[1].ID); !errors.Is(err, svnnerr.ErrCannotOrphanHead) {
		t.Fatalf("expected ErrCannotOrphanHead, got %v", err)
	}
}

func TestFetchBranchFromDivergence(t *testing.T) {
	states := mkChain(t, 2)
	db := New(states[0])
	if err := db.Add(states[1], true, false); err != nil {
		t.Fatalf("add: %v", err)
	}

	hA := mkHeader(3, states[1].ID, 100)
	bA := blockstate.New(states[1], hA, chain.QCClaim{}, false, 0, [32]byte{}, 0)
	hB := mkHeader(3, states[1].ID, 200)
	bB := blockstate.New(states[1], hB, chain.QCClaim{}, false, 0, [32]byte{}, 0)

	if err := db.Add(bA, true, false); err != nil {
		t.Fatalf("add bA: %v", err)
	}
	if err := db.Add(bB, true, false); err != nil {
		t.Fatalf("add bB: %v", err)
	}

	tailA, tailB, err := db.FetchBranchFrom(bA.ID, bB.ID)
	if err != nil {
		t.Fatalf("fetch branch from: %v", err)
	}
	if len(tailA) != 1 || tailA[0].ID != bA.ID {
		t.Fatalf("tailA = %v, want [bA]", tailA)
	}
	if len(tailB) != 1 || tailB[0].ID != bB.ID {
		t.Fatalf("tailB = %v, want [bB]", tailB)
	}
}

func TestFetchBranchFromIdenticalIDsReturnsEmptyPair(t *testing.T) {
	states := mkChain(t, 2)
	db := New(states[0])
	if err := db.Add(states[1], true, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	tailA, tailB, err := db.FetchBranchFrom(states[1].ID, states[1].ID)
	if err != nil {
		t.Fatalf("fetch branch from: %v", err)
	}
	if len(tailA) != 0 || len(tailB) != 0 {
		t.Fatal("expected empty pair for identical ids")
	}
}

func TestSearchOnBranch(t *testing.T) {
	states := mkChain(t, 3)
	db := New(states[0])
	for _, bs := range states[1:] {
		if err := db.Add(bs, true, false); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	found, ok := db.SearchOnBranch(states[2].ID, 2)
	if !ok || found.ID != states[1].ID {
		t.Fatal("expected to find block_num 2 on the branch ending at states[2]")
	}
}

func TestRollbackHeadToRoot(t *testing.T) {
	states := mkChain(t, 2)
	db := New(states[0])
	if err := db.Add(states[1], true, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if db.Head().ID != states[1].ID {
		t.Fatal("expected head to be states[1] before rollback")
	}
	db.RollbackHeadToRoot()
	if db.Head().ID != states[0].ID {
		t.Fatal("expected head to reset to root after rollback")
	}
	bs, _ := db.GetBlock(states[1].ID)
	if bs.Validated {
		t.Fatal("expected validated flag cleared after rollback")
	}
}

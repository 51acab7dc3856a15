// Package forkdb indexes the candidate blocks between the last
// irreversible block and head: by id, by parent, and by best-branch
// rank, and drives root advancement and branch queries for the
// finality engine.
package forkdb

import (
	"sync"

	"github.com/google/btree"

	"github.com/svnnchain/svnn/pkg/blockstate"
	"github.com/svnnchain/svnn/pkg/chain"
	"github.com/svnnchain/svnn/pkg/svnnerr"
)

const btreeDegree = 32

// ForkDB is the indexed container of block-states between root and the
// validated/candidate frontier. All methods are safe for concurrent use;
// each call holds a single mutex for its duration, so long branch scans
// can stall writers, acceptable because the fork stays a few hundred
// blocks deep at most.
type ForkDB struct {
	mu sync.Mutex

	byID       map[chain.BlockID]*blockstate.BlockState
	childrenOf map[chain.BlockID][]chain.BlockID
	ordered    *btree.BTreeG[*blockstate.BlockState]

	root *blockstate.BlockState
	head *blockstate.BlockState
}

func bestBranchLess(a, b *blockstate.BlockState) bool {
	return a.Key().Less(b.Key())
}

// New creates a fork database rooted at rootState. The root itself is
// never a member of the best-branch ordered set (head returns to it only
// through ResetRoot, AdvanceRoot or RollbackHeadToRoot, never through
// best-branch order); it is tracked only via the root pointer and the
// id index.
func New(rootState *blockstate.BlockState) *ForkDB {
	db := &ForkDB{
		byID:       make(map[chain.BlockID]*blockstate.BlockState),
		childrenOf: make(map[chain.BlockID][]chain.BlockID),
		ordered:    btree.NewG(btreeDegree, bestBranchLess),
	}
	db.resetRootLocked(rootState)
	return db
}

func (db *ForkDB) resetRootLocked(rootState *blockstate.BlockState) {
	db.byID = make(map[chain.BlockID]*blockstate.BlockState)
	db.childrenOf = make(map[chain.BlockID][]chain.BlockID)
	db.ordered = btree.NewG(btreeDegree, bestBranchLess)

	rootState.Validated = true
	db.byID[rootState.ID] = rootState
	db.root = rootState
	db.head = rootState
}

// ResetRoot clears the database entirely and installs rootHeaderState as
// the new root: valid, and head.
func (db *ForkDB) ResetRoot(rootState *blockstate.BlockState) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.resetRootLocked(rootState)
}

// Add inserts a new block-state. The parent (by header.Previous) must
// already be known, either as root or as another tracked block-state,
// or Add fails with ErrUnlinkableBlock. A block-id already present is a
// no-op success if ignoreDup is true, otherwise ErrDuplicateBlockID.
func (db *ForkDB) Add(bs *blockstate.BlockState, markValid bool, ignoreDup bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.byID[bs.ID]; exists {
		if ignoreDup {
			return nil
		}
		return svnnerr.ErrDuplicateBlockID
	}

	prev := bs.Header.Previous
	if _, ok := db.byID[prev]; !ok {
		return svnnerr.ErrUnlinkableBlock
	}

	if markValid {
		bs.Validated = true
	}

	db.byID[bs.ID] = bs
	db.childrenOf[prev] = append(db.childrenOf[prev], bs.ID)
	if bs.ID != db.root.ID {
		db.ordered.ReplaceOrInsert(bs)
	}

	db.recomputeHeadLocked()
	return nil
}

func (db *ForkDB) recomputeHeadLocked() {
	top, ok := db.ordered.Max()
	if !ok {
		return
	}
	if top.Validated {
		db.head = top
	}
}

// GetBlock returns the block-state for id, if tracked.
func (db *ForkDB) GetBlock(id chain.BlockID) (*blockstate.BlockState, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	bs, ok := db.byID[id]
	return bs, ok
}

// GetBlockHeader returns the header for id, if tracked.
func (db *ForkDB) GetBlockHeader(id chain.BlockID) (*chain.Header, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	bs, ok := db.byID[id]
	if !ok {
		return nil, false
	}
	return bs.Header, true
}

// Root returns the current irreversible anchor.
func (db *ForkDB) Root() *blockstate.BlockState {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.root
}

// Head returns the currently preferred validated block.
func (db *ForkDB) Head() *blockstate.BlockState {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.head
}

// PendingHead returns the first entry overall in best-branch order, which
// may be unvalidated and may outrank Head.
func (db *ForkDB) PendingHead() *blockstate.BlockState {
	db.mu.Lock()
	defer db.mu.Unlock()
	top, ok := db.ordered.Max()
	if !ok {
		return db.root
	}
	return top
}

// ancestorsToRoot walks previous-links from id back to (not including)
// the current root, returning them nearest-first. Fails if id cannot
// reach root.
func (db *ForkDB) ancestorsToRoot(id chain.BlockID) ([]*blockstate.BlockState, error) {
	var chainOut []*blockstate.BlockState
	cur := id
	for cur != db.root.ID {
		bs, ok := db.byID[cur]
		if !ok {
			return nil, svnnerr.ErrBlockNotFound
		}
		chainOut = append(chainOut, bs)
		cur = bs.Header.Previous
	}
	return chainOut, nil
}

// AdvanceRoot moves the root forward to a validated descendant id,
// pruning every block that is not itself on the path from the new root
// back to the old root (i.e. side branches off those ancestors).
func (db *ForkDB) AdvanceRoot(id chain.BlockID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if id == db.root.ID {
		return nil
	}

	newRoot, ok := db.byID[id]
	if !ok {
		return svnnerr.ErrBlockNotFound
	}
	if !newRoot.Validated {
		return svnnerr.ErrNotYetFinalized
	}

	ancestors, err := db.ancestorsToRoot(id)
	if err != nil {
		return err
	}

	// Remove the old root's side branches first: every child of the old
	// root other than the one continuing toward the new root, and
	// everything descending from them.
	db.removeSubtreeLocked(db.root.ID, ancestors[len(ancestors)-1].ID)

	// Remove every ancestor strictly between the old root and the new
	// root; removal prunes each ancestor's non-descendant children too,
	// keeping only the single child that continues toward the new root.
	for i := len(ancestors) - 1; i >= 1; i-- {
		db.removeSubtreeLocked(ancestors[i].ID, ancestors[i-1].ID)
	}

	// Finally erase the new root from the index set itself, retaining it
	// only as the singleton root pointer. The old root is fully dropped.
	db.ordered.Delete(newRoot)
	delete(db.byID, db.root.ID)
	delete(db.childrenOf, db.root.ID)
	db.root = newRoot

	if db.head == nil || !db.isDescendantLocked(db.head.ID, newRoot.ID) {
		db.head = newRoot
	}

	return nil
}

// isDescendantLocked reports whether id descends from ancestor (or is
// ancestor itself) via previous-links currently tracked.
func (db *ForkDB) isDescendantLocked(id, ancestor chain.BlockID) bool {
	cur := id
	for {
		if cur == ancestor {
			return true
		}
		bs, ok := db.byID[cur]
		if !ok {
			return false
		}
		if cur == db.root.ID {
			return false
		}
		cur = bs.Header.Previous
	}
}

// removeSubtreeLocked deletes id and every descendant of id except the
// branch leading to keepID (which is pruned separately by the caller).
func (db *ForkDB) removeSubtreeLocked(id chain.BlockID, keepID chain.BlockID) {
	queue := []chain.BlockID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == keepID {
			continue
		}
		for _, child := range db.childrenOf[cur] {
			if child != keepID {
				queue = append(queue, child)
			}
		}
		if bs, ok := db.byID[cur]; ok {
			db.ordered.Delete(bs)
			delete(db.byID, cur)
		}
		delete(db.childrenOf, cur)
	}
}

// RollbackHeadToRoot flips every tracked block-state's validated flag to
// false and resets head to root.
func (db *ForkDB) RollbackHeadToRoot() {
	db.mu.Lock()
	defer db.mu.Unlock()

	var rebuilt []*blockstate.BlockState
	db.ordered.Ascend(func(bs *blockstate.BlockState) bool {
		rebuilt = append(rebuilt, bs)
		return true
	})
	db.ordered = btree.NewG(btreeDegree, bestBranchLess)
	for _, bs := range rebuilt {
		bs.Validated = false
		db.ordered.ReplaceOrInsert(bs)
	}
	db.head = db.root
}

// Remove deletes id and its entire subtree. Fails if id is the current
// head or an ancestor of head (removal must never orphan head).
func (db *ForkDB) Remove(id chain.BlockID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	bs, ok := db.byID[id]
	if !ok {
		return svnnerr.ErrBlockNotFound
	}
	if db.isDescendantLocked(db.head.ID, id) {
		return svnnerr.ErrCannotOrphanHead
	}

	parent := bs.Header.Previous
	siblings := db.childrenOf[parent]
	for i, child := range siblings {
		if child == id {
			db.childrenOf[parent] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}

	db.removeSubtreeLocked(id, chain.BlockID{})
	return nil
}

// MarkValid flips id's validated flag to true and re-evaluates head. The
// ordered set's key depends on validated, so the entry must be removed
// and reinserted rather than mutated in place.
func (db *ForkDB) MarkValid(id chain.BlockID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	bs, ok := db.byID[id]
	if !ok {
		return svnnerr.ErrBlockNotFound
	}
	if bs.Validated {
		return nil
	}

	db.ordered.Delete(bs)
	bs.MarkValid()
	db.ordered.ReplaceOrInsert(bs)

	db.recomputeHeadLocked()
	return nil
}

// FetchBranch returns the sequence of block-states from h down to (not
// including) root, trimmed so it contains at most maxNum entries (the
// maxNum most recent, nearest h). Entries are ordered nearest-h-first.
func (db *ForkDB) FetchBranch(h chain.BlockID, maxNum int) ([]*blockstate.BlockState, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	out, err := db.ancestorsToRoot(h)
	if err != nil {
		return nil, err
	}
	if maxNum > 0 && len(out) > maxNum {
		out = out[:maxNum]
	}
	return out, nil
}

// FetchFullBranch returns the sequence from h down to and including root.
func (db *ForkDB) FetchFullBranch(h chain.BlockID) ([]*blockstate.BlockState, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	out, err := db.ancestorsToRoot(h)
	if err != nil {
		return nil, err
	}
	return append(out, db.root), nil
}

// SearchOnBranch returns the block-state at height num on the branch
// ending at h, if any.
func (db *ForkDB) SearchOnBranch(h chain.BlockID, num uint32) (*blockstate.BlockState, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	cur := h
	for {
		bs, ok := db.byID[cur]
		if !ok {
			return nil, false
		}
		if bs.Header.BlockNum == num {
			return bs, true
		}
		if cur == db.root.ID || bs.Header.BlockNum < num {
			return nil, false
		}
		cur = bs.Header.Previous
	}
}

// FetchBranchFrom returns the divergent tails of a and b back to (not
// including) their lowest common ancestor: the first slice walks from a,
// the second from b, neither continuing past the LCA. If a == b the
// result is a pair of empty slices, preserving the source behavior this
// spec leaves unresolved rather than synthesizing a singleton pair.
func (db *ForkDB) FetchBranchFrom(a, b chain.BlockID) ([]*blockstate.BlockState, []*blockstate.BlockState, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.byID[a]; !ok {
		return nil, nil, svnnerr.ErrBlockNotFound
	}
	if _, ok := db.byID[b]; !ok {
		return nil, nil, svnnerr.ErrBlockNotFound
	}

	if a == b {
		return nil, nil, nil
	}

	branchA, err := db.ancestorsToRoot(a)
	if err != nil {
		return nil, nil, err
	}
	branchB, err := db.ancestorsToRoot(b)
	if err != nil {
		return nil, nil, err
	}

	seenInA := make(map[chain.BlockID]int, len(branchA))
	for i, bs := range branchA {
		seenInA[bs.ID] = i
	}

	lcaIdxA := len(branchA)
	for i, bs := range branchB {
		if idxA, ok := seenInA[bs.ID]; ok {
			lcaIdxA = idxA
			branchB = branchB[:i]
			break
		}
	}

	return branchA[:lcaIdxA], branchB, nil
}

// Len reports the number of block-states tracked in the ordered set
// (excluding root).
func (db *ForkDB) Len() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.ordered.Len()
}

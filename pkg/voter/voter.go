// Package voter implements a single finalizer's voting decision and its
// durable safety state: the (last_vote, lock, other_branch_latest_time)
// triple that prevents equivocation across restarts.
package voter

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/svnnchain/svnn/pkg/blockstate"
	"github.com/svnnchain/svnn/pkg/chain"
	"github.com/svnnchain/svnn/pkg/crypto/bls"
	"github.com/svnnchain/svnn/pkg/qc"
	"github.com/svnnchain/svnn/pkg/svnnerr"
)

// BlockRef identifies a block a finalizer has voted for or locked onto.
type BlockRef struct {
	ID        chain.BlockID
	BlockNum  uint32
	Timestamp uint64
}

// SafetyState is the durable triple a finalizer must persist before
// releasing any vote, preventing it from equivocating even across a
// crash and restart.
type SafetyState struct {
	LastVote           BlockRef
	Lock               BlockRef
	OtherBranchLatestTime uint64
}

const safetyStateFileMagic uint32 = 0x53564E4E // "SVNN"

// packedSafetyStateSize is the fixed on-disk size of a SafetyState: magic
// (4) + 2 BlockRefs (32+4+8 each) + OtherBranchLatestTime (8).
const packedSafetyStateSize = 4 + 2*(32+4+8) + 8

func (s *SafetyState) pack() []byte {
	buf := make([]byte, 0, packedSafetyStateSize)
	var u32 [4]byte
	var u64 [8]byte

	binary.BigEndian.PutUint32(u32[:], safetyStateFileMagic)
	buf = append(buf, u32[:]...)

	for _, ref := range []BlockRef{s.LastVote, s.Lock} {
		buf = append(buf, ref.ID[:]...)
		binary.BigEndian.PutUint32(u32[:], ref.BlockNum)
		buf = append(buf, u32[:]...)
		binary.BigEndian.PutUint64(u64[:], ref.Timestamp)
		buf = append(buf, u64[:]...)
	}

	binary.BigEndian.PutUint64(u64[:], s.OtherBranchLatestTime)
	buf = append(buf, u64[:]...)
	return buf
}

func unpackSafetyState(data []byte) (*SafetyState, error) {
	if len(data) != packedSafetyStateSize {
		return nil, fmt.Errorf("%w: safety state file has wrong size", svnnerr.ErrSafetyStateCorrupted)
	}
	if binary.BigEndian.Uint32(data[:4]) != safetyStateFileMagic {
		return nil, fmt.Errorf("%w: safety state file has wrong magic", svnnerr.ErrSafetyStateCorrupted)
	}

	s := &SafetyState{}
	offset := 4
	refs := make([]*BlockRef, 2)
	refs[0] = &s.LastVote
	refs[1] = &s.Lock
	for _, ref := range refs {
		copy(ref.ID[:], data[offset:offset+32])
		offset += 32
		ref.BlockNum = binary.BigEndian.Uint32(data[offset : offset+4])
		offset += 4
		ref.Timestamp = binary.BigEndian.Uint64(data[offset : offset+8])
		offset += 8
	}
	s.OtherBranchLatestTime = binary.BigEndian.Uint64(data[offset : offset+8])
	return s, nil
}

// Decision is what a finalizer chooses to do about a candidate block.
type Decision string

const (
	DecisionStrong  Decision = "strong"
	DecisionWeak    Decision = "weak"
	DecisionAbstain Decision = "abstain"
)

// Finalizer casts votes for a single local BLS key, persisting safety
// state to path before every vote is released.
type Finalizer struct {
	mu    sync.Mutex
	key   *bls.PrivateKey
	path  string
	state *SafetyState
}

// Load opens or initializes a Finalizer's safety state at path.
func Load(key *bls.PrivateKey, path string) (*Finalizer, error) {
	f := &Finalizer{key: key, path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		f.state = &SafetyState{}
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read safety state: %w", err)
	}

	state, err := unpackSafetyState(data)
	if err != nil {
		return nil, err
	}
	f.state = state
	return f, nil
}

// persist durably writes the safety state before a vote may be released:
// write to a temp file, fsync, then atomically rename over the target.
func (f *Finalizer) persist() error {
	tmp := f.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("%w: %v", svnnerr.ErrSafetyStatePersistFailed, err)
	}
	if _, err := file.Write(f.state.pack()); err != nil {
		file.Close()
		return fmt.Errorf("%w: %v", svnnerr.ErrSafetyStatePersistFailed, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("%w: %v", svnnerr.ErrSafetyStatePersistFailed, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: %v", svnnerr.ErrSafetyStatePersistFailed, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("%w: %v", svnnerr.ErrSafetyStatePersistFailed, err)
	}
	return nil
}

// extends reports whether candidate's chain (walked via getBlock)
// passes through ref.
func extends(candidate *blockstate.BlockState, ref BlockRef, getBlock func(chain.BlockID) (*blockstate.BlockState, bool)) bool {
	if ref.ID.IsZero() {
		return true // no lock yet: every candidate trivially extends it
	}
	cur := candidate
	for {
		if cur.ID == ref.ID {
			return true
		}
		if cur.Header.BlockNum <= ref.BlockNum {
			return false
		}
		next, ok := getBlock(cur.Header.Previous)
		if !ok {
			return false
		}
		cur = next
	}
}

// PublicKey returns the public key this finalizer signs votes with, so
// callers can attribute a cast vote without reaching into the key file.
func (f *Finalizer) PublicKey() *bls.PublicKey {
	return f.key.PublicKey()
}

// Decide applies the safety and liveness rules to candidate b, given a
// way to walk to ancestors (typically forkdb.GetBlock). It does not
// mutate or persist state; call Commit after signing to advance it.
func (f *Finalizer) Decide(b *blockstate.BlockState, getBlock func(chain.BlockID) (*blockstate.BlockState, bool)) Decision {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b.Header.BlockNum <= f.state.LastVote.BlockNum {
		return DecisionAbstain
	}

	if extends(b, f.state.Lock, getBlock) {
		return DecisionStrong
	}

	// Liveness rule: vote weak iff the locked block is older than any
	// conflicting block seen since, i.e. no fresher competing branch has
	// been observed that would make a weak vote here unsafe to aggregate.
	if b.Header.Timestamp > f.state.OtherBranchLatestTime {
		return DecisionWeak
	}

	return DecisionAbstain
}

// Vote decides, signs if not abstaining, durably persists the updated
// safety state, and only then returns the signature — the vote must
// never be released before fsync completes.
func (f *Finalizer) Vote(b *blockstate.BlockState, getBlock func(chain.BlockID) (*blockstate.BlockState, bool)) (bool, *bls.Signature, error) {
	decision := f.Decide(b, getBlock)
	if decision == DecisionAbstain {
		return false, nil, nil
	}
	strong := decision == DecisionStrong

	f.mu.Lock()
	defer f.mu.Unlock()

	ref := BlockRef{ID: b.ID, BlockNum: b.Header.BlockNum, Timestamp: b.Header.Timestamp}
	prevState := *f.state
	f.state.LastVote = ref
	if strong {
		f.state.Lock = ref
	} else if b.Header.Timestamp > f.state.OtherBranchLatestTime {
		f.state.OtherBranchLatestTime = b.Header.Timestamp
	}

	if err := f.persist(); err != nil {
		*f.state = prevState // roll back in-memory state to match the durable file
		return false, nil, err
	}

	digest := qc.SigningDigest(b.FinalityDigest, strong)
	sig, err := f.key.Sign(digest)
	if err != nil {
		return false, nil, err
	}
	return strong, sig, nil
}

// Package blockstate derives and carries the per-block bookkeeping the
// fork database needs to run the two-chain finality rule: the active
// and pending finalizer policy generations, the finality digest chained
// into each header, and the block number each block would finalize if
// it became head.
package blockstate

import (
	"github.com/svnnchain/svnn/pkg/chain"
	"github.com/svnnchain/svnn/pkg/crypto/merkle"
)

// BlockState is everything the fork database tracks about a block beyond
// its header: derived finality bookkeeping plus a validation flag.
type BlockState struct {
	ID     chain.BlockID
	Header *chain.Header

	// Policy bookkeeping, inherited from the parent unless this block's
	// IF extension installs a new one.
	ActivePolicyGeneration  uint32
	PendingPolicyGeneration uint32 // 0 means none pending

	// QCClaim is this block's own claim, decoded from its IF extension.
	QCClaim chain.QCClaim

	// QCClaimIsStrong caches QCClaim.IsStrong so the two-chain rule below
	// can be evaluated without re-decoding the header.
	QCClaimIsStrong bool

	// LastQCBlockNum is the block number of the most recent ancestor
	// (including possibly this block) that this block's claim chain
	// treats as having a quorum certificate: QCClaim.BlockNum, i.e. what
	// this block itself claims.
	LastQCBlockNum uint32

	// LastFinalBlockNum is last_final_block_num(b) from the two-chain
	// rule: the block number of the most recent ancestor guaranteed
	// irreversible assuming this block becomes head.
	LastFinalBlockNum uint32

	// FinalityDigest is hash(major_version, minor_version,
	// active_policy_generation, finality_mroot, witness_hash).
	FinalityDigest [32]byte

	// FinalityMRoot is this block's accumulated finality Merkle root,
	// chained from the parent's.
	FinalityMRoot [32]byte

	// BaseDigest is set only when this block installs a new active
	// policy: hash(policy_digest, static_data_digest).
	BaseDigest [32]byte

	Validated bool
}

// Protocol version constants hashed into every finality digest.
const (
	MajorVersion uint32 = 1
	MinorVersion uint32 = 0
)

// staticDataDigest digests the per-block data outside the finalizer policy that the
// finality digest binds to: the action and transaction merkle roots,
// already present on the header, combined into one digest.
func staticDataDigest(h *chain.Header) [32]byte {
	return to32(merkle.CombineHashes(h.ActionMRoot[:], h.TransactionMRoot[:]))
}

func to32(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}

// Genesis constructs the root block-state: its own block number is both
// its last-final and last-QC number, and its QC claim is trivially strong.
func Genesis(h *chain.Header, activePolicyGen uint32, policyDigest [32]byte) *BlockState {
	id := h.ID()
	static := staticDataDigest(h)
	base := to32(merkle.CombineHashes(policyDigest[:], static[:]))
	digest := computeFinalityDigest(activePolicyGen, [32]byte{}, base)

	return &BlockState{
		ID:                     id,
		Header:                 h,
		ActivePolicyGeneration: activePolicyGen,
		QCClaim:                chain.QCClaim{BlockNum: h.BlockNum, IsStrong: true},
		QCClaimIsStrong:        true,
		LastQCBlockNum:         h.BlockNum,
		LastFinalBlockNum:      h.BlockNum,
		FinalityDigest:         digest,
		FinalityMRoot:          [32]byte{}, // sentinel: genesis has no predecessor mroot to chain from
		BaseDigest:             base,
	}
}

// New derives a child block-state from its parent and header, applying
// the two-chain finality rule and policy inheritance. newPolicyDigest is
// the digest of the policy this block installs, if its IF extension
// carries one; policyInstalled reports whether it did.
func New(parent *BlockState, h *chain.Header, claim chain.QCClaim, policyInstalled bool, newPolicyGen uint32, newPolicyDigest [32]byte, pendingPolicyGen uint32) *BlockState {
	id := h.ID()

	activeGen := parent.ActivePolicyGeneration
	pendingGen := parent.PendingPolicyGeneration
	var witness [32]byte
	var base [32]byte

	if policyInstalled {
		activeGen = newPolicyGen
		static := staticDataDigest(h)
		base = to32(merkle.CombineHashes(newPolicyDigest[:], static[:]))
		witness = base
	} else {
		witness = staticDataDigest(h)
	}
	if pendingPolicyGen != 0 {
		pendingGen = pendingPolicyGen
	}

	// Two-chain rule: g = last_final_block_num(b) becomes
	// parent.LastQCBlockNum exactly when b's claim and the parent's claim
	// are both strong, i.e. two consecutive strong links close the chain
	// onto the grandparent the parent's claim names. Otherwise finality
	// does not advance past whatever the parent already had.
	lastFinal := parent.LastFinalBlockNum
	if claim.IsStrong && parent.QCClaimIsStrong {
		lastFinal = parent.LastQCBlockNum
	}

	digest := computeFinalityDigest(activeGen, parent.FinalityMRoot, witness)
	mroot := to32(merkle.CombineHashes(parent.FinalityMRoot[:], parent.FinalityDigest[:]))

	return &BlockState{
		ID:                      id,
		Header:                  h,
		ActivePolicyGeneration:  activeGen,
		PendingPolicyGeneration: pendingGen,
		QCClaim:                 claim,
		QCClaimIsStrong:         claim.IsStrong,
		LastQCBlockNum:          claim.BlockNum,
		LastFinalBlockNum:       lastFinal,
		FinalityDigest:          digest,
		FinalityMRoot:           mroot,
		BaseDigest:              base,
	}
}

// computeFinalityDigest implements finality_digest = hash(major_version,
// minor_version, active_policy_generation, finality_mroot, witness_hash).
func computeFinalityDigest(activePolicyGen uint32, finalityMRoot [32]byte, witnessHash [32]byte) [32]byte {
	var buf []byte
	buf = appendU32(buf, MajorVersion)
	buf = appendU32(buf, MinorVersion)
	buf = appendU32(buf, activePolicyGen)
	buf = append(buf, finalityMRoot[:]...)
	buf = append(buf, witnessHash[:]...)
	return to32(merkle.HashData(buf))
}

func appendU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// MarkValid flips the validated flag, called once the block's execution
// results and signatures have been checked.
func (bs *BlockState) MarkValid() {
	bs.Validated = true
}

// BestBranchKey is the 5-tuple best-branch order is taken over: validated
// (true before false), last_final_block_num, last_qc_block_num,
// timestamp, then block-id (sha256_less) as the final deterministic
// tiebreak so the order is total.
type BestBranchKey struct {
	Validated         bool
	LastFinalBlockNum uint32
	LastQCBlockNum    uint32
	Timestamp         uint64
	ID                chain.BlockID
}

// Key derives this block-state's best-branch ordering key.
func (bs *BlockState) Key() BestBranchKey {
	return BestBranchKey{
		Validated:         bs.Validated,
		LastFinalBlockNum: bs.LastFinalBlockNum,
		LastQCBlockNum:    bs.LastQCBlockNum,
		Timestamp:         bs.Header.Timestamp,
		ID:                bs.ID,
	}
}

// Less orders two keys so the "best" branch sorts greatest: compare
// piecewise, falling through to the id byte-ordering tiebreak last.
func (k BestBranchKey) Less(other BestBranchKey) bool {
	if k.Validated != other.Validated {
		return !k.Validated // unvalidated sorts lower than validated
	}
	if k.LastFinalBlockNum != other.LastFinalBlockNum {
		return k.LastFinalBlockNum < other.LastFinalBlockNum
	}
	if k.LastQCBlockNum != other.LastQCBlockNum {
		return k.LastQCBlockNum < other.LastQCBlockNum
	}
	if k.Timestamp != other.Timestamp {
		return k.Timestamp < other.Timestamp
	}
	return k.ID.Less(other.ID)
}

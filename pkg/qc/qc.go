// Package qc aggregates finalizer votes for a single block into a
// quorum certificate: per-block strong and weak tallies, duplicate
// rejection, and signature verification against the block's active
// finalizer policy.
package qc

import (
	"sync"

	"github.com/svnnchain/svnn/pkg/blockstate"
	"github.com/svnnchain/svnn/pkg/chain"
	"github.com/svnnchain/svnn/pkg/crypto/bls"
	"github.com/svnnchain/svnn/pkg/finalizer"
	"github.com/svnnchain/svnn/pkg/svnnerr"
)

// Strong/weak signing domain labels, prepended to the finality digest
// before hash-to-curve, per the wire signing-domain contract.
var (
	strongDomainLabel = [2]byte{0x00, 0x00}
	weakDomainLabel   = [2]byte{0x00, 0x01}
)

// SigningDigest derives the message a finalizer signs for a block: its
// domain label followed by the finality digest.
func SigningDigest(finalityDigest [32]byte, strong bool) []byte {
	label := weakDomainLabel
	if strong {
		label = strongDomainLabel
	}
	out := make([]byte, 0, 2+32)
	out = append(out, label[:]...)
	out = append(out, finalityDigest[:]...)
	return out
}

// VoteResult is the outcome of processing a single vote.
type VoteResult string

const (
	ResultSuccess         VoteResult = "success"
	ResultUnknownBlock    VoteResult = "unknown_block"
	ResultUnknownKey      VoteResult = "unknown_public_key"
	ResultDuplicate       VoteResult = "duplicate"
	ResultInvalidSig      VoteResult = "invalid_signature"
)

// Vote is an incoming finalizer vote, as decoded off the wire.
type Vote struct {
	BlockID      chain.BlockID
	FinalizerKey *bls.PublicKey
	Strong       bool
	Signature    *bls.Signature
}

// tally accumulates one strength (strong or weak) of votes for a block.
type tally struct {
	weight    uint64
	aggSig    *bls.Signature
	contribKeys map[string]bool
}

func newTally() *tally {
	return &tally{contribKeys: make(map[string]bool)}
}

func (t *tally) add(pk *bls.PublicKey, sig *bls.Signature, weight uint64) error {
	t.weight += weight
	t.contribKeys[string(pk.Bytes())] = true
	if t.aggSig == nil {
		t.aggSig = sig
		return nil
	}
	agg, err := bls.AggregateSignatures([]*bls.Signature{t.aggSig, sig})
	if err != nil {
		return err
	}
	t.aggSig = agg
	return nil
}

// QuorumCertificate is a completed QC: a weight-sufficient aggregate
// signature for a claimed block, strong or weak.
type QuorumCertificate struct {
	BlockID     chain.BlockID
	BlockNum    uint32
	Strong      bool
	Weight      uint64
	Signature   *bls.Signature
	SignerCount int
}

// BlockAggregator tallies votes for a single block-state.
type BlockAggregator struct {
	mu       sync.Mutex
	bs       *blockstate.BlockState
	policy   *finalizer.Policy
	strong   *tally
	weak     *tally
	hasVoted map[string]bool
	finished *QuorumCertificate
}

// NewBlockAggregator creates an aggregator for bs under the given policy
// (the policy active at bs, looked up by the caller).
func NewBlockAggregator(bs *blockstate.BlockState, policy *finalizer.Policy) *BlockAggregator {
	return &BlockAggregator{
		bs:       bs,
		policy:   policy,
		strong:   newTally(),
		weak:     newTally(),
		hasVoted: make(map[string]bool),
	}
}

// ProcessVote runs the six-step vote-processing algorithm: lookup,
// authorization, duplicate check, signature verification, tallying, and
// threshold detection. Votes arriving after a QC has formed are still
// verified and tallied, and the QC is re-issued with the larger weight.
func (a *BlockAggregator) ProcessVote(v *Vote) (VoteResult, *QuorumCertificate, error) {
	if v.BlockID != a.bs.ID {
		return ResultUnknownBlock, nil, svnnerr.ErrBlockNotFound
	}

	entry, ok := a.policy.FindByPublicKey(v.FinalizerKey)
	if !ok {
		return ResultUnknownKey, nil, svnnerr.ErrUnknownFinalizer
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	keyStr := string(v.FinalizerKey.Bytes())
	if a.hasVoted[keyStr] {
		return ResultDuplicate, nil, svnnerr.ErrDuplicateVote
	}

	digest := SigningDigest(a.bs.FinalityDigest, v.Strong)
	if !v.FinalizerKey.Verify(v.Signature, digest) {
		return ResultInvalidSig, nil, svnnerr.ErrInvalidSignature
	}

	a.hasVoted[keyStr] = true

	target := a.weak
	if v.Strong {
		target = a.strong
	}
	if err := target.add(v.FinalizerKey, v.Signature, entry.Weight); err != nil {
		return ResultInvalidSig, nil, err
	}

	if a.strong.weight >= a.policy.Threshold {
		a.finished = &QuorumCertificate{
			BlockID: a.bs.ID, BlockNum: a.bs.Header.BlockNum,
			Strong: true, Weight: a.strong.weight,
			Signature: a.strong.aggSig, SignerCount: len(a.strong.contribKeys),
		}
		return ResultSuccess, a.finished, nil
	}
	if a.weak.weight >= a.policy.Threshold {
		a.finished = &QuorumCertificate{
			BlockID: a.bs.ID, BlockNum: a.bs.Header.BlockNum,
			Strong: false, Weight: a.weak.weight,
			Signature: a.weak.aggSig, SignerCount: len(a.weak.contribKeys),
		}
		return ResultSuccess, a.finished, nil
	}

	return ResultSuccess, nil, nil
}

// Finished returns the completed QC, if any.
func (a *BlockAggregator) Finished() (*QuorumCertificate, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finished, a.finished != nil
}

// Pool tracks one BlockAggregator per block under active consideration.
type Pool struct {
	mu   sync.Mutex
	byID map[chain.BlockID]*BlockAggregator
}

// NewPool creates an empty aggregator pool.
func NewPool() *Pool {
	return &Pool{byID: make(map[chain.BlockID]*BlockAggregator)}
}

// GetOrCreate returns the aggregator for bs, creating one under policy
// if this is the first vote seen for it.
func (p *Pool) GetOrCreate(bs *blockstate.BlockState, policy *finalizer.Policy) *BlockAggregator {
	p.mu.Lock()
	defer p.mu.Unlock()
	if agg, ok := p.byID[bs.ID]; ok {
		return agg
	}
	agg := NewBlockAggregator(bs, policy)
	p.byID[bs.ID] = agg
	return agg
}

// Get returns the aggregator tracking id, if one exists.
func (p *Pool) Get(id chain.BlockID) (*BlockAggregator, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	agg, ok := p.byID[id]
	return agg, ok
}

// Forget drops the aggregator for id, called once its block is pruned
// from the fork database.
func (p *Pool) Forget(id chain.BlockID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.byID, id)
}

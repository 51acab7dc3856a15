// Copyright 2025 Certen Protocol
//
// Block Ingestion API Handlers

package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/svnnchain/svnn/pkg/blockstate"
	"github.com/svnnchain/svnn/pkg/chain"
	"github.com/svnnchain/svnn/pkg/crypto/bls"
	"github.com/svnnchain/svnn/pkg/finalizer"
	"github.com/svnnchain/svnn/pkg/finality"
	"github.com/svnnchain/svnn/pkg/forkdb"
	"github.com/svnnchain/svnn/pkg/logging"
	"github.com/svnnchain/svnn/pkg/qc"
	"github.com/svnnchain/svnn/pkg/svnnerr"
	"github.com/svnnchain/svnn/pkg/voter"
)

// BlockHandlers provides the HTTP handler that drives the core per-block
// pipeline: parse a header (C2), derive its block-state (C4), insert it
// into the fork database (C5), re-evaluate last-irreversible-block (C8),
// and, for a voting node, cast and tally this node's own vote (C7/C6).
type BlockHandlers struct {
	db       *forkdb.ForkDB
	registry *finalizer.Registry
	engine   *finality.Engine
	pool     *qc.Pool
	fin      *voter.Finalizer // nil on a non-voting (tracking-only) node
	log      *logging.Logger
}

// NewBlockHandlers creates block-ingestion handlers. fin may be nil: a
// node that only tracks finality never casts its own vote.
func NewBlockHandlers(db *forkdb.ForkDB, registry *finalizer.Registry, engine *finality.Engine, pool *qc.Pool, fin *voter.Finalizer, log *logging.Logger) *BlockHandlers {
	return &BlockHandlers{db: db, registry: registry, engine: engine, pool: pool, fin: fin, log: log}
}

type policyEntryJSON struct {
	Description string `json:"description"`
	Weight      uint64 `json:"weight"`
	PublicKey   string `json:"public_key"` // hex-encoded G1 point
}

type policyJSON struct {
	Generation uint32            `json:"generation"`
	Threshold  uint64            `json:"threshold"`
	Finalizers []policyEntryJSON `json:"finalizers"`
}

// blockRequest is the JSON shape a block producer (or a replaying test
// harness) posts to submit a new block. Execution of its transactions is
// out of scope for this engine (see spec Non-goals); ExecutionValidated
// carries the external execution engine's verdict across that interface,
// exactly as the two-chain rule expects to receive it.
type blockRequest struct {
	Producer         string `json:"producer"`
	Timestamp        uint64 `json:"timestamp"`
	Previous         string `json:"previous"` // hex block id
	ActionMRoot      string `json:"action_mroot"`
	TransactionMRoot string `json:"transaction_mroot"`
	ScheduleVersion  uint32 `json:"schedule_version"`
	BlockNum         uint32 `json:"block_num"`

	QCClaimBlockNum uint32 `json:"qc_claim_block_num"`
	QCClaimStrong   bool   `json:"qc_claim_strong"`

	NewPolicy               *policyJSON `json:"new_policy,omitempty"`
	PendingPolicyGeneration uint32      `json:"pending_policy_generation,omitempty"`

	ExecutionValidated bool `json:"execution_validated"`
}

type voteSummary struct {
	Decision string `json:"decision"`
	Result   string `json:"result,omitempty"`
	QC       *struct {
		Strong      bool   `json:"strong"`
		Weight      uint64 `json:"weight"`
		SignerCount int    `json:"signer_count"`
	} `json:"quorum_certificate,omitempty"`
}

type blockResponse struct {
	BlockID          string       `json:"block_id"`
	HeadBlockID      string       `json:"head_block_id"`
	HeadBlockNum     uint32       `json:"head_block_num"`
	LastIrreversible uint32       `json:"last_irreversible_block_num"`
	Vote             *voteSummary `json:"vote,omitempty"`
}

// HandleSubmitBlock handles POST /api/block: the full ingestion pipeline
// for one new block.
func (h *BlockHandlers) HandleSubmitBlock(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	header, err := decodeBlockHeader(req)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
		return
	}

	parent, ok := h.db.GetBlock(header.Previous)
	if !ok {
		http.Error(w, `{"error":"unknown parent block"}`, http.StatusNotFound)
		return
	}

	var policy *finalizer.Policy
	var policyInstalled bool
	if req.NewPolicy != nil {
		policy, err = decodePolicy(req.NewPolicy)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
			return
		}
		policyInstalled = true
	}

	claim := chain.QCClaim{BlockNum: req.QCClaimBlockNum, IsStrong: req.QCClaimStrong}
	ext := chain.InstantFinalityExtension{QCClaim: claim}
	if policyInstalled {
		encoded, err := json.Marshal(req.NewPolicy)
		if err != nil {
			http.Error(w, `{"error":"failed to encode new policy"}`, http.StatusInternalServerError)
			return
		}
		ext.NewPolicyBytes = encoded
	}
	header.Extensions = append(header.Extensions, chain.Extension{Kind: chain.ExtensionKindInstantFinality, Data: ext.Pack()})

	if err := header.Validate(); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
		return
	}

	var newPolicyDigest [32]byte
	var newPolicyGen uint32
	if policyInstalled {
		newPolicyDigest = policy.Digest()
		newPolicyGen = policy.Generation
	}
	bs := blockstate.New(parent, header, claim, policyInstalled, newPolicyGen, newPolicyDigest, req.PendingPolicyGeneration)

	if policyInstalled {
		if err := h.registry.Install(policy); err != nil {
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusConflict)
			return
		}
	}

	if err := h.db.Add(bs, req.ExecutionValidated, false); err != nil {
		status := http.StatusBadRequest
		if err == svnnerr.ErrDuplicateBlockID {
			status = http.StatusConflict
		}
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), status)
		return
	}

	if err := h.engine.OnHeadChanged(); err != nil {
		h.log.WithError(err).Error("finality re-evaluation failed", logging.Field{Key: "block_id", Value: bs.ID.String()})
	}

	resp := blockResponse{
		BlockID:          bs.ID.String(),
		HeadBlockID:      h.db.Head().ID.String(),
		HeadBlockNum:     h.db.Head().Header.BlockNum,
		LastIrreversible: h.engine.LIB(),
	}

	if h.fin != nil && req.ExecutionValidated {
		resp.Vote = h.castOwnVote(bs)
	}

	json.NewEncoder(w).Encode(resp)
}

// castOwnVote decides and signs this node's own vote for bs, then feeds
// it straight into the same aggregator a gossiped vote would go through.
func (h *BlockHandlers) castOwnVote(bs *blockstate.BlockState) *voteSummary {
	strong, sig, err := h.fin.Vote(bs, h.db.GetBlock)
	if err != nil {
		h.log.WithError(err).LogVote(bs.ID.String(), bs.Header.BlockNum, strong, false, "persist_failed")
		return &voteSummary{Decision: "error"}
	}
	if sig == nil {
		h.log.LogVote(bs.ID.String(), bs.Header.BlockNum, strong, false, "abstain")
		return &voteSummary{Decision: string(voter.DecisionAbstain)}
	}

	decision := voter.DecisionWeak
	if strong {
		decision = voter.DecisionStrong
	}

	policy, ok := h.registry.LookupByGeneration(bs.ActivePolicyGeneration)
	if !ok {
		return &voteSummary{Decision: string(decision)}
	}

	vote := &qc.Vote{BlockID: bs.ID, FinalizerKey: h.fin.PublicKey(), Strong: strong, Signature: sig}
	outcome, certificate, err := h.pool.GetOrCreate(bs, policy).ProcessVote(vote)
	if err != nil && outcome != qc.ResultDuplicate {
		h.log.WithError(err).LogVote(bs.ID.String(), bs.Header.BlockNum, strong, false, string(outcome))
		return &voteSummary{Decision: string(decision), Result: string(outcome)}
	}

	h.log.LogVote(bs.ID.String(), bs.Header.BlockNum, strong, true, string(outcome))
	summary := &voteSummary{Decision: string(decision), Result: string(outcome)}
	if certificate != nil {
		summary.QC = &struct {
			Strong      bool   `json:"strong"`
			Weight      uint64 `json:"weight"`
			SignerCount int    `json:"signer_count"`
		}{Strong: certificate.Strong, Weight: certificate.Weight, SignerCount: certificate.SignerCount}
	}
	return summary
}

func decodeBlockHeader(req blockRequest) (*chain.Header, error) {
	previous, err := decodeBlockID(req.Previous)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed previous", svnnerr.ErrMalformedHeader)
	}
	actionMRoot, err := decode32(req.ActionMRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed action_mroot", svnnerr.ErrMalformedHeader)
	}
	txMRoot, err := decode32(req.TransactionMRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed transaction_mroot", svnnerr.ErrMalformedHeader)
	}

	return &chain.Header{
		Producer:         req.Producer,
		Timestamp:        req.Timestamp,
		Previous:         previous,
		ActionMRoot:      actionMRoot,
		TransactionMRoot: txMRoot,
		ScheduleVersion:  req.ScheduleVersion,
		BlockNum:         req.BlockNum,
	}, nil
}

func decodeBlockID(s string) (chain.BlockID, error) {
	b, err := decode32(s)
	return chain.BlockID(b), err
}

func decode32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return out, fmt.Errorf("expected 32 hex-encoded bytes")
	}
	copy(out[:], b)
	return out, nil
}

func decodePolicy(p *policyJSON) (*finalizer.Policy, error) {
	policy := &finalizer.Policy{Generation: p.Generation, Threshold: p.Threshold}
	for _, entry := range p.Finalizers {
		keyBytes, err := hex.DecodeString(entry.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("finalizer %q public key: %w", entry.Description, err)
		}
		pk, err := bls.PublicKeyFromBytes(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("finalizer %q public key: %w", entry.Description, err)
		}
		policy.Finalizers = append(policy.Finalizers, finalizer.Entry{Description: entry.Description, Weight: entry.Weight, PublicKey: pk})
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

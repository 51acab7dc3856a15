// Copyright 2025 Certen Protocol
//
// Vote Submission API Handlers

package server

import (
	"encoding/json"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/svnnchain/svnn/pkg/finalizer"
	"github.com/svnnchain/svnn/pkg/forkdb"
	"github.com/svnnchain/svnn/pkg/logging"
	"github.com/svnnchain/svnn/pkg/metrics"
	"github.com/svnnchain/svnn/pkg/qc"
	"github.com/svnnchain/svnn/pkg/svnnerr"
	"github.com/svnnchain/svnn/pkg/verifypool"
	"github.com/svnnchain/svnn/pkg/wire"
)

// VoteHandlers provides HTTP handlers for finalizer vote submission.
type VoteHandlers struct {
	db       *forkdb.ForkDB
	registry *finalizer.Registry
	pool     *qc.Pool
	verify   *verifypool.Pool
	log      *logging.Logger
}

// NewVoteHandlers creates vote submission handlers wired to a fork
// database, finalizer policy registry, and QC aggregator pool.
func NewVoteHandlers(db *forkdb.ForkDB, registry *finalizer.Registry, pool *qc.Pool, verify *verifypool.Pool, log *logging.Logger) *VoteHandlers {
	return &VoteHandlers{db: db, registry: registry, pool: pool, verify: verify, log: log}
}

type voteRequest struct {
	BlockID      string `json:"block_id"`
	FinalizerKey string `json:"finalizer_key"`
	Strong       bool   `json:"strong"`
	Signature    string `json:"signature"`
}

type voteResponse struct {
	Result string `json:"result"`
	QC     *struct {
		Strong      bool   `json:"strong"`
		Weight      uint64 `json:"weight"`
		SignerCount int    `json:"signer_count"`
	} `json:"quorum_certificate,omitempty"`
}

// HandleSubmitVote handles POST /api/vote requests: decode a wire vote
// message, queue its signature check on the async verify pool, and
// synchronously tally it against the block's aggregator once verified.
func (h *VoteHandlers) HandleSubmitVote(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	msg, err := decodeVoteRequest(req)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
		return
	}

	v, err := msg.ToVote()
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
		return
	}

	bs, ok := h.db.GetBlock(v.BlockID)
	if !ok {
		http.Error(w, `{"error":"unknown block"}`, http.StatusNotFound)
		return
	}

	policy, ok := h.registry.LookupByGeneration(bs.ActivePolicyGeneration)
	if !ok {
		http.Error(w, `{"error":"unknown policy generation for block"}`, http.StatusInternalServerError)
		return
	}

	result := make(chan bool, 1)
	digest := qc.SigningDigest(bs.FinalityDigest, v.Strong)
	accepted := h.verify.Submit(verifypool.Job{
		PublicKey: v.FinalizerKey,
		Signature: v.Signature,
		Message:   digest,
		OnResult:  func(ok bool) { result <- ok },
	})
	if !accepted {
		http.Error(w, `{"error":"verification pool busy"}`, http.StatusServiceUnavailable)
		return
	}
	if !<-result {
		h.log.LogVote(v.BlockID.String(), bs.Header.BlockNum, v.Strong, false, "invalid_signature")
		writeVoteResult(w, qc.ResultInvalidSig, nil)
		return
	}

	agg := h.pool.GetOrCreate(bs, policy)
	outcome, certificate, err := agg.ProcessVote(v)
	if err != nil && outcome != qc.ResultDuplicate {
		h.log.WithError(err).LogVote(v.BlockID.String(), bs.Header.BlockNum, v.Strong, false, string(outcome))
		writeVoteResult(w, outcome, nil)
		return
	}

	strength := "weak"
	if v.Strong {
		strength = "strong"
	}
	metrics.VotesProcessed.WithLabelValues(strength, string(outcome)).Inc()
	h.log.LogVote(v.BlockID.String(), bs.Header.BlockNum, v.Strong, true, string(outcome))

	writeVoteResult(w, outcome, certificate)
}

func decodeVoteRequest(req voteRequest) (*wire.VoteMessage, error) {
	blockIDBytes, err := hex.DecodeString(req.BlockID)
	if err != nil || len(blockIDBytes) != 32 {
		return nil, fmt.Errorf("%w: malformed block_id", svnnerr.ErrMalformedHeader)
	}
	keyBytes, err := hex.DecodeString(req.FinalizerKey)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed finalizer_key", svnnerr.ErrMalformedHeader)
	}
	sigBytes, err := hex.DecodeString(req.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signature", svnnerr.ErrMalformedHeader)
	}

	var msg wire.VoteMessage
	copy(msg.BlockID[:], blockIDBytes)
	msg.Strong = req.Strong
	data := append([]byte{}, msg.BlockID[:]...)
	data = append(data, keyBytes...)
	if msg.Strong {
		data = append(data, 1)
	} else {
		data = append(data, 0)
	}
	data = append(data, sigBytes...)

	if len(data) != wire.VoteMessageSize {
		return nil, fmt.Errorf("%w: wrong key or signature length", svnnerr.ErrMalformedHeader)
	}
	if err := msg.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &msg, nil
}

func writeVoteResult(w http.ResponseWriter, result qc.VoteResult, certificate *qc.QuorumCertificate) {
	resp := voteResponse{Result: string(result)}
	if certificate != nil {
		resp.QC = &struct {
			Strong      bool   `json:"strong"`
			Weight      uint64 `json:"weight"`
			SignerCount int    `json:"signer_count"`
		}{Strong: certificate.Strong, Weight: certificate.Weight, SignerCount: certificate.SignerCount}
	}
	json.NewEncoder(w).Encode(resp)
}

// Copyright 2025 Certen Protocol
//
// Status Query API Handlers

package server

import (
	"encoding/json"
	"net/http"

	"github.com/svnnchain/svnn/pkg/finality"
	"github.com/svnnchain/svnn/pkg/forkdb"
)

// StatusHandlers provides HTTP handlers for fork database and finality
// status queries.
type StatusHandlers struct {
	db     *forkdb.ForkDB
	engine *finality.Engine
}

// NewStatusHandlers creates status query handlers.
func NewStatusHandlers(db *forkdb.ForkDB, engine *finality.Engine) *StatusHandlers {
	return &StatusHandlers{db: db, engine: engine}
}

type statusResponse struct {
	HeadBlockID   string `json:"head_block_id"`
	HeadBlockNum  uint32 `json:"head_block_num"`
	RootBlockID   string `json:"root_block_id"`
	RootBlockNum  uint32 `json:"root_block_num"`
	LastIrreversible uint32 `json:"last_irreversible_block_num"`
	TrackedBlocks int    `json:"tracked_blocks"`
}

// HandleStatus handles GET /api/status requests: the current head, root,
// and last-irreversible-block-number snapshot of this node's fork
// database.
func (h *StatusHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	head := h.db.Head()
	root := h.db.Root()

	resp := statusResponse{
		HeadBlockID:      head.ID.String(),
		HeadBlockNum:     head.Header.BlockNum,
		RootBlockID:      root.ID.String(),
		RootBlockNum:     root.Header.BlockNum,
		LastIrreversible: h.engine.LIB(),
		TrackedBlocks:    h.db.Len(),
	}
	json.NewEncoder(w).Encode(resp)
}

// HandleHealth handles GET /healthz requests: liveness only, no
// dependency checks, matching what a load balancer or orchestrator
// polls at a high rate.
func (h *StatusHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// Copyright 2025 Certen Protocol
//
// HTTP Router Wiring

package server

import "net/http"

// NewMux wires the finality engine's HTTP surface: block ingestion, vote
// submission, and status/health queries. Metrics are served separately
// on their own listener via promhttp.
func NewMux(block *BlockHandlers, vote *VoteHandlers, status *StatusHandlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/block", block.HandleSubmitBlock)
	mux.HandleFunc("/api/vote", vote.HandleSubmitVote)
	mux.HandleFunc("/api/status", status.HandleStatus)
	mux.HandleFunc("/healthz", status.HandleHealth)
	return mux
}

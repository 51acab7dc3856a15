package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got: %v", err)
	}
	if cfg.IsVoting() {
		t.Fatal("expected default config with no finalizer id to not be voting")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SVNN_FINALIZER_ID", "finalizer-7")
	t.Setenv("SVNN_CHAIN_ID", "svnn-testnet")
	t.Setenv("SVNN_VOTE_VERIFY_WORKERS", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FinalizerID != "finalizer-7" {
		t.Errorf("finalizer id = %q, want finalizer-7", cfg.FinalizerID)
	}
	if cfg.ChainID != "svnn-testnet" {
		t.Errorf("chain id = %q, want svnn-testnet", cfg.ChainID)
	}
	if cfg.VoteVerifyWorkers != 8 {
		t.Errorf("vote verify workers = %d, want 8", cfg.VoteVerifyWorkers)
	}
	if !cfg.IsVoting() {
		t.Fatal("expected config with finalizer id to be voting")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.VoteVerifyWorkers = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero vote verify workers")
	}
}

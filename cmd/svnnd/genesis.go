package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/svnnchain/svnn/pkg/blockstate"
	"github.com/svnnchain/svnn/pkg/chain"
	"github.com/svnnchain/svnn/pkg/crypto/bls"
	"github.com/svnnchain/svnn/pkg/finalizer"
)

// genesisFile is the on-disk JSON shape a devnet operator hand-writes to
// seed the initial finalizer policy.
type genesisFile struct {
	ChainID    string `json:"chain_id"`
	Threshold  uint64 `json:"threshold"`
	Finalizers []struct {
		Description string `json:"description"`
		Weight      uint64 `json:"weight"`
		PublicKey   string `json:"public_key"` // hex-encoded G1 point
	} `json:"finalizers"`
}

// loadGenesis reads the genesis file and builds the generation-1
// finalizer policy and the root block-state descending from it.
func loadGenesis(path string) (*finalizer.Policy, *blockstate.BlockState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read genesis file: %w", err)
	}

	var gf genesisFile
	if err := json.Unmarshal(data, &gf); err != nil {
		return nil, nil, fmt.Errorf("parse genesis file: %w", err)
	}

	policy := &finalizer.Policy{Generation: 1, Threshold: gf.Threshold}
	for _, f := range gf.Finalizers {
		keyBytes, err := hex.DecodeString(f.PublicKey)
		if err != nil {
			return nil, nil, fmt.Errorf("decode finalizer %q public key: %w", f.Description, err)
		}
		pk, err := bls.PublicKeyFromBytes(keyBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("finalizer %q public key: %w", f.Description, err)
		}
		policy.Finalizers = append(policy.Finalizers, finalizer.Entry{
			Description: f.Description,
			Weight:      f.Weight,
			PublicKey:   pk,
		})
	}
	if err := policy.Validate(); err != nil {
		return nil, nil, fmt.Errorf("genesis policy: %w", err)
	}

	genesisHeader := &chain.Header{
		Producer:        "genesis",
		Timestamp:       0,
		Previous:        chain.BlockID{},
		ScheduleVersion: 1,
		BlockNum:        1,
	}
	root := blockstate.Genesis(genesisHeader, policy.Generation, policy.Digest())

	return policy, root, nil
}

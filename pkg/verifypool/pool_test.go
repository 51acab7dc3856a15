package verifypool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/svnnchain/svnn/pkg/crypto/bls"
)

func TestPoolVerifiesValidAndInvalidSignatures(t *testing.T) {
	sk, pk, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	msg := []byte("vote-digest")
	sig, err := sk.Sign(msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := New(ctx, 2, 8)
	defer pool.Shutdown()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var results []bool

	wg.Add(2)
	pool.Submit(Job{PublicKey: pk, Signature: sig, Message: msg, OnResult: func(ok bool) {
		mu.Lock()
		results = append(results, ok)
		mu.Unlock()
		wg.Done()
	}})
	badSig, _ := sk.Sign([]byte("different message"))
	pool.Submit(Job{PublicKey: pk, Signature: badSig, Message: msg, OnResult: func(ok bool) {
		mu.Lock()
		results = append(results, ok)
		mu.Unlock()
		wg.Done()
	}})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for verification jobs")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	validCount := 0
	for _, r := range results {
		if r {
			validCount++
		}
	}
	if validCount != 1 {
		t.Fatalf("expected exactly one valid result, got %d", validCount)
	}
}

func TestVerifyBatch(t *testing.T) {
	sk, pk, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	msg := []byte("batch-message")
	sig, err := sk.Sign(msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	results, err := VerifyBatch(context.Background(), []*bls.PublicKey{pk}, []*bls.Signature{sig}, [][]byte{msg})
	if err != nil {
		t.Fatalf("verify batch: %v", err)
	}
	if len(results) != 1 || !results[0] {
		t.Fatalf("results = %v, want [true]", results)
	}
}

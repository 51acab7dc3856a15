package wire

import (
	"testing"

	"github.com/svnnchain/svnn/pkg/chain"
	"github.com/svnnchain/svnn/pkg/crypto/bls"
	"github.com/svnnchain/svnn/pkg/qc"
)

func TestVoteMessageRoundTrip(t *testing.T) {
	sk, pk, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	sig, err := sk.Sign([]byte("message"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	v := &qc.Vote{BlockID: chain.BlockID{1, 2, 3}, FinalizerKey: pk, Strong: true, Signature: sig}
	msg := FromVote(v)

	data, err := msg.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(data) != VoteMessageSize {
		t.Fatalf("len(data) = %d, want %d", len(data), VoteMessageSize)
	}

	var decoded VoteMessage
	if err := decoded.UnmarshalBinary(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.BlockID != v.BlockID || decoded.Strong != v.Strong {
		t.Fatal("decoded fields do not match original vote")
	}

	roundTripped, err := decoded.ToVote()
	if err != nil {
		t.Fatalf("to vote: %v", err)
	}
	if !roundTripped.FinalizerKey.Equal(pk) {
		t.Fatal("round-tripped public key does not match original")
	}
}

func TestUnmarshalRejectsWrongSize(t *testing.T) {
	var m VoteMessage
	err := m.UnmarshalBinary(make([]byte, 10))
	if err == nil {
		t.Fatal("expected error for undersized message")
	}
}

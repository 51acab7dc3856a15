// Package wire defines the on-the-wire encodings for messages exchanged
// between finality-engine peers: today, just the vote message.
package wire

import (
	"fmt"

	"github.com/svnnchain/svnn/pkg/chain"
	"github.com/svnnchain/svnn/pkg/crypto/bls"
	"github.com/svnnchain/svnn/pkg/qc"
	"github.com/svnnchain/svnn/pkg/svnnerr"
)

// VoteMessageSize is the fixed wire size of a vote message: 32-byte
// block id, 96-byte G1 finalizer key, 1-byte strong flag, 192-byte G2
// signature.
const VoteMessageSize = 32 + bls.PublicKeySize + 1 + bls.SignatureSize

// VoteMessage is the wire encoding of a finalizer vote:
// { block_id: [u8;32], finalizer_key: [u8;96], strong: bool, signature: [u8;192] }.
type VoteMessage struct {
	BlockID      chain.BlockID
	FinalizerKey [bls.PublicKeySize]byte
	Strong       bool
	Signature    [bls.SignatureSize]byte
}

// MarshalBinary encodes the vote message to its fixed-size wire form.
func (m *VoteMessage) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, VoteMessageSize)
	buf = append(buf, m.BlockID[:]...)
	buf = append(buf, m.FinalizerKey[:]...)
	if m.Strong {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, m.Signature[:]...)
	return buf, nil
}

// UnmarshalBinary decodes a vote message from its fixed-size wire form.
func (m *VoteMessage) UnmarshalBinary(data []byte) error {
	if len(data) != VoteMessageSize {
		return fmt.Errorf("%w: vote message is %d bytes, want %d", svnnerr.ErrMalformedHeader, len(data), VoteMessageSize)
	}
	offset := 0
	copy(m.BlockID[:], data[offset:offset+32])
	offset += 32
	copy(m.FinalizerKey[:], data[offset:offset+bls.PublicKeySize])
	offset += bls.PublicKeySize
	m.Strong = data[offset] != 0
	offset++
	copy(m.Signature[:], data[offset:offset+bls.SignatureSize])
	return nil
}

// ToVote decodes a wire message into a qc.Vote, parsing and subgroup-
// checking the embedded public key and signature. Malformed or
// off-curve points are rejected here, before the message ever reaches
// the aggregator.
func (m *VoteMessage) ToVote() (*qc.Vote, error) {
	if err := bls.ValidateBLSPublicKeySubgroup(m.FinalizerKey[:]); err != nil {
		return nil, err
	}
	if err := bls.ValidateBLSSignatureSubgroup(m.Signature[:]); err != nil {
		return nil, err
	}

	pk, err := bls.PublicKeyFromBytes(m.FinalizerKey[:])
	if err != nil {
		return nil, err
	}
	sig, err := bls.SignatureFromBytes(m.Signature[:])
	if err != nil {
		return nil, err
	}

	return &qc.Vote{
		BlockID:      m.BlockID,
		FinalizerKey: pk,
		Strong:       m.Strong,
		Signature:    sig,
	}, nil
}

// FromVote encodes a qc.Vote for transmission.
func FromVote(v *qc.Vote) *VoteMessage {
	m := &VoteMessage{BlockID: v.BlockID, Strong: v.Strong}
	copy(m.FinalizerKey[:], v.FinalizerKey.Bytes())
	copy(m.Signature[:], v.Signature.Bytes())
	return m
}

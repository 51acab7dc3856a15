// BLS12-381 signature primitives for finalizer voting.
//
// This package provides:
// - Key generation (private/public key pairs)
// - Signing and verification
// - Signature aggregation (multiple signatures into a single signature)
// - Public key aggregation
// - BLS12-381 curve operations
//
// Public keys live on G1 (96 bytes, uncompressed) and signatures live on G2
// (192 bytes, uncompressed): public keys sit on the smaller, cheaper group,
// and signatures and their aggregation on G2. This matches the
// convention used by Ethereum consensus-layer BLS and is kept here so wire
// bytes agree with any peer implementation bit-for-bit. Hash-to-curve uses
// gnark-crypto's standardized HashToG2, not a hand-rolled "hash and pray"
// loop, so independently written verifiers derive the same curve point
// from the same message.
package bls

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

var (
	initOnce sync.Once

	g1Gen bls12381.G1Affine
	g2Gen bls12381.G2Affine
)

// Domain separation tags, one per message class a finalizer ever signs.
const (
	DomainVote       = "SVNN_FINALITY_VOTE_V1"
	DomainProposal   = "SVNN_BLOCK_PROPOSAL_V1"
	DomainSync       = "SVNN_SYNC_V1"
	DomainAttestation = "SVNN_ATTESTATION_V1"
)

// Size constants. Public keys are uncompressed G1 affine points, signatures
// are uncompressed G2 affine points.
const (
	PrivateKeySize = 32  // scalar in Fr
	PublicKeySize  = 96  // G1 point, uncompressed
	SignatureSize  = 192 // G2 point, uncompressed
)

// hashToG2DST is the hash-to-curve domain separation tag, distinct from the
// per-message-class signing domains above: it binds the curve mapping
// itself, not the message semantics.
const hashToG2DST = "SVNN_BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_"

// Initialize prepares package-level generator points. Safe to call
// multiple times; only runs once.
func Initialize() error {
	initOnce.Do(func() {
		_, _, g1GenPoint, g2GenPoint := bls12381.Generators()
		g1Gen = g1GenPoint
		g2Gen = g2GenPoint
	})
	return nil
}

// PrivateKey is a BLS private key: a scalar in Fr.
type PrivateKey struct {
	scalar fr.Element
}

// PublicKey is a BLS public key: a point on G1.
type PublicKey struct {
	point bls12381.G1Affine
}

// Signature is a BLS signature: a point on G2.
type Signature struct {
	point bls12381.G2Affine
}

// GenerateKeyPair generates a new BLS key pair from a secure random source.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	if err := Initialize(); err != nil {
		return nil, nil, fmt.Errorf("initialize bls: %w", err)
	}

	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("generate random scalar: %w", err)
	}

	privateKey := &PrivateKey{scalar: sk}
	return privateKey, privateKey.PublicKey(), nil
}

// GenerateKeyPairFromSeed derives a deterministic key pair from a seed.
// Used for finalizer key provisioning and tests.
func GenerateKeyPairFromSeed(seed []byte) (*PrivateKey, *PublicKey, error) {
	if err := Initialize(); err != nil {
		return nil, nil, fmt.Errorf("initialize bls: %w", err)
	}
	if len(seed) < 32 {
		return nil, nil, errors.New("seed must be at least 32 bytes")
	}

	hash := sha256.Sum256(seed)
	var sk fr.Element
	sk.SetBytes(hash[:])

	privateKey := &PrivateKey{scalar: sk}
	return privateKey, privateKey.PublicKey(), nil
}

// PrivateKeyFromBytes deserializes a private key.
func PrivateKeyFromBytes(data []byte) (*PrivateKey, error) {
	if err := Initialize(); err != nil {
		return nil, fmt.Errorf("initialize bls: %w", err)
	}
	if len(data) != PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: got %d, want %d", len(data), PrivateKeySize)
	}
	var sk fr.Element
	sk.SetBytes(data)
	return &PrivateKey{scalar: sk}, nil
}

// PrivateKeyFromHex deserializes a private key from a hex string.
func PrivateKeyFromHex(hexStr string) (*PrivateKey, error) {
	data, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return PrivateKeyFromBytes(data)
}

// PublicKeyFromBytes deserializes a public key from its uncompressed G1
// encoding.
func PublicKeyFromBytes(data []byte) (*PublicKey, error) {
	if err := Initialize(); err != nil {
		return nil, fmt.Errorf("initialize bls: %w", err)
	}
	if len(data) != PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: got %d, want %d", len(data), PublicKeySize)
	}
	var pk bls12381.G1Affine
	if err := pk.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("deserialize public key: %w", err)
	}
	return &PublicKey{point: pk}, nil
}

// PublicKeyFromHex deserializes a public key from a hex string.
func PublicKeyFromHex(hexStr string) (*PublicKey, error) {
	data, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return PublicKeyFromBytes(data)
}

// SignatureFromBytes deserializes a signature from its uncompressed G2
// encoding.
func SignatureFromBytes(data []byte) (*Signature, error) {
	if err := Initialize(); err != nil {
		return nil, fmt.Errorf("initialize bls: %w", err)
	}
	if len(data) != SignatureSize {
		return nil, fmt.Errorf("invalid signature size: got %d, want %d", len(data), SignatureSize)
	}
	var sig bls12381.G2Affine
	if err := sig.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("deserialize signature: %w", err)
	}
	return &Signature{point: sig}, nil
}

// SignatureFromHex deserializes a signature from a hex string.
func SignatureFromHex(hexStr string) (*Signature, error) {
	data, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return SignatureFromBytes(data)
}

// Bytes returns the serialized private key.
func (sk *PrivateKey) Bytes() []byte {
	b := sk.scalar.Bytes()
	return b[:]
}

// Hex returns the private key as a hex string.
func (sk *PrivateKey) Hex() string {
	return hex.EncodeToString(sk.Bytes())
}

// PublicKey derives pk = sk * G1 from this private key.
func (sk *PrivateKey) PublicKey() *PublicKey {
	var pk bls12381.G1Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	pk.ScalarMultiplication(&g1Gen, &skBig)
	return &PublicKey{point: pk}
}

// Sign computes sig = sk * HashToG2(message).
func (sk *PrivateKey) Sign(message []byte) (*Signature, error) {
	h, err := hashToG2(message)
	if err != nil {
		return nil, fmt.Errorf("hash to curve: %w", err)
	}

	var sig bls12381.G2Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	sig.ScalarMultiplication(&h, &skBig)

	return &Signature{point: sig}, nil
}

// SignWithDomain signs a message after mixing in a domain separation tag.
func (sk *PrivateKey) SignWithDomain(message []byte, domain string) (*Signature, error) {
	return sk.Sign(computeDomainMessage(domain, message))
}

// Bytes returns the uncompressed G1 encoding of the public key.
func (pk *PublicKey) Bytes() []byte {
	b := pk.point.RawBytes()
	return b[:]
}

// Hex returns the public key as a hex string.
func (pk *PublicKey) Hex() string {
	return hex.EncodeToString(pk.Bytes())
}

// Verify checks e(pk, H(message)) == e(G1, sig) via a single pairing check.
func (pk *PublicKey) Verify(sig *Signature, message []byte) bool {
	h, err := hashToG2(message)
	if err != nil {
		return false
	}

	var negG1 bls12381.G1Affine
	negG1.Neg(&g1Gen)

	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{pk.point, negG1},
		[]bls12381.G2Affine{h, sig.point},
	)
	if err != nil {
		return false
	}
	return ok
}

// VerifyWithDomain verifies a signature produced by SignWithDomain.
func (pk *PublicKey) VerifyWithDomain(sig *Signature, message []byte, domain string) bool {
	return pk.Verify(sig, computeDomainMessage(domain, message))
}

// Equal reports whether two public keys are the same curve point.
func (pk *PublicKey) Equal(other *PublicKey) bool {
	return pk.point.Equal(&other.point)
}

// Bytes returns the uncompressed G2 encoding of the signature.
func (sig *Signature) Bytes() []byte {
	b := sig.point.RawBytes()
	return b[:]
}

// Hex returns the signature as a hex string.
func (sig *Signature) Hex() string {
	return hex.EncodeToString(sig.Bytes())
}

// AggregateSignatures sums signatures via G2 point addition.
func AggregateSignatures(signatures []*Signature) (*Signature, error) {
	if err := Initialize(); err != nil {
		return nil, fmt.Errorf("initialize bls: %w", err)
	}
	if len(signatures) == 0 {
		return nil, errors.New("no signatures to aggregate")
	}

	var agg bls12381.G2Jac
	agg.FromAffine(&signatures[0].point)
	for _, s := range signatures[1:] {
		var jac bls12381.G2Jac
		jac.FromAffine(&s.point)
		agg.AddAssign(&jac)
	}

	var result bls12381.G2Affine
	result.FromJacobian(&agg)
	return &Signature{point: result}, nil
}

// AggregatePublicKeys sums public keys via G1 point addition.
func AggregatePublicKeys(publicKeys []*PublicKey) (*PublicKey, error) {
	if err := Initialize(); err != nil {
		return nil, fmt.Errorf("initialize bls: %w", err)
	}
	if len(publicKeys) == 0 {
		return nil, errors.New("no public keys to aggregate")
	}

	var agg bls12381.G1Jac
	agg.FromAffine(&publicKeys[0].point)
	for _, pk := range publicKeys[1:] {
		var jac bls12381.G1Jac
		jac.FromAffine(&pk.point)
		agg.AddAssign(&jac)
	}

	var result bls12381.G1Affine
	result.FromJacobian(&agg)
	return &PublicKey{point: result}, nil
}

// VerifyAggregateSignature verifies an aggregated signature against the
// aggregate of publicKeys, all of whom must have signed the same message.
func VerifyAggregateSignature(aggSig *Signature, publicKeys []*PublicKey, message []byte) bool {
	if err := Initialize(); err != nil {
		return false
	}
	if len(publicKeys) == 0 {
		return false
	}
	aggPk, err := AggregatePublicKeys(publicKeys)
	if err != nil {
		return false
	}
	return aggPk.Verify(aggSig, message)
}

// VerifyAggregateSignatureWithDomain verifies with domain separation.
func VerifyAggregateSignatureWithDomain(aggSig *Signature, publicKeys []*PublicKey, message []byte, domain string) bool {
	return VerifyAggregateSignature(aggSig, publicKeys, computeDomainMessage(domain, message))
}

// hashToG2 maps a message to a G2 point using the standard SSWU hash-to-curve
// construction, so independently written implementations signing the same
// message land on the same curve point.
func hashToG2(message []byte) (bls12381.G2Affine, error) {
	return bls12381.HashToG2(message, []byte(hashToG2DST))
}

func computeDomainMessage(domain string, message []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write(message)
	return h.Sum(nil)
}

// ComputeMessageHash computes a deterministic hash over a domain tag and one
// or more data segments, giving all finalizers the same bytes to sign.
func ComputeMessageHash(domain string, data ...[]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, d := range data {
		h.Write(d)
	}
	var result [32]byte
	copy(result[:], h.Sum(nil))
	return result
}

// GenerateRandomBytes returns n cryptographically secure random bytes.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ValidatePublicKey checks that data decodes to a public key.
func ValidatePublicKey(data []byte) error {
	_, err := PublicKeyFromBytes(data)
	return err
}

// ValidateSignature checks that data decodes to a signature.
func ValidateSignature(data []byte) error {
	_, err := SignatureFromBytes(data)
	return err
}

// IsValidPublicKeySize reports whether data is sized like a public key.
func IsValidPublicKeySize(data []byte) bool {
	return len(data) == PublicKeySize
}

// IsValidSignatureSize reports whether data is sized like a signature.
func IsValidSignatureSize(data []byte) bool {
	return len(data) == SignatureSize
}

// IsValidPrivateKeySize reports whether data is sized like a private key.
func IsValidPrivateKeySize(data []byte) bool {
	return len(data) == PrivateKeySize
}

// ValidateBLSPublicKeySubgroup performs full validation of a BLS12-381
// public key: valid encoding, on-curve, not identity, and in the correct
// G1 subgroup. The subgroup check defeats rogue-key attacks against
// aggregate signature verification. Fails closed.
func ValidateBLSPublicKeySubgroup(pubKeyBytes []byte) error {
	if err := Initialize(); err != nil {
		return fmt.Errorf("initialize bls: %w", err)
	}
	if len(pubKeyBytes) != PublicKeySize {
		return fmt.Errorf("invalid public key size: got %d, expected %d", len(pubKeyBytes), PublicKeySize)
	}

	var pk bls12381.G1Affine
	if err := pk.Unmarshal(pubKeyBytes); err != nil {
		return fmt.Errorf("invalid public key encoding: %w", err)
	}
	if !pk.IsOnCurve() {
		return errors.New("public key not on BLS12-381 G1 curve")
	}
	if pk.IsInfinity() {
		return errors.New("public key is identity point")
	}
	if !pk.IsInSubGroup() {
		return errors.New("public key not in correct G1 subgroup")
	}
	return nil
}

// ValidateBLSSignatureSubgroup performs full validation of a BLS12-381
// signature: valid encoding, on-curve, not identity, and in the correct
// G2 subgroup. Fails closed.
func ValidateBLSSignatureSubgroup(sigBytes []byte) error {
	if err := Initialize(); err != nil {
		return fmt.Errorf("initialize bls: %w", err)
	}
	if len(sigBytes) != SignatureSize {
		return fmt.Errorf("invalid signature size: got %d, expected %d", len(sigBytes), SignatureSize)
	}

	var sig bls12381.G2Affine
	if err := sig.Unmarshal(sigBytes); err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	if !sig.IsOnCurve() {
		return errors.New("signature not on BLS12-381 G2 curve")
	}
	if sig.IsInfinity() {
		return errors.New("signature is identity point")
	}
	if !sig.IsInSubGroup() {
		return errors.New("signature not in correct G2 subgroup")
	}
	return nil
}

// IsValidPublicKey reports whether pk is on-curve, non-identity, and in
// the correct subgroup.
func (pk *PublicKey) IsValidPublicKey() bool {
	if pk == nil {
		return false
	}
	return pk.point.IsOnCurve() && !pk.point.IsInfinity() && pk.point.IsInSubGroup()
}

// IsValidSignature reports whether sig is on-curve, non-identity, and in
// the correct subgroup.
func (sig *Signature) IsValidSignature() bool {
	if sig == nil {
		return false
	}
	return sig.point.IsOnCurve() && !sig.point.IsInfinity() && sig.point.IsInSubGroup()
}

// ValidateAllPublicKeys validates every key in pubKeys, returning the index
// of the first invalid entry.
func ValidateAllPublicKeys(pubKeys [][]byte) error {
	for i, pk := range pubKeys {
		if err := ValidateBLSPublicKeySubgroup(pk); err != nil {
			return fmt.Errorf("invalid public key at index %d: %w", i, err)
		}
	}
	return nil
}

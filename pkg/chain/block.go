// Package chain defines the immutable block header and block identity
// used throughout the finality engine: how a header is packed, how its
// id is derived, and how typed header extensions are decoded.
package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/svnnchain/svnn/pkg/svnnerr"
)

// BlockID is a 32-byte block digest. Its first 4 bytes encode the block
// number big-endian; the remaining 28 are a content hash, so the number
// can be read directly off the id without a lookup.
type BlockID [32]byte

// BlockNum extracts the block number spliced into the id's first 4 bytes.
func (id BlockID) BlockNum() uint32 {
	return binary.BigEndian.Uint32(id[:4])
}

// Less implements the "sha256_less" big-endian byte comparison used as
// the final tiebreak in best-branch ordering.
func (id BlockID) Less(other BlockID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// IsZero reports whether id is the zero value (used to represent "no
// block" / the sentinel ancestor of the genesis root).
func (id BlockID) IsZero() bool {
	return id == BlockID{}
}

func (id BlockID) String() string {
	return fmt.Sprintf("%x", [32]byte(id))
}

// ExtensionKind identifies the type of a header extension. Unknown kinds
// are preserved verbatim but never interpreted.
type ExtensionKind uint16

// Fixed extension ids.
const (
	ExtensionKindInstantFinality ExtensionKind = 0x0001
	ExtensionKindAdditionalSigs  ExtensionKind = 0x0002
)

// Extension is a single typed, opaquely-encoded header extension.
type Extension struct {
	Kind ExtensionKind
	Data []byte
}

// Header is the immutable portion of a block: everything that is hashed
// to produce the block's id.
type Header struct {
	Producer         string
	Timestamp        uint64 // monotonic 0.5s slot count
	Previous         BlockID
	ActionMRoot      [32]byte
	TransactionMRoot [32]byte
	ScheduleVersion  uint32
	BlockNum         uint32
	Extensions       []Extension
}

// Pack produces the canonical byte encoding of the header, excluding its
// own id, that is hashed to derive BlockID. Field order is fixed; this
// must never change without a protocol version bump.
func (h *Header) Pack() []byte {
	buf := make([]byte, 0, 128+len(h.Producer))

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(h.Producer)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, h.Producer...)

	var u64Buf [8]byte
	binary.BigEndian.PutUint64(u64Buf[:], h.Timestamp)
	buf = append(buf, u64Buf[:]...)

	buf = append(buf, h.Previous[:]...)
	buf = append(buf, h.ActionMRoot[:]...)
	buf = append(buf, h.TransactionMRoot[:]...)

	var u32Buf [4]byte
	binary.BigEndian.PutUint32(u32Buf[:], h.ScheduleVersion)
	buf = append(buf, u32Buf[:]...)
	binary.BigEndian.PutUint32(u32Buf[:], h.BlockNum)
	buf = append(buf, u32Buf[:]...)

	binary.BigEndian.PutUint32(u32Buf[:], uint32(len(h.Extensions)))
	buf = append(buf, u32Buf[:]...)
	for _, ext := range h.Extensions {
		var kindBuf [2]byte
		binary.BigEndian.PutUint16(kindBuf[:], uint16(ext.Kind))
		buf = append(buf, kindBuf[:]...)
		binary.BigEndian.PutUint32(u32Buf[:], uint32(len(ext.Data)))
		buf = append(buf, u32Buf[:]...)
		buf = append(buf, ext.Data...)
	}

	return buf
}

// ID derives the block's id: sha256 of the packed header, with the block
// number spliced into the first 4 bytes big-endian, overriding whatever
// those bytes hashed to. This keeps block_num(id) == h.BlockNum an
// invariant of every valid header without a second hash pass.
func (h *Header) ID() BlockID {
	digest := sha256.Sum256(h.Pack())
	var id BlockID
	copy(id[:], digest[:])
	binary.BigEndian.PutUint32(id[:4], h.BlockNum)
	return id
}

// Validate checks structural invariants decodable from the header alone:
// at most one instant-finality extension, and every extension kind
// appearing at most once.
func (h *Header) Validate() error {
	seen := make(map[ExtensionKind]bool, len(h.Extensions))
	for _, ext := range h.Extensions {
		if seen[ext.Kind] {
			return fmt.Errorf("%w: kind %d", svnnerr.ErrDuplicateExtensionKind, ext.Kind)
		}
		seen[ext.Kind] = true
	}
	return nil
}

// FindExtension returns the first extension of the given kind, or false
// if none is present.
func (h *Header) FindExtension(kind ExtensionKind) (Extension, bool) {
	for _, ext := range h.Extensions {
		if ext.Kind == kind {
			return ext, true
		}
	}
	return Extension{}, false
}

// QCClaim is the proposer's claim, embedded in the IF extension, that a
// quorum certificate exists for a given ancestor block.
type QCClaim struct {
	BlockNum uint32
	IsStrong bool
}

// InstantFinalityExtension carries the QC claim and, optionally, a new
// or updated finalizer policy. NewPolicyBytes/NewPendingPolicyDiff are left as raw
// bytes here; pkg/finalizer owns decoding them into a Policy.
type InstantFinalityExtension struct {
	QCClaim             QCClaim
	NewPolicyBytes      []byte // nil if no new active policy on this block
	NewPendingPolicyDiff []byte // nil if no pending policy change
}

// Pack encodes the IF extension to bytes.
func (e *InstantFinalityExtension) Pack() []byte {
	buf := make([]byte, 0, 16+len(e.NewPolicyBytes)+len(e.NewPendingPolicyDiff))

	var u32Buf [4]byte
	binary.BigEndian.PutUint32(u32Buf[:], e.QCClaim.BlockNum)
	buf = append(buf, u32Buf[:]...)
	if e.QCClaim.IsStrong {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	binary.BigEndian.PutUint32(u32Buf[:], uint32(len(e.NewPolicyBytes)))
	buf = append(buf, u32Buf[:]...)
	buf = append(buf, e.NewPolicyBytes...)

	binary.BigEndian.PutUint32(u32Buf[:], uint32(len(e.NewPendingPolicyDiff)))
	buf = append(buf, u32Buf[:]...)
	buf = append(buf, e.NewPendingPolicyDiff...)

	return buf
}

// UnpackInstantFinalityExtension decodes bytes produced by Pack.
func UnpackInstantFinalityExtension(data []byte) (*InstantFinalityExtension, error) {
	if len(data) < 9 {
		return nil, fmt.Errorf("%w: IF extension too short", svnnerr.ErrMalformedHeader)
	}

	ext := &InstantFinalityExtension{}
	ext.QCClaim.BlockNum = binary.BigEndian.Uint32(data[0:4])
	ext.QCClaim.IsStrong = data[4] != 0

	offset := 5
	policyLen := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	if uint32(len(data)-offset) < policyLen {
		return nil, fmt.Errorf("%w: IF extension policy length overruns buffer", svnnerr.ErrMalformedHeader)
	}
	if policyLen > 0 {
		ext.NewPolicyBytes = append([]byte(nil), data[offset:offset+int(policyLen)]...)
	}
	offset += int(policyLen)

	if len(data)-offset < 4 {
		return nil, fmt.Errorf("%w: IF extension missing pending-diff length", svnnerr.ErrMalformedHeader)
	}
	diffLen := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	if uint32(len(data)-offset) < diffLen {
		return nil, fmt.Errorf("%w: IF extension pending-diff length overruns buffer", svnnerr.ErrMalformedHeader)
	}
	if diffLen > 0 {
		ext.NewPendingPolicyDiff = append([]byte(nil), data[offset:offset+int(diffLen)]...)
	}

	return ext, nil
}

// FindInstantFinalityExtension decodes the header's IF extension, if any.
func (h *Header) FindInstantFinalityExtension() (*InstantFinalityExtension, bool, error) {
	raw, ok := h.FindExtension(ExtensionKindInstantFinality)
	if !ok {
		return nil, false, nil
	}
	ext, err := UnpackInstantFinalityExtension(raw.Data)
	if err != nil {
		return nil, true, err
	}
	return ext, true, nil
}

// AdditionalSignatures decodes the block-extension carrying extra G2
// signatures a proposer co-signed with, one 192-byte signature per entry.
func AdditionalSignatures(data []byte) ([][]byte, error) {
	const sigSize = 192
	if len(data)%sigSize != 0 {
		return nil, fmt.Errorf("%w: additional-signatures extension not a multiple of %d bytes", svnnerr.ErrMalformedHeader, sigSize)
	}
	n := len(data) / sigSize
	sigs := make([][]byte, n)
	for i := 0; i < n; i++ {
		sigs[i] = append([]byte(nil), data[i*sigSize:(i+1)*sigSize]...)
	}
	return sigs, nil
}

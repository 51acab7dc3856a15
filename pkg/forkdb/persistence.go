package forkdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/svnnchain/svnn/pkg/blockstate"
	"github.com/svnnchain/svnn/pkg/chain"
	"github.com/svnnchain/svnn/pkg/svnnerr"
)

// File format: magic(u32) | version(u32) | packed root block-state |
// varint n | n packed block-states, validated ones first, each
// sub-range in its own best-branch order | 32-byte head id.
const (
	fileMagicSavanna uint32 = 0x53564E31 // "SVN1"
	minSupportedVersion uint32 = 1
	maxSupportedVersion uint32 = 1
	currentVersion       uint32 = 1
)

func packBlockState(bs *blockstate.BlockState) []byte {
	headerBytes := bs.Header.Pack()

	var out bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(headerBytes)))
	out.Write(lenBuf[:])
	out.Write(headerBytes)

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], bs.ActivePolicyGeneration)
	out.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], bs.PendingPolicyGeneration)
	out.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], bs.LastQCBlockNum)
	out.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], bs.LastFinalBlockNum)
	out.Write(u32[:])

	out.Write(bs.FinalityDigest[:])
	out.Write(bs.FinalityMRoot[:])
	out.Write(bs.BaseDigest[:])

	if bs.QCClaimIsStrong {
		out.WriteByte(1)
	} else {
		out.WriteByte(0)
	}
	if bs.Validated {
		out.WriteByte(1)
	} else {
		out.WriteByte(0)
	}

	return out.Bytes()
}

func unpackBlockState(data []byte) (*blockstate.BlockState, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: truncated block-state record", svnnerr.ErrSafetyStateCorrupted)
	}
	headerLen := binary.BigEndian.Uint32(data[:4])
	offset := 4
	if uint32(len(data)-offset) < headerLen {
		return nil, fmt.Errorf("%w: block-state header length overruns buffer", svnnerr.ErrSafetyStateCorrupted)
	}

	h, err := unpackHeader(data[offset : offset+int(headerLen)])
	if err != nil {
		return nil, err
	}
	offset += int(headerLen)

	const trailerSize = 4*4 + 32*3 + 2
	if len(data)-offset < trailerSize {
		return nil, fmt.Errorf("%w: truncated block-state trailer", svnnerr.ErrSafetyStateCorrupted)
	}

	bs := &blockstate.BlockState{Header: h, ID: h.ID()}
	bs.ActivePolicyGeneration = binary.BigEndian.Uint32(data[offset:])
	offset += 4
	bs.PendingPolicyGeneration = binary.BigEndian.Uint32(data[offset:])
	offset += 4
	bs.LastQCBlockNum = binary.BigEndian.Uint32(data[offset:])
	offset += 4
	bs.LastFinalBlockNum = binary.BigEndian.Uint32(data[offset:])
	offset += 4

	copy(bs.FinalityDigest[:], data[offset:offset+32])
	offset += 32
	copy(bs.FinalityMRoot[:], data[offset:offset+32])
	offset += 32
	copy(bs.BaseDigest[:], data[offset:offset+32])
	offset += 32

	bs.QCClaimIsStrong = data[offset] != 0
	offset++
	bs.Validated = data[offset] != 0

	bs.QCClaim = chain.QCClaim{BlockNum: bs.LastQCBlockNum, IsStrong: bs.QCClaimIsStrong}

	return bs, nil
}

// unpackHeader is a minimal re-decoder for the fixed-plus-extensions
// header layout chain.Header.Pack produces.
func unpackHeader(data []byte) (*chain.Header, error) {
	r := bytes.NewReader(data)

	var l uint32
	if err := binary.Read(r, binary.BigEndian, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", svnnerr.ErrMalformedHeader, err)
	}
	producer := make([]byte, l)
	if _, err := io.ReadFull(r, producer); err != nil {
		return nil, fmt.Errorf("%w: %v", svnnerr.ErrMalformedHeader, err)
	}

	h := &chain.Header{Producer: string(producer)}
	if err := binary.Read(r, binary.BigEndian, &h.Timestamp); err != nil {
		return nil, fmt.Errorf("%w: %v", svnnerr.ErrMalformedHeader, err)
	}
	if _, err := io.ReadFull(r, h.Previous[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", svnnerr.ErrMalformedHeader, err)
	}
	if _, err := io.ReadFull(r, h.ActionMRoot[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", svnnerr.ErrMalformedHeader, err)
	}
	if _, err := io.ReadFull(r, h.TransactionMRoot[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", svnnerr.ErrMalformedHeader, err)
	}
	if err := binary.Read(r, binary.BigEndian, &h.ScheduleVersion); err != nil {
		return nil, fmt.Errorf("%w: %v", svnnerr.ErrMalformedHeader, err)
	}
	if err := binary.Read(r, binary.BigEndian, &h.BlockNum); err != nil {
		return nil, fmt.Errorf("%w: %v", svnnerr.ErrMalformedHeader, err)
	}

	var numExt uint32
	if err := binary.Read(r, binary.BigEndian, &numExt); err != nil {
		return nil, fmt.Errorf("%w: %v", svnnerr.ErrMalformedHeader, err)
	}
	h.Extensions = make([]chain.Extension, numExt)
	for i := range h.Extensions {
		var kind uint16
		if err := binary.Read(r, binary.BigEndian, &kind); err != nil {
			return nil, fmt.Errorf("%w: %v", svnnerr.ErrMalformedHeader, err)
		}
		var extLen uint32
		if err := binary.Read(r, binary.BigEndian, &extLen); err != nil {
			return nil, fmt.Errorf("%w: %v", svnnerr.ErrMalformedHeader, err)
		}
		extData := make([]byte, extLen)
		if _, err := io.ReadFull(r, extData); err != nil {
			return nil, fmt.Errorf("%w: %v", svnnerr.ErrMalformedHeader, err)
		}
		h.Extensions[i] = chain.Extension{Kind: chain.ExtensionKind(kind), Data: extData}
	}

	return h, nil
}

// Save serializes the database to the §6 on-disk format: magic, version,
// the root block-state, a varint count, that many block-states
// (validated ones first, each sub-range in best-branch order), and the
// head id.
func (db *ForkDB) Save() ([]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var buf bytes.Buffer
	var u32 [4]byte

	binary.BigEndian.PutUint32(u32[:], fileMagicSavanna)
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], currentVersion)
	buf.Write(u32[:])

	rootBytes := packBlockState(db.root)
	binary.BigEndian.PutUint32(u32[:], uint32(len(rootBytes)))
	buf.Write(u32[:])
	buf.Write(rootBytes)

	var validated, rest []*blockstate.BlockState
	db.ordered.Descend(func(bs *blockstate.BlockState) bool {
		if bs.Validated {
			validated = append(validated, bs)
		} else {
			rest = append(rest, bs)
		}
		return true
	})
	all := append(validated, rest...)

	varintBuf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(varintBuf, uint64(len(all)))
	buf.Write(varintBuf[:n])

	for _, bs := range all {
		packed := packBlockState(bs)
		binary.BigEndian.PutUint32(u32[:], uint32(len(packed)))
		buf.Write(u32[:])
		buf.Write(packed)
	}

	buf.Write(db.head.ID[:])

	return buf.Bytes(), nil
}

// Load rebuilds a ForkDB from bytes written by Save. All non-root
// blocks are re-added with validated=false per the load contract; the
// persisted head id is then restored by marking its ancestor chain
// valid, since head must always be the unique preferred validated
// candidate.
func Load(data []byte) (*ForkDB, error) {
	r := bytes.NewReader(data)

	var magic, version uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("%w: %v", svnnerr.ErrSafetyStateCorrupted, err)
	}
	if magic != fileMagicSavanna {
		return nil, fmt.Errorf("%w: wrong magic", svnnerr.ErrSafetyStateCorrupted)
	}
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: %v", svnnerr.ErrSafetyStateCorrupted, err)
	}
	if version < minSupportedVersion || version > maxSupportedVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", svnnerr.ErrSafetyStateCorrupted, version)
	}

	rootState, err := readLengthPrefixedBlockState(r)
	if err != nil {
		return nil, err
	}

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", svnnerr.ErrSafetyStateCorrupted, err)
	}

	db := New(rootState)

	blocks := make([]*blockstate.BlockState, 0, count)
	for i := uint64(0); i < count; i++ {
		bs, err := readLengthPrefixedBlockState(r)
		if err != nil {
			return nil, err
		}
		bs.Validated = false
		blocks = append(blocks, bs)
	}

	// Re-add in an order where every parent precedes its children: blocks
	// were saved in best-branch order, not topological order, so insert
	// in passes until every block links in.
	pending := blocks
	for len(pending) > 0 {
		progressed := false
		var next []*blockstate.BlockState
		for _, bs := range pending {
			if err := db.Add(bs, false, true); err == nil {
				progressed = true
			} else {
				next = append(next, bs)
			}
		}
		if !progressed {
			return nil, fmt.Errorf("%w: block-states do not chain to root", svnnerr.ErrSafetyStateCorrupted)
		}
		pending = next
	}

	var headID chain.BlockID
	if _, err := io.ReadFull(r, headID[:]); err != nil {
		return nil, fmt.Errorf("%w: missing head id", svnnerr.ErrSafetyStateCorrupted)
	}

	headState, ok := db.byID[headID]
	if !ok {
		return nil, fmt.Errorf("%w: persisted head id not found among loaded blocks", svnnerr.ErrSafetyStateCorrupted)
	}

	// Restore validated flags along head's ancestry; the rest stay false
	// until the node re-validates them.
	cur := headState
	for {
		if err := db.MarkValid(cur.ID); err != nil {
			return nil, err
		}
		if cur.ID == db.root.ID || cur.Header.Previous == db.root.ID {
			break
		}
		parent, ok := db.byID[cur.Header.Previous]
		if !ok {
			break
		}
		cur = parent
	}

	return db, nil
}

func readLengthPrefixedBlockState(r *bytes.Reader) (*blockstate.BlockState, error) {
	var l uint32
	if err := binary.Read(r, binary.BigEndian, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", svnnerr.ErrSafetyStateCorrupted, err)
	}
	data := make([]byte, l)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("%w: %v", svnnerr.ErrSafetyStateCorrupted, err)
	}
	return unpackBlockState(data)
}

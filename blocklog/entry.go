// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package blocklog

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/antdaza/antdblocklog/chainblock"
)

// EntryMeta is the framing metadata of a v4 entry.
type EntryMeta struct {
	Size        uint32
	Compression chainblock.Compression
}

// OffsetToBlockStart returns how many bytes of framing precede the block
// payload at the start of an entry: 4 (size) + 1 (compression) for v4,
// none for legacy versions.
func OffsetToBlockStart(version uint32) int {
	if version >= 4 {
		return 5
	}
	return 0
}

// WriteEntryV4 packs block into a v4 entry starting at startPos and returns
// the encoded bytes, including the trailing back-pointer.
func WriteEntryV4(startPos uint64, block *chainblock.Block) ([]byte, error) {
	maxPack, err := block.MaxPrunedPackSize(chainblock.CompressionNone)
	if err != nil {
		return nil, fmt.Errorf("blocklog: max pruned pack size: %w", err)
	}
	bufLen := maxPack + 5
	size := uint32(bufLen + 8)

	buf := make([]byte, bufLen, bufLen+8)
	binary.LittleEndian.PutUint32(buf[0:4], size)
	buf[4] = byte(chainblock.CompressionNone)

	packed, err := block.Pack(chainblock.CompressionNone)
	if err != nil {
		return nil, fmt.Errorf("blocklog: pack block: %w", err)
	}
	if len(packed) > maxPack {
		return nil, fmt.Errorf("%w: packed block exceeds reserved payload size", ErrMalformedEntry)
	}
	copy(buf[5:], packed)
	// remainder stays zero-padded.

	backPointer := make([]byte, 8)
	binary.LittleEndian.PutUint64(backPointer, startPos)
	return append(buf, backPointer...), nil
}

// ReadEntryV4 decodes a v4 entry whose framing starts at data[0]. data must
// contain at least the full entry (size bytes). Returns the meta, whose
// Size is the entry's total on-disk length, and the decoded block.
func ReadEntryV4(data []byte) (EntryMeta, *chainblock.Block, error) {
	if len(data) < 5+8 {
		return EntryMeta{}, nil, fmt.Errorf("%w: entry shorter than minimum v4 framing", ErrMalformedEntry)
	}
	size := binary.LittleEndian.Uint32(data[0:4])
	compression := chainblock.Compression(data[4])
	if compression != chainblock.CompressionNone {
		return EntryMeta{}, nil, fmt.Errorf("%w: unsupported compression tag %d", ErrMalformedEntry, compression)
	}
	if uint64(size) < 5+8 || uint64(len(data)) < uint64(size) {
		return EntryMeta{}, nil, fmt.Errorf("%w: entry size %d out of range", ErrMalformedEntry, size)
	}

	payloadRegion := data[5 : uint64(size)-8]
	header, n, err := chainblock.UnpackHeader(payloadRegion)
	if err != nil {
		return EntryMeta{}, nil, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	if n > len(payloadRegion) {
		return EntryMeta{}, nil, fmt.Errorf("%w: header overruns payload region", ErrMalformedEntry)
	}

	var wire []rlpTxShim
	stream := newRLPStream(bytes.NewReader(payloadRegion[n:]))
	if err := stream.Decode(&wire); err != nil {
		return EntryMeta{}, nil, fmt.Errorf("%w: decode transactions: %v", ErrMalformedEntry, err)
	}
	txLen, err := rlpEncodedLen(wire)
	if err != nil {
		return EntryMeta{}, nil, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	consumed := n + txLen
	skip := len(payloadRegion) - consumed
	if skip < 0 {
		return EntryMeta{}, nil, fmt.Errorf("%w: negative skip after decode", ErrMalformedEntry)
	}

	txs := make([]chainblock.Transaction, len(wire))
	for i, w := range wire {
		txs[i] = chainblock.Transaction{Data: w.Data, ContextFreeData: w.ContextFreeData, Pruned: w.Pruned}
	}
	block := &chainblock.Block{Header: header, Transactions: txs}
	return EntryMeta{Size: size, Compression: compression}, block, nil
}

// BackPointerAt reads the trailing back-pointer of a v4 entry given its
// meta and starting position.
func BackPointerAt(data []byte, entryStart uint64, meta EntryMeta) (uint64, error) {
	bpOff := entryStart + uint64(meta.Size) - 8
	if bpOff+8 > uint64(len(data)) {
		return 0, fmt.Errorf("%w: back-pointer out of range", ErrMalformedEntry)
	}
	return binary.LittleEndian.Uint64(data[bpOff : bpOff+8]), nil
}

// ReadEntryLegacy decodes a v1-v3 entry: a packed block immediately
// followed by its back-pointer, with no size/compression framing.
func ReadEntryLegacy(data []byte) (*chainblock.Block, uint64, int, error) {
	header, n, err := chainblock.UnpackHeader(data)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	var wire []rlpTxShim
	stream := newRLPStream(bytes.NewReader(data[n:]))
	if err := stream.Decode(&wire); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: decode transactions: %v", ErrMalformedEntry, err)
	}
	txLen, err := rlpEncodedLen(wire)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	consumed := n + txLen
	if consumed+8 > len(data) {
		return nil, 0, 0, fmt.Errorf("%w: legacy entry truncated before back-pointer", ErrMalformedEntry)
	}
	backPointer := binary.LittleEndian.Uint64(data[consumed : consumed+8])
	txs := make([]chainblock.Transaction, len(wire))
	for i, w := range wire {
		txs[i] = chainblock.Transaction{Data: w.Data, ContextFreeData: w.ContextFreeData, Pruned: w.Pruned}
	}
	return &chainblock.Block{Header: header, Transactions: txs}, backPointer, consumed + 8, nil
}

// WriteEntryLegacy packs block as a v1-v3 entry: the packed block
// immediately followed by its back-pointer, with no size/compression
// framing.
func WriteEntryLegacy(startPos uint64, block *chainblock.Block) ([]byte, error) {
	packed, err := block.Pack(chainblock.CompressionNone)
	if err != nil {
		return nil, fmt.Errorf("blocklog: pack block: %w", err)
	}
	backPointer := make([]byte, 8)
	binary.LittleEndian.PutUint64(backPointer, startPos)
	return append(packed, backPointer...), nil
}

// blockNumAt derives a block number from raw entry bytes without
// deserializing the block: skip the version's framing, then read bytes
// [14,18) of the header (the big-endian prefix of Previous) and add one.
func blockNumAt(entry []byte, version uint32) (uint32, error) {
	off := OffsetToBlockStart(version)
	if len(entry) < off+18 {
		return 0, fmt.Errorf("%w: entry too short to derive block number", ErrMalformedEntry)
	}
	prevNum := binary.BigEndian.Uint32(entry[off+14 : off+18])
	return prevNum + 1, nil
}

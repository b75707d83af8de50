// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package blocklog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antdaza/antdblocklog/chainblock"
)

func buildTestBlock(t *testing.T, parent *chainblock.Block) *chainblock.Block {
	t.Helper()
	var parentHeader *chainblock.Header
	if parent != nil {
		parentHeader = parent.Header
	}
	header, err := chainblock.NewHeader(parentHeader, chainblock.AccountNameFromString("bp1"), [32]byte{})
	require.NoError(t, err)
	block, err := chainblock.NewBlock(header, []chainblock.Transaction{
		{Data: []byte("tx1"), ContextFreeData: []byte("cfd1")},
	})
	require.NoError(t, err)
	return block
}

func TestWriteReadEntryV4RoundTrip(t *testing.T) {
	block := buildTestBlock(t, nil)
	startPos := uint64(100)

	entryBytes, err := WriteEntryV4(startPos, block)
	require.NoError(t, err)

	meta, got, err := ReadEntryV4(entryBytes)
	require.NoError(t, err)
	require.Equal(t, chainblock.CompressionNone, meta.Compression)
	require.Equal(t, uint32(len(entryBytes)), meta.Size)
	require.Equal(t, block.Transactions[0].Data, got.Transactions[0].Data)

	bp, err := BackPointerAt(entryBytes, 0, meta)
	require.NoError(t, err)
	require.Equal(t, startPos, bp)
}

func TestWriteReadEntryLegacyRoundTrip(t *testing.T) {
	block := buildTestBlock(t, nil)
	startPos := uint64(55)

	entryBytes, err := WriteEntryLegacy(startPos, block)
	require.NoError(t, err)

	got, bp, consumed, err := ReadEntryLegacy(entryBytes)
	require.NoError(t, err)
	require.Equal(t, startPos, bp)
	require.Equal(t, len(entryBytes), consumed)
	require.Equal(t, block.Transactions[0].Data, got.Transactions[0].Data)
}

func TestReadEntryV4RejectsUnsupportedCompression(t *testing.T) {
	block := buildTestBlock(t, nil)
	entryBytes, err := WriteEntryV4(0, block)
	require.NoError(t, err)
	entryBytes[4] = 1 // non-zero compression tag

	_, _, err = ReadEntryV4(entryBytes)
	require.ErrorIs(t, err, ErrMalformedEntry)
}

func TestBlockNumAtDerivesWithoutDecoding(t *testing.T) {
	genesis := buildTestBlock(t, nil)
	child := buildTestBlock(t, genesis)

	entryBytes, err := WriteEntryV4(0, child)
	require.NoError(t, err)

	num, err := blockNumAt(entryBytes, 4)
	require.NoError(t, err)
	require.Equal(t, child.BlockNum(), num)
}

func TestOffsetToBlockStart(t *testing.T) {
	require.Equal(t, 5, OffsetToBlockStart(4))
	require.Equal(t, 0, OffsetToBlockStart(3))
	require.Equal(t, 0, OffsetToBlockStart(1))
}

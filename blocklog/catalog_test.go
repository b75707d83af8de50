// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package blocklog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/antdaza/antdblocklog/chainblock"
)

// writeSegmentFiles writes a rotated (blocks-first-last.log, .index) pair
// under dir holding n blocks starting at block number first, carrying a
// bare chainID preamble the way LogStore.split writes rotated segments.
func writeSegmentFiles(t *testing.T, dir string, first uint32, n int, chainID chainblock.ChainID) {
	t.Helper()
	preamble := &Preamble{Version: 4, FirstBlockNum: first, ContextKind: ContextChainID, ChainID: chainID}
	var buf bytes.Buffer
	require.NoError(t, WritePreamble(&buf, preamble))

	// Build the full chain from block 1 up to last so each block in
	// [first, last] derives its number from its parent's id the normal
	// way, then serialize only the segment's own range, the way a real
	// rotated segment holds blocks whose ancestry predates the file.
	last := first + uint32(n) - 1
	var parent *chainblock.Block
	var chain []*chainblock.Block
	for num := uint32(1); num <= last; num++ {
		block := buildTestBlock(t, parent)
		chain = append(chain, block)
		parent = block
	}

	var positions []uint64
	for _, block := range chain[first-1:] {
		entry, err := WriteEntryV4(uint64(buf.Len()), block)
		require.NoError(t, err)
		positions = append(positions, uint64(buf.Len()))
		buf.Write(entry)
	}

	logPath := filepath.Join(dir, fmt.Sprintf("blocks-%d-%d.log", first, last))
	idxPath := filepath.Join(dir, fmt.Sprintf("blocks-%d-%d.index", first, last))
	require.NoError(t, os.WriteFile(logPath, buf.Bytes(), 0o644))

	var idxBuf bytes.Buffer
	for _, p := range positions {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], p)
		idxBuf.Write(b[:])
	}
	require.NoError(t, os.WriteFile(idxPath, idxBuf.Bytes(), 0o644))
}

func TestCatalogFindsBlockInRegisteredSegment(t *testing.T) {
	dir := t.TempDir()
	var chainID chainblock.ChainID
	chainID[0] = 0x42
	writeSegmentFiles(t, dir, 1, 3, chainID)

	cat, err := OpenCatalog(dir, "", 10, nil, logrus.NewEntry(logrus.StandardLogger()))
	require.NoError(t, err)
	defer cat.Close()

	got, ok := cat.ChainID()
	require.True(t, ok)
	require.Equal(t, chainID, got)

	block, err := cat.DatastreamForBlock(2)
	require.NoError(t, err)
	require.Equal(t, uint32(2), block.BlockNum())

	header, err := cat.HeaderForBlock(1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), header.BlockNum())

	_, err = cat.DatastreamForBlock(99)
	require.ErrorIs(t, err, ErrBlockNotFound)
}

func TestCatalogChainIDMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	var chainA, chainB chainblock.ChainID
	chainA[0], chainB[0] = 1, 2
	writeSegmentFiles(t, dir, 1, 1, chainA)
	writeSegmentFiles(t, dir, 2, 1, chainB)

	_, err := OpenCatalog(dir, "", 10, nil, logrus.NewEntry(logrus.StandardLogger()))
	require.ErrorIs(t, err, ErrChainIDMismatch)
}

func TestCatalogAddEvictsBeyondRetention(t *testing.T) {
	dir := t.TempDir()
	cat, err := OpenCatalog(dir, "", 1, nil, logrus.NewEntry(logrus.StandardLogger()))
	require.NoError(t, err)
	defer cat.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocks-1-1.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocks-1-1.index"), []byte{}, 0o644))
	require.NoError(t, cat.Add(1, 1, dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocks-2-2.log"), []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocks-2-2.index"), []byte{}, 0o644))
	require.NoError(t, cat.Add(2, 2, dir))

	_, err = os.Stat(filepath.Join(dir, "blocks-1-1.log"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "blocks-2-2.log"))
	require.NoError(t, err)
}

func TestCatalogAddArchivesInsteadOfDeleting(t *testing.T) {
	dir := t.TempDir()
	archiveDir := filepath.Join(t.TempDir(), "archive")
	cat, err := OpenCatalog(dir, archiveDir, 1, nil, logrus.NewEntry(logrus.StandardLogger()))
	require.NoError(t, err)
	defer cat.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocks-1-1.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocks-1-1.index"), []byte{}, 0o644))
	require.NoError(t, cat.Add(1, 1, dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocks-2-2.log"), []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocks-2-2.index"), []byte{}, 0o644))
	require.NoError(t, cat.Add(2, 2, dir))

	require.FileExists(t, filepath.Join(archiveDir, "blocks-1-1.log"))
	require.FileExists(t, filepath.Join(archiveDir, "blocks-1-1.index"))
}

func TestCatalogAddRejectsNonIncreasingFirst(t *testing.T) {
	dir := t.TempDir()
	cat, err := OpenCatalog(dir, "", 10, nil, logrus.NewEntry(logrus.StandardLogger()))
	require.NoError(t, err)
	defer cat.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocks-5-5.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocks-5-5.index"), []byte{}, 0o644))
	require.NoError(t, cat.Add(5, 5, dir))

	err = cat.Add(3, 3, dir)
	require.Error(t, err)
}

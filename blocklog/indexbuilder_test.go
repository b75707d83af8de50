// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package blocklog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antdaza/antdblocklog/chainblock"
)

func TestConstructIndexMatchesSequentialPositions(t *testing.T) {
	genesis := &chainblock.GenesisState{ChainName: "indexbuilder"}
	logPath, blocks := writeTestLog(t, genesis, 4)
	indexPath := filepath.Join(filepath.Dir(logPath), "blocks.index")

	require.NoError(t, ConstructIndex(logPath, indexPath))

	idx, err := OpenLogIndex(indexPath)
	require.NoError(t, err)
	defer idx.Close()

	require.Equal(t, len(blocks), idx.Len())

	log, err := OpenLogData(logPath)
	require.NoError(t, err)
	defer log.Close()

	pos := log.FirstBlockPosition()
	for i, want := range blocks {
		got, err := idx.Nth(i)
		require.NoError(t, err)
		require.Equal(t, pos, got)

		num, err := log.BlockNumAt(pos)
		require.NoError(t, err)
		require.Equal(t, want.BlockNum(), num)

		_, entrySize, err := log.ReadBlockAt(pos)
		require.NoError(t, err)
		pos += entrySize
	}
}

func TestConstructIndexIsDeterministic(t *testing.T) {
	genesis := &chainblock.GenesisState{ChainName: "determinism"}
	logPath, _ := writeTestLog(t, genesis, 5)
	indexPath := filepath.Join(filepath.Dir(logPath), "blocks.index")

	require.NoError(t, ConstructIndex(logPath, indexPath))
	first, err := os.ReadFile(indexPath)
	require.NoError(t, err)

	require.NoError(t, ConstructIndex(logPath, indexPath))
	second, err := os.ReadFile(indexPath)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestConstructIndexOnEmptyLogTruncatesIndex(t *testing.T) {
	genesis := &chainblock.GenesisState{ChainName: "no-blocks"}
	logPath, _ := writeTestLog(t, genesis, 0)
	indexPath := filepath.Join(filepath.Dir(logPath), "blocks.index")
	require.NoError(t, os.WriteFile(indexPath, []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0o644))

	require.NoError(t, ConstructIndex(logPath, indexPath))

	info, err := os.Stat(indexPath)
	require.NoError(t, err)
	require.Equal(t, int64(0), info.Size())
}

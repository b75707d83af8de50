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

func openTestStore(t *testing.T, stride uint32, maxRetained int) *LogStore {
	t.Helper()
	store, err := Open(Config{DataDir: t.TempDir(), Stride: stride, MaxRetainedFiles: maxRetained})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFreshInitAndThreeAppends(t *testing.T) {
	store := openTestStore(t, 0, 10)

	genesis := &chainblock.GenesisState{ChainName: "fresh-init"}
	b1 := buildTestBlock(t, nil)
	require.NoError(t, store.Reset(genesis, b1, chainblock.CompressionNone))

	b2 := buildTestBlock(t, b1)
	_, err := store.Append(b2, chainblock.CompressionNone)
	require.NoError(t, err)

	b3 := buildTestBlock(t, b2)
	_, err = store.Append(b3, chainblock.CompressionNone)
	require.NoError(t, err)

	wantHeadID, err := b3.CalculateID()
	require.NoError(t, err)
	gotHeadID, err := store.Head().CalculateID()
	require.NoError(t, err)
	require.Equal(t, wantHeadID, gotHeadID)
	require.Equal(t, uint32(1), store.FirstBlockNum())

	info, err := os.Stat(filepath.Join(store.cfg.DataDir, activeIndexName))
	require.NoError(t, err)
	require.Equal(t, int64(24), info.Size())

	got, err := store.ReadBlockByNum(2)
	require.NoError(t, err)
	gotID, err := got.CalculateID()
	require.NoError(t, err)
	wantID, err := b2.CalculateID()
	require.NoError(t, err)
	require.Equal(t, wantID, gotID)
}

func TestRotationRoutesOldBlocksThroughCatalog(t *testing.T) {
	store := openTestStore(t, 2, 10)

	genesis := &chainblock.GenesisState{ChainName: "rotation"}
	b1 := buildTestBlock(t, nil)
	require.NoError(t, store.Reset(genesis, b1, chainblock.CompressionNone))

	b2 := buildTestBlock(t, b1)
	_, err := store.Append(b2, chainblock.CompressionNone)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(store.cfg.DataDir, "blocks-1-2.log"))
	require.NoError(t, err, "expected blocks-1-2.log to exist after rotation")
	require.Equal(t, uint32(3), store.FirstBlockNum())
	require.Equal(t, MaxSupportedVersion, store.Version())

	b3 := buildTestBlock(t, b2)
	_, err = store.Append(b3, chainblock.CompressionNone)
	require.NoError(t, err)

	wantHeadID, err := b3.CalculateID()
	require.NoError(t, err)
	gotHeadID, err := store.Head().CalculateID()
	require.NoError(t, err)
	require.Equal(t, wantHeadID, gotHeadID)

	got, err := store.ReadBlockByNum(1)
	require.NoError(t, err)
	gotID, err := got.CalculateID()
	require.NoError(t, err)
	wantID, err := b1.CalculateID()
	require.NoError(t, err)
	require.Equal(t, wantID, gotID)
}

func TestRetentionEvictsOldestSegment(t *testing.T) {
	store := openTestStore(t, 1, 1)

	genesis := &chainblock.GenesisState{ChainName: "retention"}
	b1 := buildTestBlock(t, nil)
	require.NoError(t, store.Reset(genesis, b1, chainblock.CompressionNone))

	b2 := buildTestBlock(t, b1)
	_, err := store.Append(b2, chainblock.CompressionNone)
	require.NoError(t, err)

	b3 := buildTestBlock(t, b2)
	_, err = store.Append(b3, chainblock.CompressionNone)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(store.cfg.DataDir, "blocks-1-1.log"))
	require.True(t, os.IsNotExist(err), "expected blocks-1-1.log to have been evicted")

	_, err = store.ReadBlockByNum(1)
	require.ErrorIs(t, err, ErrBlockNotFound)
}

func TestPruneTransactionsPreservesFramingAndBlockID(t *testing.T) {
	store := openTestStore(t, 0, 10)

	genesis := &chainblock.GenesisState{ChainName: "prune"}
	header, err := chainblock.NewHeader(nil, chainblock.AccountNameFromString("bp1"), [32]byte{})
	require.NoError(t, err)
	tx1 := chainblock.Transaction{Data: []byte("tx1"), ContextFreeData: []byte("cfd1")}
	tx2 := chainblock.Transaction{Data: []byte("tx2"), ContextFreeData: []byte("cfd2")}
	tx3 := chainblock.Transaction{Data: []byte("tx3"), ContextFreeData: []byte("cfd3")}
	b1, err := chainblock.NewBlock(header, []chainblock.Transaction{tx1, tx2, tx3})
	require.NoError(t, err)

	require.NoError(t, store.Reset(genesis, b1, chainblock.CompressionNone))

	beforeID, err := store.ReadBlockIDByNum(1)
	require.NoError(t, err)

	n, err := store.PruneTransactions(1, [][32]byte{tx2.ID()})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	afterID, err := store.ReadBlockIDByNum(1)
	require.NoError(t, err)
	require.Equal(t, beforeID, afterID, "pruning must not change the block id")

	pruned, err := store.ReadBlockByNum(1)
	require.NoError(t, err)
	require.Equal(t, []byte{}, pruned.Transactions[1].ContextFreeData)
	require.True(t, pruned.Transactions[1].Pruned)
	require.Equal(t, tx1.ContextFreeData, pruned.Transactions[0].ContextFreeData)

	again, err := store.PruneTransactions(1, [][32]byte{tx2.ID()})
	require.NoError(t, err)
	require.Equal(t, 0, again)
}

func TestAppendBeforeResetFails(t *testing.T) {
	store := openTestStore(t, 0, 10)
	b1 := buildTestBlock(t, nil)
	_, err := store.Append(b1, chainblock.CompressionNone)
	require.ErrorIs(t, err, ErrAppendBeforeReset)
}

func TestIndexRebuildsOnTruncatedIndex(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(Config{DataDir: dir, Stride: 0, MaxRetainedFiles: 10})
	require.NoError(t, err)

	genesis := &chainblock.GenesisState{ChainName: "rebuild"}
	b1 := buildTestBlock(t, nil)
	require.NoError(t, store.Reset(genesis, b1, chainblock.CompressionNone))
	b2 := buildTestBlock(t, b1)
	_, err = store.Append(b2, chainblock.CompressionNone)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	idxPath := filepath.Join(dir, activeIndexName)
	info, err := os.Stat(idxPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(idxPath, info.Size()-8))

	reopened, err := Open(Config{DataDir: dir, Stride: 0, MaxRetainedFiles: 10})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.ReadBlockByNum(2)
	require.NoError(t, err)
	gotID, err := got.CalculateID()
	require.NoError(t, err)
	wantID, err := b2.CalculateID()
	require.NoError(t, err)
	require.Equal(t, wantID, gotID)
}

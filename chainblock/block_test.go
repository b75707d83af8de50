// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package chainblock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestBlock(t *testing.T, parent *Block) *Block {
	t.Helper()
	var parentHeader *Header
	if parent != nil {
		parentHeader = parent.Header
	}
	header, err := NewHeader(parentHeader, AccountNameFromString("bp.one"), [32]byte{})
	require.NoError(t, err)

	txs := []Transaction{
		{Data: []byte("tx-a"), ContextFreeData: []byte("cfd-a")},
		{Data: []byte("tx-b"), ContextFreeData: []byte("cfd-b")},
	}
	block, err := NewBlock(header, txs)
	require.NoError(t, err)
	return block
}

func TestBlockPackUnpackRoundTrip(t *testing.T) {
	block := newTestBlock(t, nil)

	buf, err := block.Pack(CompressionNone)
	require.NoError(t, err)

	got, err := UnpackBlock(buf, CompressionNone)
	require.NoError(t, err)
	require.Equal(t, len(block.Transactions), len(got.Transactions))
	for i := range block.Transactions {
		require.Equal(t, block.Transactions[i].Data, got.Transactions[i].Data)
		require.Equal(t, block.Transactions[i].ContextFreeData, got.Transactions[i].ContextFreeData)
	}

	wantID, err := block.CalculateID()
	require.NoError(t, err)
	gotID, err := got.CalculateID()
	require.NoError(t, err)
	require.Equal(t, wantID, gotID)
}

func TestPruningTransactionPreservesBlockID(t *testing.T) {
	block := newTestBlock(t, nil)
	before, err := block.CalculateID()
	require.NoError(t, err)

	for i := range block.Transactions {
		block.Transactions[i].PruneAll()
	}

	after, err := block.CalculateID()
	require.NoError(t, err)
	require.Equal(t, before, after, "pruning context-free data must not change the block id")

	for _, tx := range block.Transactions {
		require.Nil(t, tx.ContextFreeData)
		require.True(t, tx.Pruned)
	}
}

func TestBlockValidateDetectsBrokenChain(t *testing.T) {
	parent := newTestBlock(t, nil)
	child := newTestBlock(t, parent)
	require.NoError(t, child.Validate(parent))

	unrelated := newTestBlock(t, nil)
	require.Error(t, child.Validate(unrelated))
}

func TestBlockValidateDetectsTxRootTamper(t *testing.T) {
	block := newTestBlock(t, nil)
	block.Transactions[0].Data = []byte("tampered")
	require.Error(t, block.Validate(nil))
}

// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package chainblock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenesisStatePackUnpackRoundTrip(t *testing.T) {
	g := &GenesisState{
		ChainName:        "antdblocklog-test",
		InitialTimestamp: 1700000000,
		Parameters: ChainParameters{
			MaxBlockNetUsage: 1048576,
			MaxBlockCPUUsage: 200000,
		},
	}
	g.InitialKey[0] = 0x02

	buf, err := g.Pack()
	require.NoError(t, err)

	got, err := UnpackGenesisState(buf)
	require.NoError(t, err)
	require.Equal(t, g.ChainName, got.ChainName)
	require.Equal(t, g.InitialTimestamp, got.InitialTimestamp)
	require.Equal(t, g.Parameters, got.Parameters)
	require.Equal(t, g.InitialKey, got.InitialKey)
}

func TestComputeChainIDIsDeterministic(t *testing.T) {
	g := &GenesisState{ChainName: "deterministic"}
	id1, err := g.ComputeChainID()
	require.NoError(t, err)
	id2, err := g.ComputeChainID()
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.False(t, id1.IsZero())

	other := &GenesisState{ChainName: "different"}
	id3, err := other.ComputeChainID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id3)
}

// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package chainblock

import (
	"crypto/sha256"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// ChainParameters mirrors the handful of genesis-time consensus knobs a
// chain fixes at launch and never changes out from under the block log.
type ChainParameters struct {
	MaxBlockNetUsage      uint64
	TargetBlockNetUsagePct uint32
	MaxTransactionNetUsage uint32
	MaxBlockCPUUsage      uint32
	TargetBlockCPUUsagePct uint32
}

// GenesisState is the genesis payload a log embeds in its preamble when
// it is version 1 or starts at block 1. A log built from a GenesisState derives its ChainID from it
// rather than carrying the id directly.
type GenesisState struct {
	ChainName        string
	InitialTimestamp uint64
	InitialKey       [33]byte
	Parameters       ChainParameters
}

// ComputeChainID hashes the genesis state's canonical RLP encoding to
// derive the chain id a log's preamble commits to.
func (g *GenesisState) ComputeChainID() (ChainID, error) {
	enc, err := rlp.EncodeToBytes(g)
	if err != nil {
		return ChainID{}, fmt.Errorf("chainblock: encode genesis state: %w", err)
	}
	return ChainID(sha256.Sum256(enc)), nil
}

// Pack serializes the genesis state for embedding in a log preamble.
func (g *GenesisState) Pack() ([]byte, error) {
	return rlp.EncodeToBytes(g)
}

// UnpackGenesisState parses a genesis state previously produced by Pack.
func UnpackGenesisState(buf []byte) (*GenesisState, error) {
	var g GenesisState
	if err := rlp.DecodeBytes(buf, &g); err != nil {
		return nil, fmt.Errorf("chainblock: decode genesis state: %w", err)
	}
	return &g, nil
}

// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package blocklog

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/antdaza/antdblocklog/chainblock"
)

const (
	// MinSupportedVersion and MaxSupportedVersion bound the preamble
	// versions this codec claims to read and write.
	MinSupportedVersion uint32 = 1
	MaxSupportedVersion uint32 = 4

	// npos is the reserved sentinel: the preamble/entries totem for
	// version>=2, and "no position" everywhere else in this package.
	npos uint64 = 0xFFFFFFFFFFFFFFFF
)

// defaultVersion is the process-wide default used by reset when the caller
// does not pin one, kept only for test-harness compatibility.
var defaultVersion = MaxSupportedVersion

// SetVersion overrides the process-wide default preamble version. Prefer
// passing DefaultVersion explicitly in Config; this exists for parity with
// callers that relied on a global setter in tests.
func SetVersion(v uint32) { defaultVersion = v }

// DefaultVersion returns the process-wide default preamble version.
func DefaultVersion() uint32 { return defaultVersion }

// ChainContextKind discriminates the two shapes a preamble's chain context
// can take.
type ChainContextKind uint8

const (
	ContextGenesis ChainContextKind = iota
	ContextChainID
)

// Preamble is a block log file's header: version, first block number, and
// exactly one chain-context variant.
type Preamble struct {
	Version       uint32
	FirstBlockNum uint32
	ContextKind   ChainContextKind
	Genesis       *chainblock.GenesisState
	ChainID       chainblock.ChainID
}

// ResolveChainID returns the chain id this preamble commits to, computing
// it from the embedded genesis state when the preamble carries one.
func (p *Preamble) ResolveChainID() (chainblock.ChainID, error) {
	if p.ContextKind == ContextChainID {
		return p.ChainID, nil
	}
	if p.Genesis == nil {
		return chainblock.ChainID{}, fmt.Errorf("blocklog: %w: genesis context missing genesis state", ErrMalformedPreamble)
	}
	return p.Genesis.ComputeChainID()
}

// IsSupportedVersion reports whether v is within the codec's supported
// range.
func IsSupportedVersion(v uint32) bool {
	return v >= MinSupportedVersion && v <= MaxSupportedVersion
}

// ReadPreamble decodes a preamble from the start of r: version, then
// (for v>=2) first_block_num, then the genesis-or-chain-id variant, then
// (for v>=2) the totem sentinel.
func ReadPreamble(r io.Reader) (*Preamble, error) {
	var versionBuf [4]byte
	if _, err := io.ReadFull(r, versionBuf[:]); err != nil {
		return nil, fmt.Errorf("blocklog: read preamble version: %w", err)
	}
	version := binary.LittleEndian.Uint32(versionBuf[:])
	if version == 0 || !IsSupportedVersion(version) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	p := &Preamble{Version: version, FirstBlockNum: 1}

	if version >= 2 {
		var fbnBuf [4]byte
		if _, err := io.ReadFull(r, fbnBuf[:]); err != nil {
			return nil, fmt.Errorf("blocklog: read first_block_num: %w", err)
		}
		p.FirstBlockNum = binary.LittleEndian.Uint32(fbnBuf[:])
	}

	useGenesis := version == 1 || p.FirstBlockNum == 1
	useChainID := !useGenesis && version >= 3

	switch {
	case useGenesis:
		stream := rlp.NewStream(r, 0)
		var g chainblock.GenesisState
		if err := stream.Decode(&g); err != nil {
			return nil, fmt.Errorf("%w: decode genesis state: %v", ErrMalformedPreamble, err)
		}
		p.Genesis = &g
		p.ContextKind = ContextGenesis
	case useChainID:
		var idBuf [32]byte
		if _, err := io.ReadFull(r, idBuf[:]); err != nil {
			return nil, fmt.Errorf("blocklog: read chain id: %w", err)
		}
		p.ChainID = chainblock.ChainID(idBuf)
		p.ContextKind = ContextChainID
	default:
		return nil, fmt.Errorf("%w: no applicable chain-context variant for version=%d first_block_num=%d", ErrMalformedPreamble, version, p.FirstBlockNum)
	}

	if version >= 2 {
		var totemBuf [8]byte
		if _, err := io.ReadFull(r, totemBuf[:]); err != nil {
			return nil, fmt.Errorf("blocklog: read totem: %w", err)
		}
		if binary.LittleEndian.Uint64(totemBuf[:]) != npos {
			return nil, fmt.Errorf("%w: totem mismatch", ErrMalformedPreamble)
		}
	}

	return p, nil
}

// WritePreamble encodes p to w.
func WritePreamble(w io.Writer, p *Preamble) error {
	if !IsSupportedVersion(p.Version) {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, p.Version)
	}
	var versionBuf [4]byte
	binary.LittleEndian.PutUint32(versionBuf[:], p.Version)
	if _, err := w.Write(versionBuf[:]); err != nil {
		return err
	}

	if p.Version == 1 {
		if p.Genesis == nil {
			return fmt.Errorf("%w: version 1 requires an embedded genesis state", ErrMalformedPreamble)
		}
		enc, err := rlp.EncodeToBytes(p.Genesis)
		if err != nil {
			return fmt.Errorf("blocklog: encode genesis state: %w", err)
		}
		_, err = w.Write(enc)
		return err
	}

	var fbnBuf [4]byte
	binary.LittleEndian.PutUint32(fbnBuf[:], p.FirstBlockNum)
	if _, err := w.Write(fbnBuf[:]); err != nil {
		return err
	}

	switch p.ContextKind {
	case ContextGenesis:
		if p.Genesis == nil {
			return fmt.Errorf("%w: genesis context missing genesis state", ErrMalformedPreamble)
		}
		enc, err := rlp.EncodeToBytes(p.Genesis)
		if err != nil {
			return fmt.Errorf("blocklog: encode genesis state: %w", err)
		}
		if _, err := w.Write(enc); err != nil {
			return err
		}
	case ContextChainID:
		if p.Version < 3 {
			return fmt.Errorf("%w: chain id context requires version>=3", ErrMalformedPreamble)
		}
		if _, err := w.Write(p.ChainID[:]); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown chain context kind", ErrMalformedPreamble)
	}

	var totemBuf [8]byte
	binary.LittleEndian.PutUint64(totemBuf[:], npos)
	_, err := w.Write(totemBuf[:])
	return err
}

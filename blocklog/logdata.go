// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package blocklog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/antdaza/antdblocklog/chainblock"
)

// LogData is a read-only, memory-mapped view of one log file. It derives
// block boundaries via entry framing and the trailing back-pointer chain
// without ever needing a second, writable handle on the same path.
type LogData struct {
	path          string
	file          *os.File
	data          mmap.MMap
	preamble      *Preamble
	firstBlockPos uint64
}

// OpenLogData memory-maps path and parses its preamble.
func OpenLogData(path string) (*LogData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blocklog: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blocklog: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		f.Close()
		return nil, fmt.Errorf("blocklog: %s is empty", path)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blocklog: mmap %s: %w", path, err)
	}

	preamble, err := ReadPreamble(bytes.NewReader(m))
	if err != nil {
		m.Unmap()
		f.Close()
		return nil, err
	}

	firstPos, err := preambleWireSize(preamble)
	if err != nil {
		m.Unmap()
		f.Close()
		return nil, err
	}

	return &LogData{path: path, file: f, data: m, preamble: preamble, firstBlockPos: firstPos}, nil
}

// preambleWireSize returns the number of bytes the preamble occupies on
// disk, by re-encoding it into a throwaway buffer.
func preambleWireSize(p *Preamble) (uint64, error) {
	var buf bytes.Buffer
	if err := WritePreamble(&buf, p); err != nil {
		return 0, err
	}
	return uint64(buf.Len()), nil
}

// Close unmaps the file and releases its handle.
func (l *LogData) Close() error {
	if err := l.data.Unmap(); err != nil {
		return err
	}
	return l.file.Close()
}

func (l *LogData) Path() string             { return l.path }
func (l *LogData) Version() uint32          { return l.preamble.Version }
func (l *LogData) FirstBlockNum() uint32    { return l.preamble.FirstBlockNum }
func (l *LogData) Preamble() *Preamble      { return l.preamble }
func (l *LogData) FirstBlockPosition() uint64 { return l.firstBlockPos }
func (l *LogData) Size() uint64             { return uint64(len(l.data)) }

// ChainID resolves the chain id this log commits to.
func (l *LogData) ChainID() (chainblock.ChainID, error) {
	return l.preamble.ResolveChainID()
}

// GetGenesisState returns the embedded genesis state, or nil if this
// preamble carries a bare chain id.
func (l *LogData) GetGenesisState() *chainblock.GenesisState {
	if l.preamble.ContextKind != ContextGenesis {
		return nil
	}
	return l.preamble.Genesis
}

// LastBlockPosition reads the back-pointer at the very end of the file:
// the starting position of the last entry.
func (l *LogData) LastBlockPosition() (uint64, error) {
	size := l.Size()
	if size == l.firstBlockPos {
		return npos, nil
	}
	if size < 8 {
		return 0, fmt.Errorf("%w: log too short to contain a back-pointer", ErrMalformedEntry)
	}
	return binary.LittleEndian.Uint64(l.data[size-8 : size]), nil
}

// NumBlocks derives the block count from the last entry's back-pointer and
// derived block number, without scanning every entry in between.
func (l *LogData) NumBlocks() (uint32, error) {
	if l.Size() == l.firstBlockPos {
		return 0, nil
	}
	lastPos, err := l.LastBlockPosition()
	if err != nil {
		return 0, err
	}
	lastNum, err := l.BlockNumAt(lastPos)
	if err != nil {
		return 0, err
	}
	return lastNum - l.preamble.FirstBlockNum + 1, nil
}

// BlockNumAt derives the block number of the entry starting at pos without
// deserializing it.
func (l *LogData) BlockNumAt(pos uint64) (uint32, error) {
	if pos >= l.Size() {
		return 0, fmt.Errorf("%w: position %d out of range", ErrMalformedEntry, pos)
	}
	return blockNumAt(l.data[pos:], l.preamble.Version)
}

// EntryBytesAt returns the raw slice for the entry starting at pos, given
// its expected total size in bytes (the caller typically already knows
// this from an index lookup plus a v4 size field, or from the next index
// entry).
func (l *LogData) EntryBytesAt(pos, size uint64) ([]byte, error) {
	if pos+size > l.Size() {
		return nil, fmt.Errorf("%w: entry at %d/%d exceeds log size %d", ErrMalformedEntry, pos, size, l.Size())
	}
	return l.data[pos : pos+size], nil
}

// DatastreamAt returns a byte slice beginning at pos and running to the
// end of the mapped file. Callers slice further once they know the
// entry's declared size (v4) or have decoded far enough (legacy).
func (l *LogData) DatastreamAt(pos uint64) ([]byte, error) {
	if pos >= l.Size() {
		return nil, fmt.Errorf("%w: position %d out of range", ErrMalformedEntry, pos)
	}
	return l.data[pos:], nil
}

// ReadBlockAt decodes the full block starting at pos, returning it along
// with the entry's total on-disk length.
func (l *LogData) ReadBlockAt(pos uint64) (*chainblock.Block, uint64, error) {
	rest, err := l.DatastreamAt(pos)
	if err != nil {
		return nil, 0, err
	}
	if l.preamble.Version >= 4 {
		meta, block, err := ReadEntryV4(rest)
		if err != nil {
			return nil, 0, err
		}
		return block, uint64(meta.Size), nil
	}
	block, _, consumed, err := ReadEntryLegacy(rest)
	if err != nil {
		return nil, 0, err
	}
	return block, uint64(consumed), nil
}

// ReadHeaderAt decodes only the header at pos, skipping the transaction
// body. Used by ReadBlockIDByNum.
func (l *LogData) ReadHeaderAt(pos uint64) (*chainblock.Header, error) {
	rest, err := l.DatastreamAt(pos)
	if err != nil {
		return nil, err
	}
	off := OffsetToBlockStart(l.preamble.Version)
	if len(rest) < off {
		return nil, fmt.Errorf("%w: entry too short for header", ErrMalformedEntry)
	}
	if l.preamble.Version >= 4 {
		compression := chainblock.Compression(rest[4])
		if compression != chainblock.CompressionNone {
			return nil, fmt.Errorf("%w: unsupported compression tag %d", ErrMalformedEntry, compression)
		}
	}
	header, _, err := chainblock.UnpackHeader(rest[off:])
	return header, err
}

// LightValidate checks that the entry at pos derives expectedBlockNum and,
// for v4, that its trailing back-pointer equals pos.
func (l *LogData) LightValidate(pos uint64, expectedBlockNum uint32) error {
	num, err := l.BlockNumAt(pos)
	if err != nil {
		return err
	}
	if num != expectedBlockNum {
		return fmt.Errorf("%w: expected block %d at position %d, derived %d", ErrMalformedEntry, expectedBlockNum, pos, num)
	}
	if l.preamble.Version >= 4 {
		rest, err := l.DatastreamAt(pos)
		if err != nil {
			return err
		}
		if len(rest) < 4 {
			return fmt.Errorf("%w: entry too short", ErrMalformedEntry)
		}
		size := binary.LittleEndian.Uint32(rest[0:4])
		bp, err := BackPointerAt(l.data, pos, EntryMeta{Size: size})
		if err != nil {
			return err
		}
		if bp != pos {
			return fmt.Errorf("%w: back-pointer %d != entry start %d", ErrMalformedEntry, bp, pos)
		}
	}
	return nil
}

// FullValidateEntry decodes the entry at pos, warning (via the returned
// warnings) on non-contiguous numbers or broken previous-links but only
// failing on framing corruption or a decode error.
func (l *LogData) FullValidateEntry(pos uint64, prevNum uint32, prevID chainblock.BlockID) (num uint32, id chainblock.BlockID, warnings []string, err error) {
	block, entrySize, derr := l.ReadBlockAt(pos)
	if derr != nil {
		return 0, chainblock.BlockID{}, nil, &BadBlockError{Pos: pos, Err: derr}
	}
	num = block.BlockNum()
	id, err = block.CalculateID()
	if err != nil {
		return 0, chainblock.BlockID{}, nil, &BadBlockError{Pos: pos, Err: err}
	}

	if prevNum != 0 && num != prevNum+1 {
		warnings = append(warnings, fmt.Sprintf("non-contiguous block number at position %d: expected %d got %d", pos, prevNum+1, num))
	}
	if !prevID.IsZero() && block.Header.Previous != prevID {
		warnings = append(warnings, fmt.Sprintf("broken previous link at block %d", num))
	}

	if l.preamble.Version >= 4 {
		bp, berr := BackPointerAt(l.data, pos, EntryMeta{Size: uint32(entrySize)})
		if berr != nil {
			return 0, chainblock.BlockID{}, warnings, berr
		}
		if bp != pos {
			return 0, chainblock.BlockID{}, warnings, fmt.Errorf("%w: back-pointer %d != entry start %d", ErrMalformedEntry, bp, pos)
		}
	} else {
		bpOff := pos + entrySize - 8
		if bpOff+8 > l.Size() {
			return 0, chainblock.BlockID{}, warnings, fmt.Errorf("%w: legacy back-pointer out of range", ErrMalformedEntry)
		}
		bp := binary.LittleEndian.Uint64(l.data[bpOff : bpOff+8])
		if bp != pos {
			return 0, chainblock.BlockID{}, warnings, fmt.Errorf("%w: back-pointer %d != entry start %d", ErrMalformedEntry, bp, pos)
		}
	}

	return num, id, warnings, nil
}

// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package blocklog

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// LogIndex is a read-only, memory-mapped view of a packed [u64] position
// table: index[i] is the byte offset of block (firstBlockNum+i) in the
// paired log.
type LogIndex struct {
	path string
	file *os.File
	data mmap.MMap
}

// OpenLogIndex memory-maps path, requiring its size to be a multiple of 8.
func OpenLogIndex(path string) (*LogIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blocklog: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blocklog: stat %s: %w", path, err)
	}
	if info.Size()%8 != 0 {
		f.Close()
		return nil, fmt.Errorf("blocklog: index %s size %d not a multiple of 8", path, info.Size())
	}
	if info.Size() == 0 {
		f.Close()
		return &LogIndex{path: path, file: f, data: nil}, nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blocklog: mmap %s: %w", path, err)
	}
	return &LogIndex{path: path, file: f, data: m}, nil
}

// Close unmaps the file and releases its handle.
func (idx *LogIndex) Close() error {
	if idx.data != nil {
		if err := idx.data.Unmap(); err != nil {
			return err
		}
	}
	return idx.file.Close()
}

// Len returns the number of positions in the index.
func (idx *LogIndex) Len() int {
	return len(idx.data) / 8
}

// Nth returns the i'th position (0-based).
func (idx *LogIndex) Nth(i int) (uint64, error) {
	if i < 0 || i >= idx.Len() {
		return 0, fmt.Errorf("blocklog: index position %d out of range [0,%d)", i, idx.Len())
	}
	return binary.LittleEndian.Uint64(idx.data[i*8 : i*8+8]), nil
}

// Back returns the last position, or npos if the index is empty.
func (idx *LogIndex) Back() (uint64, error) {
	n := idx.Len()
	if n == 0 {
		return npos, nil
	}
	return idx.Nth(n - 1)
}

// Positions returns every position in order, for tests and small indices.
func (idx *LogIndex) Positions() []uint64 {
	n := idx.Len()
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i], _ = idx.Nth(i)
	}
	return out
}

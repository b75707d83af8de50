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

// reverseBackPointerIterator walks a log's trailing back-pointer chain from
// the last entry to the first, yielding each entry's starting position in
// descending order. It is the authoritative source IndexBuilder trusts:
// it ignores padding and pruning artifacts entirely, since those never
// touch the trailing back-pointer.
type reverseBackPointerIterator struct {
	data          []byte
	current       uint64
	firstBlockPos uint64
	size          uint64
}

func newReverseBackPointerIterator(data []byte, firstBlockPos uint64) *reverseBackPointerIterator {
	size := uint64(len(data))
	it := &reverseBackPointerIterator{data: data, firstBlockPos: firstBlockPos, size: size}
	if size <= firstBlockPos || size < 8 {
		it.current = npos
	} else {
		it.current = size - 8
	}
	return it
}

// Next returns the next entry start position in the reverse walk, and
// false once the chain is exhausted.
func (it *reverseBackPointerIterator) Next() (uint64, bool, error) {
	if it.current == npos {
		return 0, false, nil
	}
	if it.current+8 > it.size {
		return 0, false, fmt.Errorf("%w: back-pointer chain reads out of range at %d", ErrMalformedEntry, it.current)
	}
	val := binary.LittleEndian.Uint64(it.data[it.current : it.current+8])
	next := val - 8
	if it.firstBlockPos < 8 || next <= it.firstBlockPos-8 || next >= it.size {
		it.current = npos
	} else {
		it.current = next
	}
	return val, true, nil
}

// ConstructIndex builds indexPath from scratch by walking logPath's reverse
// back-pointer chain, writing positions from the last block to the first
// into a preallocated, memory-mapped file. Building twice over an
// unmodified log produces byte-identical output, since the chain is
// deterministic.
func ConstructIndex(logPath, indexPath string) error {
	logData, err := OpenLogData(logPath)
	if err != nil {
		return err
	}
	defer logData.Close()

	numBlocks, err := logData.NumBlocks()
	if err != nil {
		return err
	}
	if numBlocks == 0 {
		return os.Truncate(indexPath, 0)
	}

	f, err := os.OpenFile(indexPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("blocklog: open %s: %w", indexPath, err)
	}
	defer f.Close()

	size := int64(numBlocks) * 8
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("blocklog: truncate %s to %d: %w", indexPath, size, err)
	}

	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("blocklog: mmap %s: %w", indexPath, err)
	}
	defer m.Unmap()

	lastPos, err := logData.LastBlockPosition()
	if err != nil {
		return err
	}

	// The last entry's own position is known directly; the reverse
	// iterator supplies every position before it.
	slot := int(numBlocks) - 1
	binary.LittleEndian.PutUint64(m[slot*8:slot*8+8], lastPos)
	slot--

	iter := newReverseBackPointerIterator(logData.data, logData.FirstBlockPosition())
	// Advance the iterator past the last entry itself: its first yield is
	// lastPos, already written above.
	if v, ok, err := iter.Next(); err != nil {
		return err
	} else if !ok || v != lastPos {
		return fmt.Errorf("%w: reverse chain does not start at last block position", ErrMalformedEntry)
	}

	for slot >= 0 {
		pos, ok, err := iter.Next()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: back-pointer chain exhausted before all %d blocks were indexed", ErrMalformedEntry, numBlocks)
		}
		binary.LittleEndian.PutUint64(m[slot*8:slot*8+8], pos)
		slot--
	}

	return m.Flush()
}

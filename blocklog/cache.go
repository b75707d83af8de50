// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package blocklog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
	lru "github.com/hashicorp/golang-lru"

	"github.com/antdaza/antdblocklog/chainblock"
)

// segmentMeta is the cached, non-authoritative record of a rotated
// segment's block-number range and chain id, keyed by "path:size:mtime" so
// any change to the underlying file invalidates the entry automatically.
type segmentMeta struct {
	FirstBlockNum uint32             `json:"first"`
	LastBlockNum  uint32             `json:"last"`
	ChainID       chainblock.ChainID `json:"chain_id"`
}

// segmentMetaCache wraps a pebble instance used purely as an accelerator:
// Catalog.Open falls back to a full scan and re-derivation on any miss or
// pebble failure, so a missing or corrupt cache never changes catalog
// semantics, only how much work a restart repeats.
type segmentMetaCache struct {
	db *pebble.DB
}

// openSegmentMetaCache opens (creating if absent) a pebble store at dir.
// A nil, nil return means caching is disabled but callers should proceed
// without it rather than fail.
func openSegmentMetaCache(dir string) (*segmentMetaCache, error) {
	if dir == "" {
		return nil, nil
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("blocklog: open segment metadata cache: %w", err)
	}
	return &segmentMetaCache{db: db}, nil
}

func (c *segmentMetaCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func segmentCacheKey(path string, size int64, mtimeUnixNano int64) []byte {
	return []byte(fmt.Sprintf("%s:%d:%d", path, size, mtimeUnixNano))
}

func (c *segmentMetaCache) Get(key []byte) (segmentMeta, bool) {
	if c == nil || c.db == nil {
		return segmentMeta{}, false
	}
	val, closer, err := c.db.Get(key)
	if err != nil {
		return segmentMeta{}, false
	}
	defer closer.Close()
	var meta segmentMeta
	if err := json.Unmarshal(val, &meta); err != nil {
		return segmentMeta{}, false
	}
	return meta, true
}

func (c *segmentMetaCache) Put(key []byte, meta segmentMeta) {
	if c == nil || c.db == nil {
		return
	}
	enc, err := json.Marshal(meta)
	if err != nil {
		return
	}
	_ = c.db.Set(key, enc, pebble.Sync)
}

// boundSegment is an opened (LogData, LogIndex) pair for one rotated
// segment, kept alive in the catalog's open-segment LRU.
type boundSegment struct {
	seg   *Segment
	log   *LogData
	index *LogIndex
}

func (b *boundSegment) Close() {
	if b == nil {
		return
	}
	if b.index != nil {
		b.index.Close()
	}
	if b.log != nil {
		b.log.Close()
	}
}

// newSegmentLRU bounds the number of simultaneously mmap'd catalog
// segments so repeated reads that hop between a handful of recent
// segments don't reopen/remap on every call; evicted entries are closed.
func newSegmentLRU(size int) (*lru.Cache, error) {
	if size <= 0 {
		size = 4
	}
	return lru.NewWithEvict(size, func(_ interface{}, value interface{}) {
		if b, ok := value.(*boundSegment); ok {
			b.Close()
		}
	})
}

func fileSizeAndMTime(path string) (int64, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	return info.Size(), info.ModTime().UnixNano(), nil
}

// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package blocklog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/antdaza/antdblocklog/chainblock"
)

var segmentFilenameRE = regexp.MustCompile(`^blocks-(\d+)-(\d+)\.log$`)

// Segment describes one rotated, immutable (log, index) pair.
type Segment struct {
	FirstBlockNum uint32
	LastBlockNum  uint32
	Dir           string
}

func (s *Segment) LogPath() string {
	return filepath.Join(s.Dir, fmt.Sprintf("blocks-%d-%d.log", s.FirstBlockNum, s.LastBlockNum))
}

func (s *Segment) IndexPath() string {
	return filepath.Join(s.Dir, fmt.Sprintf("blocks-%d-%d.index", s.FirstBlockNum, s.LastBlockNum))
}

// Catalog is the ordered mapping from block-number ranges to rotated
// segment files, with retention and an LRU-bounded set of opened readers.
type Catalog struct {
	dir              string
	archiveDir       string
	maxRetainedFiles int

	order    []uint32 // firstBlockNum keys, strictly increasing
	segments map[uint32]*Segment

	chainID    chainblock.ChainID
	chainIDSet bool

	openSegs *lruCacheAdapter
	meta     *segmentMetaCache

	activeKey uint32
	hasActive bool

	log           *logrus.Entry
	retainedGauge prometheus.Gauge
}

// SetRetainedGauge wires a gauge that Add keeps in sync with the number of
// rotated segments currently registered, including any it evicts in the
// same call. Safe to call with nil to run without metrics.
func (c *Catalog) SetRetainedGauge(g prometheus.Gauge) {
	c.retainedGauge = g
	c.reportRetained()
}

func (c *Catalog) reportRetained() {
	if c.retainedGauge != nil {
		c.retainedGauge.Set(float64(len(c.order)))
	}
}

// OpenCatalog scans dir for rotated segments and builds a Catalog.
func OpenCatalog(dir, archiveDir string, maxRetainedFiles int, meta *segmentMetaCache, logger *logrus.Entry) (*Catalog, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	lruCache, err := newSegmentLRU(8)
	if err != nil {
		return nil, fmt.Errorf("blocklog: build segment lru: %w", err)
	}
	c := &Catalog{
		dir:              dir,
		archiveDir:       archiveDir,
		maxRetainedFiles: maxRetainedFiles,
		segments:         make(map[uint32]*Segment),
		openSegs:         &lruCacheAdapter{c: lruCache},
		meta:             meta,
		log:              logger.WithField("component", "catalog"),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("blocklog: read %s: %w", dir, err)
	}

	type found struct {
		first, last int
	}
	var candidates []found
	for _, e := range entries {
		m := segmentFilenameRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		first, _ := strconv.Atoi(m[1])
		last, _ := strconv.Atoi(m[2])
		candidates = append(candidates, found{first, last})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].first < candidates[j].first })

	for _, cand := range candidates {
		seg := &Segment{FirstBlockNum: uint32(cand.first), LastBlockNum: uint32(cand.last), Dir: dir}
		chainID, resolvedLast, err := c.validateSegment(seg)
		if err != nil {
			return nil, err
		}
		seg.LastBlockNum = resolvedLast

		if c.chainIDSet && chainID != c.chainID {
			return nil, fmt.Errorf("%w: segment %s disagrees with catalog chain id", ErrChainIDMismatch, seg.LogPath())
		}
		c.chainID = chainID
		c.chainIDSet = true

		c.insert(seg)
	}

	return c, nil
}

// validateSegment opens (or trusts a cached, unchanged) segment, ensuring
// its on-disk index matches its log, and returns its chain id and actual
// last block number.
func (c *Catalog) validateSegment(seg *Segment) (chainblock.ChainID, uint32, error) {
	size, mtime, err := fileSizeAndMTime(seg.LogPath())
	if err != nil {
		return chainblock.ChainID{}, 0, fmt.Errorf("blocklog: stat %s: %w", seg.LogPath(), err)
	}
	key := segmentCacheKey(seg.LogPath(), size, mtime)
	if m, ok := c.meta.Get(key); ok && m.FirstBlockNum == seg.FirstBlockNum {
		return m.ChainID, m.LastBlockNum, nil
	}

	logData, err := OpenLogData(seg.LogPath())
	if err != nil {
		return chainblock.ChainID{}, 0, err
	}
	defer logData.Close()

	numBlocks, err := logData.NumBlocks()
	if err != nil {
		return chainblock.ChainID{}, 0, err
	}
	actualLast := seg.FirstBlockNum + numBlocks - 1

	if !indexMatchesData(seg.IndexPath(), logData) {
		c.log.WithField("segment", seg.LogPath()).Warn("rebuilding stale or missing segment index")
		if err := ConstructIndex(seg.LogPath(), seg.IndexPath()); err != nil {
			return chainblock.ChainID{}, 0, err
		}
	}

	chainID, err := logData.ChainID()
	if err != nil {
		return chainblock.ChainID{}, 0, err
	}

	c.meta.Put(key, segmentMeta{FirstBlockNum: seg.FirstBlockNum, LastBlockNum: actualLast, ChainID: chainID})
	return chainID, actualLast, nil
}

// indexMatchesData reports whether idxPath's index agrees with log: it
// exists, its size divided by 8 equals log's block count, and its last
// entry equals log's last block position.
func indexMatchesData(idxPath string, log *LogData) bool {
	info, err := os.Stat(idxPath)
	if err != nil {
		return false
	}
	if info.Size()%8 != 0 {
		return false
	}
	numBlocks, err := log.NumBlocks()
	if err != nil {
		return false
	}
	if uint32(info.Size()/8) != numBlocks {
		return false
	}
	idx, err := OpenLogIndex(idxPath)
	if err != nil {
		return false
	}
	defer idx.Close()
	back, err := idx.Back()
	if err != nil {
		return false
	}
	lastPos, err := log.LastBlockPosition()
	if err != nil {
		return false
	}
	return back == lastPos
}

// insert registers seg, resolving overlapping ranges by keeping the wider
// one and logging a warning about the one dropped.
func (c *Catalog) insert(seg *Segment) {
	if existing, ok := c.segments[seg.FirstBlockNum]; ok {
		if seg.LastBlockNum <= existing.LastBlockNum {
			c.log.WithFields(logrus.Fields{
				"kept":    existing.LogPath(),
				"dropped": seg.LogPath(),
			}).Warn("overlapping catalog segment dropped in favor of wider existing range")
			return
		}
		c.log.WithFields(logrus.Fields{
			"kept":    seg.LogPath(),
			"dropped": existing.LogPath(),
		}).Warn("overlapping catalog segment replaced by wider incoming range")
	} else {
		c.order = append(c.order, seg.FirstBlockNum)
		sort.Slice(c.order, func(i, j int) bool { return c.order[i] < c.order[j] })
	}
	c.segments[seg.FirstBlockNum] = seg
}

// find returns the segment whose range contains blockNum, if any.
func (c *Catalog) find(blockNum uint32) *Segment {
	if c.hasActive {
		if seg := c.segments[c.activeKey]; seg != nil && blockNum >= seg.FirstBlockNum && blockNum <= seg.LastBlockNum {
			return seg
		}
	}
	// binary search for the predecessor key.
	i := sort.Search(len(c.order), func(i int) bool { return c.order[i] > blockNum }) - 1
	if i < 0 {
		return nil
	}
	seg := c.segments[c.order[i]]
	if seg == nil || blockNum < seg.FirstBlockNum || blockNum > seg.LastBlockNum {
		return nil
	}
	return seg
}

// SetActiveItem binds blockNum's owning segment as the active reader,
// opening it (or reusing it from the LRU) if necessary.
func (c *Catalog) SetActiveItem(blockNum uint32) (*boundSegment, bool) {
	seg := c.find(blockNum)
	if seg == nil {
		c.hasActive = false
		return nil, false
	}
	if v, ok := c.openSegs.Get(seg.FirstBlockNum); ok {
		c.activeKey = seg.FirstBlockNum
		c.hasActive = true
		return v, true
	}
	logData, err := OpenLogData(seg.LogPath())
	if err != nil {
		c.hasActive = false
		return nil, false
	}
	index, err := OpenLogIndex(seg.IndexPath())
	if err != nil {
		logData.Close()
		c.hasActive = false
		return nil, false
	}
	bound := &boundSegment{seg: seg, log: logData, index: index}
	c.openSegs.Add(seg.FirstBlockNum, bound)
	c.activeKey = seg.FirstBlockNum
	c.hasActive = true
	return bound, true
}

// DatastreamForBlock resolves a read cursor for block n through the
// currently active segment, returning the decoded block.
func (c *Catalog) DatastreamForBlock(n uint32) (*chainblock.Block, error) {
	bound, ok := c.SetActiveItem(n)
	if !ok {
		return nil, ErrBlockNotFound
	}
	pos, err := bound.index.Nth(int(n - bound.seg.FirstBlockNum))
	if err != nil {
		return nil, err
	}
	block, _, err := bound.log.ReadBlockAt(pos)
	return block, err
}

// HeaderForBlock resolves only the header for block n, through the active
// segment.
func (c *Catalog) HeaderForBlock(n uint32) (*chainblock.Header, error) {
	bound, ok := c.SetActiveItem(n)
	if !ok {
		return nil, ErrBlockNotFound
	}
	pos, err := bound.index.Nth(int(n - bound.seg.FirstBlockNum))
	if err != nil {
		return nil, err
	}
	return bound.log.ReadHeaderAt(pos)
}

// ChainID returns the catalog's established chain id, or the zero value
// if no segment has been registered yet.
func (c *Catalog) ChainID() (chainblock.ChainID, bool) {
	return c.chainID, c.chainIDSet
}

// Add registers a newly rotated segment. Called only from rotation, so
// first must be strictly greater than every previously registered first;
// violating that corrupts active-ordinal tracking and is a programmer
// error, not a recoverable one.
func (c *Catalog) Add(first, last uint32, dir string) error {
	if c.maxRetainedFiles == 0 {
		return nil
	}
	if len(c.order) > 0 && first <= c.order[len(c.order)-1] {
		return fmt.Errorf("blocklog: catalog.Add requires strictly increasing first_block_num, got %d after %d", first, c.order[len(c.order)-1])
	}

	seg := &Segment{FirstBlockNum: first, LastBlockNum: last, Dir: dir}
	c.insert(seg)

	for len(c.order) > c.maxRetainedFiles {
		evictKey := c.order[0]
		evictSeg := c.segments[evictKey]
		c.order = c.order[1:]
		delete(c.segments, evictKey)
		c.openSegs.Remove(evictKey)
		if c.hasActive && c.activeKey == evictKey {
			c.hasActive = false
		}
		if err := c.evict(evictSeg); err != nil {
			return err
		}
	}
	c.reportRetained()
	return nil
}

func (c *Catalog) evict(seg *Segment) error {
	if c.archiveDir == "" {
		if err := os.Remove(seg.LogPath()); err != nil && !os.IsNotExist(err) {
			return err
		}
		if err := os.Remove(seg.IndexPath()); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(c.archiveDir, 0o755); err != nil {
		return err
	}
	if err := os.Rename(seg.LogPath(), filepath.Join(c.archiveDir, filepath.Base(seg.LogPath()))); err != nil {
		return err
	}
	return os.Rename(seg.IndexPath(), filepath.Join(c.archiveDir, filepath.Base(seg.IndexPath())))
}

// Close releases the catalog's open segments. It does not close the
// metadata cache passed to OpenCatalog.
func (c *Catalog) Close() error {
	c.openSegs.Purge()
	return nil
}

// lruCacheAdapter narrows the golang-lru API this package actually uses.
type lruCacheAdapter struct {
	c interface {
		Get(key interface{}) (interface{}, bool)
		Add(key, value interface{}) bool
		Remove(key interface{}) bool
		Purge()
	}
}

func (a *lruCacheAdapter) Get(key uint32) (*boundSegment, bool) {
	v, ok := a.c.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*boundSegment), true
}

func (a *lruCacheAdapter) Add(key uint32, v *boundSegment) { a.c.Add(key, v) }
func (a *lruCacheAdapter) Remove(key uint32)               { a.c.Remove(key) }
func (a *lruCacheAdapter) Purge()                          { a.c.Purge() }

// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package blocklog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/antdaza/antdblocklog/chainblock"
)

const (
	activeLogName   = "blocks.log"
	activeIndexName = "blocks.index"
)

// LogStore is the facade over one chain's block log: it owns the live log
// and index files, the in-memory head, the preamble, and the catalog of
// rotated segments, and implements append, random read, reset, rotation,
// pruning, and crash recovery.
type LogStore struct {
	cfg Config
	log *logrus.Entry

	lock *flock.Flock

	logFile   *os.File
	indexFile *os.File

	preamble       *Preamble
	firstBlockPos  uint64
	genesisWritten bool
	head           *chainblock.Block

	catalog   *Catalog
	metaCache *segmentMetaCache
	metrics   *metrics
}

// Open runs the startup/recovery algorithm against cfg.DataDir and returns
// a ready LogStore.
func Open(cfg Config) (*LogStore, error) {
	if cfg.Stride == 0 {
		cfg.Stride = ^uint32(0) // effectively "never rotate" unless configured
	}
	entry := logrus.WithField("component", "blocklog").WithField("data_dir", cfg.DataDir)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("blocklog: create data dir: %w", err)
	}

	archiveDir := cfg.ArchiveDir
	if archiveDir != "" && !filepath.IsAbs(archiveDir) {
		archiveDir = filepath.Join(cfg.DataDir, archiveDir)
	}
	if archiveDir != "" {
		if err := os.MkdirAll(archiveDir, 0o755); err != nil {
			return nil, fmt.Errorf("blocklog: create archive dir: %w", err)
		}
	}

	lock, err := acquireDataDirLock(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	logPath := filepath.Join(cfg.DataDir, activeLogName)
	indexPath := filepath.Join(cfg.DataDir, activeIndexName)
	if err := touch(logPath); err != nil {
		lock.Unlock()
		return nil, err
	}
	if err := touch(indexPath); err != nil {
		lock.Unlock()
		return nil, err
	}

	metaCache, err := openSegmentMetaCache(cfg.MetadataCacheDir)
	if err != nil {
		entry.WithError(err).Warn("segment metadata cache unavailable, falling back to full scans")
		metaCache = nil
	}

	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := newMetrics(reg)

	catalog, err := OpenCatalog(cfg.DataDir, archiveDir, cfg.MaxRetainedFiles, metaCache, entry)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	catalog.SetRetainedGauge(m.retainedSegments)

	logSize, err := fileSize(logPath)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	indexSize, err := fileSize(indexPath)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	var preamble *Preamble
	var firstBlockPos uint64
	genesisWritten := logSize > 0

	switch {
	case logSize > 0 && indexSize > 0:
		preamble, firstBlockPos, err = readPreambleFromFile(logPath)
		if err != nil {
			lock.Unlock()
			return nil, err
		}
		if catalogID, ok := catalog.ChainID(); ok {
			resolvedID, err := preamble.ResolveChainID()
			if err != nil {
				lock.Unlock()
				return nil, err
			}
			if resolvedID != catalogID {
				lock.Unlock()
				return nil, fmt.Errorf("%w: active log disagrees with catalog", ErrChainIDMismatch)
			}
		}

		idx, err := OpenLogIndex(indexPath)
		if err != nil {
			lock.Unlock()
			return nil, err
		}
		back, backErr := idx.Back()
		idxLen := idx.Len()
		idx.Close()
		if backErr != nil {
			lock.Unlock()
			return nil, backErr
		}

		logData, err := OpenLogData(logPath)
		if err != nil {
			lock.Unlock()
			return nil, err
		}
		lastPos, lpErr := logData.LastBlockPosition()
		logData.Close()
		if lpErr != nil {
			lock.Unlock()
			return nil, lpErr
		}

		if lastPos != back {
			recovered, rerr := recoverFromIncompleteHead(logPath, indexPath, preamble.Version, preamble.FirstBlockNum, idxLen)
			if rerr != nil || !recovered {
				entry.Warn("index/log divergence detected, rebuilding index from log")
				if err := ConstructIndex(logPath, indexPath); err != nil {
					lock.Unlock()
					return nil, err
				}
			}
		}
	case logSize > 0 && indexSize == 0:
		preamble, firstBlockPos, err = readPreambleFromFile(logPath)
		if err != nil {
			lock.Unlock()
			return nil, err
		}
		if err := ConstructIndex(logPath, indexPath); err != nil {
			lock.Unlock()
			return nil, err
		}
	case logSize == 0 && indexSize > 0:
		if err := os.Truncate(indexPath, 0); err != nil {
			lock.Unlock()
			return nil, err
		}
	default:
		// both empty: waiting for Reset.
	}

	logFile, err := os.OpenFile(logPath, os.O_RDWR, 0o644)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	indexFile, err := os.OpenFile(indexPath, os.O_RDWR, 0o644)
	if err != nil {
		logFile.Close()
		lock.Unlock()
		return nil, err
	}

	s := &LogStore{
		cfg:            cfg,
		log:            entry,
		lock:           lock,
		logFile:        logFile,
		indexFile:      indexFile,
		preamble:       preamble,
		firstBlockPos:  firstBlockPos,
		genesisWritten: genesisWritten,
		catalog:        catalog,
		metaCache:      metaCache,
		metrics:        m,
	}

	if genesisWritten {
		if err := s.readHead(); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("blocklog: touch %s: %w", path, err)
	}
	return f.Close()
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("blocklog: stat %s: %w", path, err)
	}
	return info.Size(), nil
}

// readPreambleFromFile parses path's preamble through a mapped LogData, so
// the rlp stream decoding an embedded genesis state reads from an exact
// byte slice instead of buffering past the preamble on a file handle.
func readPreambleFromFile(path string) (*Preamble, uint64, error) {
	logData, err := OpenLogData(path)
	if err != nil {
		return nil, 0, err
	}
	defer logData.Close()
	return logData.Preamble(), logData.FirstBlockPosition(), nil
}

// recoverFromIncompleteHead corrects a partial write where the final
// appended block reached the log but not the index: if the log extends
// past the last indexed entry's declared size, and that entry still
// light-validates, truncate the log back to it. v4 only, since only v4
// entries carry a size field.
func recoverFromIncompleteHead(logPath, indexPath string, version, firstBlockNum uint32, indexLen int) (bool, error) {
	if version < 4 {
		return false, nil
	}
	logSize, err := fileSize(logPath)
	if err != nil {
		return false, err
	}
	idx, err := OpenLogIndex(indexPath)
	if err != nil {
		return false, err
	}
	back, err := idx.Back()
	idx.Close()
	if err != nil || back == npos {
		return false, err
	}
	if uint64(logSize) <= back+4 {
		return false, nil
	}

	logData, err := OpenLogData(logPath)
	if err != nil {
		return false, err
	}
	entrySizeBytes, err := logData.EntryBytesAt(back, 4)
	if err != nil {
		logData.Close()
		return false, nil
	}
	entrySize := uint64(binary.LittleEndian.Uint32(entrySizeBytes))
	trimmed := back + entrySize
	if uint64(logSize) <= trimmed {
		logData.Close()
		return false, nil
	}
	expected := firstBlockNum + uint32(indexLen) - 1
	verr := logData.LightValidate(back, expected)
	logData.Close()
	if verr != nil {
		return false, nil
	}

	f, err := os.OpenFile(logPath, os.O_RDWR, 0o644)
	if err != nil {
		return false, err
	}
	defer f.Close()
	if err := f.Truncate(int64(trimmed)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *LogStore) readHead() error {
	info, err := s.logFile.Stat()
	if err != nil {
		return err
	}
	if uint64(info.Size()) == s.firstBlockPos {
		s.head = nil
		return nil
	}
	var bpBuf [8]byte
	if _, err := s.logFile.ReadAt(bpBuf[:], info.Size()-8); err != nil {
		return fmt.Errorf("blocklog: read head back-pointer: %w", err)
	}
	pos := binary.LittleEndian.Uint64(bpBuf[:])
	block, _, err := s.readBlockAtPos(pos)
	if err != nil {
		return err
	}
	s.head = block
	return nil
}

func (s *LogStore) readBlockAtPos(pos uint64) (*chainblock.Block, uint64, error) {
	info, err := s.logFile.Stat()
	if err != nil {
		return nil, 0, err
	}
	if s.preamble.Version >= 4 {
		var sizeBuf [4]byte
		if _, err := s.logFile.ReadAt(sizeBuf[:], int64(pos)); err != nil {
			return nil, 0, err
		}
		size := binary.LittleEndian.Uint32(sizeBuf[:])
		buf := make([]byte, size)
		if _, err := s.logFile.ReadAt(buf, int64(pos)); err != nil {
			return nil, 0, err
		}
		meta, block, err := ReadEntryV4(buf)
		if err != nil {
			return nil, 0, err
		}
		return block, uint64(meta.Size), nil
	}
	rest := make([]byte, info.Size()-int64(pos))
	if _, err := s.logFile.ReadAt(rest, int64(pos)); err != nil {
		return nil, 0, err
	}
	block, _, consumed, err := ReadEntryLegacy(rest)
	if err != nil {
		return nil, 0, err
	}
	return block, uint64(consumed), nil
}

const headerProbeSize = 512

func (s *LogStore) readHeaderAtPos(pos uint64) (*chainblock.Header, error) {
	off := OffsetToBlockStart(s.preamble.Version)
	buf := make([]byte, headerProbeSize)
	n, err := s.logFile.ReadAt(buf, int64(pos))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	buf = buf[:n]
	if len(buf) < off {
		return nil, fmt.Errorf("%w: entry too short for header", ErrMalformedEntry)
	}
	if s.preamble.Version >= 4 {
		compression := chainblock.Compression(buf[4])
		if compression != chainblock.CompressionNone {
			return nil, fmt.Errorf("%w: unsupported compression tag %d", ErrMalformedEntry, compression)
		}
	}
	header, _, err := chainblock.UnpackHeader(buf[off:])
	return header, err
}

// Head returns the most recently appended block, or nil if none has been
// written since the last reset.
func (s *LogStore) Head() *chainblock.Block { return s.head }

// FirstBlockNum returns the active preamble's first block number.
func (s *LogStore) FirstBlockNum() uint32 {
	if s.preamble == nil {
		return 0
	}
	return s.preamble.FirstBlockNum
}

// Version returns the active preamble's version.
func (s *LogStore) Version() uint32 {
	if s.preamble == nil {
		return 0
	}
	return s.preamble.Version
}

func (s *LogStore) inLiveRange(n uint32) bool {
	return s.head != nil && s.preamble != nil && n >= s.preamble.FirstBlockNum && n <= s.head.BlockNum()
}

// ReadBlockByNum returns the block numbered n, from the live log if it
// falls in range, otherwise via the catalog's rotated segments.
func (s *LogStore) ReadBlockByNum(n uint32) (*chainblock.Block, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.readDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if s.inLiveRange(n) {
		pos, err := s.livePosition(n)
		if err != nil {
			return nil, err
		}
		block, _, err := s.readBlockAtPos(pos)
		return block, err
	}
	block, err := s.catalog.DatastreamForBlock(n)
	if err != nil {
		return nil, ErrBlockNotFound
	}
	return block, nil
}

// ReadBlockIDByNum returns the block id of block n, decoding only its
// header.
func (s *LogStore) ReadBlockIDByNum(n uint32) (chainblock.BlockID, error) {
	var header *chainblock.Header
	var err error
	if s.inLiveRange(n) {
		var pos uint64
		pos, err = s.livePosition(n)
		if err != nil {
			return chainblock.BlockID{}, err
		}
		header, err = s.readHeaderAtPos(pos)
	} else {
		header, err = s.catalog.HeaderForBlock(n)
	}
	if err != nil {
		return chainblock.BlockID{}, err
	}
	if header.BlockNum() != n {
		return chainblock.BlockID{}, fmt.Errorf("%w: header block number %d != requested %d", ErrMalformedEntry, header.BlockNum(), n)
	}
	return header.CalculateID()
}

func (s *LogStore) livePosition(n uint32) (uint64, error) {
	off := int64(8) * int64(n-s.preamble.FirstBlockNum)
	var buf [8]byte
	if _, err := s.indexFile.ReadAt(buf[:], off); err != nil {
		return 0, fmt.Errorf("blocklog: read index at block %d: %w", n, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Append writes block to the end of the live log, updates the index and
// head, flushes both files, and rotates the log if this append crosses a
// stride boundary. Returns the block's starting position.
func (s *LogStore) Append(block *chainblock.Block, compression chainblock.Compression) (uint64, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.appendDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if !s.genesisWritten {
		return 0, ErrAppendBeforeReset
	}

	logInfo, err := s.logFile.Stat()
	if err != nil {
		return 0, err
	}
	idxInfo, err := s.indexFile.Stat()
	if err != nil {
		return 0, err
	}
	expectedIdxOff := int64(8) * int64(block.BlockNum()-s.preamble.FirstBlockNum)
	if idxInfo.Size() != expectedIdxOff {
		return 0, ErrIndexDesync
	}

	startPos := uint64(logInfo.Size())
	var entryBytes []byte
	if s.preamble.Version >= 4 {
		entryBytes, err = WriteEntryV4(startPos, block)
	} else {
		entryBytes, err = WriteEntryLegacy(startPos, block)
	}
	if err != nil {
		return 0, err
	}

	if _, err := s.logFile.WriteAt(entryBytes, int64(startPos)); err != nil {
		return 0, fmt.Errorf("blocklog: write entry: %w", err)
	}
	if err := s.logFile.Sync(); err != nil {
		return 0, fmt.Errorf("blocklog: flush log: %w", err)
	}

	var posBuf [8]byte
	binary.LittleEndian.PutUint64(posBuf[:], startPos)
	if _, err := s.indexFile.WriteAt(posBuf[:], expectedIdxOff); err != nil {
		return 0, fmt.Errorf("blocklog: write index: %w", err)
	}
	if err := s.indexFile.Sync(); err != nil {
		return 0, fmt.Errorf("blocklog: flush index: %w", err)
	}

	s.head = block
	if s.metrics != nil {
		s.metrics.headBlockNum.Set(float64(block.BlockNum()))
	}

	if s.cfg.Stride > 0 && s.cfg.Stride != ^uint32(0) && block.BlockNum()%s.cfg.Stride == 0 {
		if err := s.split(); err != nil {
			return startPos, err
		}
	}

	return startPos, nil
}

// split rotates the active log into a named, immutable segment and starts
// a fresh active log carrying only the chain id.
func (s *LogStore) split() error {
	firstNum := s.preamble.FirstBlockNum
	headNum := s.head.BlockNum()
	chainID, err := s.preamble.ResolveChainID()
	if err != nil {
		return err
	}

	if err := s.logFile.Close(); err != nil {
		return err
	}
	if err := s.indexFile.Close(); err != nil {
		return err
	}

	logPath := filepath.Join(s.cfg.DataDir, activeLogName)
	indexPath := filepath.Join(s.cfg.DataDir, activeIndexName)
	newLogPath := filepath.Join(s.cfg.DataDir, fmt.Sprintf("blocks-%d-%d.log", firstNum, headNum))
	newIndexPath := filepath.Join(s.cfg.DataDir, fmt.Sprintf("blocks-%d-%d.index", firstNum, headNum))

	if err := os.Rename(logPath, newLogPath); err != nil {
		return fmt.Errorf("blocklog: rotate log: %w", err)
	}
	if err := os.Rename(indexPath, newIndexPath); err != nil {
		return fmt.Errorf("blocklog: rotate index: %w", err)
	}

	if err := s.catalog.Add(firstNum, headNum, s.cfg.DataDir); err != nil {
		return err
	}

	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	indexFile, err := os.OpenFile(indexPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		logFile.Close()
		return err
	}
	s.logFile = logFile
	s.indexFile = indexFile

	newPreamble := &Preamble{
		Version:       MaxSupportedVersion,
		FirstBlockNum: headNum + 1,
		ContextKind:   ContextChainID,
		ChainID:       chainID,
	}
	var buf bytes.Buffer
	if err := WritePreamble(&buf, newPreamble); err != nil {
		return err
	}
	if _, err := s.logFile.WriteAt(buf.Bytes(), 0); err != nil {
		return err
	}
	if err := s.logFile.Sync(); err != nil {
		return err
	}

	s.preamble = newPreamble
	s.firstBlockPos = uint64(buf.Len())

	if s.metrics != nil {
		s.metrics.rotations.Inc()
	}
	s.log.WithFields(logrus.Fields{"first": firstNum, "last": headNum}).Info("rotated block log segment")
	return nil
}

// Reset truncates the log to a fresh genesis-rooted state and appends the
// chain's first block.
func (s *LogStore) Reset(genesis *chainblock.GenesisState, firstBlock *chainblock.Block, compression chainblock.Compression) error {
	if err := s.truncateActive(); err != nil {
		return err
	}
	s.preamble = &Preamble{
		Version:       s.cfg.versionOrDefault(),
		FirstBlockNum: 1,
		ContextKind:   ContextGenesis,
		Genesis:       genesis,
	}
	if err := s.writePreambleNow(); err != nil {
		return err
	}
	s.genesisWritten = true
	s.head = nil
	_, err := s.Append(firstBlock, compression)
	return err
}

// ResetChainID truncates the log to a fresh state that only embeds a bare
// chain id, for continuing a chain whose genesis was already recorded in
// an earlier, archived segment.
func (s *LogStore) ResetChainID(chainID chainblock.ChainID, firstBlockNum uint32) error {
	if firstBlockNum <= 1 {
		return fmt.Errorf("%w: chain-id reset requires first_block_num > 1", ErrInvalidTrimArgs)
	}
	if existing, ok := s.catalog.ChainID(); ok && existing != chainID {
		return fmt.Errorf("%w: chain id differs from catalog", ErrInvalidTrimArgs)
	}
	if err := s.truncateActive(); err != nil {
		return err
	}
	s.preamble = &Preamble{
		Version:       s.cfg.versionOrDefault(),
		FirstBlockNum: firstBlockNum,
		ContextKind:   ContextChainID,
		ChainID:       chainID,
	}
	if err := s.writePreambleNow(); err != nil {
		return err
	}
	s.genesisWritten = true
	s.head = nil
	return nil
}

func (s *LogStore) truncateActive() error {
	if err := s.logFile.Truncate(0); err != nil {
		return err
	}
	if err := s.indexFile.Truncate(0); err != nil {
		return err
	}
	if _, err := s.logFile.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := s.indexFile.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return nil
}

func (s *LogStore) writePreambleNow() error {
	var buf bytes.Buffer
	if err := WritePreamble(&buf, s.preamble); err != nil {
		return err
	}
	if _, err := s.logFile.WriteAt(buf.Bytes(), 0); err != nil {
		return err
	}
	if err := s.logFile.Sync(); err != nil {
		return err
	}
	s.firstBlockPos = uint64(buf.Len())
	return nil
}

// PruneTransactions censors the context-free data of every transaction in
// block blockNum whose id appears in ids, rewriting only the payload
// region between the entry's framing and its trailing back-pointer. It
// requires the block to live in the active v4 log: rotated segments are
// immutable.
func (s *LogStore) PruneTransactions(blockNum uint32, ids [][32]byte) (int, error) {
	if s.preamble.Version < 4 {
		return 0, fmt.Errorf("%w: prune_transactions requires version>=4", ErrMalformedEntry)
	}
	if !s.inLiveRange(blockNum) {
		return 0, fmt.Errorf("blocklog: block %d is not in the mutable active segment", blockNum)
	}
	pos, err := s.livePosition(blockNum)
	if err != nil {
		return 0, err
	}

	var sizeBuf [4]byte
	if _, err := s.logFile.ReadAt(sizeBuf[:], int64(pos)); err != nil {
		return 0, err
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])
	entryBuf := make([]byte, size)
	if _, err := s.logFile.ReadAt(entryBuf, int64(pos)); err != nil {
		return 0, err
	}
	meta, block, err := ReadEntryV4(entryBuf)
	if err != nil {
		return 0, err
	}

	remaining := append([][32]byte(nil), ids...)
	numPruned := 0
	for i := range block.Transactions {
		txID := block.Transactions[i].ID()
		for j, want := range remaining {
			if txID != want {
				continue
			}
			remaining = append(remaining[:j], remaining[j+1:]...)
			if !block.Transactions[i].Pruned {
				block.Transactions[i].PruneAll()
				numPruned++
			}
			break
		}
	}
	if numPruned == 0 {
		return 0, nil
	}

	off := OffsetToBlockStart(s.preamble.Version)
	region := int(meta.Size) - off - 8
	packed, err := block.Pack(chainblock.CompressionNone)
	if err != nil {
		return 0, err
	}
	if len(packed) > region {
		return 0, fmt.Errorf("%w: pruned block no longer fits reserved payload region", ErrMalformedEntry)
	}
	out := make([]byte, region)
	copy(out, packed)
	if _, err := s.logFile.WriteAt(out, int64(pos)+int64(off)); err != nil {
		return 0, err
	}
	if err := s.logFile.Sync(); err != nil {
		return 0, err
	}
	return numPruned, nil
}

// Close flushes and releases every resource the store holds.
func (s *LogStore) Close() error {
	var firstErr error
	if s.catalog != nil {
		if err := s.catalog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.metaCache != nil {
		if err := s.metaCache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.logFile != nil {
		if err := s.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.indexFile != nil {
		if err := s.indexFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

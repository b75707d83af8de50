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

	"github.com/antdaza/antdblocklog/chainblock"
)

// Archive bundles an opened (LogData, LogIndex) pair, the shape every
// maintenance tool below operates on. Construction asserts the two agree
// on block count.
type Archive struct {
	Log   *LogData
	Index *LogIndex
}

// OpenArchive opens logPath and indexPath together.
func OpenArchive(logPath, indexPath string) (*Archive, error) {
	log, err := OpenLogData(logPath)
	if err != nil {
		return nil, err
	}
	idx, err := OpenLogIndex(indexPath)
	if err != nil {
		log.Close()
		return nil, err
	}
	numBlocks, err := log.NumBlocks()
	if err != nil {
		log.Close()
		idx.Close()
		return nil, err
	}
	if idx.Len() != int(numBlocks) {
		log.Close()
		idx.Close()
		return nil, fmt.Errorf("blocklog: archive block count mismatch: log=%d index=%d", numBlocks, idx.Len())
	}
	return &Archive{Log: log, Index: idx}, nil
}

func (a *Archive) Close() error {
	var firstErr error
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			firstErr = err
		}
	}
	if a.Log != nil {
		if err := a.Log.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Exists reports whether dataDir contains an active log file.
func Exists(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, activeLogName))
	return err == nil
}

// ContainsGenesisState reports whether logPath's preamble embeds a
// genesis state rather than a bare chain id.
func ContainsGenesisState(logPath string) bool {
	log, err := OpenLogData(logPath)
	if err != nil {
		return false
	}
	defer log.Close()
	return log.GetGenesisState() != nil
}

// ContainsChainID reports whether logPath's preamble carries a bare chain
// id rather than an embedded genesis state.
func ContainsChainID(logPath string) bool {
	log, err := OpenLogData(logPath)
	if err != nil {
		return false
	}
	defer log.Close()
	return log.Preamble().ContextKind == ContextChainID
}

// ExtractGenesisState returns the genesis state embedded in logPath's
// preamble, if any.
func ExtractGenesisState(logPath string) (*chainblock.GenesisState, error) {
	log, err := OpenLogData(logPath)
	if err != nil {
		return nil, err
	}
	defer log.Close()
	g := log.GetGenesisState()
	if g == nil {
		return nil, fmt.Errorf("blocklog: %s does not embed a genesis state", logPath)
	}
	return g, nil
}

// ExtractChainID returns the chain id logPath's preamble resolves to,
// whether embedded directly or derived from a genesis state.
func ExtractChainID(logPath string) (chainblock.ChainID, error) {
	log, err := OpenLogData(logPath)
	if err != nil {
		return chainblock.ChainID{}, err
	}
	defer log.Close()
	return log.ChainID()
}

// RepairLog salvages a corrupted tail: it backs up dataDir, walks the
// backup log re-verifying chaining and framing, keeps the good prefix,
// and spills anything past the first bad block to a separate file.
func RepairLog(dataDir string, truncateAt uint32) (string, error) {
	repairRunsTotal.Inc()
	activeLog := filepath.Join(dataDir, activeLogName)
	if _, err := os.Stat(activeLog); os.IsNotExist(err) {
		return "", ErrLogNotFound
	}

	stamp := time.Now().UTC().Format("20060102T150405Z")
	backupDir := fmt.Sprintf("%s-%s", dataDir, stamp)
	if _, err := os.Stat(backupDir); err == nil {
		return "", ErrBackupDirExists
	}
	if err := os.Rename(dataDir, backupDir); err != nil {
		return "", fmt.Errorf("blocklog: back up %s: %w", dataDir, err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return backupDir, err
	}

	backupLogPath := filepath.Join(backupDir, activeLogName)
	logData, err := OpenLogData(backupLogPath)
	if err != nil {
		return backupDir, err
	}
	defer logData.Close()

	pos := logData.FirstBlockPosition()
	size := logData.Size()
	lastGoodPos := pos
	var prevNum uint32
	var prevID chainblock.BlockID
	var stopErr error

	for pos < size {
		if truncateAt != 0 && prevNum >= truncateAt {
			break
		}
		num, id, warnings, verr := logData.FullValidateEntry(pos, prevNum, prevID)
		for _, w := range warnings {
			blocklogLogger().WithField("data_dir", dataDir).Warn(w)
		}
		if verr != nil {
			var bad *BadBlockError
			if errors.As(verr, &bad) {
				if remainder, derr := logData.DatastreamAt(pos); derr == nil {
					tailPath := filepath.Join(dataDir, fmt.Sprintf("blocks-bad-tail-%s.log", stamp))
					_ = os.WriteFile(tailPath, remainder, 0o644)
				}
				stopErr = bad.Err
			} else {
				stopErr = verr
			}
			break
		}
		_, entrySize, rerr := logData.ReadBlockAt(pos)
		if rerr != nil {
			stopErr = rerr
			break
		}
		lastGoodPos = pos + entrySize
		prevNum = num
		prevID = id
		pos = lastGoodPos
	}

	newLogPath := filepath.Join(dataDir, activeLogName)
	if err := copyFilePrefix(backupLogPath, newLogPath, lastGoodPos); err != nil {
		return backupDir, err
	}
	newIndexPath := filepath.Join(dataDir, activeIndexName)
	if err := touch(newIndexPath); err != nil {
		return backupDir, err
	}
	if lastGoodPos > logData.FirstBlockPosition() {
		if err := ConstructIndex(newLogPath, newIndexPath); err != nil {
			return backupDir, err
		}
	}

	return backupDir, stopErr
}

func copyFilePrefix(src, dst string, n uint64) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.CopyN(out, in, int64(n)); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return out.Sync()
}

// TrimFront rebuilds blockDir's active log+index in tempDir keeping only
// blocks [truncateAt, last], shifting every retained back-pointer by the
// number of bytes dropped from the front, then atomically swaps the
// result into blockDir.
func TrimFront(blockDir, tempDir string, truncateAt uint32) error {
	if blockDir == tempDir {
		return fmt.Errorf("%w: trim_front requires distinct block and temp directories", ErrInvalidTrimArgs)
	}

	logPath := filepath.Join(blockDir, activeLogName)
	indexPath := filepath.Join(blockDir, activeIndexName)

	sourceLog, err := OpenLogData(logPath)
	if err != nil {
		return err
	}
	defer sourceLog.Close()
	sourceIndex, err := OpenLogIndex(indexPath)
	if err != nil {
		return err
	}
	defer sourceIndex.Close()

	first := sourceLog.FirstBlockNum()
	numBlocks, err := sourceLog.NumBlocks()
	if err != nil {
		return err
	}
	last := first + numBlocks - 1
	if truncateAt < first || truncateAt > last {
		return fmt.Errorf("%w: truncate_at %d outside [%d,%d]", ErrInvalidTrimArgs, truncateAt, first, last)
	}

	truncPos, err := sourceIndex.Nth(int(truncateAt - first))
	if err != nil {
		return err
	}

	chainID, err := sourceLog.ChainID()
	if err != nil {
		return err
	}
	newVersion := sourceLog.Version()
	if newVersion < 3 {
		newVersion = 3
	}
	newPreamble := &Preamble{Version: newVersion, FirstBlockNum: truncateAt, ContextKind: ContextChainID, ChainID: chainID}
	var preambleBuf bytes.Buffer
	if err := WritePreamble(&preambleBuf, newPreamble); err != nil {
		return err
	}

	kept, err := sourceLog.DatastreamAt(truncPos)
	if err != nil {
		return err
	}
	body := append([]byte(nil), kept...)

	var positions []uint64
	localPos := 0
	newFirstPos := uint64(preambleBuf.Len())
	for localPos < len(body) {
		entryStartNew := newFirstPos + uint64(localPos)
		positions = append(positions, entryStartNew)
		if newVersion >= 4 {
			if localPos+4 > len(body) {
				return fmt.Errorf("%w: truncated v4 entry during trim", ErrMalformedEntry)
			}
			size := int(binary.LittleEndian.Uint32(body[localPos : localPos+4]))
			bpOff := localPos + size - 8
			if bpOff+8 > len(body) {
				return fmt.Errorf("%w: truncated v4 back-pointer during trim", ErrMalformedEntry)
			}
			binary.LittleEndian.PutUint64(body[bpOff:bpOff+8], entryStartNew)
			localPos += size
		} else {
			_, _, consumed, derr := ReadEntryLegacy(body[localPos:])
			if derr != nil {
				return derr
			}
			bpOff := localPos + consumed - 8
			binary.LittleEndian.PutUint64(body[bpOff:bpOff+8], entryStartNew)
			localPos += consumed
		}
	}

	tempLogPath := filepath.Join(tempDir, "blocks.log.new")
	tempIndexPath := filepath.Join(tempDir, "blocks.index.new")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return err
	}

	var newLog bytes.Buffer
	newLog.Write(preambleBuf.Bytes())
	newLog.Write(body)
	if err := os.WriteFile(tempLogPath, newLog.Bytes(), 0o644); err != nil {
		return err
	}

	var newIndex bytes.Buffer
	for _, pos := range positions {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], pos)
		newIndex.Write(buf[:])
	}
	if err := os.WriteFile(tempIndexPath, newIndex.Bytes(), 0o644); err != nil {
		return err
	}

	backupLog := filepath.Join(tempDir, "old.log")
	backupIndex := filepath.Join(tempDir, "old.index")
	if err := os.Rename(logPath, backupLog); err != nil {
		return err
	}
	if err := os.Rename(indexPath, backupIndex); err != nil {
		return err
	}
	if err := os.Rename(tempLogPath, logPath); err != nil {
		return err
	}
	if err := os.Rename(tempIndexPath, indexPath); err != nil {
		return err
	}
	_ = os.Remove(backupLog)
	_ = os.Remove(backupIndex)
	return nil
}

// TrimEnd resizes blockDir's active log and index to drop every block
// after n. Returns 0 on success, 1 if n is before the first block, 2 if n
// is after the last.
func TrimEnd(blockDir string, n uint32) (int, error) {
	logPath := filepath.Join(blockDir, activeLogName)
	indexPath := filepath.Join(blockDir, activeIndexName)

	log, err := OpenLogData(logPath)
	if err != nil {
		return 0, err
	}
	first := log.FirstBlockNum()
	numBlocks, err := log.NumBlocks()
	if err != nil {
		log.Close()
		return 0, err
	}
	last := first + numBlocks - 1

	if n < first {
		log.Close()
		return 1, nil
	}
	if n > last {
		log.Close()
		return 2, nil
	}

	idx, err := OpenLogIndex(indexPath)
	if err != nil {
		log.Close()
		return 0, err
	}

	oldLogSize := log.Size()
	slot := int(n) + 1 - int(first)
	var newLogSize uint64
	if slot < idx.Len() {
		newLogSize, err = idx.Nth(slot)
		if err != nil {
			idx.Close()
			log.Close()
			return 0, err
		}
	} else {
		newLogSize = oldLogSize
	}
	idx.Close()
	log.Close()

	if newLogSize < oldLogSize {
		f, err := os.OpenFile(logPath, os.O_RDWR, 0o644)
		if err != nil {
			return 0, err
		}
		err = f.Truncate(int64(newLogSize))
		f.Close()
		if err != nil {
			return 0, err
		}
	}
	if err := os.Truncate(indexPath, int64(slot)*8); err != nil {
		return 0, err
	}
	return 0, nil
}

// SmokeTest cross-checks blockDir's log/index block counts, then light
// validates every interval'th entry.
func SmokeTest(blockDir string, interval int) error {
	if interval <= 0 {
		interval = 1
	}
	archive, err := OpenArchive(filepath.Join(blockDir, activeLogName), filepath.Join(blockDir, activeIndexName))
	if err != nil {
		return err
	}
	defer archive.Close()

	first := archive.Log.FirstBlockNum()
	for i := 0; i < archive.Index.Len(); i += interval {
		pos, err := archive.Index.Nth(i)
		if err != nil {
			return err
		}
		if err := archive.Log.LightValidate(pos, first+uint32(i)); err != nil {
			return fmt.Errorf("blocklog: smoke test failed at block %d: %w", first+uint32(i), err)
		}
	}
	return nil
}

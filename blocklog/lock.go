// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package blocklog

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// acquireDataDirLock takes an exclusive advisory lock on dataDir/LOCK for
// the lifetime of an open LogStore. The core assumes single-writer,
// single-process use; this makes a second process opening the same
// data_dir fail immediately instead of silently corrupting the log.
func acquireDataDirLock(dataDir string) (*flock.Flock, error) {
	lockPath := filepath.Join(dataDir, "LOCK")
	fl := flock.New(lockPath)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("blocklog: lock %s: %w", lockPath, err)
	}
	if !ok {
		return nil, fmt.Errorf("blocklog: %s is locked by another process", dataDir)
	}
	return fl, nil
}

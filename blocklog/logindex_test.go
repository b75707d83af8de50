// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package blocklog

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeRawIndex(t *testing.T, positions []uint64) string {
	t.Helper()
	buf := make([]byte, len(positions)*8)
	for i, p := range positions {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], p)
	}
	path := filepath.Join(t.TempDir(), "blocks.index")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestLogIndexNthAndBack(t *testing.T) {
	path := writeRawIndex(t, []uint64{100, 250, 900})

	idx, err := OpenLogIndex(path)
	require.NoError(t, err)
	defer idx.Close()

	require.Equal(t, 3, idx.Len())

	got, err := idx.Nth(1)
	require.NoError(t, err)
	require.Equal(t, uint64(250), got)

	back, err := idx.Back()
	require.NoError(t, err)
	require.Equal(t, uint64(900), back)

	require.Equal(t, []uint64{100, 250, 900}, idx.Positions())
}

func TestLogIndexEmpty(t *testing.T) {
	path := writeRawIndex(t, nil)

	idx, err := OpenLogIndex(path)
	require.NoError(t, err)
	defer idx.Close()

	require.Equal(t, 0, idx.Len())
	back, err := idx.Back()
	require.NoError(t, err)
	require.Equal(t, uint64(npos), back)
}

func TestLogIndexNthOutOfRange(t *testing.T) {
	path := writeRawIndex(t, []uint64{1})
	idx, err := OpenLogIndex(path)
	require.NoError(t, err)
	defer idx.Close()

	_, err = idx.Nth(5)
	require.Error(t, err)
}

func TestOpenLogIndexRejectsMisalignedSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocks.index")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	_, err := OpenLogIndex(path)
	require.Error(t, err)
}

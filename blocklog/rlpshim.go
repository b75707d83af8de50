// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package blocklog

import (
	"io"

	"github.com/ethereum/go-ethereum/rlp"
)

// rlpTxShim mirrors chainblock's private wire transaction shape so this
// package can decode a transaction list without exporting that shape from
// chainblock.
type rlpTxShim struct {
	Data            []byte
	ContextFreeData []byte
	Pruned          bool
}

func newRLPStream(r io.Reader) *rlp.Stream {
	return rlp.NewStream(r, 0)
}

// rlpEncodedLen returns the canonical RLP-encoded length of v. Used to
// determine how many bytes a stream decode actually consumed, since
// canonical RLP encoding is deterministic: re-encoding a decoded value
// reproduces exactly the bytes that were read.
func rlpEncodedLen(v interface{}) (int, error) {
	buf, err := rlp.EncodeToBytes(v)
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}

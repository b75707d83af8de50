// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package chainblock

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// Compression identifies the payload compression of a block entry. The
// blocklog codec only ever accepts CompressionNone, but the tag is still
// carried on the wire for forward compatibility.
type Compression uint8

const (
	CompressionNone Compression = 0
)

var (
	ErrHeaderNil          = errors.New("chainblock: header is nil")
	ErrTxRootMismatch     = errors.New("chainblock: transaction root mismatch")
	ErrUnsupportedCompr   = errors.New("chainblock: unsupported compression")
	ErrTruncatedBlockBody = errors.New("chainblock: truncated block body")
)

// Block is the canonical in-memory block type, covering both the legacy
// and current on-disk representations: entry framing (legacy vs. v4) is the
// log's concern, not the block's.
type Block struct {
	Header       *Header
	Transactions []Transaction
}

// NewBlock builds a block, deriving the header's transaction merkle root
// from txs.
func NewBlock(header *Header, txs []Transaction) (*Block, error) {
	if header == nil {
		return nil, ErrHeaderNil
	}
	header.TransactionMroot = TransactionMerkleRoot(txs)
	return &Block{Header: header, Transactions: txs}, nil
}

// BlockNum delegates to the header.
func (b *Block) BlockNum() uint32 {
	return b.Header.BlockNum()
}

// CalculateID delegates to the header; pruning transactions never changes
// this value because the header only commits to their IDs via
// TransactionMroot, never to ContextFreeData.
func (b *Block) CalculateID() (BlockID, error) {
	return b.Header.CalculateID()
}

// TransactionMerkleRoot computes a Bitcoin-style double sha256 merkle root
// over transaction IDs.
func TransactionMerkleRoot(txs []Transaction) [32]byte {
	if len(txs) == 0 {
		return [32]byte{}
	}
	layer := make([][32]byte, len(txs))
	for i := range txs {
		layer[i] = txs[i].ID()
	}
	for len(layer) > 1 {
		if len(layer)%2 == 1 {
			layer = append(layer, layer[len(layer)-1])
		}
		next := make([][32]byte, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			first := sha256.Sum256(append(append([]byte{}, layer[i][:]...), layer[i+1][:]...))
			next[i/2] = sha256.Sum256(first[:])
		}
		layer = next
	}
	return layer[0]
}

// rlpTx is the wire shape for a transaction; kept separate from Transaction
// so a pruned ContextFreeData (nil) round-trips as an empty slice rather
// than requiring pointer semantics through rlp.
type rlpTx struct {
	Data            []byte
	ContextFreeData []byte
	Pruned          bool
}

// Pack serializes the block body (header + transactions) for the given
// compression. Only CompressionNone is supported.
func (b *Block) Pack(compression Compression) ([]byte, error) {
	if compression != CompressionNone {
		return nil, ErrUnsupportedCompr
	}
	out := append([]byte{}, b.Header.Pack()...)
	wire := make([]rlpTx, len(b.Transactions))
	for i, t := range b.Transactions {
		wire[i] = rlpTx{Data: t.Data, ContextFreeData: t.ContextFreeData, Pruned: t.Pruned}
	}
	txBytes, err := rlp.EncodeToBytes(wire)
	if err != nil {
		return nil, fmt.Errorf("chainblock: encode transactions: %w", err)
	}
	return append(out, txBytes...), nil
}

// MaxPrunedPackSize is the packed size assuming no transaction has been
// pruned yet, the padding budget a v4 entry writer reserves up front since
// pruning only ever shrinks ContextFreeData afterward.
func (b *Block) MaxPrunedPackSize(compression Compression) (int, error) {
	buf, err := b.Pack(compression)
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}

// UnpackBlock parses a block body previously produced by Pack.
func UnpackBlock(buf []byte, compression Compression) (*Block, error) {
	if compression != CompressionNone {
		return nil, ErrUnsupportedCompr
	}
	header, n, err := UnpackHeader(buf)
	if err != nil {
		return nil, err
	}
	var wire []rlpTx
	if err := rlp.DecodeBytes(buf[n:], &wire); err != nil {
		return nil, fmt.Errorf("chainblock: decode transactions: %w", err)
	}
	txs := make([]Transaction, len(wire))
	for i, w := range wire {
		txs[i] = Transaction{Data: w.Data, ContextFreeData: w.ContextFreeData, Pruned: w.Pruned}
	}
	return &Block{Header: header, Transactions: txs}, nil
}

// UnpackBlockHeader parses only the header, for callers that never need
// the transaction list.
func UnpackBlockHeader(buf []byte) (*Header, error) {
	h, _, err := UnpackHeader(buf)
	return h, err
}

// Validate performs structural validation against the parent block: header
// presence, block-number contiguity, and previous-id linkage.
func (b *Block) Validate(parent *Block) error {
	if b == nil || b.Header == nil {
		return ErrHeaderNil
	}
	var parentHeader *Header
	if parent != nil {
		parentHeader = parent.Header
	}
	if parentHeader != nil {
		expected, err := parentHeader.CalculateID()
		if err != nil {
			return err
		}
		if b.Header.Previous != expected {
			return ErrInvalidParentHash
		}
	}
	if root := TransactionMerkleRoot(b.Transactions); root != b.Header.TransactionMroot {
		return ErrTxRootMismatch
	}
	return nil
}

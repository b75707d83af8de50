// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package chainblock

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// headerFixedSize is the number of bytes written by Header.packFixed before
// the variable-length HeaderExtensions blob. It must keep Previous starting
// at byte 14: blocklog.blockNumAt reads bytes [14,18) directly out of the
// raw log entry to derive a block number without deserializing anything.
const headerFixedSize = 4 + 8 + 2 + 32 + 32 + 32 + 4 + 65

var (
	ErrInvalidParentHash = errors.New("chainblock: invalid parent hash")
	ErrInvalidTimestamp  = errors.New("chainblock: invalid timestamp")
	ErrExtraTooLarge     = errors.New("chainblock: header extensions too large")
)

// Header is the fixed-offset portion of a block, hashed to produce the
// block's BlockID. Field order and widths are load-bearing: see
// headerFixedSize.
type Header struct {
	Timestamp         uint32
	Producer          AccountName
	Confirmed         uint16
	Previous          BlockID
	TransactionMroot  [32]byte
	ActionMroot       [32]byte
	ScheduleVersion   uint32
	ProducerSignature [65]byte
	HeaderExtensions  []byte
}

// NewHeader builds the header for the block following parent (nil for
// genesis).
func NewHeader(parent *Header, producer AccountName, txMroot [32]byte) (*Header, error) {
	var previous BlockID
	if parent != nil {
		id, err := parent.CalculateID()
		if err != nil {
			return nil, err
		}
		previous = id
	}
	return &Header{
		Timestamp:        uint32(time.Now().Unix()),
		Producer:         producer,
		Previous:         previous,
		TransactionMroot: txMroot,
	}, nil
}

// BlockNum returns the number this header occupies: one past whatever
// number is embedded in Previous's id prefix. A zero Previous (genesis)
// yields block number 1.
func (h *Header) BlockNum() uint32 {
	return h.Previous.BlockNum() + 1
}

func (h *Header) packFixed() []byte {
	buf := make([]byte, 0, headerFixedSize+2+len(h.HeaderExtensions))
	tmp4 := make([]byte, 4)

	binary.LittleEndian.PutUint32(tmp4, h.Timestamp)
	buf = append(buf, tmp4...)             // offset 0
	buf = append(buf, h.Producer[:]...)    // offset 4
	tmp2 := make([]byte, 2)
	binary.LittleEndian.PutUint16(tmp2, h.Confirmed)
	buf = append(buf, tmp2...)             // offset 12
	buf = append(buf, h.Previous[:]...)    // offset 14 (block-num derivation reads buf[14:18])
	buf = append(buf, h.TransactionMroot[:]...)
	buf = append(buf, h.ActionMroot[:]...)
	binary.LittleEndian.PutUint32(tmp4, h.ScheduleVersion)
	buf = append(buf, tmp4...)
	buf = append(buf, h.ProducerSignature[:]...)

	binary.LittleEndian.PutUint16(tmp2, uint16(len(h.HeaderExtensions)))
	buf = append(buf, tmp2...)
	buf = append(buf, h.HeaderExtensions...)
	return buf
}

// Pack writes the header's canonical byte encoding.
func (h *Header) Pack() []byte {
	return h.packFixed()
}

// UnpackHeader reads a header from buf, returning the number of bytes
// consumed.
func UnpackHeader(buf []byte) (*Header, int, error) {
	if len(buf) < headerFixedSize+2 {
		return nil, 0, fmt.Errorf("chainblock: header buffer too short: %d bytes", len(buf))
	}
	h := &Header{}
	off := 0
	h.Timestamp = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	copy(h.Producer[:], buf[off:off+8])
	off += 8
	h.Confirmed = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	copy(h.Previous[:], buf[off:off+32])
	off += 32
	copy(h.TransactionMroot[:], buf[off:off+32])
	off += 32
	copy(h.ActionMroot[:], buf[off:off+32])
	off += 32
	h.ScheduleVersion = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	copy(h.ProducerSignature[:], buf[off:off+65])
	off += 65

	extLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if len(buf) < off+extLen {
		return nil, 0, errors.New("chainblock: header extensions truncated")
	}
	if extLen > 0 {
		h.HeaderExtensions = append([]byte(nil), buf[off:off+extLen]...)
	}
	off += extLen
	return h, off, nil
}

// CalculateID hashes the header's canonical encoding and stamps the result
// with the header's own block number, per the EOSIO block-id scheme
// documented on BlockID.
func (h *Header) CalculateID() (BlockID, error) {
	if len(h.HeaderExtensions) > 1<<16-1 {
		return BlockID{}, ErrExtraTooLarge
	}
	digest := sha256.Sum256(h.packFixed())
	var id BlockID
	binary.BigEndian.PutUint32(id[:4], h.BlockNum())
	copy(id[4:], digest[4:])
	return id, nil
}

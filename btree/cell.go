package btree

import (
	"fmt"

	"github.com/lowlevelkv/kvengine/buffer"
	"github.com/lowlevelkv/kvengine/common"
)

// A string cell is a fixed common.StringCellSize (64-byte) slot: a
// 4-byte length prefix, then either up to 60 bytes inline, or 52 inline
// bytes plus an 8-byte (page id, byte offset) overflow pointer for the
// remainder when the string is longer than 60 bytes.
//
//	[0:4)   total length (uint32)
//	short (len <= 60):
//	[4:64)  inline bytes, zero-padded
//	long (len > 60):
//	[4:56)  first 52 bytes inline
//	[56:60) overflow page id (int32)
//	[60:64) overflow byte offset (int32)

// writeCell stores data into the 64-byte slot cell, spilling to an
// overflow page via bufmgr when data is longer than the inline limit.
func writeCell(cell []byte, data []byte, bufmgr *buffer.Manager) error {
	if len(cell) != common.StringCellSize {
		return fmt.Errorf("btree: cell slot must be %d bytes, got %d", common.StringCellSize, len(cell))
	}

	common.PutUint32(cell[0:4], uint32(len(data)))

	for i := 4; i < common.StringCellSize; i++ {
		cell[i] = 0
	}

	if len(data) <= common.StringCellInlineMax {
		copy(cell[4:4+len(data)], data)
		return nil
	}

	copy(cell[4:4+common.StringCellInlineWithOverflow], data[:common.StringCellInlineWithOverflow])
	tail := data[common.StringCellInlineWithOverflow:]

	frame, err := bufmgr.GetOverflowWithCapacity(len(tail))
	if err != nil {
		return fmt.Errorf("btree: write cell overflow: %w", err)
	}
	frame.Latch(buffer.LatchWrite)
	offset, err := buffer.AppendOverflowBlob(frame, tail)
	frame.Unlatch(buffer.LatchWrite)
	pageID := frame.PageID()
	bufmgr.Unpin(frame, true)
	if err != nil {
		return fmt.Errorf("btree: write cell overflow: %w", err)
	}

	common.PutInt32(cell[56:60], pageID)
	common.PutInt32(cell[60:64], int32(offset))
	return nil
}

// readCell reconstructs the original bytes stored in the 64-byte slot
// cell, fetching the overflow tail via bufmgr if present.
func readCell(cell []byte, bufmgr *buffer.Manager) ([]byte, error) {
	if len(cell) != common.StringCellSize {
		return nil, fmt.Errorf("btree: cell slot must be %d bytes, got %d", common.StringCellSize, len(cell))
	}

	length := int(common.Uint32(cell[0:4]))
	if length <= common.StringCellInlineMax {
		return append([]byte(nil), cell[4:4+length]...), nil
	}

	out := make([]byte, length)
	copy(out[:common.StringCellInlineWithOverflow], cell[4:4+common.StringCellInlineWithOverflow])

	overflowPageID := common.Int32(cell[56:60])
	overflowOffset := int(common.Int32(cell[60:64]))
	tailLen := length - common.StringCellInlineWithOverflow

	frame, err := bufmgr.Get(overflowPageID)
	if err != nil {
		return nil, fmt.Errorf("btree: read cell overflow: %w", err)
	}
	frame.Latch(buffer.LatchRead)
	tail := buffer.ReadOverflowBlob(frame, overflowOffset, tailLen)
	frame.Unlatch(buffer.LatchRead)
	bufmgr.Unpin(frame, false)

	copy(out[common.StringCellInlineWithOverflow:], tail)
	return out, nil
}

package common

import "time"

// Core sizing constants shared by every storage layer. Keeping them in
// one place avoids the disk, buffer, and btree packages quietly
// disagreeing about page geometry.
const (
	// PageSize is the fixed size, in bytes, of every page on disk and in
	// the buffer pool.
	PageSize = 4096

	// InvalidPageID marks "no page" (an absent child, an absent next-leaf
	// pointer, and so on).
	InvalidPageID int32 = -1

	// RootMetadataPageID is the reserved page id of the root metadata
	// page. Ordinary pages are numbered starting at 1.
	RootMetadataPageID int32 = 0

	// PageBufferSize is the number of frames the buffer pool holds.
	PageBufferSize = 50

	// BPlusLeafKeyValueSize is the fixed capacity, in (key, value) cell
	// pairs, of a leaf page.
	BPlusLeafKeyValueSize = 30

	// BPlusInternalKeyPageIDSize is the fixed capacity, in key cells, of
	// an internal page. It has one more child page id than key.
	BPlusInternalKeyPageIDSize = 49

	// StringCellSize is the fixed width of a string cell slot: a 4-byte
	// length prefix plus up to 60 bytes of inline payload, or 52 inline
	// bytes plus an 8-byte overflow pointer when the string is longer.
	StringCellSize = 64

	// StringCellInlineMax is the largest string that fits entirely inline.
	StringCellInlineMax = 60

	// StringCellInlineWithOverflow is how many bytes are kept inline when
	// the remainder spills into an overflow page.
	StringCellInlineWithOverflow = 52

	// OverflowPageHeaderSize is the fixed header of an overflow page:
	// type (1 byte, padded to 4) + page id (4 bytes) + used-bytes (4
	// bytes, including this header).
	OverflowPageHeaderSize = 12
)

// FlushWaitInterval is how long the background buffer-pool flusher
// sleeps between passes.
const FlushWaitInterval = 500 * time.Millisecond

// Reserved key namespace. These are logged as ordinary SET records but
// intercepted by recovery rather than ever being returned by Get.
const (
	// NextPageIDKey carries the next page id the buffer manager will
	// hand out.
	NextPageIDKey = "toykv-next-page-id"

	// IndexRootPageIDKey carries the current B+ tree root page id.
	IndexRootPageIDKey = "toykv-index-root-page-id"
)

// IsReservedKey reports whether key belongs to the internal control
// namespace and must never be admitted as user data.
func IsReservedKey(key []byte) bool {
	s := string(key)
	return s == NextPageIDKey || s == IndexRootPageIDKey
}

package btree

import (
	"fmt"

	"github.com/lowlevelkv/kvengine/common"
)

// Typed tree page headers share: page type, page id, parent page id,
// entry count. Leaf pages additionally carry a next-leaf page id for
// sibling linking.
const (
	PageTypeInternal byte = 1
	PageTypeLeaf     byte = 2
)

const (
	offType     = 0
	offPageID   = 1
	offParentID = 5
	offCount    = 9
	offNextLeaf = 13 // leaf only

	// LeafHeaderSize: type(1) + pageID(4) + parentID(4) + count(4) + nextLeaf(4)
	LeafHeaderSize = 17
	// InternalHeaderSize: type(1) + pageID(4) + parentID(4) + count(4)
	InternalHeaderSize = 13

	// LeafCapacity is the fixed number of (key, value) cell pairs a leaf
	// page holds (BPLUS_LEAF_KEY_VALUE_SIZE).
	LeafCapacity = common.BPlusLeafKeyValueSize
	// InternalCapacity is the fixed number of key cells an internal page
	// holds (BPLUS_INTERNAL_KEY_PAGE_ID_SIZE). It has one more child id
	// than key.
	InternalCapacity = common.BPlusInternalKeyPageIDSize

	leafPairSize = 2 * common.StringCellSize

	internalKeysRegionSize = InternalCapacity * common.StringCellSize
	internalChildIDsOffset = InternalHeaderSize + internalKeysRegionSize
)

// LeafHalfFull is the minimum occupancy (⌈capacity/2⌉) below which a
// leaf must be rebalanced on delete.
func LeafHalfFull() int { return (LeafCapacity + 1) / 2 }

// InternalHalfFull is the minimum occupancy (⌈capacity/2⌉) below which
// an internal page must be rebalanced on delete.
func InternalHalfFull() int { return (InternalCapacity + 1) / 2 }

// LeafView is a thin accessor over a pinned frame's bytes, interpreting
// them as a leaf page. It does no allocation and aliases the slice
// passed to Leaf.
type LeafView struct{ buf []byte }

// Leaf wraps buf (a full PageSize frame) as a LeafView.
func Leaf(buf []byte) LeafView { return LeafView{buf} }

// InitLeaf writes a fresh, empty leaf header into buf.
func InitLeaf(buf []byte, pageID, parentID int32) LeafView {
	v := LeafView{buf}
	buf[offType] = PageTypeLeaf
	common.PutInt32(buf[offPageID:], pageID)
	common.PutInt32(buf[offParentID:], parentID)
	common.PutInt32(buf[offCount:], 0)
	common.PutInt32(buf[offNextLeaf:], common.InvalidPageID)
	return v
}

func (v LeafView) Type() byte        { return v.buf[offType] }
func (v LeafView) IsLeaf() bool      { return v.Type() == PageTypeLeaf }
func (v LeafView) PageID() int32     { return common.Int32(v.buf[offPageID:]) }
func (v LeafView) ParentID() int32   { return common.Int32(v.buf[offParentID:]) }
func (v LeafView) Count() int        { return int(common.Int32(v.buf[offCount:])) }
func (v LeafView) NextLeaf() int32   { return common.Int32(v.buf[offNextLeaf:]) }
func (v LeafView) IsFull() bool      { return v.Count() == LeafCapacity }

func (v LeafView) SetParentID(id int32)    { common.PutInt32(v.buf[offParentID:], id) }
func (v LeafView) setCount(n int)           { common.PutInt32(v.buf[offCount:], int32(n)) }
func (v LeafView) SetNextLeaf(id int32)     { common.PutInt32(v.buf[offNextLeaf:], id) }

func (v LeafView) keyCellOffset(i int) int   { return LeafHeaderSize + i*leafPairSize }
func (v LeafView) valueCellOffset(i int) int { return LeafHeaderSize + i*leafPairSize + common.StringCellSize }

func (v LeafView) keyCell(i int) []byte {
	o := v.keyCellOffset(i)
	return v.buf[o : o+common.StringCellSize]
}

func (v LeafView) valueCell(i int) []byte {
	o := v.valueCellOffset(i)
	return v.buf[o : o+common.StringCellSize]
}

// insertAt shifts [i, count) right by one pair and makes room at i.
func (v LeafView) insertAt(i int) {
	count := v.Count()
	for j := count; j > i; j-- {
		copy(v.keyCell(j), v.keyCell(j-1))
		copy(v.valueCell(j), v.valueCell(j-1))
	}
	v.setCount(count + 1)
}

// removeAt shifts [i+1, count) left by one pair, removing index i.
func (v LeafView) removeAt(i int) {
	count := v.Count()
	for j := i; j < count-1; j++ {
		copy(v.keyCell(j), v.keyCell(j+1))
		copy(v.valueCell(j), v.valueCell(j+1))
	}
	v.setCount(count - 1)
}

// InternalView is a thin accessor over a pinned frame's bytes,
// interpreting them as an internal page: a sorted array of separator
// key cells and one more child page id than key.
type InternalView struct{ buf []byte }

func Internal(buf []byte) InternalView { return InternalView{buf} }

// InitInternal writes a fresh internal header with a count of zero into
// buf. No child id is written; the caller sets the children.
func InitInternal(buf []byte, pageID, parentID int32) InternalView {
	v := InternalView{buf}
	buf[offType] = PageTypeInternal
	common.PutInt32(buf[offPageID:], pageID)
	common.PutInt32(buf[offParentID:], parentID)
	common.PutInt32(buf[offCount:], 0)
	return v
}

func (v InternalView) Type() byte      { return v.buf[offType] }
func (v InternalView) IsLeaf() bool    { return false }
func (v InternalView) PageID() int32   { return common.Int32(v.buf[offPageID:]) }
func (v InternalView) ParentID() int32 { return common.Int32(v.buf[offParentID:]) }
func (v InternalView) Count() int      { return int(common.Int32(v.buf[offCount:])) }

// IsFull reports fullness per spec.md's definition: an internal page is
// full when count+1 == capacity (one more insertion would leave no room
// for the +1 child id that must always fit).
func (v InternalView) IsFull() bool { return v.Count()+1 == InternalCapacity }

func (v InternalView) SetParentID(id int32) { common.PutInt32(v.buf[offParentID:], id) }
func (v InternalView) setCount(n int)       { common.PutInt32(v.buf[offCount:], int32(n)) }

func (v InternalView) keyCellOffset(i int) int { return InternalHeaderSize + i*common.StringCellSize }

func (v InternalView) keyCell(i int) []byte {
	o := v.keyCellOffset(i)
	return v.buf[o : o+common.StringCellSize]
}

func (v InternalView) childIDOffset(i int) int { return internalChildIDsOffset + i*4 }

func (v InternalView) ChildAt(i int) int32 {
	o := v.childIDOffset(i)
	return common.Int32(v.buf[o:])
}

func (v InternalView) SetChildAt(i int, pageID int32) {
	o := v.childIDOffset(i)
	common.PutInt32(v.buf[o:], pageID)
}

// insertAt shifts keys [i, count) and children [i+1, count+1) right by
// one, making room for a new separator key at index i and a new child
// id at index i+1.
func (v InternalView) insertAt(i int) {
	count := v.Count()
	for j := count; j > i; j-- {
		copy(v.keyCell(j), v.keyCell(j-1))
	}
	for j := count + 1; j > i+1; j-- {
		v.SetChildAt(j, v.ChildAt(j-1))
	}
	v.setCount(count + 1)
}

// removeAt removes the separator key at index i and the child id at
// index i+1, shifting subsequent entries left.
func (v InternalView) removeAt(i int) {
	count := v.Count()
	for j := i; j < count-1; j++ {
		copy(v.keyCell(j), v.keyCell(j+1))
	}
	for j := i + 1; j < count; j++ {
		v.SetChildAt(j, v.ChildAt(j+1))
	}
	v.setCount(count - 1)
}

func pageTypeOf(buf []byte) (byte, error) {
	t := buf[offType]
	if t != PageTypeLeaf && t != PageTypeInternal {
		return 0, fmt.Errorf("btree: %w: unrecognized page type byte %#x", common.ErrInternal, t)
	}
	return t, nil
}

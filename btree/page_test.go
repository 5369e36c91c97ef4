package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lowlevelkv/kvengine/common"
)

func TestLeafInsertAtShiftsRight(t *testing.T) {
	buf := make([]byte, common.PageSize)
	v := InitLeaf(buf, 1, common.InvalidPageID)

	writeRawKey := func(i int, k string) { copy(v.keyCell(i), []byte(k)) }

	v.insertAt(0)
	writeRawKey(0, "b")
	v.insertAt(0)
	writeRawKey(0, "a")

	require.Equal(t, 2, v.Count())
	require.Equal(t, byte('a'), v.keyCell(0)[0])
	require.Equal(t, byte('b'), v.keyCell(1)[0])
}

func TestLeafRemoveAtShiftsLeft(t *testing.T) {
	buf := make([]byte, common.PageSize)
	v := InitLeaf(buf, 1, common.InvalidPageID)
	for i, k := range []string{"a", "b", "c"} {
		v.insertAt(i)
		copy(v.keyCell(i), []byte(k))
	}

	v.removeAt(1)
	require.Equal(t, 2, v.Count())
	require.Equal(t, byte('a'), v.keyCell(0)[0])
	require.Equal(t, byte('c'), v.keyCell(1)[0])
}

func TestLeafIsFull(t *testing.T) {
	buf := make([]byte, common.PageSize)
	v := InitLeaf(buf, 1, common.InvalidPageID)
	for i := 0; i < LeafCapacity; i++ {
		v.insertAt(i)
	}
	require.True(t, v.IsFull())
}

func TestInternalInsertAtPreservesChildAlignment(t *testing.T) {
	buf := make([]byte, common.PageSize)
	v := InitInternal(buf, 1, common.InvalidPageID)
	v.SetChildAt(0, 100)

	v.insertAt(0)
	copy(v.keyCell(0), []byte("m"))
	v.SetChildAt(1, 200)

	require.Equal(t, 1, v.Count())
	require.Equal(t, int32(100), v.ChildAt(0))
	require.Equal(t, int32(200), v.ChildAt(1))
	require.Equal(t, byte('m'), v.keyCell(0)[0])
}

func TestInternalRemoveAtDropsSeparatorAndRightChild(t *testing.T) {
	buf := make([]byte, common.PageSize)
	v := InitInternal(buf, 1, common.InvalidPageID)
	v.SetChildAt(0, 10)
	v.insertAt(0)
	copy(v.keyCell(0), []byte("a"))
	v.SetChildAt(1, 20)
	v.insertAt(1)
	copy(v.keyCell(1), []byte("b"))
	v.SetChildAt(2, 30)

	v.removeAt(0)

	require.Equal(t, 1, v.Count())
	require.Equal(t, int32(10), v.ChildAt(0))
	require.Equal(t, int32(30), v.ChildAt(1))
	require.Equal(t, byte('b'), v.keyCell(0)[0])
}

func TestInternalIsFullAtCapacityMinusOne(t *testing.T) {
	buf := make([]byte, common.PageSize)
	v := InitInternal(buf, 1, common.InvalidPageID)
	for i := 0; i < InternalCapacity-1; i++ {
		v.insertAt(i)
	}
	require.True(t, v.IsFull())
}

func TestCellWriteReadInlineRoundTrip(t *testing.T) {
	cell := make([]byte, common.StringCellSize)
	data := []byte("hello world")
	require.NoError(t, writeCell(cell, data, nil))
	got, err := readCell(cell, nil)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestPageTypeOfRejectsUnknownTag(t *testing.T) {
	buf := make([]byte, common.PageSize)
	buf[0] = 0x99
	_, err := pageTypeOf(buf)
	require.Error(t, err)
}

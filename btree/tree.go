// Package btree implements the B+ tree index (§4.4): fixed-capacity
// leaf and internal pages, latch-coupled descent, preemptive
// split-on-insert, and borrow/merge-on-delete.
package btree

import (
	"fmt"

	"github.com/lowlevelkv/kvengine/buffer"
	"github.com/lowlevelkv/kvengine/common"
)

// BTree is the on-disk B+ tree index over common.StorageEngine keys and
// values. It holds no keys in memory; every lookup walks the buffer
// pool from the root.
type BTree struct {
	bufmgr *buffer.Manager
	cmp    Comparator

	rootPageID int32
}

// New wraps an existing buffer manager with a B+ tree view rooted at
// rootPageID. Use Init to create a brand new, empty tree instead.
func New(bufmgr *buffer.Manager, cmp Comparator, rootPageID int32) *BTree {
	if cmp == nil {
		cmp = ByteComparator{}
	}
	return &BTree{bufmgr: bufmgr, cmp: cmp, rootPageID: rootPageID}
}

// Init allocates a fresh, empty root leaf page and returns a BTree
// rooted there. Used when creating a database for the first time.
func Init(bufmgr *buffer.Manager, cmp Comparator) (*BTree, error) {
	frame, err := bufmgr.AllocateNew()
	if err != nil {
		return nil, fmt.Errorf("btree: init: %w", err)
	}
	frame.Latch(buffer.LatchWrite)
	InitLeaf(frame.Data(), frame.PageID(), common.InvalidPageID)
	frame.Unlatch(buffer.LatchWrite)
	pageID := frame.PageID()
	bufmgr.Unpin(frame, true)

	if err := bufmgr.LogIndexRootPageID(pageID); err != nil {
		return nil, fmt.Errorf("btree: init: %w", err)
	}

	return New(bufmgr, cmp, pageID), nil
}

// RootPageID returns the page id of the tree's current root. It
// changes whenever the root splits.
func (t *BTree) RootPageID() int32 { return t.rootPageID }

// SetRootPageID installs a new root, used after a root split and by
// recovery when restoring the persisted root id.
func (t *BTree) SetRootPageID(id int32) { t.rootPageID = id }

// searchLeaf finds i such that key equals keyCell(i), or the index at
// which key would be inserted to keep the leaf sorted, by linear scan.
func (t *BTree) searchLeaf(v LeafView, key []byte) (index int, found bool, err error) {
	count := v.Count()
	for i := 0; i < count; i++ {
		stored, derr := readCell(v.keyCell(i), t.bufmgr)
		if derr != nil {
			return 0, false, derr
		}
		c := t.cmp.Compare(key, stored)
		if c == 0 {
			return i, true, nil
		}
		if c < 0 {
			return i, false, nil
		}
	}
	return count, false, nil
}

// childForKey returns the index of the child an internal page would
// descend into to find key: keyCell(i) holds the largest key reachable
// through children[i], so childForKey returns the first i such that
// key <= keyCell(i), or count (the rightmost child) if key is greater
// than every separator.
func (t *BTree) childForKey(v InternalView, key []byte) (int, error) {
	count := v.Count()
	for i := 0; i < count; i++ {
		stored, err := readCell(v.keyCell(i), t.bufmgr)
		if err != nil {
			return 0, err
		}
		if t.cmp.Compare(key, stored) <= 0 {
			return i, nil
		}
	}
	return count, nil
}

// Get fetches the value stored for key, descending the tree with
// latch coupling (read mode): a child's latch is acquired before its
// parent's is released, so a concurrent writer can never observe a
// half-updated path.
func (t *BTree) Get(key []byte) ([]byte, error) {
	pageID := t.rootPageID
	frame, err := t.bufmgr.Get(pageID)
	if err != nil {
		return nil, fmt.Errorf("btree: get: %w", err)
	}
	frame.Latch(buffer.LatchRead)

	for {
		typ, terr := pageTypeOf(frame.Data())
		if terr != nil {
			frame.Unlatch(buffer.LatchRead)
			t.bufmgr.Unpin(frame, false)
			return nil, terr
		}

		if typ == PageTypeLeaf {
			v := Leaf(frame.Data())
			idx, found, serr := t.searchLeaf(v, key)
			if serr != nil {
				frame.Unlatch(buffer.LatchRead)
				t.bufmgr.Unpin(frame, false)
				return nil, serr
			}
			if !found {
				frame.Unlatch(buffer.LatchRead)
				t.bufmgr.Unpin(frame, false)
				return nil, common.ErrKeyNotFound
			}
			value, rerr := readCell(v.valueCell(idx), t.bufmgr)
			frame.Unlatch(buffer.LatchRead)
			t.bufmgr.Unpin(frame, false)
			if rerr != nil {
				return nil, rerr
			}
			return value, nil
		}

		v := Internal(frame.Data())
		childIdx, cerr := t.childForKey(v, key)
		if cerr != nil {
			frame.Unlatch(buffer.LatchRead)
			t.bufmgr.Unpin(frame, false)
			return nil, cerr
		}
		childPageID := v.ChildAt(childIdx)

		childFrame, gerr := t.bufmgr.Get(childPageID)
		if gerr != nil {
			frame.Unlatch(buffer.LatchRead)
			t.bufmgr.Unpin(frame, false)
			return nil, fmt.Errorf("btree: get: %w", gerr)
		}
		childFrame.Latch(buffer.LatchRead)

		frame.Unlatch(buffer.LatchRead)
		t.bufmgr.Unpin(frame, false)

		frame = childFrame
	}
}

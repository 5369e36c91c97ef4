package btree

import (
	"fmt"

	"github.com/lowlevelkv/kvengine/buffer"
)

func (t *BTree) pageIsFull(frame *buffer.Frame) (bool, error) {
	typ, err := pageTypeOf(frame.Data())
	if err != nil {
		return false, err
	}
	if typ == PageTypeLeaf {
		return Leaf(frame.Data()).IsFull(), nil
	}
	return Internal(frame.Data()).IsFull(), nil
}

// Insert stores (key, value), overwriting any existing value for key.
// It splits full pages preemptively on the way down, so every page it
// descends into below the root is guaranteed to have room for the
// insert or for a separator pushed up by a child's split.
func (t *BTree) Insert(key, value []byte) error {
	rootFrame, err := t.bufmgr.Get(t.rootPageID)
	if err != nil {
		return fmt.Errorf("btree: insert: %w", err)
	}
	rootFrame.Latch(buffer.LatchWrite)

	full, err := t.pageIsFull(rootFrame)
	if err != nil {
		rootFrame.Unlatch(buffer.LatchWrite)
		t.bufmgr.Unpin(rootFrame, false)
		return err
	}

	var current *buffer.Frame
	if full {
		siblingFrame, separator, serr := t.splitRoot(rootFrame)
		if serr != nil {
			rootFrame.Unlatch(buffer.LatchWrite)
			t.bufmgr.Unpin(rootFrame, true)
			return serr
		}
		if t.cmp.Compare(key, separator) <= 0 {
			current = rootFrame
			siblingFrame.Unlatch(buffer.LatchWrite)
			t.bufmgr.Unpin(siblingFrame, true)
		} else {
			current = siblingFrame
			rootFrame.Unlatch(buffer.LatchWrite)
			t.bufmgr.Unpin(rootFrame, true)
		}
	} else {
		current = rootFrame
	}

	for {
		typ, terr := pageTypeOf(current.Data())
		if terr != nil {
			current.Unlatch(buffer.LatchWrite)
			t.bufmgr.Unpin(current, false)
			return terr
		}

		if typ == PageTypeLeaf {
			v := Leaf(current.Data())
			idx, found, serr := t.searchLeaf(v, key)
			if serr != nil {
				current.Unlatch(buffer.LatchWrite)
				t.bufmgr.Unpin(current, false)
				return serr
			}
			if !found {
				v.insertAt(idx)
			}
			if werr := writeCell(v.keyCell(idx), key, t.bufmgr); werr != nil {
				current.Unlatch(buffer.LatchWrite)
				t.bufmgr.Unpin(current, true)
				return werr
			}
			if werr := writeCell(v.valueCell(idx), value, t.bufmgr); werr != nil {
				current.Unlatch(buffer.LatchWrite)
				t.bufmgr.Unpin(current, true)
				return werr
			}
			current.Unlatch(buffer.LatchWrite)
			t.bufmgr.Unpin(current, true)
			return nil
		}

		v := Internal(current.Data())
		childIdx, cerr := t.childForKey(v, key)
		if cerr != nil {
			current.Unlatch(buffer.LatchWrite)
			t.bufmgr.Unpin(current, false)
			return cerr
		}
		childPageID := v.ChildAt(childIdx)

		childFrame, gerr := t.bufmgr.Get(childPageID)
		if gerr != nil {
			current.Unlatch(buffer.LatchWrite)
			t.bufmgr.Unpin(current, false)
			return fmt.Errorf("btree: insert: %w", gerr)
		}
		childFrame.Latch(buffer.LatchWrite)

		childFull, ferr := t.pageIsFull(childFrame)
		if ferr != nil {
			childFrame.Unlatch(buffer.LatchWrite)
			t.bufmgr.Unpin(childFrame, false)
			current.Unlatch(buffer.LatchWrite)
			t.bufmgr.Unpin(current, false)
			return ferr
		}

		if childFull {
			siblingFrame, separator, serr := t.splitChildAndInsertSeparator(v, childIdx, childFrame)
			if serr != nil {
				childFrame.Unlatch(buffer.LatchWrite)
				t.bufmgr.Unpin(childFrame, false)
				current.Unlatch(buffer.LatchWrite)
				t.bufmgr.Unpin(current, false)
				return serr
			}
			current.Unlatch(buffer.LatchWrite)
			t.bufmgr.Unpin(current, true)

			if t.cmp.Compare(key, separator) <= 0 {
				siblingFrame.Unlatch(buffer.LatchWrite)
				t.bufmgr.Unpin(siblingFrame, true)
				current = childFrame
			} else {
				childFrame.Unlatch(buffer.LatchWrite)
				t.bufmgr.Unpin(childFrame, true)
				current = siblingFrame
			}
			continue
		}

		current.Unlatch(buffer.LatchWrite)
		t.bufmgr.Unpin(current, false)
		current = childFrame
	}
}

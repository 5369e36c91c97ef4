package btree

import (
	"fmt"

	"github.com/lowlevelkv/kvengine/buffer"
	"github.com/lowlevelkv/kvengine/common"
)

// Delete removes key. It returns common.ErrKeyNotFound if the key is
// absent. Unlike Insert's preemptive splitting, rebalancing is
// non-preemptive: the whole root-to-leaf path is pinned and
// write-latched for the descent, the key is removed, and only then
// does the walk back up borrow from a sibling or merge, stopping as
// soon as an ancestor is no longer underflowing.
func (t *BTree) Delete(key []byte) error {
	var path []*buffer.Frame
	pageID := t.rootPageID
	for {
		frame, err := t.bufmgr.Get(pageID)
		if err != nil {
			t.releasePath(path, false)
			return fmt.Errorf("btree: delete: %w", err)
		}
		frame.Latch(buffer.LatchWrite)
		path = append(path, frame)

		typ, terr := pageTypeOf(frame.Data())
		if terr != nil {
			t.releasePath(path, false)
			return terr
		}
		if typ == PageTypeLeaf {
			break
		}
		v := Internal(frame.Data())
		idx, cerr := t.childForKey(v, key)
		if cerr != nil {
			t.releasePath(path, false)
			return cerr
		}
		pageID = v.ChildAt(idx)
	}

	leafFrame := path[len(path)-1]
	leaf := Leaf(leafFrame.Data())
	idx, found, serr := t.searchLeaf(leaf, key)
	if serr != nil {
		t.releasePath(path, false)
		return serr
	}
	if !found {
		t.releasePath(path, false)
		return common.ErrKeyNotFound
	}
	leaf.removeAt(idx)

	err := t.rebalanceUp(path)
	t.releasePath(path, true)
	return err
}

// rebalanceUp walks path from the leaf (path's last entry) up toward
// the root, fixing underflow at each level by borrowing from a sibling
// or, failing that, merging with one. It stops at the first level that
// is not underflowing, since a fix at one level cannot un-fix a level
// further down that was already left alone.
func (t *BTree) rebalanceUp(path []*buffer.Frame) error {
	for level := len(path) - 1; level >= 0; level-- {
		frame := path[level]
		isRoot := level == 0

		typ, err := pageTypeOf(frame.Data())
		if err != nil {
			return err
		}

		var underflowing bool
		if typ == PageTypeLeaf {
			underflowing = !isRoot && Leaf(frame.Data()).Count() < LeafHalfFull()
		} else {
			underflowing = !isRoot && Internal(frame.Data()).Count() < InternalHalfFull()
		}

		if isRoot {
			if typ == PageTypeInternal {
				return t.collapseRootIfNeeded(frame)
			}
			return nil
		}
		if !underflowing {
			return nil
		}

		parentFrame := path[level-1]
		parent := Internal(parentFrame.Data())
		myIdx, ferr := t.findChildIndex(parent, frame.PageID())
		if ferr != nil {
			return ferr
		}

		merged, berr := t.borrowOrMerge(parent, myIdx, frame, typ)
		if berr != nil {
			return berr
		}
		if !merged {
			return nil
		}
		// Parent lost a separator and a child; loop continues and
		// checks the parent (path[level-1]) for underflow next.
	}
	return nil
}

// findChildIndex returns the index at which parent holds childPageID
// as a child pointer.
func (t *BTree) findChildIndex(parent InternalView, childPageID int32) (int, error) {
	for i := 0; i <= parent.Count(); i++ {
		if parent.ChildAt(i) == childPageID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("btree: %w: child page %d not found under parent %d", common.ErrInternal, childPageID, parent.PageID())
}

// collapseRootIfNeeded replaces an internal root with its sole
// remaining child when the root's key count has dropped to zero
// (one child, no separators left — a B+ tree root is the one page
// allowed to be less than half full, but it may never hold zero keys
// while still pointing at more than one child... and it may never
// hold zero keys with exactly one child without collapsing).
func (t *BTree) collapseRootIfNeeded(rootFrame *buffer.Frame) error {
	root := Internal(rootFrame.Data())
	if root.Count() != 0 {
		return nil
	}
	newRootID := root.ChildAt(0)
	if err := t.reparent(newRootID, common.InvalidPageID); err != nil {
		return err
	}
	if err := t.bufmgr.LogIndexRootPageID(newRootID); err != nil {
		return err
	}
	t.rootPageID = newRootID
	return nil
}

// borrowOrMerge resolves underflow in frame (a child of parent at
// index myIdx) by borrowing a spare entry from a sibling or, if
// neither sibling has one to spare, merging with one. It returns true
// if a merge happened (meaning parent itself lost an entry and must be
// checked for underflow by the caller), false if a borrow fixed things
// in place.
func (t *BTree) borrowOrMerge(parent InternalView, myIdx int, frame *buffer.Frame, typ byte) (merged bool, err error) {
	hasLeft := myIdx > 0
	hasRight := myIdx < parent.Count()

	if hasLeft {
		leftFrame, gerr := t.bufmgr.Get(parent.ChildAt(myIdx - 1))
		if gerr != nil {
			return false, fmt.Errorf("btree: rebalance: %w", gerr)
		}
		leftFrame.Latch(buffer.LatchWrite)
		canBorrow, cerr := t.canLend(leftFrame, typ)
		if cerr != nil {
			leftFrame.Unlatch(buffer.LatchWrite)
			t.bufmgr.Unpin(leftFrame, false)
			return false, cerr
		}
		if canBorrow {
			err = t.borrowFromLeft(parent, myIdx, leftFrame, frame, typ)
			leftFrame.Unlatch(buffer.LatchWrite)
			t.bufmgr.Unpin(leftFrame, true)
			return false, err
		}
		if !hasRight {
			err = t.mergeWithLeft(parent, myIdx, leftFrame, frame, typ)
			leftFrame.Unlatch(buffer.LatchWrite)
			t.bufmgr.Unpin(leftFrame, true)
			return true, err
		}
		leftFrame.Unlatch(buffer.LatchWrite)
		t.bufmgr.Unpin(leftFrame, false)
	}

	if hasRight {
		rightFrame, gerr := t.bufmgr.Get(parent.ChildAt(myIdx + 1))
		if gerr != nil {
			return false, fmt.Errorf("btree: rebalance: %w", gerr)
		}
		rightFrame.Latch(buffer.LatchWrite)
		canBorrow, cerr := t.canLend(rightFrame, typ)
		if cerr != nil {
			rightFrame.Unlatch(buffer.LatchWrite)
			t.bufmgr.Unpin(rightFrame, false)
			return false, cerr
		}
		if canBorrow {
			err = t.borrowFromRight(parent, myIdx, frame, rightFrame, typ)
			rightFrame.Unlatch(buffer.LatchWrite)
			t.bufmgr.Unpin(rightFrame, true)
			return false, err
		}
		err = t.mergeWithRight(parent, myIdx, frame, rightFrame, typ)
		rightFrame.Unlatch(buffer.LatchWrite)
		t.bufmgr.Unpin(rightFrame, true)
		return true, err
	}

	if hasLeft {
		leftFrame, gerr := t.bufmgr.Get(parent.ChildAt(myIdx - 1))
		if gerr != nil {
			return false, fmt.Errorf("btree: rebalance: %w", gerr)
		}
		leftFrame.Latch(buffer.LatchWrite)
		err = t.mergeWithLeft(parent, myIdx, leftFrame, frame, typ)
		leftFrame.Unlatch(buffer.LatchWrite)
		t.bufmgr.Unpin(leftFrame, true)
		return true, err
	}

	return false, nil
}

func (t *BTree) canLend(frame *buffer.Frame, typ byte) (bool, error) {
	if typ == PageTypeLeaf {
		return Leaf(frame.Data()).Count() > LeafHalfFull(), nil
	}
	return Internal(frame.Data()).Count() > InternalHalfFull(), nil
}

func (t *BTree) borrowFromLeft(parent InternalView, myIdx int, leftFrame, frame *buffer.Frame, typ byte) error {
	if typ == PageTypeLeaf {
		left, node := Leaf(leftFrame.Data()), Leaf(frame.Data())
		li := left.Count() - 1
		node.insertAt(0)
		copy(node.keyCell(0), left.keyCell(li))
		copy(node.valueCell(0), left.valueCell(li))
		left.removeAt(li)
		// The separator at myIdx-1 holds left's largest key; after
		// lending its old largest key away, that's left's new last key.
		newSep, err := readCell(left.keyCell(left.Count()-1), t.bufmgr)
		if err != nil {
			return err
		}
		return writeCell(parent.keyCell(myIdx-1), newSep, t.bufmgr)
	}

	left, node := Internal(leftFrame.Data()), Internal(frame.Data())
	parentSep, err := readCell(parent.keyCell(myIdx-1), t.bufmgr)
	if err != nil {
		return err
	}
	promoted, err := readCell(left.keyCell(left.Count()-1), t.bufmgr)
	if err != nil {
		return err
	}
	movedChild := left.ChildAt(left.Count())

	node.insertAt(0)
	if err := writeCell(node.keyCell(0), parentSep, t.bufmgr); err != nil {
		return err
	}
	// insertAt only shifts children from index 1 on; move the old first
	// child into slot 1 before the borrowed child takes slot 0.
	node.SetChildAt(1, node.ChildAt(0))
	node.SetChildAt(0, movedChild)
	left.removeAt(left.Count() - 1)
	if err := t.reparent(movedChild, node.PageID()); err != nil {
		return err
	}
	return writeCell(parent.keyCell(myIdx-1), promoted, t.bufmgr)
}

func (t *BTree) borrowFromRight(parent InternalView, myIdx int, frame, rightFrame *buffer.Frame, typ byte) error {
	if typ == PageTypeLeaf {
		node, right := Leaf(frame.Data()), Leaf(rightFrame.Data())
		idx := node.Count()
		copy(node.keyCell(idx), right.keyCell(0))
		copy(node.valueCell(idx), right.valueCell(0))
		node.setCount(idx + 1)
		right.removeAt(0)
		// The separator at myIdx holds node's largest key; the key just
		// appended (right's old smallest) is now node's new last key.
		newSep, err := readCell(node.keyCell(idx), t.bufmgr)
		if err != nil {
			return err
		}
		return writeCell(parent.keyCell(myIdx), newSep, t.bufmgr)
	}

	node, right := Internal(frame.Data()), Internal(rightFrame.Data())
	parentSep, err := readCell(parent.keyCell(myIdx), t.bufmgr)
	if err != nil {
		return err
	}
	promoted, err := readCell(right.keyCell(0), t.bufmgr)
	if err != nil {
		return err
	}
	movedChild := right.ChildAt(0)

	oldCount := node.Count()
	node.insertAt(oldCount)
	if err := writeCell(node.keyCell(oldCount), parentSep, t.bufmgr); err != nil {
		return err
	}
	node.SetChildAt(oldCount+1, movedChild)
	// removeAt(0) drops child 1, not child 0; put child 1 in slot 0 first
	// so that the moved-out first child is the one that disappears.
	right.SetChildAt(0, right.ChildAt(1))
	right.removeAt(0)
	if err := t.reparent(movedChild, node.PageID()); err != nil {
		return err
	}
	return writeCell(parent.keyCell(myIdx), promoted, t.bufmgr)
}

func (t *BTree) mergeWithLeft(parent InternalView, myIdx int, leftFrame, frame *buffer.Frame, typ byte) error {
	if typ == PageTypeLeaf {
		left, node := Leaf(leftFrame.Data()), Leaf(frame.Data())
		base := left.Count()
		for i := 0; i < node.Count(); i++ {
			copy(left.keyCell(base+i), node.keyCell(i))
			copy(left.valueCell(base+i), node.valueCell(i))
		}
		left.setCount(base + node.Count())
		left.SetNextLeaf(node.NextLeaf())
		parent.removeAt(myIdx - 1)
		return nil
	}

	left, node := Internal(leftFrame.Data()), Internal(frame.Data())
	parentSep, err := readCell(parent.keyCell(myIdx-1), t.bufmgr)
	if err != nil {
		return err
	}
	base := left.Count()
	if err := writeCell(left.keyCell(base), parentSep, t.bufmgr); err != nil {
		return err
	}
	for i := 0; i < node.Count(); i++ {
		copy(left.keyCell(base+1+i), node.keyCell(i))
	}
	for i := 0; i <= node.Count(); i++ {
		child := node.ChildAt(i)
		left.SetChildAt(base+1+i, child)
		if err := t.reparent(child, left.PageID()); err != nil {
			return err
		}
	}
	left.setCount(base + 1 + node.Count())
	parent.removeAt(myIdx - 1)
	return nil
}

func (t *BTree) mergeWithRight(parent InternalView, myIdx int, frame, rightFrame *buffer.Frame, typ byte) error {
	if typ == PageTypeLeaf {
		node, right := Leaf(frame.Data()), Leaf(rightFrame.Data())
		base := node.Count()
		for i := 0; i < right.Count(); i++ {
			copy(node.keyCell(base+i), right.keyCell(i))
			copy(node.valueCell(base+i), right.valueCell(i))
		}
		node.setCount(base + right.Count())
		node.SetNextLeaf(right.NextLeaf())
		parent.removeAt(myIdx)
		return nil
	}

	node, right := Internal(frame.Data()), Internal(rightFrame.Data())
	parentSep, err := readCell(parent.keyCell(myIdx), t.bufmgr)
	if err != nil {
		return err
	}
	base := node.Count()
	if err := writeCell(node.keyCell(base), parentSep, t.bufmgr); err != nil {
		return err
	}
	for i := 0; i < right.Count(); i++ {
		copy(node.keyCell(base+1+i), right.keyCell(i))
	}
	for i := 0; i <= right.Count(); i++ {
		child := right.ChildAt(i)
		node.SetChildAt(base+1+i, child)
		if err := t.reparent(child, node.PageID()); err != nil {
			return err
		}
	}
	node.setCount(base + 1 + right.Count())
	parent.removeAt(myIdx)
	return nil
}

// releasePath unlatches and unpins every frame in path, marking each
// dirty as given. Delete always holds the whole path write-latched, so
// this is the single cleanup point for every return path above.
func (t *BTree) releasePath(path []*buffer.Frame, dirty bool) {
	for _, frame := range path {
		frame.Unlatch(buffer.LatchWrite)
		t.bufmgr.Unpin(frame, dirty)
	}
}

package btree

import (
	"fmt"

	"github.com/lowlevelkv/kvengine/buffer"
	"github.com/lowlevelkv/kvengine/common"
)

// splitLeaf moves the upper half of leftFrame's entries into a freshly
// allocated leaf, relinks the leaf-sibling chain, and returns the new
// frame (pinned and write-latched, caller's to release) plus the
// separator key: the last key remaining in the left leaf, per the
// convention that keyCell(i) in a parent holds the largest key
// reachable through children[i] (descent follows key <= keyCell(i)).
func (t *BTree) splitLeaf(leftFrame *buffer.Frame) (*buffer.Frame, []byte, error) {
	rightFrame, err := t.bufmgr.AllocateNew()
	if err != nil {
		return nil, nil, fmt.Errorf("btree: split_leaf: %w", err)
	}
	rightFrame.Latch(buffer.LatchWrite)

	left := Leaf(leftFrame.Data())
	right := InitLeaf(rightFrame.Data(), rightFrame.PageID(), left.ParentID())

	const mid = LeafCapacity / 2
	count := left.Count()
	ri := 0
	for i := mid; i < count; i++ {
		copy(right.keyCell(ri), left.keyCell(i))
		copy(right.valueCell(ri), left.valueCell(i))
		ri++
	}
	right.setCount(ri)

	separator, err := readCell(left.keyCell(mid-1), t.bufmgr)
	if err != nil {
		rightFrame.Unlatch(buffer.LatchWrite)
		return nil, nil, err
	}
	left.setCount(mid)

	right.SetNextLeaf(left.NextLeaf())
	left.SetNextLeaf(rightFrame.PageID())

	return rightFrame, separator, nil
}

// splitInternal moves the upper half of leftFrame's keys and children
// into a freshly allocated internal page, pushing the middle key up as
// the separator (it is removed from both sides, per standard B+ tree
// internal splits). The moved children are reparented to the new page.
// Returns the new frame (pinned and write-latched) and the separator.
func (t *BTree) splitInternal(leftFrame *buffer.Frame) (*buffer.Frame, []byte, error) {
	rightFrame, err := t.bufmgr.AllocateNew()
	if err != nil {
		return nil, nil, fmt.Errorf("btree: split_internal: %w", err)
	}
	rightFrame.Latch(buffer.LatchWrite)

	left := Internal(leftFrame.Data())
	right := InitInternal(rightFrame.Data(), rightFrame.PageID(), left.ParentID())

	const mid = InternalCapacity / 2
	separator, err := readCell(left.keyCell(mid), t.bufmgr)
	if err != nil {
		rightFrame.Unlatch(buffer.LatchWrite)
		return nil, nil, err
	}

	count := left.Count()
	ri := 0
	for i := mid + 1; i < count; i++ {
		copy(right.keyCell(ri), left.keyCell(i))
		ri++
	}
	for i := mid + 1; i <= count; i++ {
		right.SetChildAt(i-(mid+1), left.ChildAt(i))
	}
	right.setCount(ri)
	left.setCount(mid)

	rightFrame.Unlatch(buffer.LatchWrite)
	for i := 0; i <= right.Count(); i++ {
		if err := t.reparent(right.ChildAt(i), rightFrame.PageID()); err != nil {
			return nil, nil, err
		}
	}
	rightFrame.Latch(buffer.LatchWrite)

	return rightFrame, separator, nil
}

// reparent updates childPageID's stored parent page id on disk.
func (t *BTree) reparent(childPageID, newParentID int32) error {
	frame, err := t.bufmgr.Get(childPageID)
	if err != nil {
		return fmt.Errorf("btree: reparent: %w", err)
	}
	frame.Latch(buffer.LatchWrite)
	setParentID(frame, newParentID)
	frame.Unlatch(buffer.LatchWrite)
	t.bufmgr.Unpin(frame, true)
	return nil
}

// setParentID writes parentID into a frame already latched for write,
// dispatching on the page's type tag.
func setParentID(frame *buffer.Frame, parentID int32) {
	if frame.Data()[offType] == PageTypeLeaf {
		Leaf(frame.Data()).SetParentID(parentID)
	} else {
		Internal(frame.Data()).SetParentID(parentID)
	}
}

// splitRoot splits a full root page (leaf or internal) and installs a
// brand new internal root above the two halves, per the fixed
// allocate-new-root -> old-root-as-child -> log-new-root-id ->
// split-old-root -> descend ordering: the new root page id is
// allocated and logged before the split is applied, so a crash mid
// split still has a durable, discoverable root to recover from.
//
// rootFrame must already be pinned and write-latched; it remains so on
// return (now playing the role of the left child). The returned
// sibling frame is pinned and write-latched as well.
func (t *BTree) splitRoot(rootFrame *buffer.Frame) (*buffer.Frame, []byte, error) {
	newRootFrame, err := t.bufmgr.AllocateNew()
	if err != nil {
		return nil, nil, fmt.Errorf("btree: split_root: allocate new root: %w", err)
	}
	newRootFrame.Latch(buffer.LatchWrite)
	InitInternal(newRootFrame.Data(), newRootFrame.PageID(), common.InvalidPageID)
	newRootPageID := newRootFrame.PageID()

	setParentID(rootFrame, newRootPageID)
	if err := t.bufmgr.LogIndexRootPageID(newRootPageID); err != nil {
		newRootFrame.Unlatch(buffer.LatchWrite)
		t.bufmgr.Unpin(newRootFrame, false)
		return nil, nil, err
	}

	oldRootTyp := rootFrame.Data()[offType]
	var siblingFrame *buffer.Frame
	var separator []byte
	if oldRootTyp == PageTypeLeaf {
		siblingFrame, separator, err = t.splitLeaf(rootFrame)
	} else {
		siblingFrame, separator, err = t.splitInternal(rootFrame)
	}
	if err != nil {
		newRootFrame.Unlatch(buffer.LatchWrite)
		t.bufmgr.Unpin(newRootFrame, false)
		return nil, nil, err
	}
	setParentID(siblingFrame, newRootPageID)

	newRoot := Internal(newRootFrame.Data())
	if err := writeCell(newRoot.keyCell(0), separator, t.bufmgr); err != nil {
		newRootFrame.Unlatch(buffer.LatchWrite)
		t.bufmgr.Unpin(newRootFrame, false)
		return nil, nil, err
	}
	newRoot.SetChildAt(0, rootFrame.PageID())
	newRoot.SetChildAt(1, siblingFrame.PageID())
	newRoot.setCount(1)
	newRootFrame.Unlatch(buffer.LatchWrite)

	t.rootPageID = newRootPageID
	t.bufmgr.Unpin(newRootFrame, true)

	return siblingFrame, separator, nil
}

// splitChildAndInsertSeparator splits a full child found at childIdx
// under parent (whose frame the caller holds write-latched, not yet
// full: preemptive splitting guarantees this) and links the new sibling in at
// childIdx+1, matching the slot the leaf split's own ordering would
// produce. Returns the new sibling frame (pinned, write-latched).
func (t *BTree) splitChildAndInsertSeparator(parent InternalView, childIdx int, childFrame *buffer.Frame) (*buffer.Frame, []byte, error) {
	childTyp := childFrame.Data()[offType]
	var siblingFrame *buffer.Frame
	var separator []byte
	var err error
	if childTyp == PageTypeLeaf {
		siblingFrame, separator, err = t.splitLeaf(childFrame)
	} else {
		siblingFrame, separator, err = t.splitInternal(childFrame)
	}
	if err != nil {
		return nil, nil, err
	}

	parent.insertAt(childIdx)
	if err := writeCell(parent.keyCell(childIdx), separator, t.bufmgr); err != nil {
		return nil, nil, err
	}
	parent.SetChildAt(childIdx+1, siblingFrame.PageID())

	return siblingFrame, separator, nil
}

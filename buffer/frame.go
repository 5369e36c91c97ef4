package buffer

import (
	"sync"

	"github.com/lowlevelkv/kvengine/common"
)

// LatchMode selects shared (read) or exclusive (write) acquisition of a
// frame's content latch. Tree traversals take LatchRead while
// descending for a Get and LatchWrite while descending for a
// structural mutation (§4.4's latch coupling).
type LatchMode int

const (
	LatchRead LatchMode = iota
	LatchWrite
)

// Frame is a cached page slot in the buffer pool. It carries the page
// id, the raw bytes, a pin count, a dirty flag, a second-chance bit for
// eviction, and a reader/writer latch.
//
// Two different mutexes protect different things on purpose:
//   - contentMu is the latch callers hold across all uses of the
//     frame's bytes (§4.2's concurrency contract) — acquired directly by
//     tree operations and by the flusher.
//   - metaMu guards pinCount/dirty/refBit, which the buffer manager and
//     the flusher both touch without necessarily holding contentMu (a
//     pin increment must not race a concurrent flush of the same frame).
type Frame struct {
	contentMu sync.RWMutex

	metaMu   sync.Mutex
	pageID   int32
	pinCount int32
	dirty    bool
	refBit   bool

	data [common.PageSize]byte
}

// PageID returns the page id currently held by this frame.
func (f *Frame) PageID() int32 {
	f.metaMu.Lock()
	defer f.metaMu.Unlock()
	return f.pageID
}

// Data returns the frame's raw page bytes. Callers must hold the
// content latch (in the mode appropriate to their access) for the
// duration of any read or write.
func (f *Frame) Data() []byte {
	return f.data[:]
}

// Latch acquires the content latch in the given mode.
func (f *Frame) Latch(mode LatchMode) {
	if mode == LatchRead {
		f.contentMu.RLock()
	} else {
		f.contentMu.Lock()
	}
}

// Unlatch releases the content latch previously acquired in mode.
func (f *Frame) Unlatch(mode LatchMode) {
	if mode == LatchRead {
		f.contentMu.RUnlock()
	} else {
		f.contentMu.Unlock()
	}
}

func (f *Frame) pin() {
	f.metaMu.Lock()
	f.pinCount++
	f.refBit = true
	f.metaMu.Unlock()
}

func (f *Frame) unpin(dirty bool) {
	f.metaMu.Lock()
	if dirty {
		f.dirty = true
	}
	if f.pinCount > 0 {
		f.pinCount--
	}
	f.metaMu.Unlock()
}

func (f *Frame) isPinned() bool {
	f.metaMu.Lock()
	defer f.metaMu.Unlock()
	return f.pinCount > 0
}

func (f *Frame) isDirty() bool {
	f.metaMu.Lock()
	defer f.metaMu.Unlock()
	return f.dirty
}

func (f *Frame) clearDirty() {
	f.metaMu.Lock()
	f.dirty = false
	f.metaMu.Unlock()
}

func (f *Frame) clearRefBit() bool {
	f.metaMu.Lock()
	was := f.refBit
	f.refBit = false
	f.metaMu.Unlock()
	return was
}

// reset reinstalls the frame for a different page: clears the bytes
// (preventing stale header reads), resets bookkeeping, and pins it once
// for the caller that triggered the install.
func (f *Frame) reset(pageID int32) {
	f.metaMu.Lock()
	for i := range f.data {
		f.data[i] = 0
	}
	f.pageID = pageID
	f.pinCount = 1
	f.dirty = false
	f.refBit = true
	f.metaMu.Unlock()
}

// Package buffer implements the Buffer Manager (§4.2): a bounded cache
// of page frames that pins, unpins, evicts with a second-chance clock,
// and asynchronously flushes dirty frames.
package buffer

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lowlevelkv/kvengine/common"
	"github.com/lowlevelkv/kvengine/disk"
	"github.com/lowlevelkv/kvengine/wal"
)

// pageTypeOverflow is the type tag initOverflowPage writes into an
// overflow page's first byte. Get does not check it, and
// GetOverflowWithCapacity finds overflow pages through its own list of
// page ids rather than by reading the tag.
const pageTypeOverflow = 0xF0

// Manager holds PageBufferSize frames, mediates all page access, and
// runs a background flusher goroutine for the lifetime of the database.
type Manager struct {
	disk *disk.Manager
	wal  *wal.Manager
	log  *zap.Logger

	mu              sync.RWMutex // guards maps, clock hand, nextPageID, overflow list
	frames          [common.PageBufferSize]*Frame
	pageToFrame     map[int32]int
	frameToPage     map[int]int32
	evictionStart   int
	nextPageID      int32
	overflowPageIDs []int32

	stopFlusher chan struct{}
	flusherDone chan struct{}
}

// New constructs a Manager. nextPageID is the next page id to allocate;
// kv.Load always passes 1 (page 0 is the root metadata page), for a new
// database and for a reopened one alike, since recovery rebuilds the
// tree into fresh pages.
func New(d *disk.Manager, w *wal.Manager, nextPageID int32, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		disk:        d,
		wal:         w,
		log:         log,
		pageToFrame: make(map[int32]int, common.PageBufferSize),
		frameToPage: make(map[int]int32, common.PageBufferSize),
		nextPageID:  nextPageID,
	}
	for i := range m.frames {
		m.frames[i] = &Frame{}
	}
	return m
}

// SetNextPageID overwrites the next page id to allocate. recovery.Run
// does not call it: logged next-page-id records are not read back, and
// the counter continues from the value passed to New.
func (m *Manager) SetNextPageID(n int32) {
	m.mu.Lock()
	m.nextPageID = n
	m.mu.Unlock()
}

// StartFlusher launches the single background flusher goroutine, which
// sleeps for common.FlushWaitInterval between passes and then runs
// FlushDirty once. Call StopFlusher to join it on close.
func (m *Manager) StartFlusher() {
	m.stopFlusher = make(chan struct{})
	m.flusherDone = make(chan struct{})
	go func() {
		defer close(m.flusherDone)
		ticker := time.NewTicker(common.FlushWaitInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopFlusher:
				return
			case <-ticker.C:
				if err := m.FlushDirty(); err != nil {
					m.log.Warn("background flush failed", zap.Error(err))
				}
			}
		}
	}()
}

// StopFlusher signals the flusher goroutine to stop and joins it.
func (m *Manager) StopFlusher() {
	if m.stopFlusher == nil {
		return
	}
	close(m.stopFlusher)
	<-m.flusherDone
}

// Get returns a pinned frame for pageID, loading it from disk if it is
// not already cached. The caller must call Unpin when done, and must
// hold the frame's content latch (via Latch/Unlatch) across any use of
// its bytes.
func (m *Manager) Get(pageID int32) (*Frame, error) {
	m.mu.Lock()
	if idx, ok := m.pageToFrame[pageID]; ok {
		frame := m.frames[idx]
		frame.pin()
		m.mu.Unlock()
		return frame, nil
	}

	idx, err := m.evictVictim()
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	victim := m.frames[idx]

	victim.Latch(LatchWrite)
	if err := m.disk.ReadPage(pageID, victim.Data()); err != nil {
		victim.Unlatch(LatchWrite)
		m.mu.Unlock()
		return nil, fmt.Errorf("buffer: get %d: %w", pageID, err)
	}
	victim.metaMu.Lock()
	victim.pageID = pageID
	victim.pinCount = 1
	victim.dirty = false
	victim.refBit = true
	victim.metaMu.Unlock()
	victim.Unlatch(LatchWrite)

	if old, ok := m.frameToPage[idx]; ok {
		delete(m.pageToFrame, old)
	}
	m.frameToPage[idx] = pageID
	m.pageToFrame[pageID] = idx
	m.mu.Unlock()

	return victim, nil
}

// AllocateNew durably logs the next-page-id counter increment, then
// hands out a fresh, zeroed, pinned frame for the new page id. The
// allocation is durable (via the WAL entry) before the caller writes
// anything to the frame.
func (m *Manager) AllocateNew() (*Frame, error) {
	m.mu.Lock()
	newNext := m.nextPageID + 1
	record := m.wal.Prepare([]byte(common.NextPageIDKey), []byte(fmt.Sprintf("%d", newNext)))
	if err := m.wal.Append(record); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("buffer: allocate_new: %w", err)
	}

	pageID := m.nextPageID
	m.nextPageID = newNext

	idx, err := m.evictVictim()
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	frame := m.frames[idx]

	frame.Latch(LatchWrite)
	frame.reset(pageID)
	frame.Unlatch(LatchWrite)

	if old, ok := m.frameToPage[idx]; ok {
		delete(m.pageToFrame, old)
	}
	m.frameToPage[idx] = pageID
	m.pageToFrame[pageID] = idx
	m.mu.Unlock()

	m.log.Debug("page allocated", zap.Int32("page_id", pageID))
	return frame, nil
}

// LogIndexRootPageID durably records a new B+ tree root page id under
// the reserved common.IndexRootPageIDKey, the same way AllocateNew logs
// the next-page-id counter. Recovery replays this record to restore
// the tree's root without having to walk every page on restart.
func (m *Manager) LogIndexRootPageID(pageID int32) error {
	record := m.wal.Prepare([]byte(common.IndexRootPageIDKey), []byte(fmt.Sprintf("%d", pageID)))
	if err := m.wal.Append(record); err != nil {
		return fmt.Errorf("buffer: log_index_root_page_id: %w", err)
	}
	return nil
}

// Unpin decrements a frame's pin count and, if dirty is true, marks it
// dirty. The caller must still hold the frame's content latch when
// calling Unpin.
func (m *Manager) Unpin(frame *Frame, dirty bool) {
	frame.unpin(dirty)
}

// evictVictim finds a frame to (re)use via the second-chance clock
// policy, writing it to disk first if dirty. Must be called with mu
// held exclusively. Returns the chosen frame index.
func (m *Manager) evictVictim() (int, error) {
	n := len(m.frames)
	for pass := 0; pass < 2*n+1; pass++ {
		idx := m.evictionStart
		m.evictionStart = (m.evictionStart + 1) % n
		frame := m.frames[idx]

		if frame.isPinned() {
			continue
		}
		if _, installed := m.frameToPage[idx]; !installed {
			return idx, nil // never-used frame, free to take immediately
		}
		if frame.clearRefBit() {
			continue // second chance: referenced since last sweep, skip once
		}

		if frame.isDirty() {
			frame.Latch(LatchWrite)
			if frame.isPinned() {
				// Became pinned between the check above and acquiring
				// the latch; leave it alone and keep looking.
				frame.Unlatch(LatchWrite)
				continue
			}
			if err := m.disk.WritePage(frame.PageID(), frame.Data(), false); err != nil {
				frame.Unlatch(LatchWrite)
				return 0, fmt.Errorf("buffer: evict: write page %d: %w", frame.PageID(), err)
			}
			frame.clearDirty()
			frame.Unlatch(LatchWrite)
		}
		return idx, nil
	}
	return 0, common.ErrResourceExhausted
}

// FlushDirty writes every unpinned dirty frame to disk. It is the body
// of the background flusher's periodic pass, and is also safe to call
// synchronously (e.g. from Sync/Close).
func (m *Manager) FlushDirty() error {
	m.mu.RLock()
	candidates := make([]*Frame, 0, len(m.frames))
	for _, f := range m.frames {
		if !f.isPinned() && f.isDirty() {
			candidates = append(candidates, f)
		}
	}
	m.mu.RUnlock()

	for i, f := range candidates {
		f.Latch(LatchWrite)
		if f.isPinned() || !f.isDirty() {
			f.Unlatch(LatchWrite)
			continue
		}
		flush := i == len(candidates)-1
		if err := m.disk.WritePage(f.PageID(), f.Data(), flush); err != nil {
			f.Unlatch(LatchWrite)
			return fmt.Errorf("buffer: flush_dirty: page %d: %w", f.PageID(), err)
		}
		f.clearDirty()
		f.Unlatch(LatchWrite)
	}
	return nil
}

// GetOverflowWithCapacity returns a pinned overflow page with at least
// n+4 bytes (the blob plus its length prefix) of remaining capacity,
// allocating and initializing a fresh overflow page if none qualifies.
// A fresh page has common.PageSize minus its 12-byte header free; when
// n+4 exceeds that, the fresh page is returned without the requested
// room and AppendOverflowBlob on it fails. There is no freelist: overflow pages are append-only and never
// reclaimed (§9 "overflow pages never freed").
func (m *Manager) GetOverflowWithCapacity(n int) (*Frame, error) {
	need := n + 4

	m.mu.RLock()
	candidates := append([]int32(nil), m.overflowPageIDs...)
	m.mu.RUnlock()

	for _, pageID := range candidates {
		frame, err := m.Get(pageID)
		if err != nil {
			return nil, err
		}
		frame.Latch(LatchRead)
		used := overflowUsedBytes(frame.Data())
		frame.Unlatch(LatchRead)

		if common.PageSize-used >= need {
			return frame, nil
		}
		m.Unpin(frame, false)
	}

	frame, err := m.AllocateNew()
	if err != nil {
		return nil, err
	}
	frame.Latch(LatchWrite)
	initOverflowPage(frame.Data(), frame.PageID())
	frame.Unlatch(LatchWrite)
	m.Unpin(frame, true)

	m.mu.Lock()
	m.overflowPageIDs = append(m.overflowPageIDs, frame.PageID())
	m.mu.Unlock()

	return m.Get(frame.PageID())
}

// initOverflowPage writes a fresh overflow page header: type tag, page
// id, and used-bytes-including-header (initially just the header).
func initOverflowPage(buf []byte, pageID int32) {
	buf[0] = pageTypeOverflow
	common.PutInt32(buf[4:8], pageID)
	common.PutUint32(buf[8:12], common.OverflowPageHeaderSize)
}

func overflowUsedBytes(buf []byte) int {
	return int(common.Uint32(buf[8:12]))
}

func overflowSetUsedBytes(buf []byte, used int) {
	common.PutUint32(buf[8:12], uint32(used))
}

// AppendOverflowBlob appends a length-prefixed blob to an overflow page
// frame (caller must hold the frame's write latch) and returns the byte
// offset at which the blob's data (after its length prefix) begins.
func AppendOverflowBlob(frame *Frame, data []byte) (int, error) {
	buf := frame.Data()
	used := overflowUsedBytes(buf)
	need := 4 + len(data)
	if used+need > common.PageSize {
		return 0, fmt.Errorf("buffer: overflow page %d has no room for %d bytes", frame.PageID(), len(data))
	}
	common.PutUint32(buf[used:used+4], uint32(len(data)))
	copy(buf[used+4:used+4+len(data)], data)
	overflowSetUsedBytes(buf, used+need)
	return used + 4, nil
}

// ReadOverflowBlob reads a length-prefixed blob at byteOffset (the
// offset returned by AppendOverflowBlob) from an overflow page frame
// (caller must hold the frame's read or write latch).
func ReadOverflowBlob(frame *Frame, byteOffset int, length int) []byte {
	buf := frame.Data()
	return append([]byte(nil), buf[byteOffset:byteOffset+length]...)
}

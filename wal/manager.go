package wal

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lowlevelkv/kvengine/common"
	"github.com/lowlevelkv/kvengine/disk"
)

// Manager is the Log Manager (§4.3): the sole source of durability.
// Every state-changing event crosses it before becoming visible
// elsewhere.
type Manager struct {
	disk *disk.Manager
	log  *zap.Logger

	mu            sync.Mutex
	nextLogNumber uint64
	replaying     bool
}

// New creates a Log Manager over an already-open Disk Manager. The
// caller sets the starting log number via SetNextLogNumber once
// recovery has determined it (0 for a freshly created database).
func New(d *disk.Manager, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{disk: d, log: log}
}

// Prepare builds an in-memory record and assigns it the next log
// number, incrementing the counter. value == nil produces a DELETE
// record, otherwise a SET record.
func (m *Manager) Prepare(key, value []byte) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.nextLogNumber
	m.nextLogNumber++

	kind := RecordSet
	if value == nil {
		kind = RecordDelete
	}
	return &Record{Kind: kind, LogNumber: n, Key: key, Value: value}
}

// Append serializes record and hands it to the Disk Manager, durable
// before returning. This is the WAL-before-state boundary: callers must
// not make the described mutation visible until Append has returned nil.
// While SetReplaying(true) is in effect, Append is a no-op: recovery
// rebuilds a fresh tree by re-running every historical SET/DELETE
// through the normal write path, which re-triggers the same structural
// WAL records (next-page-id, index-root-page-id) the original session
// already durably logged. Re-appending them would duplicate log
// entries and grow the log on every reopen.
func (m *Manager) Append(record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaying {
		return nil
	}

	buf := record.Encode()
	if _, err := m.disk.AppendLog(buf); err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	m.log.Debug("log record appended",
		zap.String("kind", record.Kind.String()),
		zap.Uint64("log_number", record.LogNumber),
		zap.Int("key_len", len(record.Key)),
	)
	return nil
}

// SetReplaying toggles whether Append durably writes records. Recovery
// sets this for the duration of its replay pass and clears it before
// returning.
func (m *Manager) SetReplaying(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaying = v
}

// SetNextLogNumber sets the log number counter. Called once, at the end
// of recovery, with (max observed log number) + 1.
func (m *Manager) SetNextLogNumber(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLogNumber = n
}

// NextLogNumber returns the next log number that will be assigned.
func (m *Manager) NextLogNumber() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextLogNumber
}

// Iterator is a lazy, single-pass, finite forward sequence of
// deserialized records starting at offset 0 and terminating when the
// cursor reaches the log file's size at the time IterateFromStart was
// called.
type Iterator struct {
	disk   *disk.Manager
	offset int64
	end    int64
}

// IterateFromStart returns an Iterator over every record currently in
// the log file.
func (m *Manager) IterateFromStart() (*Iterator, error) {
	size, err := m.disk.LogFileSize()
	if err != nil {
		return nil, fmt.Errorf("wal: iterate_from_start: %w", err)
	}
	return &Iterator{disk: m.disk, offset: 0, end: size}, nil
}

// Next returns the next record, or (nil, false, nil) when the iterator
// is exhausted.
func (it *Iterator) Next() (*Record, bool, error) {
	if it.offset >= it.end {
		return nil, false, nil
	}

	header, err := it.disk.ReadLogRecordHeader(it.offset)
	if err != nil {
		return nil, false, fmt.Errorf("wal: iterate: %w", err)
	}
	kind, logNumber, totalSize, err := decodeHeader(header)
	if err != nil {
		return nil, false, err
	}
	if it.offset+int64(totalSize) > it.end {
		return nil, false, fmt.Errorf("wal: %w: record at offset %d extends past end of log", common.ErrCorruptLog, it.offset)
	}

	bodySize := int(totalSize) - headerSize
	body, err := it.disk.ReadLogRecordBody(it.offset+headerSize, bodySize)
	if err != nil {
		return nil, false, fmt.Errorf("wal: iterate: %w", err)
	}

	record, err := decodeBody(kind, logNumber, body)
	if err != nil {
		return nil, false, err
	}

	it.offset += int64(totalSize)
	return record, true, nil
}

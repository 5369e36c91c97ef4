// Package disk implements the Disk Manager: byte-exact persistence of
// fixed-size pages and append-only log records across two files, a
// paged database file and a sequential log file.
package disk

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/lowlevelkv/kvengine/common"
)

// Manager owns the database file and the log file for a single opened
// database. Positioned reads/writes on the database file are safe to
// call concurrently; log appends and reads are serialized by the caller
// (the wal.Manager holds its own mutex around Append).
type Manager struct {
	dbFile  *os.File
	logFile *os.File
	lock    *flock.Flock
	log     *zap.Logger

	dbPath  string
	logPath string
}

// CreateAndOpen truncates (or creates) "<path>.db" and "<path>.log",
// writes a fresh root metadata page, flushes it, and returns a Manager
// positioned to read/write both files.
func CreateAndOpen(path string, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}

	lk, err := acquireLock(path)
	if err != nil {
		return nil, err
	}

	dbPath, logPath := path+".db", path+".log"

	dbFile, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		lk.Unlock()
		return nil, fmt.Errorf("disk: create db file: %w", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		dbFile.Close()
		lk.Unlock()
		return nil, fmt.Errorf("disk: create log file: %w", err)
	}

	m := &Manager{dbFile: dbFile, logFile: logFile, lock: lk, log: log, dbPath: dbPath, logPath: logPath}

	root := make([]byte, common.PageSize)
	writeRootPageHeader(root)
	if err := m.WritePage(common.RootMetadataPageID, root, true); err != nil {
		m.Close()
		return nil, fmt.Errorf("disk: write root page: %w", err)
	}

	log.Info("database created", zap.String("path", path))
	return m, nil
}

// Open opens an existing "<path>.db"/"<path>.log" pair, validates the
// root metadata page, and returns a Manager plus the raw root page bytes.
// Those bytes hold only the type tag and page id (see the layout below);
// the index root page id is not among them, and kv.Load ignores them and
// reconstructs state from the WAL.
func Open(path string, log *zap.Logger) (*Manager, []byte, error) {
	if log == nil {
		log = zap.NewNop()
	}

	dbPath, logPath := path+".db", path+".log"

	if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return nil, nil, common.ErrKeyNotFound
		}
		return nil, nil, err
	}

	lk, err := acquireLock(path)
	if err != nil {
		return nil, nil, err
	}

	dbFile, err := os.OpenFile(dbPath, os.O_RDWR, 0o600)
	if err != nil {
		lk.Unlock()
		return nil, nil, fmt.Errorf("disk: open db file: %w", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		dbFile.Close()
		lk.Unlock()
		return nil, nil, fmt.Errorf("disk: open log file: %w", err)
	}

	m := &Manager{dbFile: dbFile, logFile: logFile, lock: lk, log: log, dbPath: dbPath, logPath: logPath}

	root := make([]byte, common.PageSize)
	if err := m.ReadPage(common.RootMetadataPageID, root); err != nil {
		m.Close()
		return nil, nil, fmt.Errorf("disk: read root page: %w", err)
	}
	if err := validateRootPageHeader(root); err != nil {
		m.Close()
		return nil, nil, err
	}

	log.Info("database opened", zap.String("path", path))
	return m, root, nil
}

func acquireLock(path string) (*flock.Flock, error) {
	lk := flock.New(path + ".lock")
	ok, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("disk: acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("disk: database %q is already open by another process", path)
	}
	return lk, nil
}

// ReadPage reads exactly common.PageSize bytes at page id*PageSize into
// buf, which must have length common.PageSize.
func (m *Manager) ReadPage(id int32, buf []byte) error {
	if len(buf) != common.PageSize {
		return fmt.Errorf("disk: read_page: buffer must be %d bytes, got %d", common.PageSize, len(buf))
	}
	offset := int64(id) * common.PageSize
	n, err := m.dbFile.ReadAt(buf, offset)
	if err != nil && !(errors.Is(err, io.EOF) && n == common.PageSize) {
		return fmt.Errorf("disk: read_page %d: %w", id, err)
	}
	if n != common.PageSize {
		return fmt.Errorf("disk: read_page %d: short read (%d of %d bytes)", id, n, common.PageSize)
	}
	return nil
}

// WritePage writes buf (which must have length common.PageSize) at page
// id*PageSize. When flush is true the write is made durable before
// returning.
func (m *Manager) WritePage(id int32, buf []byte, flush bool) error {
	if len(buf) != common.PageSize {
		return fmt.Errorf("disk: write_page: buffer must be %d bytes, got %d", common.PageSize, len(buf))
	}
	offset := int64(id) * common.PageSize
	n, err := m.dbFile.WriteAt(buf, offset)
	if err != nil {
		return fmt.Errorf("disk: write_page %d: %w", id, err)
	}
	if n != common.PageSize {
		return fmt.Errorf("disk: write_page %d: partial write (%d of %d bytes)", id, n, common.PageSize)
	}
	if flush {
		if err := m.dbFile.Sync(); err != nil {
			return fmt.Errorf("disk: sync db file: %w", err)
		}
	}
	return nil
}

// AppendLog appends data to the log file and durably flushes before
// returning. It reports the byte offset at which data was written.
func (m *Manager) AppendLog(data []byte) (int64, error) {
	offset, err := m.logFile.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("disk: seek log file: %w", err)
	}
	n, err := m.logFile.Write(data)
	if err != nil {
		return 0, fmt.Errorf("disk: append log: %w", err)
	}
	if n != len(data) {
		return 0, fmt.Errorf("disk: append log: partial write (%d of %d bytes)", n, len(data))
	}
	if err := m.logFile.Sync(); err != nil {
		return 0, fmt.Errorf("disk: sync log file: %w", err)
	}
	return offset, nil
}

// ReadLogRecordHeader reads the fixed 16-byte header at offset.
func (m *Manager) ReadLogRecordHeader(offset int64) ([]byte, error) {
	header := make([]byte, 16)
	n, err := m.logFile.ReadAt(header, offset)
	if err != nil {
		return nil, fmt.Errorf("disk: read log header at %d: %w", offset, err)
	}
	if n != 16 {
		return nil, fmt.Errorf("disk: read log header at %d: short read", offset)
	}
	return header, nil
}

// ReadLogRecordBody reads size bytes of the record body at offset.
func (m *Manager) ReadLogRecordBody(offset int64, size int) ([]byte, error) {
	body := make([]byte, size)
	n, err := m.logFile.ReadAt(body, offset)
	if err != nil {
		return nil, fmt.Errorf("disk: read log body at %d: %w", offset, err)
	}
	if n != size {
		return nil, fmt.Errorf("disk: read log body at %d: short read", offset)
	}
	return body, nil
}

// LogFileSize returns the current size of the log file, used by the log
// iterator to detect end-of-log.
func (m *Manager) LogFileSize() (int64, error) {
	info, err := m.logFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("disk: stat log file: %w", err)
	}
	return info.Size(), nil
}

// Close flushes and closes both files and releases the single-process
// lock.
func (m *Manager) Close() error {
	var errs []error
	if err := m.dbFile.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := m.dbFile.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.logFile.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := m.logFile.Close(); err != nil {
		errs = append(errs, err)
	}
	if m.lock != nil {
		if err := m.lock.Unlock(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Root metadata page layout: type tag (1 byte, ROOT) then page id
// (4 bytes, always 0). The index root page id is not stored here; it is
// recovered from the WAL (§3 invariants).
const rootPageTypeTag = 0x52 // 'R'

func writeRootPageHeader(buf []byte) {
	buf[0] = rootPageTypeTag
	common.PutInt32(buf[1:5], common.RootMetadataPageID)
}

func validateRootPageHeader(buf []byte) error {
	if buf[0] != rootPageTypeTag {
		return fmt.Errorf("disk: %w: root page type tag mismatch", common.ErrCorruptLog)
	}
	if id := common.Int32(buf[1:5]); id != common.RootMetadataPageID {
		return fmt.Errorf("disk: %w: root page id %d, want %d", common.ErrCorruptLog, id, common.RootMetadataPageID)
	}
	return nil
}

package common

import "errors"

// Sentinel errors shared by every storage component. IO failures are
// deliberately not wrapped in a sentinel here: per the error taxonomy
// they bubble up unchanged from the os/io layer so the caller sees the
// real cause (file, syscall, etc).
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrDiskFull    = errors.New("disk full")

	ErrClosed   = errors.New("storage engine closed")
	ErrKeyEmpty = errors.New("key cannot be empty")

	// ErrAlreadyExists is returned by Load when the database files are
	// present and the caller asked for ErrorIfExists.
	ErrAlreadyExists = errors.New("database already exists")

	// ErrCorruptLog is returned when a log record's header is malformed,
	// its kind is unrecognized, or the log file ends mid-record.
	ErrCorruptLog = errors.New("corrupt log record")

	// ErrResourceExhausted is returned by the buffer manager when every
	// frame is pinned and no victim can be evicted.
	ErrResourceExhausted = errors.New("no evictable frame available")

	// ErrInternal marks an invariant violation caught by a debug
	// assertion. It is a bug class, not something callers should retry.
	ErrInternal = errors.New("internal invariant violation")

	// ErrReservedKey is returned when a caller tries to Set or Delete a
	// key from the reserved namespace used for recovery control records.
	ErrReservedKey = errors.New("key is reserved for internal use")
)

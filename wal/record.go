// Package wal implements the Log Manager: it serializes mutation
// records, hands out monotonically increasing log numbers, and exposes a
// forward iterator over the log file for recovery.
package wal

import (
	"fmt"

	"github.com/lowlevelkv/kvengine/common"
)

// RecordKind distinguishes a SET from a DELETE log record.
type RecordKind uint32

const (
	RecordSet    RecordKind = 1
	RecordDelete RecordKind = 2
)

func (k RecordKind) String() string {
	switch k {
	case RecordSet:
		return "SET"
	case RecordDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("RecordKind(%d)", uint32(k))
	}
}

// headerSize is the fixed 16-byte record header: kind(4) + log
// number(8) + total record size(4).
const headerSize = 16

// Record is a single WAL entry. Value is nil for a DELETE record.
type Record struct {
	Kind      RecordKind
	LogNumber uint64
	Key       []byte
	Value     []byte // nil ⇒ DELETE
}

// Encode serializes r into a freshly allocated buffer: the 16-byte
// header followed by the kind-specific body.
func (r *Record) Encode() []byte {
	var body []byte
	switch r.Kind {
	case RecordSet:
		body = make([]byte, 4+len(r.Key)+4+len(r.Value))
		common.PutUint32(body[0:4], uint32(len(r.Key)))
		copy(body[4:], r.Key)
		valOff := 4 + len(r.Key)
		common.PutUint32(body[valOff:valOff+4], uint32(len(r.Value)))
		copy(body[valOff+4:], r.Value)
	case RecordDelete:
		body = make([]byte, 4+len(r.Key))
		common.PutUint32(body[0:4], uint32(len(r.Key)))
		copy(body[4:], r.Key)
	default:
		panic(fmt.Sprintf("wal: unknown record kind %d", r.Kind))
	}

	total := headerSize + len(body)
	buf := make([]byte, total)
	common.PutUint32(buf[0:4], uint32(r.Kind))
	common.PutUint64(buf[4:12], r.LogNumber)
	common.PutUint32(buf[12:16], uint32(total))
	copy(buf[headerSize:], body)
	return buf
}

// decodeHeader parses the 16-byte header into (kind, logNumber, totalSize).
func decodeHeader(header []byte) (RecordKind, uint64, uint32, error) {
	if len(header) != headerSize {
		return 0, 0, 0, fmt.Errorf("wal: %w: header must be %d bytes", common.ErrCorruptLog, headerSize)
	}
	kind := RecordKind(common.Uint32(header[0:4]))
	logNumber := common.Uint64(header[4:12])
	totalSize := common.Uint32(header[12:16])
	if kind != RecordSet && kind != RecordDelete {
		return 0, 0, 0, fmt.Errorf("wal: %w: unknown record kind %d", common.ErrCorruptLog, kind)
	}
	if totalSize < headerSize {
		return 0, 0, 0, fmt.Errorf("wal: %w: record size %d smaller than header", common.ErrCorruptLog, totalSize)
	}
	return kind, logNumber, totalSize, nil
}

// decodeBody parses the body bytes (everything after the header) of a
// record of the given kind.
func decodeBody(kind RecordKind, logNumber uint64, body []byte) (*Record, error) {
	switch kind {
	case RecordSet:
		if len(body) < 4 {
			return nil, fmt.Errorf("wal: %w: truncated SET body", common.ErrCorruptLog)
		}
		keyLen := int(common.Uint32(body[0:4]))
		if 4+keyLen+4 > len(body) {
			return nil, fmt.Errorf("wal: %w: truncated SET key", common.ErrCorruptLog)
		}
		key := append([]byte(nil), body[4:4+keyLen]...)
		valOff := 4 + keyLen
		valLen := int(common.Uint32(body[valOff : valOff+4]))
		if valOff+4+valLen > len(body) {
			return nil, fmt.Errorf("wal: %w: truncated SET value", common.ErrCorruptLog)
		}
		value := append([]byte(nil), body[valOff+4:valOff+4+valLen]...)
		return &Record{Kind: RecordSet, LogNumber: logNumber, Key: key, Value: value}, nil

	case RecordDelete:
		if len(body) < 4 {
			return nil, fmt.Errorf("wal: %w: truncated DELETE body", common.ErrCorruptLog)
		}
		keyLen := int(common.Uint32(body[0:4]))
		if 4+keyLen > len(body) {
			return nil, fmt.Errorf("wal: %w: truncated DELETE key", common.ErrCorruptLog)
		}
		key := append([]byte(nil), body[4:4+keyLen]...)
		return &Record{Kind: RecordDelete, LogNumber: logNumber, Key: key}, nil

	default:
		return nil, fmt.Errorf("wal: %w: unknown record kind %d", common.ErrCorruptLog, kind)
	}
}

package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeSetRecord(t *testing.T) {
	r := &Record{Kind: RecordSet, LogNumber: 42, Key: []byte("user:1001"), Value: []byte("payload")}
	buf := r.Encode()

	kind, logNumber, totalSize, err := decodeHeader(buf[:headerSize])
	require.NoError(t, err)
	require.Equal(t, RecordSet, kind)
	require.Equal(t, uint64(42), logNumber)
	require.Equal(t, uint32(len(buf)), totalSize)

	decoded, err := decodeBody(kind, logNumber, buf[headerSize:])
	require.NoError(t, err)
	require.Equal(t, r.Key, decoded.Key)
	require.Equal(t, r.Value, decoded.Value)
}

func TestEncodeDecodeDeleteRecord(t *testing.T) {
	r := &Record{Kind: RecordDelete, LogNumber: 7, Key: []byte("session:2001")}
	buf := r.Encode()

	kind, logNumber, _, err := decodeHeader(buf[:headerSize])
	require.NoError(t, err)
	require.Equal(t, RecordDelete, kind)

	decoded, err := decodeBody(kind, logNumber, buf[headerSize:])
	require.NoError(t, err)
	require.Equal(t, r.Key, decoded.Key)
	require.Nil(t, decoded.Value)
}

func TestDecodeHeaderRejectsUnknownKind(t *testing.T) {
	header := make([]byte, headerSize)
	header[0] = 0xFF
	_, _, _, err := decodeHeader(header)
	require.Error(t, err)
}

func TestDecodeHeaderRejectsShortHeader(t *testing.T) {
	_, _, _, err := decodeHeader([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestRecordKindString(t *testing.T) {
	require.Equal(t, "SET", RecordSet.String())
	require.Equal(t, "DELETE", RecordDelete.String())
}

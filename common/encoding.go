package common

import "encoding/binary"

// All on-disk integer fields use native little-endian encoding,
// consistently, across every page and log record. These helpers centralize
// that choice so no package accidentally picks BigEndian for one field.

func PutInt32(buf []byte, v int32) {
	binary.LittleEndian.PutUint32(buf, uint32(v))
}

func Int32(buf []byte) int32 {
	return int32(binary.LittleEndian.Uint32(buf))
}

func PutUint32(buf []byte, v uint32) {
	binary.LittleEndian.PutUint32(buf, v)
}

func Uint32(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}

func PutUint64(buf []byte, v uint64) {
	binary.LittleEndian.PutUint64(buf, v)
}

func Uint64(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}

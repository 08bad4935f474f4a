package websocket

import "encoding/binary"

// Big-endian length helpers used by the frame codec for the 16-bit and
// 64-bit extended payload-length fields (RFC 6455 Section 5.2), matching
// the teacher's inline binary.BigEndian usage in its own frame codec.

func putUint16(b []byte, v uint16) {
	binary.BigEndian.PutUint16(b, v)
}

func getUint16(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

func putUint64(b []byte, v uint64) {
	binary.BigEndian.PutUint64(b, v)
}

func getUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

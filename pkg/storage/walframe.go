package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/orneryd/urddb/pkg/graph"
)

// WAL wire framing: a segment is the concatenation of records, each
// `u32 little-endian length || payload`. There is no per-record checksum.

// AppendRecordFrame appends one length-prefixed record to buf.
func AppendRecordFrame(buf []byte, payload []byte) []byte {
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(payload)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, payload...)
}

// EncodeRecordFrames frames a record list into one byte string.
func EncodeRecordFrames(records [][]byte) []byte {
	size := 0
	for _, r := range records {
		size += 4 + len(r)
	}
	buf := make([]byte, 0, size)
	for _, r := range records {
		buf = AppendRecordFrame(buf, r)
	}
	return buf
}

// DecodeRecordFrames splits framed bytes back into records.
//
// A clean end at a record boundary terminates the segment; a truncated
// length or payload is graph.ErrStorageIo. Torn tails are not recovered.
func DecodeRecordFrames(data []byte) ([][]byte, error) {
	var out [][]byte
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: truncated WAL record length", graph.ErrStorageIo)
		}
		n := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < n {
			return nil, fmt.Errorf("%w: truncated WAL record payload", graph.ErrStorageIo)
		}
		rec := make([]byte, n)
		copy(rec, data[:n])
		out = append(out, rec)
		data = data[n:]
	}
	return out, nil
}

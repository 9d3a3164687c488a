package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/orneryd/urddb/pkg/graph"
)

// Framed segment codec.
//
// A segment begins with a fixed 26-byte little-endian header followed by an
// opaque payload chosen by the caller:
//
//	magic (4 B, u32 0x43415353 LE) | version (u16) |
//	node count (u64) | edge count (u64) | CRC-32 of payload (u32)
//
// The frame is bit-exact across adapters: the filesystem adapter writes it
// to .seg files, the Badger adapter stores it as a value.

const (
	segmentMagic   uint32 = 0x43415353
	segmentVersion uint16 = 1

	// SegmentHeaderSize is the fixed byte length of a segment header.
	SegmentHeaderSize = 26
)

// SegmentHeader is the decoded fixed-size segment prefix.
type SegmentHeader struct {
	Magic     uint32
	Version   uint16
	NodeCount uint64
	EdgeCount uint64
	Checksum  uint32
}

// Segment pairs a header with its payload.
type Segment struct {
	Header SegmentHeader
	Data   []byte
}

// NewSegment frames a payload, computing its CRC-32 checksum.
func NewSegment(nodeCount, edgeCount uint64, data []byte) *Segment {
	return &Segment{
		Header: SegmentHeader{
			Magic:     segmentMagic,
			Version:   segmentVersion,
			NodeCount: nodeCount,
			EdgeCount: edgeCount,
			Checksum:  crc32.ChecksumIEEE(data),
		},
		Data: data,
	}
}

// Encode returns the header bytes.
func (h *SegmentHeader) Encode() []byte {
	buf := make([]byte, SegmentHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint64(buf[6:14], h.NodeCount)
	binary.LittleEndian.PutUint64(buf[14:22], h.EdgeCount)
	binary.LittleEndian.PutUint32(buf[22:26], h.Checksum)
	return buf
}

// DecodeSegmentHeader parses a header, checking length and magic.
func DecodeSegmentHeader(buf []byte) (SegmentHeader, error) {
	if len(buf) < SegmentHeaderSize {
		return SegmentHeader{}, fmt.Errorf("%w: segment header too short", graph.ErrStorageIo)
	}
	h := SegmentHeader{
		Magic:     binary.LittleEndian.Uint32(buf[0:4]),
		Version:   binary.LittleEndian.Uint16(buf[4:6]),
		NodeCount: binary.LittleEndian.Uint64(buf[6:14]),
		EdgeCount: binary.LittleEndian.Uint64(buf[14:22]),
		Checksum:  binary.LittleEndian.Uint32(buf[22:26]),
	}
	if h.Magic != segmentMagic {
		return SegmentHeader{}, fmt.Errorf("%w: invalid segment magic: %#x", graph.ErrStorageIo, h.Magic)
	}
	return h, nil
}

// Encode returns the full framed bytes: header followed by payload.
func (s *Segment) Encode() []byte {
	out := make([]byte, 0, SegmentHeaderSize+len(s.Data))
	out = append(out, s.Header.Encode()...)
	out = append(out, s.Data...)
	return out
}

// DecodeSegment parses framed bytes and verifies the payload checksum.
// A checksum or magic mismatch is graph.ErrStorageIo.
func DecodeSegment(buf []byte) (*Segment, error) {
	header, err := DecodeSegmentHeader(buf)
	if err != nil {
		return nil, err
	}
	data := buf[SegmentHeaderSize:]
	if computed := crc32.ChecksumIEEE(data); computed != header.Checksum {
		return nil, fmt.Errorf("%w: segment checksum mismatch: expected %#x, got %#x",
			graph.ErrStorageIo, header.Checksum, computed)
	}
	return &Segment{Header: header, Data: data}, nil
}

// ShardPrefix returns the two-character shard directory for a segment id.
// Ids shorter than two characters shard under "00".
func ShardPrefix(id SegmentID) string {
	if len(id) >= 2 {
		return string(id[:2])
	}
	return "00"
}

// Logical segment ids used by the graph flush path.
const (
	// NodesSegmentID names the segment holding all nodes of a store.
	NodesSegmentID SegmentID = "nodes"
	// EdgesSegmentID names the segment holding all edges of a store.
	EdgesSegmentID SegmentID = "edges"
)

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/urddb/pkg/graph"
)

func TestSegmentRoundTrip(t *testing.T) {
	payload := []byte(`{"count":2,"nodes":[]}`)
	seg := NewSegment(2, 0, payload)
	framed := seg.Encode()

	require.Len(t, framed[:SegmentHeaderSize], 26)

	decoded, err := DecodeSegment(framed)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded.Data)
	assert.Equal(t, uint64(2), decoded.Header.NodeCount)
	assert.Equal(t, uint64(0), decoded.Header.EdgeCount)
	assert.Equal(t, uint16(1), decoded.Header.Version)
}

func TestSegmentHeaderLayout(t *testing.T) {
	seg := NewSegment(0x0102030405060708, 0x1112131415161718, []byte("x"))
	buf := seg.Header.Encode()

	// Magic 0x43415353 little-endian.
	assert.Equal(t, []byte{0x53, 0x53, 0x41, 0x43}, buf[0:4])
	// Version 1 little-endian.
	assert.Equal(t, []byte{0x01, 0x00}, buf[4:6])
	// Counts little-endian.
	assert.Equal(t, []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}, buf[6:14])
	assert.Equal(t, []byte{0x18, 0x17, 0x16, 0x15, 0x14, 0x13, 0x12, 0x11}, buf[14:22])
}

func TestSegmentCorruption(t *testing.T) {
	t.Run("any_single_bit_flip_in_payload_fails", func(t *testing.T) {
		payload := []byte("deterministic payload bytes")
		framed := NewSegment(1, 1, payload).Encode()

		for byteIdx := SegmentHeaderSize; byteIdx < len(framed); byteIdx++ {
			for bit := 0; bit < 8; bit++ {
				corrupted := make([]byte, len(framed))
				copy(corrupted, framed)
				corrupted[byteIdx] ^= 1 << bit

				_, err := DecodeSegment(corrupted)
				assert.ErrorIs(t, err, graph.ErrStorageIo,
					"flip byte %d bit %d must fail checksum", byteIdx, bit)
			}
		}
	})

	t.Run("bad_magic_is_storage_io", func(t *testing.T) {
		framed := NewSegment(0, 0, []byte("data")).Encode()
		framed[0] ^= 0xFF
		_, err := DecodeSegment(framed)
		assert.ErrorIs(t, err, graph.ErrStorageIo)
	})

	t.Run("short_header_is_storage_io", func(t *testing.T) {
		_, err := DecodeSegment([]byte{0x53, 0x53, 0x41})
		assert.ErrorIs(t, err, graph.ErrStorageIo)
	})
}

func TestShardPrefix(t *testing.T) {
	assert.Equal(t, "no", ShardPrefix("nodes"))
	assert.Equal(t, "ed", ShardPrefix("edges"))
	assert.Equal(t, "00", ShardPrefix("x"))
}

func TestWalRecordFrames(t *testing.T) {
	t.Run("round_trip_preserves_order", func(t *testing.T) {
		records := [][]byte{[]byte("one"), []byte(""), []byte("three")}
		framed := EncodeRecordFrames(records)

		decoded, err := DecodeRecordFrames(framed)
		require.NoError(t, err)
		require.Len(t, decoded, 3)
		assert.Equal(t, "one", string(decoded[0]))
		assert.Equal(t, "", string(decoded[1]))
		assert.Equal(t, "three", string(decoded[2]))
	})

	t.Run("truncated_length_is_storage_io", func(t *testing.T) {
		framed := EncodeRecordFrames([][]byte{[]byte("abc")})
		_, err := DecodeRecordFrames(framed[:2])
		assert.ErrorIs(t, err, graph.ErrStorageIo)
	})

	t.Run("truncated_payload_is_storage_io", func(t *testing.T) {
		framed := EncodeRecordFrames([][]byte{[]byte("abcdef")})
		_, err := DecodeRecordFrames(framed[:len(framed)-2])
		assert.ErrorIs(t, err, graph.ErrStorageIo)
	})
}

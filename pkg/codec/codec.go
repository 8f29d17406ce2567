// Package codec holds the framing primitives shared by the log batch and
// pipe log layers: fixed-width big/little-endian integers, unsigned
// varints, a CRC32 checksum, and LZ4 compression for batch bodies over
// the compression threshold. The LZ4 helpers write and read the LZ4
// frame format, not the raw block format.
package codec

import (
	"encoding/binary"
	"hash/crc32"

	"raftlog/internal/rlerrors"
)

// MaxVarintLen64 is the maximum number of bytes PutUvarint writes.
const MaxVarintLen64 = binary.MaxVarintLen64

// PutUvarint encodes v into dst and returns the number of bytes written.
// dst must have at least MaxVarintLen64 bytes of room.
func PutUvarint(dst []byte, v uint64) int {
	return binary.PutUvarint(dst, v)
}

// Uvarint decodes an unsigned varint from the front of buf, returning the
// value, the number of bytes consumed, and an error on a short buffer or
// an overflowing encoding.
func Uvarint(buf []byte) (uint64, int, error) {
	v, n := binary.Uvarint(buf)
	if n == 0 {
		return 0, 0, rlerrors.NewCorruption("truncated varint")
	}
	if n < 0 {
		return 0, 0, rlerrors.NewCorruption("varint overflows 64 bits")
	}
	return v, n, nil
}

// EncodeFixedU64BE writes v into dst (must be at least 8 bytes) as a
// big-endian u64. Used for the 8-byte batch record header.
func EncodeFixedU64BE(dst []byte, v uint64) { binary.BigEndian.PutUint64(dst, v) }

// DecodeFixedU64BE reads a big-endian u64 from the front of src.
func DecodeFixedU64BE(src []byte) uint64 { return binary.BigEndian.Uint64(src) }

// EncodeFixedU32BE writes v into dst (must be at least 4 bytes) as a
// big-endian u32. Used for the batch body's trailing CRC32.
func EncodeFixedU32BE(dst []byte, v uint32) { binary.BigEndian.PutUint32(dst, v) }

// DecodeFixedU32BE reads a big-endian u32 from the front of src.
func DecodeFixedU32BE(src []byte) uint32 { return binary.BigEndian.Uint32(src) }

// EncodeFixedU64LE writes v into dst (must be at least 8 bytes) as a
// little-endian u64, the counterpart fixed-width primitive alongside the
// big-endian pair the batch header and checksum actually use.
func EncodeFixedU64LE(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) }

// DecodeFixedU64LE reads a little-endian u64 from the front of src.
func DecodeFixedU64LE(src []byte) uint64 { return binary.LittleEndian.Uint64(src) }

// Checksum computes the IEEE CRC32 of data, the trailer appended to
// every batch body.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

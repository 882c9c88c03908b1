// Package checksum implements the block checksums stored in extent records.
package checksum

import "encoding/binary"

// Fletcher64 folds buf into the running checksum previous. len(buf) must be a
// multiple of 4; block sizes always are.
func Fletcher64(buf []byte, previous uint64) uint64 {
	lo := uint32(previous)
	hi := uint32(previous >> 32)
	for len(buf) >= 4 {
		lo += binary.LittleEndian.Uint32(buf)
		hi += lo
		buf = buf[4:]
	}
	return uint64(hi)<<32 | uint64(lo)
}

// Blocks returns the checksum of every blockSize chunk of buf.
func Blocks(buf []byte, blockSize int) []uint64 {
	sums := make([]uint64, 0, len(buf)/blockSize)
	for len(buf) >= blockSize {
		sums = append(sums, Fletcher64(buf[:blockSize], 0))
		buf = buf[blockSize:]
	}
	return sums
}

// Package device provides the block devices object stores are placed on.
package device

import (
	"context"
	"fmt"

	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
)

// Device is a block-addressable storage. Offsets and lengths of all I/O must
// be multiples of BlockSize and lie within Size.
type Device interface {
	// BlockSize returns the I/O granularity in bytes.
	BlockSize() uint32
	// Size returns the device capacity in bytes.
	Size() uint64
	// Read fills buf with the data stored at offset.
	Read(ctx context.Context, offset uint64, buf []byte) error
	// Write stores buf at offset.
	Write(ctx context.Context, offset uint64, buf []byte) error
	// Flush makes completed writes durable.
	Flush(ctx context.Context) error
	// Close releases the device.
	Close() error
}

func checkRange(d Device, offset uint64, n int) error {
	bs := uint64(d.BlockSize())
	if offset%bs != 0 || uint64(n)%bs != 0 {
		return fserr.InvalidArgs("device I/O %d+%d is not aligned to %d", offset, n, bs)
	}
	end := offset + uint64(n)
	if end < offset || end > d.Size() {
		return fmt.Errorf("%w: device I/O %d+%d beyond device size %d", fserr.ErrOutOfRange, offset, n, d.Size())
	}
	return nil
}

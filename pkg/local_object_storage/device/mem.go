package device

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// MemDevice is an in-memory Device used by tests and tooling.
type MemDevice struct {
	blockSize uint32

	mtx  sync.RWMutex
	data []byte

	reads  atomic.Uint64
	writes atomic.Uint64
}

// NewMemDevice returns a zero-filled device of blockCount blocks.
func NewMemDevice(blockCount uint64, blockSize uint32) *MemDevice {
	return &MemDevice{
		blockSize: blockSize,
		data:      make([]byte, blockCount*uint64(blockSize)),
	}
}

// BlockSize implements Device.
func (d *MemDevice) BlockSize() uint32 {
	return d.blockSize
}

// Size implements Device.
func (d *MemDevice) Size() uint64 {
	return uint64(len(d.data))
}

// Read implements Device.
func (d *MemDevice) Read(ctx context.Context, offset uint64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkRange(d, offset, len(buf)); err != nil {
		return err
	}
	d.mtx.RLock()
	copy(buf, d.data[offset:])
	d.mtx.RUnlock()
	d.reads.Inc()
	return nil
}

// Write implements Device.
func (d *MemDevice) Write(ctx context.Context, offset uint64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkRange(d, offset, len(buf)); err != nil {
		return err
	}
	d.mtx.Lock()
	copy(d.data[offset:], buf)
	d.mtx.Unlock()
	d.writes.Inc()
	return nil
}

// Flush implements Device.
func (d *MemDevice) Flush(context.Context) error {
	return nil
}

// Close implements Device.
func (d *MemDevice) Close() error {
	return nil
}

// Reads returns the number of completed reads.
func (d *MemDevice) Reads() uint64 {
	return d.reads.Load()
}

// Writes returns the number of completed writes.
func (d *MemDevice) Writes() uint64 {
	return d.writes.Load()
}

// Corrupt flips one byte at offset, bypassing alignment checks.
func (d *MemDevice) Corrupt(offset uint64) {
	d.mtx.Lock()
	d.data[offset] ^= 0xff
	d.mtx.Unlock()
}

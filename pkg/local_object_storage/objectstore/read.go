package objectstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/checksum"
	storagelog "github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/internal/log"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/record"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/round"
	"github.com/nspcc-dev/neofs-extentstore/pkg/util"
)

// readGroup runs device reads on the filesystem worker pool and keeps the
// first error.
type readGroup struct {
	pool util.WorkerPool
	wg   sync.WaitGroup

	mtx sync.Mutex
	err error
}

func (g *readGroup) setErr(err error) {
	g.mtx.Lock()
	if g.err == nil {
		g.err = err
	}
	g.mtx.Unlock()
}

func (g *readGroup) Go(fn func() error) {
	g.wg.Add(1)
	err := g.pool.Submit(func() {
		defer g.wg.Done()
		if err := fn(); err != nil {
			g.setErr(err)
		}
	})
	if err != nil {
		g.wg.Done()
		g.setErr(fmt.Errorf("can't submit device read: %w", err))
	}
}

func (g *readGroup) Wait() error {
	g.wg.Wait()
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.err
}

// Read fills buf with data at the aligned offset and returns the number of
// bytes read, which is less than len(buf) only at the end of the attribute.
// Holes read as zeros.
func (h *StoreObjectHandle) Read(ctx context.Context, offset uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	start := time.Now()
	n, err := h.read(ctx, offset, buf)
	h.owner.fs.metrics.AddOp("read", time.Since(start), n, err)
	return n, err
}

func (h *StoreObjectHandle) read(ctx context.Context, offset uint64, buf []byte) (int, error) {
	bs := h.BlockSize()
	if !round.Aligned(offset, bs) {
		return 0, fserr.InvalidArgs("read offset %d is not aligned to %d", offset, bs)
	}

	release, err := h.owner.fs.ReadLock(ctx, h.lockKey())
	if err != nil {
		return 0, err
	}
	defer release()

	size := h.GetSize()
	if offset >= size {
		return 0, nil
	}
	toDo := min(uint64(len(buf)), size-offset)
	buf = buf[:toDo]
	end := offset + toDo

	it, err := h.owner.extentTree.Seek(record.ExtentSearchKey(h.objectID, h.attributeID, offset))
	if err != nil {
		return 0, err
	}
	defer it.Close()

	rg := &readGroup{pool: h.owner.fs.pool}
	pos := offset
	for item, ok := it.Get(); ok && pos < end; item, ok = it.Get() {
		if !item.Key.SameAttribute(h.objectID, h.attributeID) {
			break
		}
		k := item.Key.Range
		if k.Start > pos {
			gapEnd := min(k.Start, end)
			clear(buf[pos-offset : gapEnd-offset])
			pos = gapEnd
			if pos == end {
				break
			}
		}

		if item.Value.Deleted {
			if k.End >= end {
				break
			}
			clear(buf[pos-offset : k.End-offset])
			pos = k.End
		} else {
			readEnd := min(k.End, end)
			value := item.Value
			extentStart := k.Start

			devOffset := value.DeviceOffset + pos - k.Start
			if alignedEnd := round.Down(readEnd, bs); alignedEnd > pos {
				part := buf[pos-offset : alignedEnd-offset]
				fileOffset, devOff := pos, devOffset
				rg.Go(func() error {
					return h.readAndDecrypt(ctx, devOff, fileOffset, extentStart, part, value)
				})
				devOffset += alignedEnd - pos
				pos = alignedEnd
			}
			if pos < readEnd {
				scratch := h.AllocateBuffer(int(bs))
				if err := h.readAndDecrypt(ctx, devOffset, pos, extentStart, scratch, value); err != nil {
					_ = rg.Wait()
					return 0, err
				}
				copy(buf[pos-offset:readEnd-offset], scratch)
				pos = readEnd
			}
		}
		if err := it.Advance(); err != nil {
			_ = rg.Wait()
			return 0, err
		}
	}
	it.Close()

	if err := rg.Wait(); err != nil {
		return 0, err
	}
	clear(buf[pos-offset:])
	return int(toDo), nil
}

// readAndDecrypt reads aligned buf stored at deviceOffset, verifies it
// against the extent checksums and decrypts it. fileOffset is the file offset
// of buf, extentStart is the file offset the extent starts at.
func (h *StoreObjectHandle) readAndDecrypt(ctx context.Context, deviceOffset, fileOffset, extentStart uint64, buf []byte, value record.ExtentValue) error {
	h.traceOp("read",
		storagelog.RangeField("range", record.Range{Start: fileOffset, End: fileOffset + uint64(len(buf))}),
		storagelog.DeviceOffsetField(deviceOffset))

	if err := h.owner.dev.Read(ctx, deviceOffset, buf); err != nil {
		return fmt.Errorf("device read at %d: %w", deviceOffset, err)
	}

	if !value.Checksums.IsNone() {
		bs := h.BlockSize()
		sums := value.Checksums.Fletcher
		first := (fileOffset - extentStart) / bs
		count := uint64(len(buf)) / bs
		if first+count > uint64(len(sums)) {
			return fserr.Inconsistent("extent of object %d at %d has %d checksums, need %d",
				h.objectID, extentStart, len(sums), first+count)
		}
		for i := uint64(0); i < count; i++ {
			if checksum.Fletcher64(buf[i*bs:(i+1)*bs], 0) != sums[first+i] {
				return fserr.Inconsistent("checksum mismatch of object %d at offset %d", h.objectID, fileOffset+i*bs)
			}
		}
	}

	if h.keys != nil {
		if err := h.keys.Decrypt(fileOffset, value.KeyID, buf); err != nil {
			return err
		}
	}
	return nil
}

// IsAllocated reports whether the byte at start is backed by device space
// and the length of the run of bytes in the same state, limited by the
// attribute size.
func (h *StoreObjectHandle) IsAllocated(ctx context.Context, start uint64) (bool, uint64, error) {
	release, err := h.owner.fs.ReadLock(ctx, h.lockKey())
	if err != nil {
		return false, 0, err
	}
	defer release()

	size := h.GetSize()
	switch {
	case start > size:
		return false, 0, fmt.Errorf("%w: offset %d beyond size %d", fserr.ErrOutOfRange, start, size)
	case start == size:
		return false, 0, nil
	}

	it, err := h.owner.extentTree.Seek(record.ExtentSearchKey(h.objectID, h.attributeID, start))
	if err != nil {
		return false, 0, err
	}
	defer it.Close()

	var (
		state   *bool
		end     = start
		stopped bool
	)
	for item, ok := it.Get(); ok && end < size; item, ok = it.Get() {
		if !item.Key.SameAttribute(h.objectID, h.attributeID) {
			break
		}
		k := item.Key.Range
		allocated := !item.Value.Deleted
		if k.Start > end {
			if state == nil {
				state = new(bool)
			}
			if *state {
				stopped = true
				break
			}
			end = k.Start
		}
		if state == nil {
			state = &allocated
		} else if *state != allocated {
			stopped = true
			break
		}
		end = k.End
		if err := it.Advance(); err != nil {
			return false, 0, err
		}
	}

	if state == nil || (!*state && !stopped) {
		return false, size - start, nil
	}
	return *state, min(end, size) - start, nil
}

// ObjectProperties describe a file object.
type ObjectProperties struct {
	Refs              uint64
	AllocatedSize     uint64
	DataAttributeSize uint64
	CreationTime      record.Timestamp
	ModificationTime  record.Timestamp
}

// GetProperties returns properties of the object.
func (h *StoreObjectHandle) GetProperties(ctx context.Context) (ObjectProperties, error) {
	release, err := h.owner.fs.ReadLock(ctx, h.lockKey())
	if err != nil {
		return ObjectProperties{}, err
	}
	defer release()

	v, err := h.objectRecord()
	if err != nil {
		return ObjectProperties{}, err
	}
	return ObjectProperties{
		Refs:              v.Refs,
		AllocatedSize:     v.AllocatedSize,
		DataAttributeSize: h.GetSize(),
		CreationTime:      v.Attributes.CreationTime,
		ModificationTime:  v.Attributes.ModificationTime,
	}, nil
}

// GetAllocatedSize returns the number of device bytes the object occupies.
func (h *StoreObjectHandle) GetAllocatedSize() (uint64, error) {
	v, err := h.objectRecord()
	if err != nil {
		return 0, err
	}
	return v.AllocatedSize, nil
}

func (h *StoreObjectHandle) objectRecord() (record.ObjectValue, error) {
	v, ok, err := h.owner.tree.Find(record.ObjectRecordKey(h.objectID))
	if err != nil {
		return record.ObjectValue{}, err
	}
	if !ok || v.Kind != record.ValueObject {
		return record.ObjectValue{}, fserr.Inconsistent("object record %d not found", h.objectID)
	}
	if !v.IsFile() {
		return record.ObjectValue{}, fmt.Errorf("%w: object %d is a %s", fserr.ErrNotFile, h.objectID, v.ObjectKind)
	}
	return v, nil
}

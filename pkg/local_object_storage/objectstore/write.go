package objectstore

import (
	"context"
	"fmt"
	"math/bits"
	"time"

	storagelog "github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/internal/log"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/record"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/transaction"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/round"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type pendingWrite struct {
	fileRange    record.Range
	deviceOffset uint64
	sums         []uint64
}

// MultiWrite writes buf to the aligned ranges, which must cover exactly
// len(buf) bytes, copying on write: new space is allocated, the old one is
// deallocated. The attribute size is not changed.
func (h *StoreObjectHandle) MultiWrite(ctx context.Context, txn *transaction.Transaction, ranges []record.Range, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	bs := h.BlockSize()

	var total uint64
	for _, r := range ranges {
		if !round.Aligned(r.Start, bs) || !round.Aligned(r.End, bs) || r.Empty() {
			return fserr.InvalidArgs("range %s is not aligned to %d", r, bs)
		}
		total += r.Len()
	}
	if total != uint64(len(buf)) {
		return fserr.InvalidArgs("ranges cover %d bytes, buffer has %d", total, len(buf))
	}

	if h.keys != nil {
		var off uint64
		for _, r := range ranges {
			if err := h.keys.Encrypt(r.Start, 0, buf[off:off+r.Len()]); err != nil {
				return err
			}
			off += r.Len()
		}
	}

	var (
		writes    []*pendingWrite
		allocated uint64
		rest      = buf
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range ranges {
		for pos := r.Start; pos < r.End; {
			dr, err := h.owner.alloc.Allocate(ctx, txn, r.End-pos)
			if err != nil {
				_ = g.Wait()
				return fmt.Errorf("allocation failed: %w", err)
			}
			n := dr.Len()
			w := &pendingWrite{
				fileRange:    record.Range{Start: pos, End: pos + n},
				deviceOffset: dr.Start,
			}
			chunk := rest[:n]
			rest = rest[n:]
			writes = append(writes, w)

			g.Go(func() error {
				sums, err := h.writeAligned(gctx, chunk, w.deviceOffset, true)
				w.sums = sums
				return err
			})
			allocated += n
			pos += n
		}
	}

	alignedSize, ok := round.Up(h.txnGetSize(txn), bs)
	if !ok {
		_ = g.Wait()
		return fserr.Inconsistent("flush: bad size %d", h.txnGetSize(txn))
	}
	var deallocated uint64
	for _, r := range ranges {
		if r.Start >= alignedSize {
			continue
		}
		d, err := h.deallocateOldExtents(ctx, txn, record.Range{Start: r.Start, End: min(r.End, alignedSize)})
		if err != nil {
			_ = g.Wait()
			return err
		}
		deallocated += d
	}

	if err := g.Wait(); err != nil {
		return err
	}
	for _, w := range writes {
		txn.Add(h.owner.storeObjectID, transaction.ExtentMutation{
			Key:   record.NewExtentKey(h.objectID, h.attributeID, w.fileRange),
			Value: record.ExtentValueWithChecksums(w.deviceOffset, w.sums),
		})
	}
	return h.updateAllocatedSize(txn, allocated, deallocated)
}

// TxnWrite stages writing buf at offset in txn and grows the attribute if
// the write ends past it.
func (h *StoreObjectHandle) TxnWrite(ctx context.Context, txn *transaction.Transaction, offset uint64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	aligned, abuf, err := h.alignBuffer(ctx, offset, buf)
	if err != nil {
		return err
	}
	if err := h.MultiWrite(ctx, txn, []record.Range{aligned}, abuf); err != nil {
		return err
	}
	if end := offset + uint64(len(buf)); end > h.txnGetSize(txn) {
		h.stageSize(txn, end)
	}
	return nil
}

// WriteOrAppend writes buf at offset or, if offset is nil, at the end of the
// attribute, and returns the new size.
func (h *StoreObjectHandle) WriteOrAppend(ctx context.Context, offset *uint64, buf []byte) (uint64, error) {
	start := time.Now()
	size, err := h.writeOrAppend(ctx, offset, buf)
	h.owner.fs.metrics.AddOp("write", time.Since(start), len(buf), err)
	return size, err
}

func (h *StoreObjectHandle) writeOrAppend(ctx context.Context, offset *uint64, buf []byte) (uint64, error) {
	txn, err := h.NewTransaction(ctx)
	if err != nil {
		return 0, err
	}
	defer txn.Drop()

	off := h.txnGetSize(txn)
	if offset != nil {
		off = *offset
	}
	if err := h.TxnWrite(ctx, txn, off, buf); err != nil {
		return 0, err
	}
	size := h.txnGetSize(txn)
	if err := txn.Commit(ctx); err != nil {
		return 0, err
	}
	return size, nil
}

type overwriteSegment struct {
	fileRange    record.Range
	deviceOffset uint64
}

// Overwrite writes buf at offset in place. Every byte must be backed by an
// extent without checksums, e.g. one created by PreallocateRange. Nothing is
// staged.
func (h *StoreObjectHandle) Overwrite(ctx context.Context, offset uint64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	end, carry := bits.Add64(offset, uint64(len(buf)), 0)
	if carry != 0 {
		return fserr.TooBig("overwrite of %d bytes at %d", len(buf), offset)
	}

	it, err := h.owner.extentTree.Seek(record.ExtentSearchKey(h.objectID, h.attributeID, offset))
	if err != nil {
		return err
	}
	defer it.Close()

	var segments []overwriteSegment
	for pos := offset; pos < end; {
		item, ok := it.Get()
		if !ok || !item.Key.SameAttribute(h.objectID, h.attributeID) || item.Key.Range.Start > pos ||
			item.Value.Deleted || !item.Value.Checksums.IsNone() {
			return fmt.Errorf("%w: offset %d not allocated/has checksums", fserr.ErrInvalidArgs, pos)
		}
		segEnd := min(item.Key.Range.End, end)
		segments = append(segments, overwriteSegment{
			fileRange:    record.Range{Start: pos, End: segEnd},
			deviceOffset: item.Value.DeviceOffset + pos - item.Key.Range.Start,
		})
		pos = segEnd
		if err := it.Advance(); err != nil {
			return err
		}
	}
	it.Close()

	for _, s := range segments {
		part := buf[s.fileRange.Start-offset : s.fileRange.End-offset]
		if _, err := h.writeAt(ctx, s.fileRange.Start, part, s.deviceOffset, false); err != nil {
			return err
		}
	}
	return nil
}

// TxnTruncate stages changing the attribute size. Space past the new end is
// deallocated and the rest of its last block is zeroed.
func (h *StoreObjectHandle) TxnTruncate(ctx context.Context, txn *transaction.Transaction, size uint64) error {
	old := h.txnGetSize(txn)
	h.traceOp("truncate", zap.Uint64("old_size", old), storagelog.SizeField(size))

	if size < old {
		bs := h.BlockSize()
		alignedSize, ok := round.Up(size, bs)
		if !ok {
			return fserr.TooBig("truncate to %d", size)
		}
		oldAligned, ok := round.Up(old, bs)
		if !ok {
			return fserr.Inconsistent("bad size %d", old)
		}
		if alignedSize < oldAligned {
			if err := h.zero(ctx, txn, record.Range{Start: alignedSize, End: oldAligned}); err != nil {
				return err
			}
		}
		if alignedSize > size {
			if err := h.TxnWrite(ctx, txn, size, make([]byte, alignedSize-size)); err != nil {
				return err
			}
		}
	}
	h.stageSize(txn, size)
	return nil
}

// Truncate changes the attribute size.
func (h *StoreObjectHandle) Truncate(ctx context.Context, size uint64) error {
	start := time.Now()
	err := h.truncate(ctx, size)
	h.owner.fs.metrics.AddOp("truncate", time.Since(start), 0, err)
	return err
}

func (h *StoreObjectHandle) truncate(ctx context.Context, size uint64) error {
	txn, err := h.NewTransaction(ctx)
	if err != nil {
		return err
	}
	defer txn.Drop()

	if err := h.TxnTruncate(ctx, txn, size); err != nil {
		return err
	}
	return txn.Commit(ctx)
}

// PreallocateRange makes the aligned fileRange backed by device space
// without writing it and returns the device ranges backing it in file order.
// Until written, newly allocated bytes read back whatever the device holds.
// Encrypted objects can't be preallocated.
func (h *StoreObjectHandle) PreallocateRange(ctx context.Context, txn *transaction.Transaction, fileRange record.Range) ([]record.Range, error) {
	if h.keys != nil {
		return nil, fmt.Errorf("%w: preallocation of encrypted object %d", fserr.ErrNotSupported, h.objectID)
	}
	bs := h.BlockSize()
	if !round.Aligned(fileRange.Start, bs) || !round.Aligned(fileRange.End, bs) {
		return nil, fserr.InvalidArgs("range %s is not aligned to %d", fileRange, bs)
	}

	var (
		ranges    []record.Range
		allocated uint64
		pos       = fileRange.Start
	)
	allocate := func(upTo uint64) error {
		for pos < upTo {
			dr, err := h.owner.alloc.Allocate(ctx, txn, upTo-pos)
			if err != nil {
				return fmt.Errorf("allocation failed: %w", err)
			}
			n := dr.Len()
			txn.Add(h.owner.storeObjectID, transaction.ExtentMutation{
				Key:   record.NewExtentKey(h.objectID, h.attributeID, record.Range{Start: pos, End: pos + n}),
				Value: record.NewExtentValue(dr.Start),
			})
			ranges = append(ranges, dr)
			allocated += n
			pos += n
		}
		return nil
	}

	it, err := h.owner.extentTree.Seek(record.ExtentSearchKey(h.objectID, h.attributeID, fileRange.Start))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	for pos < fileRange.End {
		item, ok := it.Get()
		if !ok || !item.Key.SameAttribute(h.objectID, h.attributeID) || item.Key.Range.Start >= fileRange.End {
			break
		}
		k := item.Key.Range
		if k.Start > pos {
			if err := allocate(k.Start); err != nil {
				return nil, err
			}
		}
		end := min(k.End, fileRange.End)
		if item.Value.Deleted {
			if err := allocate(end); err != nil {
				return nil, err
			}
		} else {
			devStart := item.Value.DeviceOffset + pos - k.Start
			ranges = append(ranges, record.Range{Start: devStart, End: devStart + end - pos})
			pos = end
		}
		if err := it.Advance(); err != nil {
			return nil, err
		}
	}
	it.Close()

	if err := allocate(fileRange.End); err != nil {
		return nil, err
	}
	if fileRange.End > h.txnGetSize(txn) {
		h.stageSize(txn, fileRange.End)
	}
	if err := h.updateAllocatedSize(txn, allocated, 0); err != nil {
		return nil, err
	}
	return ranges, nil
}

// Extend appends the reserved device range to the object at its aligned end.
func (h *StoreObjectHandle) Extend(ctx context.Context, txn *transaction.Transaction, deviceRange record.Range) error {
	bs := h.BlockSize()
	if !round.Aligned(deviceRange.Start, bs) || !round.Aligned(deviceRange.End, bs) || deviceRange.Empty() {
		return fserr.InvalidArgs("device range %s is not aligned to %d", deviceRange, bs)
	}
	oldEnd, ok := round.Up(h.txnGetSize(txn), bs)
	if !ok {
		return fserr.Inconsistent("bad size %d", h.txnGetSize(txn))
	}
	newEnd, carry := bits.Add64(oldEnd, deviceRange.Len(), 0)
	if carry != 0 {
		return fserr.TooBig("extend %d by %d", oldEnd, deviceRange.Len())
	}

	if err := h.owner.alloc.MarkAllocated(ctx, txn, deviceRange); err != nil {
		return err
	}
	h.stageSize(txn, newEnd)
	txn.Add(h.owner.storeObjectID, transaction.ExtentMutation{
		Key:   record.NewExtentKey(h.objectID, h.attributeID, record.Range{Start: oldEnd, End: newEnd}),
		Value: record.NewExtentValue(deviceRange.Start),
	})
	return h.updateAllocatedSize(txn, deviceRange.Len(), 0)
}

// TxnWriteTimestamps stages the change of object timestamps. Nil values are
// left untouched.
func (h *StoreObjectHandle) TxnWriteTimestamps(txn *transaction.Transaction, crtime, mtime *record.Timestamp) error {
	if crtime == nil && mtime == nil {
		return nil
	}
	m, err := h.owner.TxnGetObjectMutation(txn, h.objectID)
	if err != nil {
		return err
	}
	if m.Item.Value.Kind != record.ValueObject {
		return fserr.Inconsistent("unexpected record %s of object %d", m.Item.Key, h.objectID)
	}
	if crtime != nil {
		m.Item.Value.Attributes.CreationTime = *crtime
	}
	if mtime != nil {
		m.Item.Value.Attributes.ModificationTime = *mtime
	}
	txn.Add(h.owner.storeObjectID, m)
	return nil
}

// WriteTimestamps changes object timestamps.
func (h *StoreObjectHandle) WriteTimestamps(ctx context.Context, crtime, mtime *record.Timestamp) error {
	if crtime == nil && mtime == nil {
		return nil
	}
	txn, err := h.NewTransaction(ctx)
	if err != nil {
		return err
	}
	defer txn.Drop()

	if err := h.TxnWriteTimestamps(txn, crtime, mtime); err != nil {
		return err
	}
	return txn.Commit(ctx)
}

// Flush makes committed changes of the object durable.
func (h *StoreObjectHandle) Flush(ctx context.Context) error {
	return h.owner.Flush(ctx)
}

// FlushDevice flushes the underlying device only.
func (h *StoreObjectHandle) FlushDevice(ctx context.Context) error {
	return h.owner.dev.Flush(ctx)
}

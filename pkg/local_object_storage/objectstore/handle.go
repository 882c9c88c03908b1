package objectstore

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/checksum"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/crypt"
	storagelog "github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/internal/log"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/record"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/transaction"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/round"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CipherSet encrypts and decrypts object data in place. offset is the file
// offset of buf and selects the cipher tweak.
type CipherSet interface {
	Encrypt(offset, keyID uint64, buf []byte) error
	Decrypt(offset, keyID uint64, buf []byte) error
}

// StoreObjectHandle gives access to one attribute of an object: reads and
// copy-on-write writes of its data, truncation, preallocation and size
// accounting.
type StoreObjectHandle struct {
	owner       *ObjectStore
	log         *zap.Logger
	objectID    uint64
	attributeID uint64
	options     HandleOptions
	keys        CipherSet

	trace atomic.Bool
	// contentSize caches the committed attribute size. It is updated when
	// the size mutation is applied.
	contentSize atomic.Uint64
}

func newStoreObjectHandle(owner *ObjectStore, objectID uint64, keys *crypt.XtsCipherSet, attributeID, size uint64, opts HandleOptions, trace bool) *StoreObjectHandle {
	h := &StoreObjectHandle{
		owner:       owner,
		log:         owner.log.With(zap.Uint64("object", objectID), zap.Uint64("attribute", attributeID)),
		objectID:    objectID,
		attributeID: attributeID,
		options:     opts,
	}
	if keys != nil {
		h.keys = keys
	}
	h.trace.Store(trace)
	h.contentSize.Store(size)
	return h
}

// ObjectID returns the object ID.
func (h *StoreObjectHandle) ObjectID() uint64 {
	return h.objectID
}

// BlockSize returns the filesystem block size.
func (h *StoreObjectHandle) BlockSize() uint64 {
	return h.owner.BlockSize()
}

// GetSize returns the committed size of the attribute.
func (h *StoreObjectHandle) GetSize() uint64 {
	return h.contentSize.Load()
}

// IsEncrypted reports whether object data is encrypted.
func (h *StoreObjectHandle) IsEncrypted() bool {
	return h.keys != nil
}

// SetTrace enables logging of every device access of the handle.
func (h *StoreObjectHandle) SetTrace(v bool) {
	old := h.trace.Swap(v)
	if old != v {
		h.log.Info("object trace toggled", zap.Bool("trace", v))
	}
}

// AllocateBuffer returns a buffer suitable for reads and writes.
func (h *StoreObjectHandle) AllocateBuffer(size int) []byte {
	return make([]byte, size)
}

func (h *StoreObjectHandle) lockKey() transaction.LockKey {
	return transaction.ObjectAttribute(h.owner.storeObjectID, h.objectID, h.attributeID)
}

// NewTransaction starts a transaction holding the lock of the attribute.
func (h *StoreObjectHandle) NewTransaction(ctx context.Context) (*transaction.Transaction, error) {
	return h.NewTransactionWithOptions(ctx, transaction.Options{SkipJournalChecks: h.options.SkipJournalChecks})
}

// NewTransactionWithOptions is like NewTransaction with explicit options.
func (h *StoreObjectHandle) NewTransactionWithOptions(ctx context.Context, opts transaction.Options) (*transaction.Transaction, error) {
	return h.owner.fs.NewTransaction(ctx, []transaction.LockKey{h.lockKey()}, opts)
}

// WillApplyMutation implements transaction.AssociatedObject.
func (h *StoreObjectHandle) WillApplyMutation(m transaction.Mutation, objectID uint64) {
	om, ok := m.(transaction.ObjectStoreMutation)
	if !ok || objectID != h.owner.storeObjectID {
		return
	}
	if om.Item.Key == record.AttributeKey(h.objectID, h.attributeID) && om.Item.Value.Kind == record.ValueAttribute {
		h.contentSize.Store(om.Item.Value.Size)
	}
}

func (h *StoreObjectHandle) traceOp(op string, fields ...zap.Field) {
	if !h.trace.Load() {
		return
	}
	storagelog.Write(h.owner.log, append([]zap.Field{
		storagelog.OpField(op),
		storagelog.ObjectField(h.owner.storeObjectID, h.objectID, h.attributeID),
	}, fields...)...)
}

// txnGetSize returns the attribute size as staged in txn.
func (h *StoreObjectHandle) txnGetSize(txn *transaction.Transaction) uint64 {
	m, ok := txn.GetObjectMutation(h.owner.storeObjectID, record.AttributeKey(h.objectID, h.attributeID))
	if ok && m.Item.Value.Kind == record.ValueAttribute {
		return m.Item.Value.Size
	}
	return h.GetSize()
}

func (h *StoreObjectHandle) stageSize(txn *transaction.Transaction, size uint64) {
	txn.AddWithObject(h.owner.storeObjectID, transaction.ObjectStoreMutation{
		Item: record.ObjectItem{
			Key:   record.AttributeKey(h.objectID, h.attributeID),
			Value: record.AttributeValue(size),
		},
		Op: transaction.OpReplaceOrInsert,
	}, h)
}

// alignBuffer returns the block-aligned range covering buf at offset and a
// buffer for it filled with buf and the existing data around it.
func (h *StoreObjectHandle) alignBuffer(ctx context.Context, offset uint64, buf []byte) (record.Range, []byte, error) {
	bs := h.BlockSize()
	end, carry := bits.Add64(offset, uint64(len(buf)), 0)
	if carry != 0 {
		return record.Range{}, nil, fserr.TooBig("write of %d bytes at %d", len(buf), offset)
	}
	alignedEnd, ok := round.Up(end, bs)
	if !ok {
		return record.Range{}, nil, fserr.TooBig("write end %d", end)
	}
	aligned := record.Range{Start: round.Down(offset, bs), End: alignedEnd}

	out := h.AllocateBuffer(int(aligned.Len()))
	if aligned.Start < offset {
		head := out[:bs]
		n, err := h.Read(ctx, aligned.Start, head)
		if err != nil {
			return record.Range{}, nil, err
		}
		clear(head[n:])
	}
	if endBlock := aligned.End - bs; aligned.End > end && offset <= endBlock {
		tail := out[endBlock-aligned.Start:]
		n, err := h.Read(ctx, endBlock, tail)
		if err != nil {
			return record.Range{}, nil, err
		}
		clear(tail[n:])
	}
	copy(out[offset-aligned.Start:], buf)
	return aligned, out, nil
}

// writeAt writes buf at the file offset in place: deviceOffset is where
// offset is stored on the device.
func (h *StoreObjectHandle) writeAt(ctx context.Context, offset uint64, buf []byte, deviceOffset uint64, computeChecksum bool) ([]uint64, error) {
	aligned, abuf, err := h.alignBuffer(ctx, offset, buf)
	if err != nil {
		return nil, err
	}
	if h.keys != nil {
		if err := h.keys.Encrypt(aligned.Start, 0, abuf); err != nil {
			return nil, err
		}
	}
	return h.writeAligned(ctx, abuf, deviceOffset-(offset-aligned.Start), computeChecksum)
}

// writeAligned writes an aligned buffer to the device computing checksums of
// its blocks alongside.
func (h *StoreObjectHandle) writeAligned(ctx context.Context, buf []byte, deviceOffset uint64, computeChecksum bool) ([]uint64, error) {
	h.traceOp("write",
		storagelog.DeviceOffsetField(deviceOffset),
		storagelog.SizeField(uint64(len(buf))))

	var sums []uint64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := h.owner.dev.Write(gctx, deviceOffset, buf); err != nil {
			return fmt.Errorf("device write at %d: %w", deviceOffset, err)
		}
		return nil
	})
	if computeChecksum {
		g.Go(func() error {
			sums = checksum.Blocks(buf, int(h.BlockSize()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sums, nil
}

// deallocateOldExtents stages deallocation of device space backing the
// aligned range r and returns the number of bytes freed.
func (h *StoreObjectHandle) deallocateOldExtents(ctx context.Context, txn *transaction.Transaction, r record.Range) (uint64, error) {
	bs := h.BlockSize()
	if !round.Aligned(r.Start, bs) || !round.Aligned(r.End, bs) {
		return 0, fserr.InvalidArgs("range %s is not aligned to %d", r, bs)
	}

	key := record.NewExtentKey(h.objectID, h.attributeID, r)
	it, err := h.owner.extentTree.Seek(key.SearchKey())
	if err != nil {
		return 0, err
	}
	defer it.Close()

	var toFree []record.Range
	for item, ok := it.Get(); ok; item, ok = it.Get() {
		if !item.Key.SameAttribute(h.objectID, h.attributeID) || item.Key.Range.Start >= r.End {
			break
		}
		if !item.Value.Deleted {
			overlap, ok := item.Key.Range.Overlap(r)
			if !ok {
				break
			}
			devStart := item.Value.DeviceOffset + overlap.Start - item.Key.Range.Start
			toFree = append(toFree, record.Range{Start: devStart, End: devStart + overlap.Len()})
		}
		if err := it.Advance(); err != nil {
			return 0, err
		}
	}
	it.Close()

	var deallocated uint64
	for _, dr := range toFree {
		if err := h.owner.alloc.Deallocate(ctx, txn, dr); err != nil {
			return 0, err
		}
		deallocated += dr.Len()
	}
	return deallocated, nil
}

// zero deallocates the aligned range r. The deleted extent is staged only if
// anything was freed.
func (h *StoreObjectHandle) zero(ctx context.Context, txn *transaction.Transaction, r record.Range) error {
	deallocated, err := h.deallocateOldExtents(ctx, txn, r)
	if err != nil {
		return err
	}
	if deallocated == 0 {
		return nil
	}
	txn.Add(h.owner.storeObjectID, transaction.ExtentMutation{
		Key:   record.NewExtentKey(h.objectID, h.attributeID, r),
		Value: record.DeletedExtentValue(),
	})
	return h.updateAllocatedSize(txn, 0, deallocated)
}

// updateAllocatedSize stages the change of allocated size of the object.
func (h *StoreObjectHandle) updateAllocatedSize(txn *transaction.Transaction, allocated, deallocated uint64) error {
	if allocated == deallocated {
		return nil
	}
	m, err := h.owner.TxnGetObjectMutation(txn, h.objectID)
	if err != nil {
		return err
	}
	v := &m.Item.Value
	if !v.IsFile() {
		return fserr.Inconsistent("object %d is not a file", h.objectID)
	}

	size, carry := bits.Add64(v.AllocatedSize, allocated, 0)
	if carry != 0 {
		return fserr.Inconsistent("allocated size of object %d overflows", h.objectID)
	}
	size, borrow := bits.Sub64(size, deallocated, 0)
	if borrow != 0 {
		return fserr.Inconsistent("allocated size of object %d underflows", h.objectID)
	}
	v.AllocatedSize = size
	txn.Add(h.owner.storeObjectID, m)
	return nil
}

package objectstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/allocator"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/device"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/lsm"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/mode"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/record"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/transaction"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
	"github.com/nspcc-dev/neofs-extentstore/pkg/util"
	"go.etcd.io/bbolt"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// AllocatorObjectID is the ID allocator mutations are addressed to.
	AllocatorObjectID = 1
	// RootStoreObjectID is the ID of the root object store.
	RootStoreObjectID = 2
	// firstUserObjectID is the first ID handed out to created objects.
	firstUserObjectID = 16
)

// FxFilesystem binds a device, its allocator and the object stores placed on
// it, and commits transactions against them.
type FxFilesystem struct {
	options

	dev   device.Device
	db    *lsm.DB
	alloc *allocator.Allocator
	locks *transaction.LockManager
	info  Info

	// commitMtx serializes applying transactions and flushing.
	commitMtx sync.Mutex
	objects   *ObjectManager
	root      *ObjectStore
	pool      util.WorkerPool

	mode   atomic.Uint32
	closed atomic.Bool

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewEmpty formats dev and returns the opened filesystem. Metadata is stored
// in a database at metaPath which must not contain a filesystem.
func NewEmpty(ctx context.Context, dev device.Device, metaPath string, opts ...Option) (*FxFilesystem, error) {
	fs, err := newFilesystem(dev, metaPath, opts...)
	if err != nil {
		return nil, err
	}
	if fs.readOnly {
		_ = fs.db.Close()
		return nil, fserr.ErrReadOnly
	}

	_, err = fs.readInfoTx()
	if err == nil {
		_ = fs.db.Close()
		return nil, fmt.Errorf("%w: %s already holds a filesystem", fserr.ErrAlreadyExists, metaPath)
	}
	if !errors.Is(err, errNotFormatted) {
		_ = fs.db.Close()
		return nil, err
	}

	bs := fs.blockSize
	if bs == 0 || bs%dev.BlockSize() != 0 || bs%512 != 0 {
		_ = fs.db.Close()
		return nil, fserr.InvalidArgs("block size %d is not a multiple of device block size %d", bs, dev.BlockSize())
	}
	fs.info = Info{
		ID:           uuid.New(),
		Version:      version,
		BlockSize:    bs,
		DeviceSize:   dev.Size(),
		LastObjectID: firstUserObjectID - 1,
	}
	err = fs.db.Update(func(tx *bbolt.Tx) error {
		return writeInfo(tx, fs.info)
	})
	if err != nil {
		_ = fs.db.Close()
		return nil, fmt.Errorf("can't write filesystem info: %w", err)
	}

	if err := fs.init(); err != nil {
		_ = fs.db.Close()
		return nil, err
	}
	if err := fs.Flush(ctx); err != nil {
		fs.release()
		return nil, err
	}

	fs.log.Info("formatted filesystem",
		zap.Stringer("id", fs.info.ID),
		zap.Uint32("block_size", bs),
		zap.Uint64("device_size", fs.info.DeviceSize))
	return fs, nil
}

// Open opens a filesystem formatted with NewEmpty. dev is left open on
// failure.
func Open(ctx context.Context, dev device.Device, metaPath string, opts ...Option) (*FxFilesystem, error) {
	fs, err := newFilesystem(dev, metaPath, opts...)
	if err != nil {
		return nil, err
	}

	fs.info, err = fs.readInfoTx()
	if err != nil {
		_ = fs.db.Close()
		return nil, fmt.Errorf("can't read filesystem info: %w", err)
	}
	if fs.info.DeviceSize > dev.Size() {
		_ = fs.db.Close()
		return nil, fserr.Inconsistent("device of %d bytes is smaller than filesystem of %d bytes", dev.Size(), fs.info.DeviceSize)
	}
	if fs.info.BlockSize%dev.BlockSize() != 0 {
		_ = fs.db.Close()
		return nil, fserr.Inconsistent("block size %d does not fit device block size %d", fs.info.BlockSize, dev.BlockSize())
	}

	if err := fs.init(); err != nil {
		_ = fs.db.Close()
		return nil, err
	}
	if err := fs.rebuildAllocator(ctx); err != nil {
		fs.release()
		return nil, err
	}

	fs.log.Info("opened filesystem",
		zap.Stringer("id", fs.info.ID),
		zap.Uint64("allocated", fs.alloc.AllocatedBytes()),
		zap.Stringer("mode", fs.Mode()))
	return fs, nil
}

func newFilesystem(dev device.Device, metaPath string, opts ...Option) (*FxFilesystem, error) {
	fs := &FxFilesystem{
		options: defaultOptions(),
		dev:     dev,
		locks:   transaction.NewLockManager(),
		closeCh: make(chan struct{}),
	}
	for i := range opts {
		opts[i](&fs.options)
	}
	fs.log = fs.log.With(zap.String("component", "FxFilesystem"))

	var err error
	fs.db, err = lsm.Open(metaPath,
		lsm.WithLogger(fs.log),
		lsm.WithReadOnly(fs.readOnly),
		lsm.WithNoSync(fs.noSync))
	if err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FxFilesystem) readInfoTx() (Info, error) {
	var info Info
	err := fs.db.View(func(tx *bbolt.Tx) error {
		var err error
		info, err = readInfo(tx)
		return err
	})
	return info, err
}

func (fs *FxFilesystem) init() error {
	fs.alloc = allocator.New(AllocatorObjectID, fs.info.BlockSize, fs.info.DeviceSize,
		allocator.WithLogger(fs.log),
		allocator.WithMaxExtentSize(fs.maxExtentSize),
		allocator.WithMetrics(fs.metrics))

	var err error
	fs.pool, err = util.NewWorkerPool(fs.ioWorkers)
	if err != nil {
		return err
	}

	fs.root, err = newObjectStore(fs, RootStoreObjectID, fs.info.LastObjectID)
	if err != nil {
		fs.pool.Release()
		return err
	}

	fs.objects = NewObjectManager()
	fs.objects.Register(AllocatorObjectID, allocatorApplier{fs.alloc})
	fs.objects.Register(RootStoreObjectID, fs.root)

	if fs.readOnly {
		fs.mode.Store(uint32(mode.ReadOnly))
	}
	fs.metrics.SetMode(fs.Mode())

	if fs.flushInterval > 0 && !fs.readOnly {
		fs.wg.Add(1)
		go fs.flushLoop()
	}
	return nil
}

// rebuildAllocator reserves device space referenced by persisted extents.
func (fs *FxFilesystem) rebuildAllocator(ctx context.Context) error {
	it, err := fs.root.extentTree.SeekFirst()
	if err != nil {
		return err
	}
	defer it.Close()

	for item, ok := it.Get(); ok; item, ok = it.Get() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !item.Value.Deleted {
			r := record.Range{Start: item.Value.DeviceOffset, End: item.Value.DeviceOffset + item.Key.Range.Len()}
			if err := fs.alloc.Reserve(r); err != nil {
				return fmt.Errorf("%w: extent %s: %w", fserr.ErrInconsistent, item.Key, err)
			}
		}
		if err := it.Advance(); err != nil {
			return err
		}
	}
	return nil
}

// ID returns the filesystem instance ID.
func (fs *FxFilesystem) ID() uuid.UUID {
	return fs.info.ID
}

// Info returns filesystem parameters.
func (fs *FxFilesystem) Info() Info {
	info := fs.info
	info.LastObjectID = fs.root.lastObjectID.Load()
	return info
}

// BlockSize returns the filesystem block size.
func (fs *FxFilesystem) BlockSize() uint64 {
	return uint64(fs.info.BlockSize)
}

// Device returns the underlying device.
func (fs *FxFilesystem) Device() device.Device {
	return fs.dev
}

// Allocator returns the device space allocator.
func (fs *FxFilesystem) Allocator() *allocator.Allocator {
	return fs.alloc
}

// RootStore returns the root object store.
func (fs *FxFilesystem) RootStore() *ObjectStore {
	return fs.root
}

// Mode returns current filesystem mode.
func (fs *FxFilesystem) Mode() mode.Mode {
	return mode.Mode(fs.mode.Load())
}

// SetMode switches the filesystem mode. A read-only filesystem can't be made
// writable.
func (fs *FxFilesystem) SetMode(m mode.Mode) error {
	if fs.readOnly && m == mode.ReadWrite {
		return fserr.ErrReadOnly
	}
	old := mode.Mode(fs.mode.Swap(uint32(m)))
	if old != m {
		fs.log.Info("filesystem mode changed", zap.Stringer("old", old), zap.Stringer("new", m))
	}
	fs.metrics.SetMode(m)
	return nil
}

// NewTransaction acquires transaction locks on keys and starts a
// transaction. Unless opts.SkipJournalChecks is set, the filesystem is
// flushed first if too many records are held in memory.
func (fs *FxFilesystem) NewTransaction(ctx context.Context, keys []transaction.LockKey, opts transaction.Options) (*transaction.Transaction, error) {
	if fs.Mode().ReadOnly() {
		return nil, fserr.ErrReadOnly
	}
	if !opts.SkipJournalChecks && fs.db.Pending() > fs.flushThreshold {
		if err := fs.Flush(ctx); err != nil {
			return nil, fmt.Errorf("can't flush before transaction: %w", err)
		}
	}

	locked, err := fs.locks.TxnLock(ctx, keys)
	if err != nil {
		return nil, err
	}
	return transaction.New(fs, locked), nil
}

// ReadLock acquires shared locks on keys and returns the function releasing
// them.
func (fs *FxFilesystem) ReadLock(ctx context.Context, keys ...transaction.LockKey) (func(), error) {
	return fs.locks.ReadLock(ctx, keys...)
}

// CommitTransaction implements transaction.Handler.
func (fs *FxFilesystem) CommitTransaction(ctx context.Context, txn *transaction.Transaction) error {
	defer fs.locks.TxnUnlock(txn.Locks())

	if err := fs.locks.CommitPrepare(ctx, txn.Locks()); err != nil {
		fs.dropMutations(txn)
		return err
	}

	fs.commitMtx.Lock()
	defer fs.commitMtx.Unlock()

	if fs.Mode().ReadOnly() {
		fs.dropMutations(txn)
		return fserr.ErrReadOnly
	}
	if err := fs.objects.Validate(txn.Mutations()); err != nil {
		fs.dropMutations(txn)
		return err
	}

	for _, m := range txn.Mutations() {
		if m.AssociatedObject != nil {
			m.AssociatedObject.WillApplyMutation(m.Mutation, m.ObjectID)
		}
		if err := fs.objects.Apply(m); err != nil {
			fs.log.Error("can't apply mutation, switching to degraded mode",
				zap.Uint64("object", m.ObjectID),
				zap.Error(err))
			_ = fs.SetMode(mode.Degraded)
			return fmt.Errorf("apply mutation: %w", err)
		}
	}
	fs.metrics.SetPendingRecords(fs.db.Pending())
	return nil
}

// DropTransaction implements transaction.Handler.
func (fs *FxFilesystem) DropTransaction(txn *transaction.Transaction) {
	fs.dropMutations(txn)
	fs.locks.TxnUnlock(txn.Locks())
}

func (fs *FxFilesystem) dropMutations(txn *transaction.Transaction) {
	for _, m := range txn.Mutations() {
		fs.objects.Drop(m)
	}
}

// Flush makes all committed transactions durable: device data first, then
// metadata. Space deallocated before the flush becomes reusable.
func (fs *FxFilesystem) Flush(ctx context.Context) error {
	if fs.readOnly {
		return nil
	}
	if fs.Mode().NoFlush() {
		return fmt.Errorf("%w: filesystem is degraded", fserr.ErrReadOnly)
	}

	fs.commitMtx.Lock()
	defer fs.commitMtx.Unlock()

	start := time.Now()
	if err := fs.dev.Flush(ctx); err != nil {
		return fmt.Errorf("flush device: %w", err)
	}
	lastID := fs.root.lastObjectID.Load()
	err := fs.db.Flush(func(tx *bbolt.Tx) error {
		return updateLastObjectID(tx, lastID)
	})
	if err != nil {
		return err
	}
	fs.alloc.DidFlush()

	fs.metrics.AddFlushDuration(time.Since(start).Seconds())
	fs.metrics.SetPendingRecords(0)
	return nil
}

func (fs *FxFilesystem) flushLoop() {
	defer fs.wg.Done()

	t := time.NewTicker(fs.flushInterval)
	defer t.Stop()

	for {
		select {
		case <-fs.closeCh:
			return
		case <-t.C:
			if fs.db.Pending() == 0 || fs.Mode().NoFlush() {
				continue
			}
			if err := fs.Flush(context.Background()); err != nil {
				fs.log.Error("can't flush filesystem", zap.Error(err))
			}
		}
	}
}

// release stops background flushing and frees everything except the device.
func (fs *FxFilesystem) release() {
	fs.closed.Store(true)
	close(fs.closeCh)
	fs.wg.Wait()
	fs.pool.Release()
	_ = fs.db.Close()
}

// Close flushes the filesystem and releases all resources including the
// device.
func (fs *FxFilesystem) Close() error {
	if !fs.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(fs.closeCh)
	fs.wg.Wait()

	var flushErr error
	if !fs.readOnly && !fs.Mode().NoFlush() {
		flushErr = fs.Flush(context.Background())
	}
	fs.pool.Release()

	return errors.Join(flushErr, fs.db.Close(), fs.dev.Close())
}

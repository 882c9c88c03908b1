package objectstore

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/crypt"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/device"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/lsm"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/record"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/transaction"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Allocator hands out device space to object handles.
type Allocator interface {
	// Allocate reserves up to length bytes. The result may be shorter.
	Allocate(ctx context.Context, txn *transaction.Transaction, length uint64) (record.Range, error)
	// Deallocate frees r when txn commits.
	Deallocate(ctx context.Context, txn *transaction.Transaction, r record.Range) error
	// MarkAllocated reserves the fixed range r.
	MarkAllocated(ctx context.Context, txn *transaction.Transaction, r record.Range) error
}

// HandleOptions are immutable flags of an object handle.
type HandleOptions struct {
	// SkipJournalChecks is passed to transactions started by the handle.
	SkipJournalChecks bool
}

// ObjectStore keeps object records and extents of a set of objects.
type ObjectStore struct {
	fs            *FxFilesystem
	log           *zap.Logger
	storeObjectID uint64

	dev   device.Device
	alloc Allocator

	tree       *lsm.Tree[record.ObjectKey, record.ObjectValue]
	extentTree *lsm.Tree[record.ExtentKey, record.ExtentValue]

	lastObjectID atomic.Uint64

	ciphers *lru.Cache[uint64, *crypt.XtsCipherSet]
	unwrap  singleflight.Group
}

func newObjectStore(fs *FxFilesystem, storeObjectID, lastObjectID uint64) (*ObjectStore, error) {
	s := &ObjectStore{
		fs:            fs,
		log:           fs.log.With(zap.Uint64("store", storeObjectID)),
		storeObjectID: storeObjectID,
		dev:           fs.dev,
		alloc:         fs.alloc,
	}
	s.lastObjectID.Store(lastObjectID)

	prefix := strconv.FormatUint(storeObjectID, 10)

	var err error
	s.tree, err = lsm.NewTree[record.ObjectKey, record.ObjectValue](fs.db, prefix+"/objects", record.ObjectCodec{})
	if err != nil {
		return nil, err
	}
	s.extentTree, err = lsm.NewTree[record.ExtentKey, record.ExtentValue](fs.db, prefix+"/extents", record.ExtentCodec{})
	if err != nil {
		return nil, err
	}
	s.ciphers, err = lru.New[uint64, *crypt.XtsCipherSet](fs.cipherCacheSize)
	if err != nil {
		return nil, fmt.Errorf("can't create cipher cache: %w", err)
	}
	return s, nil
}

// BlockSize returns the filesystem block size.
func (s *ObjectStore) BlockSize() uint64 {
	return s.fs.BlockSize()
}

// ExtentTree returns the extent index of the store.
func (s *ObjectStore) ExtentTree() *lsm.Tree[record.ExtentKey, record.ExtentValue] {
	return s.extentTree
}

// ObjectTree returns the object record tree of the store.
func (s *ObjectStore) ObjectTree() *lsm.Tree[record.ObjectKey, record.ObjectValue] {
	return s.tree
}

// Flush flushes the filesystem the store belongs to.
func (s *ObjectStore) Flush(ctx context.Context) error {
	return s.fs.Flush(ctx)
}

// CreateObject stages a new file object in txn and returns its handle. If c is
// set, the object gets its own encryption key.
func (s *ObjectStore) CreateObject(ctx context.Context, txn *transaction.Transaction, opts HandleOptions, c crypt.Crypt) (*StoreObjectHandle, error) {
	objectID := s.lastObjectID.Inc()
	now := record.Now()

	var keys *crypt.XtsCipherSet
	if c != nil {
		wrapped, unwrapped, err := c.CreateKey(ctx, objectID)
		if err != nil {
			return nil, fmt.Errorf("can't create object key: %w", err)
		}
		keys, err = crypt.NewXtsCipherSet(crypt.UnwrappedKeys{{ID: 0, Key: unwrapped}})
		if err != nil {
			return nil, err
		}
		txn.Add(s.storeObjectID, transaction.ObjectStoreMutation{
			Item: record.ObjectItem{
				Key:   record.KeysKey(objectID),
				Value: record.KeysValue(crypt.WrappedKeys{{ID: 0, Key: wrapped}}),
			},
			Op: transaction.OpInsert,
		})
		s.ciphers.Add(objectID, keys)
	}

	txn.Add(s.storeObjectID, transaction.ObjectStoreMutation{
		Item: record.ObjectItem{
			Key:   record.ObjectRecordKey(objectID),
			Value: record.FileValue(0, 1, now, now),
		},
		Op: transaction.OpInsert,
	})
	txn.Add(s.storeObjectID, transaction.ObjectStoreMutation{
		Item: record.ObjectItem{
			Key:   record.AttributeKey(objectID, record.DefaultDataAttributeID),
			Value: record.AttributeValue(0),
		},
		Op: transaction.OpInsert,
	})

	s.log.Debug("created object", zap.Uint64("object", objectID), zap.Bool("encrypted", keys != nil))
	return newStoreObjectHandle(s, objectID, keys, record.DefaultDataAttributeID, 0, opts, false), nil
}

// OpenObject returns a handle to the data attribute of an existing object.
// Encrypted objects require c.
func (s *ObjectStore) OpenObject(ctx context.Context, objectID uint64, opts HandleOptions, c crypt.Crypt) (*StoreObjectHandle, error) {
	v, ok, err := s.tree.Find(record.ObjectRecordKey(objectID))
	if err != nil {
		return nil, err
	}
	if !ok || v.Kind == record.ValueNone {
		return nil, fmt.Errorf("%w: object %d", fserr.ErrNotFound, objectID)
	}

	attr, ok, err := s.tree.Find(record.AttributeKey(objectID, record.DefaultDataAttributeID))
	if err != nil {
		return nil, err
	}
	if !ok || attr.Kind != record.ValueAttribute {
		return nil, fserr.Inconsistent("size of object %d not found", objectID)
	}

	keys, err := s.objectKeys(ctx, objectID, c)
	if err != nil {
		return nil, err
	}
	return newStoreObjectHandle(s, objectID, keys, record.DefaultDataAttributeID, attr.Size, opts, false), nil
}

func (s *ObjectStore) objectKeys(ctx context.Context, objectID uint64, c crypt.Crypt) (*crypt.XtsCipherSet, error) {
	wrapped, ok, err := s.tree.Find(record.KeysKey(objectID))
	if err != nil {
		return nil, err
	}
	if !ok || wrapped.Kind != record.ValueKeys {
		return nil, nil
	}
	if c == nil {
		return nil, fserr.InvalidArgs("object %d is encrypted, no crypt given", objectID)
	}
	if keys, ok := s.ciphers.Get(objectID); ok {
		return keys, nil
	}

	res, err, _ := s.unwrap.Do(strconv.FormatUint(objectID, 10), func() (any, error) {
		unwrapped, err := c.UnwrapKeys(ctx, wrapped.Keys, objectID)
		if err != nil {
			return nil, fmt.Errorf("can't unwrap keys of object %d: %w", objectID, err)
		}
		keys, err := crypt.NewXtsCipherSet(unwrapped)
		if err != nil {
			return nil, err
		}
		s.ciphers.Add(objectID, keys)
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*crypt.XtsCipherSet), nil
}

// TxnGetObjectMutation returns the object record of objectID as staged in txn
// or, if txn does not change it, as committed.
func (s *ObjectStore) TxnGetObjectMutation(txn *transaction.Transaction, objectID uint64) (transaction.ObjectStoreMutation, error) {
	key := record.ObjectRecordKey(objectID)
	if m, ok := txn.GetObjectMutation(s.storeObjectID, key); ok {
		return m, nil
	}
	v, ok, err := s.tree.Find(key)
	if err != nil {
		return transaction.ObjectStoreMutation{}, err
	}
	if !ok {
		return transaction.ObjectStoreMutation{}, fserr.Inconsistent("object record %d not found", objectID)
	}
	return transaction.ObjectStoreMutation{
		Item: record.ObjectItem{Key: key, Value: v},
		Op:   transaction.OpReplaceOrInsert,
	}, nil
}

// AdjustRefs changes the link count of a file by delta and reports whether
// it dropped to zero.
func (s *ObjectStore) AdjustRefs(txn *transaction.Transaction, objectID uint64, delta int64) (bool, error) {
	m, err := s.TxnGetObjectMutation(txn, objectID)
	if err != nil {
		return false, err
	}
	v := &m.Item.Value
	if !v.IsFile() {
		return false, fmt.Errorf("%w: object %d", fserr.ErrNotFile, objectID)
	}

	switch {
	case delta < 0 && uint64(-delta) > v.Refs:
		return false, fserr.Inconsistent("refs of object %d underflow: %d%+d", objectID, v.Refs, delta)
	case delta < 0:
		v.Refs -= uint64(-delta)
	default:
		if v.Refs+uint64(delta) < v.Refs {
			return false, fserr.Inconsistent("refs of object %d overflow", objectID)
		}
		v.Refs += uint64(delta)
	}
	txn.Add(s.storeObjectID, m)
	return v.Refs == 0, nil
}

// Tombstone deletes an object: its extents are deallocated and the object
// record is replaced with a deleted marker.
func (s *ObjectStore) Tombstone(ctx context.Context, objectID uint64, opts transaction.Options) error {
	txn, err := s.fs.NewTransaction(ctx, []transaction.LockKey{
		transaction.ObjectAttribute(s.storeObjectID, objectID, record.DefaultDataAttributeID),
	}, opts)
	if err != nil {
		return err
	}
	defer txn.Drop()

	ends, err := s.deallocateAllExtents(ctx, txn, objectID)
	if err != nil {
		return err
	}
	if _, ok := ends[record.DefaultDataAttributeID]; !ok {
		ends[record.DefaultDataAttributeID] = 0
	}
	for attr, end := range ends {
		if end > 0 {
			txn.Add(s.storeObjectID, transaction.ExtentMutation{
				Key:   record.NewExtentKey(objectID, attr, record.Range{Start: 0, End: end}),
				Value: record.DeletedExtentValue(),
			})
		}
		txn.Add(s.storeObjectID, transaction.ObjectStoreMutation{
			Item: record.ObjectItem{Key: record.AttributeKey(objectID, attr)},
			Op:   transaction.OpRemove,
		})
	}
	txn.Add(s.storeObjectID, transaction.ObjectStoreMutation{
		Item: record.ObjectItem{Key: record.KeysKey(objectID)},
		Op:   transaction.OpRemove,
	})
	txn.Add(s.storeObjectID, transaction.ObjectStoreMutation{
		Item: record.ObjectItem{Key: record.ObjectRecordKey(objectID), Value: record.NoneValue()},
		Op:   transaction.OpReplaceOrInsert,
	})

	if err := txn.Commit(ctx); err != nil {
		return err
	}
	s.ciphers.Remove(objectID)
	s.log.Debug("tombstoned object", zap.Uint64("object", objectID))
	return nil
}

// deallocateAllExtents stages deallocation of all device space of an object
// and returns the end of the last extent of every attribute.
func (s *ObjectStore) deallocateAllExtents(ctx context.Context, txn *transaction.Transaction, objectID uint64) (map[uint64]uint64, error) {
	it, err := s.extentTree.Seek(record.ExtentSearchKey(objectID, 0, 0))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var toFree []record.Range
	ends := make(map[uint64]uint64)
	for item, ok := it.Get(); ok && item.Key.ObjectID == objectID; item, ok = it.Get() {
		ends[item.Key.AttributeID] = max(ends[item.Key.AttributeID], item.Key.Range.End)
		if !item.Value.Deleted {
			toFree = append(toFree, record.Range{
				Start: item.Value.DeviceOffset,
				End:   item.Value.DeviceOffset + item.Key.Range.Len(),
			})
		}
		if err := it.Advance(); err != nil {
			return nil, err
		}
	}
	it.Close()

	var freed uint64
	for _, r := range toFree {
		if err := s.alloc.Deallocate(ctx, txn, r); err != nil {
			return nil, err
		}
		freed += r.Len()
	}
	if freed > 0 {
		m, err := s.TxnGetObjectMutation(txn, objectID)
		if err != nil {
			return nil, err
		}
		if m.Item.Value.IsFile() {
			size, borrow := bits.Sub64(m.Item.Value.AllocatedSize, freed, 0)
			if borrow != 0 {
				return nil, fserr.Inconsistent("allocated size %d of object %d is less than %d bytes of its extents",
					m.Item.Value.AllocatedSize, objectID, freed)
			}
			m.Item.Value.AllocatedSize = size
			txn.Add(s.storeObjectID, m)
		}
	}
	return ends, nil
}

// ValidateMutation implements Mutable.
func (s *ObjectStore) ValidateMutation(m transaction.Mutation) error {
	switch m := m.(type) {
	case transaction.ObjectStoreMutation:
		if m.Op != transaction.OpInsert {
			return nil
		}
		v, ok, err := s.tree.Find(m.Item.Key)
		if err != nil {
			return err
		}
		if ok && v.Kind != record.ValueNone {
			return fmt.Errorf("%w: record %s", fserr.ErrAlreadyExists, m.Item.Key)
		}
		return nil
	case transaction.ExtentMutation:
		return nil
	default:
		return fmt.Errorf("unexpected object store mutation %T", m)
	}
}

// ApplyMutation implements Mutable.
func (s *ObjectStore) ApplyMutation(m transaction.Mutation) error {
	switch m := m.(type) {
	case transaction.ObjectStoreMutation:
		if m.Op == transaction.OpRemove {
			s.tree.Remove(m.Item.Key)
			return nil
		}
		return s.tree.Insert(m.Item.Key, m.Item.Value)
	case transaction.ExtentMutation:
		return s.applyExtent(m.Key, m.Value)
	default:
		return fmt.Errorf("unexpected object store mutation %T", m)
	}
}

// DropMutation implements Mutable.
func (s *ObjectStore) DropMutation(transaction.Mutation) {}

// applyExtent inserts an extent trimming the committed extents it overlaps,
// so that extents of an attribute never overlap.
func (s *ObjectStore) applyExtent(key record.ExtentKey, value record.ExtentValue) error {
	it, err := s.extentTree.Seek(key.SearchKey())
	if err != nil {
		return err
	}

	var overlapped []record.ExtentItem
	for item, ok := it.Get(); ok; item, ok = it.Get() {
		if !item.Key.SameAttribute(key.ObjectID, key.AttributeID) || item.Key.Range.Start >= key.Range.End {
			break
		}
		if _, ok := item.Key.Range.Overlap(key.Range); ok {
			overlapped = append(overlapped, record.ExtentItem{Key: item.Key, Value: item.Value})
		}
		if err := it.Advance(); err != nil {
			it.Close()
			return err
		}
	}
	it.Close()

	bs := s.BlockSize()
	for _, old := range overlapped {
		s.extentTree.Remove(old.Key)

		if old.Key.Range.Start < key.Range.Start {
			r := record.Range{Start: old.Key.Range.Start, End: key.Range.Start}
			v, err := old.Value.Slice(0, r.Len(), bs)
			if err != nil {
				return errors.Join(fserr.ErrInconsistent, err)
			}
			if err := s.extentTree.Insert(record.NewExtentKey(key.ObjectID, key.AttributeID, r), v); err != nil {
				return err
			}
		}
		if old.Key.Range.End > key.Range.End {
			r := record.Range{Start: key.Range.End, End: old.Key.Range.End}
			v, err := old.Value.Slice(key.Range.End-old.Key.Range.Start, r.Len(), bs)
			if err != nil {
				return errors.Join(fserr.ErrInconsistent, err)
			}
			if err := s.extentTree.Insert(record.NewExtentKey(key.ObjectID, key.AttributeID, r), v); err != nil {
				return err
			}
		}
	}
	return s.extentTree.Insert(key, value)
}

package objectstore

import (
	"context"
	"testing"

	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/record"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/transaction"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
	"github.com/stretchr/testify/require"
)

func TestCreateObject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store := env.fs.RootStore()

	h1 := createTestObject(t, env.fs, nil)
	h2 := createTestObject(t, env.fs, nil)
	require.EqualValues(t, firstUserObjectID, h1.ObjectID())
	require.Equal(t, h1.ObjectID()+1, h2.ObjectID())
	require.False(t, h1.IsEncrypted())

	opened, err := store.OpenObject(ctx, h1.ObjectID(), HandleOptions{}, nil)
	require.NoError(t, err)
	require.Zero(t, opened.GetSize())

	_, err = store.OpenObject(ctx, 12345, HandleOptions{}, nil)
	require.ErrorIs(t, err, fserr.ErrNotFound)

	t.Run("duplicate record", func(t *testing.T) {
		txn := newTestTxn(t, env.fs)
		txn.Add(RootStoreObjectID, transaction.ObjectStoreMutation{
			Item: record.ObjectItem{Key: record.ObjectRecordKey(h1.ObjectID()), Value: record.FileValue(0, 1, record.Now(), record.Now())},
			Op:   transaction.OpInsert,
		})
		require.ErrorIs(t, txn.Commit(ctx), fserr.ErrAlreadyExists)
	})
}

func TestDroppedCreate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn := newTestTxn(t, env.fs)
	h, err := env.fs.RootStore().CreateObject(ctx, txn, HandleOptions{}, nil)
	require.NoError(t, err)
	txn.Drop()

	_, err = env.fs.RootStore().OpenObject(ctx, h.ObjectID(), HandleOptions{}, nil)
	require.ErrorIs(t, err, fserr.ErrNotFound)
}

func TestAdjustRefs(t *testing.T) {
	env := newTestEnv(t)
	h := newTestObject(t, env.fs)
	store := env.fs.RootStore()
	ctx := context.Background()

	txn := newTestTxn(t, env.fs)
	zero, err := store.AdjustRefs(txn, h.ObjectID(), 1)
	require.NoError(t, err)
	require.False(t, zero)

	zero, err = store.AdjustRefs(txn, h.ObjectID(), -2)
	require.NoError(t, err)
	require.True(t, zero)
	require.NoError(t, txn.Commit(ctx))

	props, err := h.GetProperties(ctx)
	require.NoError(t, err)
	require.Zero(t, props.Refs)

	txn = newTestTxn(t, env.fs)
	_, err = store.AdjustRefs(txn, h.ObjectID(), -1)
	require.ErrorIs(t, err, fserr.ErrInconsistent)
}

func TestTombstone(t *testing.T) {
	env := newTestEnv(t)
	h := newTestObject(t, env.fs)
	store := env.fs.RootStore()
	ctx := context.Background()

	other := createTestObject(t, env.fs, nil)
	_, err := other.WriteOrAppend(ctx, nil, pattern(DefaultBlockSize, 1))
	require.NoError(t, err)

	require.EqualValues(t, 2*DefaultBlockSize, env.fs.Allocator().AllocatedBytes())
	require.NoError(t, store.Tombstone(ctx, h.ObjectID(), transaction.Options{}))
	require.EqualValues(t, DefaultBlockSize, env.fs.Allocator().AllocatedBytes())

	check := func(t *testing.T) {
		it, err := store.ObjectTree().Seek(record.ObjectRecordKey(h.ObjectID()))
		require.NoError(t, err)
		var items []record.ObjectItem
		for item, ok := it.Get(); ok && item.Key.ObjectID == h.ObjectID(); item, ok = it.Get() {
			items = append(items, record.ObjectItem{Key: item.Key, Value: item.Value})
			require.NoError(t, it.Advance())
		}
		it.Close()
		require.Equal(t, []record.ObjectItem{{Key: record.ObjectRecordKey(h.ObjectID()), Value: record.NoneValue()}}, items)

		for _, e := range objectExtents(t, h) {
			require.True(t, e.Value.Deleted, e.Key)
		}

		_, err = store.OpenObject(ctx, h.ObjectID(), HandleOptions{}, nil)
		require.ErrorIs(t, err, fserr.ErrNotFound)
		require.Equal(t, pattern(DefaultBlockSize, 1), readAll(t, other))
	}

	t.Run("in memory", check)
	require.NoError(t, env.fs.Flush(ctx))
	t.Run("flushed", check)
}

func TestTombstoneAllocatedSizeUnderflow(t *testing.T) {
	env := newTestEnv(t)
	h := newTestObject(t, env.fs)
	store := env.fs.RootStore()
	ctx := context.Background()

	txn := newTestTxn(t, env.fs)
	m, err := store.TxnGetObjectMutation(txn, h.ObjectID())
	require.NoError(t, err)
	m.Item.Value.AllocatedSize = DefaultBlockSize / 2
	txn.Add(store.storeObjectID, m)
	require.NoError(t, txn.Commit(ctx))

	err = store.Tombstone(ctx, h.ObjectID(), transaction.Options{})
	require.ErrorIs(t, err, fserr.ErrInconsistent)

	_, err = store.OpenObject(ctx, h.ObjectID(), HandleOptions{}, nil)
	require.NoError(t, err, "failed tombstone must leave the object intact")
	require.EqualValues(t, testAllocatedSize, env.fs.Allocator().AllocatedBytes())
}

func TestTxnGetObjectMutation(t *testing.T) {
	env := newTestEnv(t)
	h := newTestObject(t, env.fs)
	store := env.fs.RootStore()

	txn := newTestTxn(t, env.fs)
	m, err := store.TxnGetObjectMutation(txn, h.ObjectID())
	require.NoError(t, err)
	require.True(t, m.Item.Value.IsFile())
	require.EqualValues(t, testAllocatedSize, m.Item.Value.AllocatedSize)

	require.NoError(t, h.updateAllocatedSize(txn, DefaultBlockSize, 0))
	m, err = store.TxnGetObjectMutation(txn, h.ObjectID())
	require.NoError(t, err)
	require.EqualValues(t, testAllocatedSize+DefaultBlockSize, m.Item.Value.AllocatedSize)

	require.ErrorIs(t, h.updateAllocatedSize(txn, 0, 1<<40), fserr.ErrInconsistent)

	_, err = store.TxnGetObjectMutation(txn, 12345)
	require.ErrorIs(t, err, fserr.ErrInconsistent)
}

package allocator

import (
	"context"
	"testing"

	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/record"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/transaction"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
	"github.com/stretchr/testify/require"
)

const allocatorID = 1

type applier struct {
	t *testing.T
	a *Allocator
}

func (h applier) CommitTransaction(_ context.Context, txn *transaction.Transaction) error {
	for _, m := range txn.Mutations() {
		require.NoError(h.t, h.a.ApplyMutation(m.Mutation.(transaction.AllocatorMutation)))
	}
	return nil
}

func (h applier) DropTransaction(txn *transaction.Transaction) {
	for _, m := range txn.Mutations() {
		h.a.DropMutation(m.Mutation.(transaction.AllocatorMutation))
	}
}

func newTxn(t *testing.T, a *Allocator) *transaction.Transaction {
	return transaction.New(applier{t: t, a: a}, nil)
}

func TestAllocate(t *testing.T) {
	ctx := context.Background()
	a := New(allocatorID, 512, 8192, WithMaxExtentSize(2048))
	require.EqualValues(t, 8192, a.FreeBytes())

	txn := newTxn(t, a)
	r, err := a.Allocate(ctx, txn, 1024)
	require.NoError(t, err)
	require.Equal(t, record.Range{Start: 0, End: 1024}, r)

	r, err = a.Allocate(ctx, txn, 4096)
	require.NoError(t, err)
	require.Equal(t, record.Range{Start: 1024, End: 3072}, r, "limited by max extent size")

	_, err = a.Allocate(ctx, txn, 100)
	require.ErrorIs(t, err, fserr.ErrInvalidArgs)

	require.Zero(t, a.AllocatedBytes())
	require.EqualValues(t, 8192-3072, a.FreeBytes())
	require.NoError(t, txn.Commit(ctx))
	require.EqualValues(t, 3072, a.AllocatedBytes())
}

func TestAllocatePartial(t *testing.T) {
	ctx := context.Background()
	a := New(allocatorID, 512, 2048)

	txn := newTxn(t, a)
	require.NoError(t, a.MarkAllocated(ctx, txn, record.Range{Start: 512, End: 1024}))
	require.ErrorIs(t, a.MarkAllocated(ctx, txn, record.Range{Start: 512, End: 1024}), fserr.ErrAlreadyExists)

	r, err := a.Allocate(ctx, txn, 1024)
	require.NoError(t, err)
	require.Equal(t, record.Range{Start: 1024, End: 2048}, r)

	r, err = a.Allocate(ctx, txn, 1024)
	require.NoError(t, err)
	require.Equal(t, record.Range{Start: 0, End: 512}, r, "short allocation")

	_, err = a.Allocate(ctx, txn, 512)
	require.ErrorIs(t, err, fserr.ErrNoSpace)

	txn.Drop()
	require.EqualValues(t, 2048, a.FreeBytes())
	require.Equal(t, 1, a.free.Len(), "free ranges are merged back")
}

func TestDeallocateReusedAfterFlush(t *testing.T) {
	ctx := context.Background()
	a := New(allocatorID, 512, 1024)

	txn := newTxn(t, a)
	r, err := a.Allocate(ctx, txn, 1024)
	require.NoError(t, err)
	require.NoError(t, txn.Commit(ctx))

	txn = newTxn(t, a)
	require.NoError(t, a.Deallocate(ctx, txn, r))
	require.NoError(t, txn.Commit(ctx))
	require.Zero(t, a.AllocatedBytes())

	txn = newTxn(t, a)
	_, err = a.Allocate(ctx, txn, 512)
	require.ErrorIs(t, err, fserr.ErrNoSpace)

	a.DidFlush()
	_, err = a.Allocate(ctx, txn, 512)
	require.NoError(t, err)
	txn.Drop()
}

func TestDeallocateDropped(t *testing.T) {
	ctx := context.Background()
	a := New(allocatorID, 512, 1024)
	require.NoError(t, a.Reserve(record.Range{Start: 0, End: 512}))
	require.EqualValues(t, 512, a.AllocatedBytes())

	txn := newTxn(t, a)
	require.NoError(t, a.Deallocate(ctx, txn, record.Range{Start: 0, End: 512}))
	txn.Drop()
	a.DidFlush()
	require.EqualValues(t, 512, a.AllocatedBytes())
	require.EqualValues(t, 512, a.FreeBytes())

	require.ErrorIs(t, a.ApplyMutation(transaction.AllocatorMutation{
		Op:    transaction.OpDeallocate,
		Range: record.Range{Start: 0, End: 1024},
	}), fserr.ErrInconsistent)
}

type testMetrics struct {
	allocated, free uint64
}

func (m *testMetrics) SetAllocatedBytes(v uint64) { m.allocated = v }
func (m *testMetrics) SetFreeBytes(v uint64)      { m.free = v }

func TestMetrics(t *testing.T) {
	var m testMetrics
	a := New(allocatorID, 512, 4096, WithMetrics(&m))
	require.EqualValues(t, 4096, m.free)

	require.NoError(t, a.Reserve(record.Range{Start: 1024, End: 2048}))
	require.EqualValues(t, 1024, m.allocated)
	require.EqualValues(t, 3072, m.free)

	require.ErrorIs(t, a.Reserve(record.Range{Start: 4096, End: 4608}), fserr.ErrOutOfRange)
}

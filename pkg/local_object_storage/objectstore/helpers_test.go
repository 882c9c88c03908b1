package objectstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/crypt"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/device"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/record"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/transaction"
	"github.com/stretchr/testify/require"
)

const (
	testDeviceBlocks    = 8192
	testDeviceBlockSize = 512

	testDataOffset    = 5000
	testObjectSize    = 5678
	testAllocatedSize = DefaultBlockSize
)

var testData = []byte("hello")

type testEnv struct {
	dev      *device.MemDevice
	metaPath string
	fs       *FxFilesystem
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	env := &testEnv{
		dev:      device.NewMemDevice(testDeviceBlocks, testDeviceBlockSize),
		metaPath: filepath.Join(t.TempDir(), "meta.db"),
	}

	var err error
	env.fs, err = NewEmpty(context.Background(), env.dev, env.metaPath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.fs.Close() })
	return env
}

func (e *testEnv) reopen(t *testing.T, opts ...Option) {
	require.NoError(t, e.fs.Close())

	var err error
	e.fs, err = Open(context.Background(), e.dev, e.metaPath, opts...)
	require.NoError(t, err)
}

func newTestTxn(t *testing.T, fs *FxFilesystem) *transaction.Transaction {
	txn, err := fs.NewTransaction(context.Background(), nil, transaction.Options{})
	require.NoError(t, err)
	t.Cleanup(txn.Drop)
	return txn
}

func createTestObject(t *testing.T, fs *FxFilesystem, c crypt.Crypt) *StoreObjectHandle {
	ctx := context.Background()
	txn := newTestTxn(t, fs)
	h, err := fs.RootStore().CreateObject(ctx, txn, HandleOptions{}, c)
	require.NoError(t, err)
	require.NoError(t, txn.Commit(ctx))
	return h
}

// newTestObject returns an object of testObjectSize bytes holding testData
// at testDataOffset.
func newTestObject(t *testing.T, fs *FxFilesystem) *StoreObjectHandle {
	ctx := context.Background()
	h := createTestObject(t, fs, nil)

	off := uint64(testDataOffset)
	size, err := h.WriteOrAppend(ctx, &off, testData)
	require.NoError(t, err)
	require.EqualValues(t, testDataOffset+len(testData), size)
	require.NoError(t, h.Truncate(ctx, testObjectSize))
	require.EqualValues(t, testObjectSize, h.GetSize())
	return h
}

// readAll reads the whole attribute.
func readAll(t *testing.T, h *StoreObjectHandle) []byte {
	bs := h.BlockSize()
	buf := h.AllocateBuffer(int((h.GetSize() + bs - 1) / bs * bs))
	n, err := h.Read(context.Background(), 0, buf)
	require.NoError(t, err)
	require.EqualValues(t, h.GetSize(), n)
	return buf[:n]
}

// objectExtents returns committed extents of an object attribute.
func objectExtents(t *testing.T, h *StoreObjectHandle) []record.ExtentItem {
	it, err := h.owner.ExtentTree().Seek(record.ExtentSearchKey(h.objectID, h.attributeID, 0))
	require.NoError(t, err)
	defer it.Close()

	var res []record.ExtentItem
	for item, ok := it.Get(); ok && item.Key.SameAttribute(h.objectID, h.attributeID); item, ok = it.Get() {
		res = append(res, record.ExtentItem{Key: item.Key, Value: item.Value})
		require.NoError(t, it.Advance())
	}
	return res
}

// reachableBytes sums the device bytes of live extents of an object.
func reachableBytes(t *testing.T, h *StoreObjectHandle) uint64 {
	var n uint64
	for _, e := range objectExtents(t, h) {
		if !e.Value.Deleted {
			n += e.Key.Range.Len()
		}
	}
	return n
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%251)
	}
	return b
}

package objectstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nspcc-dev/neofs-extentstore/internal/testutil"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/device"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/mode"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/transaction"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReopen(t *testing.T) {
	env := newTestEnv(t)
	h := newTestObject(t, env.fs)
	ctx := context.Background()
	id := env.fs.ID()

	env.reopen(t)
	require.Equal(t, id, env.fs.ID())
	require.EqualValues(t, DefaultBlockSize, env.fs.BlockSize())
	require.EqualValues(t, testAllocatedSize, env.fs.Allocator().AllocatedBytes())
	require.EqualValues(t, h.ObjectID(), env.fs.Info().LastObjectID)

	reopened, err := env.fs.RootStore().OpenObject(ctx, h.ObjectID(), HandleOptions{}, nil)
	require.NoError(t, err)
	require.EqualValues(t, testObjectSize, reopened.GetSize())

	expected := make([]byte, testObjectSize)
	copy(expected[testDataOffset:], testData)
	require.Equal(t, expected, readAll(t, reopened))

	props, err := reopened.GetProperties(ctx)
	require.NoError(t, err)
	require.EqualValues(t, testAllocatedSize, props.AllocatedSize)

	h2 := createTestObject(t, env.fs, nil)
	require.Greater(t, h2.ObjectID(), h.ObjectID())
	_, err = h2.WriteOrAppend(ctx, nil, pattern(DefaultBlockSize, 3))
	require.NoError(t, err)
	require.Equal(t, expected, readAll(t, reopened), "new allocations must not reuse live space")
}

func TestFormatTwice(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.fs.Close())

	_, err := NewEmpty(context.Background(), env.dev, env.metaPath)
	require.ErrorIs(t, err, fserr.ErrAlreadyExists)
}

func TestOpenNotFormatted(t *testing.T) {
	dev := device.NewMemDevice(testDeviceBlocks, testDeviceBlockSize)
	_, err := Open(context.Background(), dev, filepath.Join(t.TempDir(), "meta.db"))
	require.ErrorIs(t, err, fserr.ErrNotFound)
}

func TestBadBlockSize(t *testing.T) {
	dev := device.NewMemDevice(testDeviceBlocks, testDeviceBlockSize)
	_, err := NewEmpty(context.Background(), dev, filepath.Join(t.TempDir(), "meta.db"), WithBlockSize(1000))
	require.ErrorIs(t, err, fserr.ErrInvalidArgs)
}

func TestReadOnly(t *testing.T) {
	env := newTestEnv(t)
	h := newTestObject(t, env.fs)
	ctx := context.Background()

	env.reopen(t, WithReadOnly(true))
	require.Equal(t, mode.ReadOnly, env.fs.Mode())

	ro, err := env.fs.RootStore().OpenObject(ctx, h.ObjectID(), HandleOptions{}, nil)
	require.NoError(t, err)
	_, err = ro.WriteOrAppend(ctx, nil, []byte("x"))
	require.ErrorIs(t, err, fserr.ErrReadOnly)
	require.ErrorIs(t, env.fs.SetMode(mode.ReadWrite), fserr.ErrReadOnly)

	expected := make([]byte, testObjectSize)
	copy(expected[testDataOffset:], testData)
	require.Equal(t, expected, readAll(t, ro))
}

func TestDegradedMode(t *testing.T) {
	env := newTestEnv(t)
	h := newTestObject(t, env.fs)
	ctx := context.Background()

	require.NoError(t, env.fs.SetMode(mode.Degraded))
	_, err := h.WriteOrAppend(ctx, nil, []byte("x"))
	require.ErrorIs(t, err, fserr.ErrReadOnly)
	require.Error(t, env.fs.Flush(ctx))

	require.NoError(t, env.fs.SetMode(mode.ReadWrite))
	_, err = h.WriteOrAppend(ctx, nil, []byte("x"))
	require.NoError(t, err)
}

func TestDeallocatedSpaceReusedAfterFlush(t *testing.T) {
	env := newTestEnv(t)
	h := createTestObject(t, env.fs, nil)
	ctx := context.Background()

	_, err := h.WriteOrAppend(ctx, nil, pattern(DefaultBlockSize, 1))
	require.NoError(t, err)
	first := objectExtents(t, h)[0].Value.DeviceOffset

	off := uint64(0)
	_, err = h.WriteOrAppend(ctx, &off, pattern(DefaultBlockSize, 2))
	require.NoError(t, err)
	second := objectExtents(t, h)[0].Value.DeviceOffset
	require.NotEqual(t, first, second, "freed space reused before flush")

	require.NoError(t, env.fs.Flush(ctx))
	free := env.fs.Allocator().FreeBytes()
	require.EqualValues(t, env.dev.Size()-DefaultBlockSize, free)
}

func TestBackgroundFlush(t *testing.T) {
	env := newTestEnv(t, WithFlushInterval(10*time.Millisecond))
	h := createTestObject(t, env.fs, nil)

	_, err := h.WriteOrAppend(context.Background(), nil, testData)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return env.fs.db.Pending() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestFlushThreshold(t *testing.T) {
	env := newTestEnv(t, WithFlushThreshold(1))
	h := createTestObject(t, env.fs, nil)
	ctx := context.Background()

	require.NotZero(t, env.fs.db.Pending())
	_, err := h.WriteOrAppend(ctx, nil, testData)
	require.NoError(t, err)
	require.NotZero(t, env.fs.db.Pending(), "records of the last transaction stay in memory")

	txn, err := h.NewTransactionWithOptions(ctx, transaction.Options{SkipJournalChecks: true})
	require.NoError(t, err)
	require.NotZero(t, env.fs.db.Pending())
	txn.Drop()

	txn, err = h.NewTransaction(ctx)
	require.NoError(t, err)
	require.Zero(t, env.fs.db.Pending())
	txn.Drop()
}

type recordingMetrics struct {
	noopMetrics

	mtx sync.Mutex
	ops map[string]int
}

func (m *recordingMetrics) AddOp(op string, _ time.Duration, bytes int, err error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if err == nil {
		m.ops[op] += bytes
	}
}

func TestHandleMetrics(t *testing.T) {
	m := &recordingMetrics{ops: make(map[string]int)}
	env := newTestEnv(t, WithMetrics(m))
	h := newTestObject(t, env.fs)

	readAll(t, h)

	m.mtx.Lock()
	defer m.mtx.Unlock()
	require.Equal(t, len(testData), m.ops["write"])
	require.Equal(t, testObjectSize, m.ops["read"])
	require.Contains(t, m.ops, "truncate")
}

func TestTrace(t *testing.T) {
	l, lb := testutil.NewBufferedLogger(t, zap.InfoLevel)
	env := newTestEnv(t, WithLogger(l))
	h := createTestObject(t, env.fs, nil)

	h.SetTrace(true)
	_, err := h.WriteOrAppend(context.Background(), nil, testData)
	require.NoError(t, err)

	object := json.Number(strconv.FormatUint(h.ObjectID(), 10))
	lb.AssertContains(testutil.LogEntry{
		Level:   zap.InfoLevel,
		Message: "object trace toggled",
		Fields: map[string]any{
			"component": "FxFilesystem",
			"store":     json.Number(strconv.Itoa(RootStoreObjectID)),
			"object":    object,
			"attribute": json.Number("0"),
			"trace":     true,
		},
	})
	lb.AssertContains(testutil.LogEntry{
		Level:   zap.InfoLevel,
		Message: "object store operation",
		Fields: map[string]any{
			"component":     "FxFilesystem",
			"store":         json.Number(strconv.Itoa(RootStoreObjectID)),
			"object":        map[string]any{"store": json.Number(strconv.Itoa(RootStoreObjectID)), "id": object, "attribute": json.Number("0")},
			"op":            "write",
			"device_offset": json.Number("0"),
			"size":          json.Number(strconv.Itoa(DefaultBlockSize)),
		},
	})
}

package objectstore

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/nspcc-dev/neofs-extentstore/internal/testutil"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/transaction"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/round"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDirectWriter(t *testing.T) {
	env := newTestEnv(t)
	h := createTestObject(t, env.fs, nil)
	ctx := context.Background()

	w := NewDirectWriter(h, transaction.Options{})
	data := pattern(DirectWriterBufferSize+12345, 1)
	require.NoError(t, w.WriteBytes(ctx, data[:1000]))
	require.Zero(t, h.GetSize(), "nothing flushed yet")
	require.NoError(t, w.WriteBytes(ctx, data[1000:]))
	require.EqualValues(t, DirectWriterBufferSize, h.GetSize())

	require.NoError(t, w.Skip(ctx, 10))
	require.NoError(t, w.WriteBytes(ctx, []byte("x")))
	require.NoError(t, w.Skip(ctx, 2*DirectWriterBufferSize))
	holeStart := uint64(len(data) + 11)
	require.Equal(t, holeStart, h.GetSize())

	require.NoError(t, w.WriteBytes(ctx, []byte("tail")))
	require.NoError(t, w.Complete(ctx))
	require.NoError(t, w.Close())

	size := holeStart + 2*DirectWriterBufferSize + 4
	require.Equal(t, size, h.GetSize())
	require.Equal(t, size, w.Offset())

	got := readAll(t, h)
	require.Equal(t, data, got[:len(data)])
	require.Equal(t, make([]byte, 10), got[len(data):len(data)+10])
	require.Equal(t, byte('x'), got[len(data)+10])
	require.Equal(t, make([]byte, 2*DirectWriterBufferSize), got[holeStart:holeStart+2*DirectWriterBufferSize])
	require.Equal(t, []byte("tail"), got[size-4:])

	hole, ok := round.Up(holeStart, DefaultBlockSize)
	require.True(t, ok)
	allocated, n, err := h.IsAllocated(ctx, hole)
	require.NoError(t, err)
	require.False(t, allocated)
	require.Equal(t, round.Down(size-4, DefaultBlockSize)-hole, n)
}

func TestDirectWriterSkipAtEnd(t *testing.T) {
	env := newTestEnv(t)
	h := createTestObject(t, env.fs, nil)
	ctx := context.Background()

	w := NewDirectWriter(h, transaction.Options{})
	require.NoError(t, w.WriteBytes(ctx, []byte("head")))
	require.NoError(t, w.Skip(ctx, 3*DirectWriterBufferSize))
	require.NoError(t, w.Complete(ctx))

	require.EqualValues(t, 4+3*DirectWriterBufferSize, h.GetSize())
	allocated, err := h.GetAllocatedSize()
	require.NoError(t, err)
	require.EqualValues(t, DefaultBlockSize, allocated)
}

func TestDirectWriterDropsData(t *testing.T) {
	l, lb := testutil.NewBufferedLogger(t, zap.WarnLevel)
	env := newTestEnv(t, WithLogger(l))
	h := createTestObject(t, env.fs, nil)
	ctx := context.Background()

	w := NewDirectWriter(h, transaction.Options{})
	require.NoError(t, w.WriteBytes(ctx, []byte("abc")))
	require.ErrorIs(t, w.Close(), errUnflushedData)
	require.Zero(t, h.GetSize())

	lb.AssertSingle(testutil.LogEntry{
		Level:   zap.WarnLevel,
		Message: "dropping data, did you forget to call Complete?",
		Fields: map[string]any{
			"component": "FxFilesystem",
			"store":     json.Number(strconv.Itoa(RootStoreObjectID)),
			"object":    json.Number(strconv.FormatUint(h.ObjectID(), 10)),
			"attribute": json.Number("0"),
			"bytes":     json.Number("3"),
			"offset":    json.Number("0"),
		},
	})
}

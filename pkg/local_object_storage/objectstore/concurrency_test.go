package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func requireBlocked(t *testing.T, done <-chan error) {
	select {
	case err := <-done:
		t.Fatalf("operation was not blocked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransactionLockBlocksWriters(t *testing.T) {
	env := newTestEnv(t)
	h := newTestObject(t, env.fs)
	ctx := context.Background()

	txn, err := h.NewTransaction(ctx)
	require.NoError(t, err)
	defer txn.Drop()

	done := make(chan error, 1)
	go func() { done <- h.Truncate(ctx, 100) }()
	requireBlocked(t, done)

	require.NoError(t, h.TxnWrite(ctx, txn, 0, []byte("abc")))
	require.NoError(t, txn.Commit(ctx))
	require.NoError(t, <-done)

	require.EqualValues(t, 100, h.GetSize())
	expected := make([]byte, 100)
	copy(expected, "abc")
	require.Equal(t, expected, readAll(t, h))
}

func TestReadersBlockCommit(t *testing.T) {
	env := newTestEnv(t)
	h := newTestObject(t, env.fs)
	ctx := context.Background()

	release, err := env.fs.ReadLock(ctx, h.lockKey())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		off := uint64(0)
		_, err := h.WriteOrAppend(ctx, &off, pattern(DefaultBlockSize, 1))
		done <- err
	}()
	requireBlocked(t, done)
	require.EqualValues(t, testObjectSize, h.GetSize())

	release()
	require.NoError(t, <-done)
	require.Equal(t, pattern(DefaultBlockSize, 1), readAll(t, h)[:DefaultBlockSize])
}

func TestLockWaitCancelled(t *testing.T) {
	env := newTestEnv(t)
	h := newTestObject(t, env.fs)

	txn, err := h.NewTransaction(context.Background())
	require.NoError(t, err)
	defer txn.Drop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.WriteOrAppend(ctx, nil, []byte("x"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.EqualValues(t, testObjectSize, h.GetSize())
}

func TestConcurrentAppends(t *testing.T) {
	env := newTestEnv(t)
	h := createTestObject(t, env.fs, nil)
	ctx := context.Background()

	const writers, appends = 4, 8
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		b := byte('a' + i)
		g.Go(func() error {
			for j := 0; j < appends; j++ {
				if _, err := h.WriteOrAppend(ctx, nil, bytes.Repeat([]byte{b}, DefaultBlockSize)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, writers*appends*DefaultBlockSize, h.GetSize())

	data := readAll(t, h)
	counts := make(map[byte]int)
	for off := 0; off < len(data); off += DefaultBlockSize {
		block := data[off : off+DefaultBlockSize]
		require.Equal(t, bytes.Repeat(block[:1], DefaultBlockSize), block, "torn block at %d", off)
		counts[block[0]]++
	}
	for i := 0; i < writers; i++ {
		require.Equal(t, appends, counts[byte('a'+i)])
	}
}

func TestRacyReads(t *testing.T) {
	env := newTestEnv(t, WithIOWorkers(4))
	h := createTestObject(t, env.fs, nil)
	ctx := context.Background()

	const blocks = 64
	stop := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		defer close(stop)
		block := bytes.Repeat([]byte{'a'}, DefaultBlockSize)
		for i := 0; i < blocks; i++ {
			if _, err := h.WriteOrAppend(ctx, nil, block); err != nil {
				return err
			}
		}
		return nil
	})
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			buf := h.AllocateBuffer(blocks * DefaultBlockSize)
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				n, err := h.Read(ctx, 0, buf)
				if err != nil {
					return err
				}
				if n%DefaultBlockSize != 0 {
					return fmt.Errorf("read %d bytes, not a whole number of blocks", n)
				}
				if i := bytes.IndexFunc(buf[:n], func(r rune) bool { return r != 'a' }); i >= 0 {
					return fmt.Errorf("unexpected data at %d of %d", i, n)
				}
			}
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, blocks*DefaultBlockSize, h.GetSize())
}

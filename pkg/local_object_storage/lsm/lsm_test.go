package lsm

import (
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

type u64Codec struct{}

func (u64Codec) EncodeKey(k uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, k)
}

func (u64Codec) DecodeKey(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errors.New("bad key")
	}
	return binary.BigEndian.Uint64(b), nil
}

func (u64Codec) EncodeValue(v string) ([]byte, error) {
	return []byte(v), nil
}

func (u64Codec) DecodeValue(b []byte) (string, error) {
	return string(b), nil
}

func newTestTree(t *testing.T) (*DB, *Tree[uint64, string]) {
	db, err := Open(filepath.Join(t.TempDir(), "meta.db"), WithNoSync(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tree, err := NewTree[uint64, string](db, "test", u64Codec{})
	require.NoError(t, err)
	return db, tree
}

func collect(t *testing.T, tree *Tree[uint64, string], from uint64) []Item[uint64, string] {
	it, err := tree.Seek(from)
	require.NoError(t, err)
	defer it.Close()

	var res []Item[uint64, string]
	for item, ok := it.Get(); ok; item, ok = it.Get() {
		res = append(res, item)
		require.NoError(t, it.Advance())
	}
	return res
}

func TestTreeMergesLayers(t *testing.T) {
	db, tree := newTestTree(t)

	for i := uint64(0); i < 200; i += 2 {
		require.NoError(t, tree.Insert(i, "old"))
	}
	require.NoError(t, db.Flush(nil))
	require.Zero(t, db.Pending())

	for i := uint64(1); i < 200; i += 2 {
		require.NoError(t, tree.Insert(i, "new"))
	}
	require.NoError(t, tree.Insert(10, "replaced"))
	tree.Remove(20)
	require.Equal(t, 101, db.Pending())

	items := collect(t, tree, 0)
	require.Len(t, items, 199)
	for i, item := range items {
		if i > 0 {
			require.Less(t, items[i-1].Key, item.Key)
		}
		require.NotEqual(t, uint64(20), item.Key)
	}

	v, ok, err := tree.Find(10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "replaced", v)

	_, ok, err = tree.Find(20)
	require.NoError(t, err)
	require.False(t, ok)

	v, ok, err = tree.Find(21)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new", v)

	items = collect(t, tree, 195)
	require.Len(t, items, 5)
	require.EqualValues(t, 195, items[0].Key)

	require.NoError(t, db.Flush(nil))
	require.Len(t, collect(t, tree, 0), 199)

	_, ok, err = tree.Find(20)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTreeSeekFirst(t *testing.T) {
	_, tree := newTestTree(t)

	it, err := tree.SeekFirst()
	require.NoError(t, err)
	_, ok := it.Get()
	require.False(t, ok)
	require.NoError(t, it.Advance())
	it.Close()
	it.Close()

	require.NoError(t, tree.Insert(7, "seven"))
	it, err = tree.SeekFirst()
	require.NoError(t, err)
	defer it.Close()

	item, ok := it.Get()
	require.True(t, ok)
	require.Equal(t, Item[uint64, string]{Key: 7, Value: "seven"}, item)
}

func TestTreeSnapshot(t *testing.T) {
	_, tree := newTestTree(t)
	require.NoError(t, tree.Insert(1, "a"))

	it, err := tree.SeekFirst()
	require.NoError(t, err)
	defer it.Close()

	require.NoError(t, tree.Insert(2, "b"))

	_, ok := it.Get()
	require.True(t, ok)
	require.NoError(t, it.Advance())
	_, ok = it.Get()
	require.False(t, ok)
}

func TestFlushFailureKeepsData(t *testing.T) {
	db, tree := newTestTree(t)

	require.NoError(t, tree.Insert(1, "a"))
	tree.Remove(2)

	errFlush := errors.New("flush failed")
	err := db.Flush(func(*bbolt.Tx) error { return errFlush })
	require.ErrorIs(t, err, errFlush)
	require.Equal(t, 2, db.Pending())

	v, ok, err := tree.Find(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", v)

	require.NoError(t, db.Flush(nil))
	require.Zero(t, db.Pending())
	require.Len(t, collect(t, tree, 0), 1)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")

	db, err := Open(path)
	require.NoError(t, err)
	tree, err := NewTree[uint64, string](db, "test", u64Codec{})
	require.NoError(t, err)
	require.NoError(t, tree.Insert(3, "c"))
	require.NoError(t, db.Flush(nil))
	require.NoError(t, tree.Insert(4, "lost"))
	require.NoError(t, db.Close())

	db, err = Open(path, WithReadOnly(true))
	require.NoError(t, err)
	defer db.Close()
	tree, err = NewTree[uint64, string](db, "test", u64Codec{})
	require.NoError(t, err)

	items := collect(t, tree, 0)
	require.Equal(t, []Item[uint64, string]{{Key: 3, Value: "c"}}, items)
	require.ErrorContains(t, db.Flush(nil), "read-only")
}

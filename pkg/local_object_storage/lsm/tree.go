package lsm

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/google/btree"
	"go.etcd.io/bbolt"
)

// Codec converts keys and values of a tree to their stored form. Encoded keys
// must sort in key order under bytes.Compare.
type Codec[K, V any] interface {
	EncodeKey(K) []byte
	DecodeKey([]byte) (K, error)
	EncodeValue(V) ([]byte, error)
	DecodeValue([]byte) (V, error)
}

// Item is a key-value pair of a tree.
type Item[K, V any] struct {
	Key   K
	Value V
}

type entry[K, V any] struct {
	key     []byte
	raw     []byte
	item    Item[K, V]
	removed bool
}

func lessEntry[K, V any](a, b *entry[K, V]) bool {
	return bytes.Compare(a.key, b.key) < 0
}

const btreeDegree = 32

// Tree is a sorted key-value tree. See package documentation for the layer
// model.
type Tree[K, V any] struct {
	db     *DB
	name   []byte
	codec  Codec[K, V]
	bucket bool

	mtx     sync.Mutex
	mutable *btree.BTreeG[*entry[K, V]]
	frozen  *btree.BTreeG[*entry[K, V]]
}

// NewTree attaches a tree stored in the named bucket of db.
func NewTree[K, V any](db *DB, name string, codec Codec[K, V]) (*Tree[K, V], error) {
	t := &Tree[K, V]{
		db:      db,
		name:    []byte(name),
		codec:   codec,
		mutable: btree.NewG(btreeDegree, lessEntry[K, V]),
	}
	if !db.readOnly {
		err := db.bolt.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(t.name)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("can't create bucket %s: %w", name, err)
		}
	}
	db.register(t)
	return t, nil
}

// Insert inserts or replaces the value of key in the mutable layer.
func (t *Tree[K, V]) Insert(key K, value V) error {
	raw, err := t.codec.EncodeValue(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	e := &entry[K, V]{key: t.codec.EncodeKey(key), raw: raw, item: Item[K, V]{Key: key, Value: value}}

	t.mtx.Lock()
	t.mutable.ReplaceOrInsert(e)
	t.mtx.Unlock()
	return nil
}

// Remove hides key in all layers.
func (t *Tree[K, V]) Remove(key K) {
	e := &entry[K, V]{key: t.codec.EncodeKey(key), item: Item[K, V]{Key: key}, removed: true}

	t.mtx.Lock()
	t.mutable.ReplaceOrInsert(e)
	t.mtx.Unlock()
}

// Seek returns an iterator positioned at the first item with a key not less
// than key. The iterator must be closed.
func (t *Tree[K, V]) Seek(key K) (*Iterator[K, V], error) {
	return t.seek(t.codec.EncodeKey(key))
}

// SeekFirst returns an iterator positioned at the first item of the tree.
func (t *Tree[K, V]) SeekFirst() (*Iterator[K, V], error) {
	return t.seek(nil)
}

// Find looks up the value stored under key.
func (t *Tree[K, V]) Find(key K) (V, bool, error) {
	var zero V

	raw := t.codec.EncodeKey(key)
	it, err := t.seek(raw)
	if err != nil {
		return zero, false, err
	}
	defer it.Close()

	if !it.valid || !bytes.Equal(it.curKey, raw) {
		return zero, false, nil
	}
	return it.cur.Value, true, nil
}

func (t *Tree[K, V]) seek(pivot []byte) (*Iterator[K, V], error) {
	it := &Iterator[K, V]{codec: t.codec}

	t.mtx.Lock()
	it.mem = append(it.mem, newMemLayer(t.mutable.Clone(), pivot))
	if t.frozen != nil {
		it.mem = append(it.mem, newMemLayer(t.frozen, pivot))
	}
	tx, err := t.db.bolt.Begin(false)
	t.mtx.Unlock()
	if err != nil {
		return nil, fmt.Errorf("begin read transaction: %w", err)
	}

	it.tx = tx
	it.bolt = newBoltLayer(tx.Bucket(t.name), pivot)
	if err := it.settle(); err != nil {
		it.Close()
		return nil, err
	}
	return it, nil
}

func (t *Tree[K, V]) pending() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	n := t.mutable.Len()
	if t.frozen != nil {
		n += t.frozen.Len()
	}
	return n
}

func (t *Tree[K, V]) freeze() {
	t.mtx.Lock()
	t.frozen = t.mutable
	t.mutable = btree.NewG(btreeDegree, lessEntry[K, V])
	t.mtx.Unlock()
}

func (t *Tree[K, V]) writeFrozen(tx *bbolt.Tx) error {
	b, err := tx.CreateBucketIfNotExists(t.name)
	if err != nil {
		return fmt.Errorf("can't create bucket %s: %w", t.name, err)
	}

	// Frozen layer is immutable, no lock needed.
	t.frozen.Ascend(func(e *entry[K, V]) bool {
		if e.removed {
			err = b.Delete(e.key)
		} else {
			err = b.Put(e.key, e.raw)
		}
		return err == nil
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", t.name, err)
	}
	return nil
}

func (t *Tree[K, V]) thaw() {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	t.frozen.Ascend(func(e *entry[K, V]) bool {
		if !t.mutable.Has(e) {
			t.mutable.ReplaceOrInsert(e)
		}
		return true
	})
	t.frozen = nil
}

func (t *Tree[K, V]) dropFrozen() {
	t.mtx.Lock()
	t.frozen = nil
	t.mtx.Unlock()
}

package lsm

import (
	"bytes"

	"github.com/google/btree"
	"go.etcd.io/bbolt"
)

// Iterator walks the merged view of all tree layers in key order.
type Iterator[K, V any] struct {
	codec Codec[K, V]
	tx    *bbolt.Tx
	mem   []*memLayer[K, V] // newest first
	bolt  *boltLayer

	valid  bool
	cur    Item[K, V]
	curKey []byte
	closed bool
}

// Get returns the current item. The second result is false when the
// iterator is exhausted.
func (it *Iterator[K, V]) Get() (Item[K, V], bool) {
	return it.cur, it.valid
}

// Advance moves to the next item.
func (it *Iterator[K, V]) Advance() error {
	if !it.valid {
		return nil
	}
	return it.settle()
}

// Close releases the read transaction. It is safe to call Close repeatedly.
func (it *Iterator[K, V]) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.valid = false
	_ = it.tx.Rollback()
}

// settle consumes the smallest key across the layers and makes the newest
// visible version of it current. Layers are always positioned past the
// current item.
func (it *Iterator[K, V]) settle() error {
	for {
		var key []byte
		for _, l := range it.mem {
			if e := l.current(); e != nil && (key == nil || bytes.Compare(e.key, key) < 0) {
				key = e.key
			}
		}
		if k := it.bolt.key; k != nil && (key == nil || bytes.Compare(k, key) < 0) {
			key = k
		}
		if key == nil {
			it.valid = false
			return nil
		}
		key = bytes.Clone(key)

		var chosen *entry[K, V]
		for _, l := range it.mem {
			if e := l.current(); e != nil && bytes.Equal(e.key, key) {
				if chosen == nil {
					chosen = e
				}
				l.next()
			}
		}

		var (
			item Item[K, V]
			err  error
		)
		if it.bolt.key != nil && bytes.Equal(it.bolt.key, key) {
			if chosen == nil {
				item.Key, err = it.codec.DecodeKey(it.bolt.key)
				if err == nil {
					item.Value, err = it.codec.DecodeValue(it.bolt.value)
				}
			}
			it.bolt.next()
		}
		if err != nil {
			it.valid = false
			return err
		}

		if chosen != nil {
			if chosen.removed {
				continue
			}
			item = chosen.item
		}

		it.cur = item
		it.curKey = key
		it.valid = true
		return nil
	}
}

const memBatch = 64

// memLayer pulls entries out of an immutable btree snapshot in batches.
type memLayer[K, V any] struct {
	tree *btree.BTreeG[*entry[K, V]]
	buf  []*entry[K, V]
	pos  int
	done bool
}

func newMemLayer[K, V any](tree *btree.BTreeG[*entry[K, V]], pivot []byte) *memLayer[K, V] {
	l := &memLayer[K, V]{tree: tree}
	l.fill(pivot, true)
	return l
}

func (l *memLayer[K, V]) fill(pivot []byte, inclusive bool) {
	l.buf = l.buf[:0]
	l.pos = 0
	l.tree.AscendGreaterOrEqual(&entry[K, V]{key: pivot}, func(e *entry[K, V]) bool {
		if !inclusive && bytes.Equal(e.key, pivot) {
			return true
		}
		l.buf = append(l.buf, e)
		return len(l.buf) < memBatch
	})
	l.done = len(l.buf) < memBatch
}

func (l *memLayer[K, V]) current() *entry[K, V] {
	if l.pos < len(l.buf) {
		return l.buf[l.pos]
	}
	return nil
}

func (l *memLayer[K, V]) next() {
	l.pos++
	if l.pos >= len(l.buf) && !l.done {
		last := l.buf[len(l.buf)-1].key
		l.fill(last, false)
	}
}

type boltLayer struct {
	c     *bbolt.Cursor
	key   []byte
	value []byte
}

func newBoltLayer(b *bbolt.Bucket, pivot []byte) *boltLayer {
	l := new(boltLayer)
	if b == nil {
		return l
	}
	l.c = b.Cursor()
	if pivot == nil {
		l.key, l.value = l.c.First()
	} else {
		l.key, l.value = l.c.Seek(pivot)
	}
	return l
}

func (l *boltLayer) next() {
	if l.c == nil {
		return
	}
	l.key, l.value = l.c.Next()
}

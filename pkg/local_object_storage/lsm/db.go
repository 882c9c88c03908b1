package lsm

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// DB is a set of trees sharing one bbolt file.
type DB struct {
	log      *zap.Logger
	path     string
	perm     fs.FileMode
	readOnly bool
	noSync   bool

	bolt *bbolt.DB

	// flushMtx serializes flushes, treesMtx protects the tree list.
	flushMtx sync.Mutex
	treesMtx sync.RWMutex
	trees    []flusher
}

type flusher interface {
	freeze()
	writeFrozen(tx *bbolt.Tx) error
	thaw()
	dropFrozen()
	pending() int
}

// Option configures DB.
type Option func(*DB)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(db *DB) {
		db.log = l
	}
}

// WithPerm sets permissions of the database file.
func WithPerm(p fs.FileMode) Option {
	return func(db *DB) {
		db.perm = p
	}
}

// WithReadOnly opens the database in read-only mode.
func WithReadOnly(ro bool) Option {
	return func(db *DB) {
		db.readOnly = ro
	}
}

// WithNoSync disables fsync of the database file on flush.
func WithNoSync(noSync bool) Option {
	return func(db *DB) {
		db.noSync = noSync
	}
}

// Open opens or creates the database at path.
func Open(path string, opts ...Option) (*DB, error) {
	db := &DB{
		log:  zap.NewNop(),
		path: path,
		perm: 0o640,
	}
	for i := range opts {
		opts[i](db)
	}

	if !db.readOnly {
		if err := os.MkdirAll(filepath.Dir(path), db.perm|0o110); err != nil {
			return nil, fmt.Errorf("can't create dir %s for metadata: %w", filepath.Dir(path), err)
		}
	}

	var err error
	db.bolt, err = bbolt.Open(path, db.perm, &bbolt.Options{
		NoFreelistSync: true,
		NoSync:         db.noSync,
		ReadOnly:       db.readOnly,
		Timeout:        100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("can't open boltDB database: %w", err)
	}

	db.log.Debug("opened metadata database", zap.String("path", path), zap.Bool("read-only", db.readOnly))
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// ReadOnly reports whether the database was opened read-only.
func (db *DB) ReadOnly() bool {
	return db.readOnly
}

// View runs fn in a read-only bbolt transaction.
func (db *DB) View(fn func(tx *bbolt.Tx) error) error {
	return db.bolt.View(fn)
}

// Update runs fn in a read-write bbolt transaction. It bypasses the in-memory
// layers and must only touch buckets not owned by trees.
func (db *DB) Update(fn func(tx *bbolt.Tx) error) error {
	if db.readOnly {
		return fserr.ErrReadOnly
	}
	return db.bolt.Update(fn)
}

// Pending returns the number of records held in memory across all trees.
func (db *DB) Pending() int {
	db.treesMtx.RLock()
	defer db.treesMtx.RUnlock()

	var n int
	for _, t := range db.trees {
		n += t.pending()
	}
	return n
}

// Flush persists the in-memory layers of all trees together with whatever
// extra writes to tx. On failure the in-memory state is kept.
func (db *DB) Flush(extra func(tx *bbolt.Tx) error) error {
	if db.readOnly {
		return fserr.ErrReadOnly
	}

	db.flushMtx.Lock()
	defer db.flushMtx.Unlock()

	db.treesMtx.RLock()
	trees := append([]flusher(nil), db.trees...)
	db.treesMtx.RUnlock()

	for _, t := range trees {
		t.freeze()
	}

	start := time.Now()
	err := db.bolt.Update(func(tx *bbolt.Tx) error {
		for _, t := range trees {
			if err := t.writeFrozen(tx); err != nil {
				return err
			}
		}
		if extra != nil {
			return extra(tx)
		}
		return nil
	})
	if err != nil {
		for _, t := range trees {
			t.thaw()
		}
		return fmt.Errorf("flush metadata: %w", err)
	}

	for _, t := range trees {
		t.dropFrozen()
	}

	db.log.Debug("flushed metadata", zap.Duration("took", time.Since(start)))
	return nil
}

// Close closes the database without flushing.
func (db *DB) Close() error {
	return db.bolt.Close()
}

func (db *DB) register(t flusher) {
	db.treesMtx.Lock()
	db.trees = append(db.trees, t)
	db.treesMtx.Unlock()
}

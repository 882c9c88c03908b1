package transaction

import (
	"context"
	"slices"
	"sync"
)

// LockKey identifies a lockable entity.
type LockKey struct {
	StoreObjectID uint64
	ObjectID      uint64
	AttributeID   uint64
}

// ObjectAttribute returns the key locking one attribute of an object.
func ObjectAttribute(storeObjectID, objectID, attributeID uint64) LockKey {
	return LockKey{StoreObjectID: storeObjectID, ObjectID: objectID, AttributeID: attributeID}
}

func compareKeys(a, b LockKey) int {
	switch {
	case a.StoreObjectID != b.StoreObjectID:
		return cmpU64(a.StoreObjectID, b.StoreObjectID)
	case a.ObjectID != b.ObjectID:
		return cmpU64(a.ObjectID, b.ObjectID)
	default:
		return cmpU64(a.AttributeID, b.AttributeID)
	}
}

func cmpU64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

type lockState struct {
	readers      int
	txn          bool
	write        bool
	writePending bool
}

func (s *lockState) idle() bool {
	return s.readers == 0 && !s.txn && !s.write && !s.writePending
}

// LockManager implements three lock modes per key:
//   - transaction locks are mutually exclusive but admit readers;
//   - read locks are shared and wait for write locks;
//   - at commit a transaction lock becomes a write lock once all readers left,
//     new readers queue behind the pending upgrade.
type LockManager struct {
	mtx     sync.Mutex
	locks   map[LockKey]*lockState
	changed chan struct{}
}

// NewLockManager returns an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{
		locks:   make(map[LockKey]*lockState),
		changed: make(chan struct{}),
	}
}

func normalize(keys []LockKey) []LockKey {
	keys = slices.Clone(keys)
	slices.SortFunc(keys, compareKeys)
	return slices.Compact(keys)
}

func (m *LockManager) state(k LockKey) *lockState {
	s, ok := m.locks[k]
	if !ok {
		s = new(lockState)
		m.locks[k] = s
	}
	return s
}

func (m *LockManager) release(k LockKey) {
	if s, ok := m.locks[k]; ok && s.idle() {
		delete(m.locks, k)
	}
}

func (m *LockManager) notify() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// wait blocks until cond holds for the state under m.mtx. It is called and
// returns with m.mtx held.
func (m *LockManager) wait(ctx context.Context, cond func() bool) error {
	for !cond() {
		ch := m.changed
		m.mtx.Unlock()
		select {
		case <-ctx.Done():
			m.mtx.Lock()
			return ctx.Err()
		case <-ch:
		}
		m.mtx.Lock()
	}
	return nil
}

// TxnLock acquires transaction locks on all keys at once and returns the
// normalized key set to be passed to TxnUnlock.
func (m *LockManager) TxnLock(ctx context.Context, keys []LockKey) ([]LockKey, error) {
	keys = normalize(keys)

	m.mtx.Lock()
	defer m.mtx.Unlock()

	err := m.wait(ctx, func() bool {
		for _, k := range keys {
			if s, ok := m.locks[k]; ok && s.txn {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		m.state(k).txn = true
	}
	return keys, nil
}

// TxnUnlock releases transaction and write locks taken by TxnLock and
// CommitPrepare.
func (m *LockManager) TxnUnlock(keys []LockKey) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for _, k := range keys {
		if s, ok := m.locks[k]; ok {
			s.txn = false
			s.write = false
			s.writePending = false
			m.release(k)
		}
	}
	m.notify()
}

// ReadLock acquires shared locks on keys. The returned function releases
// them.
func (m *LockManager) ReadLock(ctx context.Context, keys ...LockKey) (func(), error) {
	keys = normalize(keys)

	m.mtx.Lock()
	defer m.mtx.Unlock()

	err := m.wait(ctx, func() bool {
		for _, k := range keys {
			if s, ok := m.locks[k]; ok && (s.write || s.writePending) {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		m.state(k).readers++
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mtx.Lock()
			defer m.mtx.Unlock()
			for _, k := range keys {
				if s, ok := m.locks[k]; ok {
					s.readers--
					m.release(k)
				}
			}
			m.notify()
		})
	}, nil
}

// CommitPrepare upgrades transaction locks on keys to write locks, waiting
// for current readers to leave.
func (m *LockManager) CommitPrepare(ctx context.Context, keys []LockKey) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for _, k := range keys {
		m.state(k).writePending = true
	}
	err := m.wait(ctx, func() bool {
		for _, k := range keys {
			if m.locks[k].readers > 0 {
				return false
			}
		}
		return true
	})
	for _, k := range keys {
		s := m.locks[k]
		s.writePending = false
		s.write = err == nil
	}
	m.notify()
	return err
}

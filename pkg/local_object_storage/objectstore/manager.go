package objectstore

import (
	"fmt"
	"sync"

	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/allocator"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/transaction"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
)

// Mutable is an object mutations are addressed to: the allocator or an object
// store.
type Mutable interface {
	// ValidateMutation checks that m can be applied. It is called for all
	// mutations of a transaction before any of them is applied.
	ValidateMutation(m transaction.Mutation) error
	// ApplyMutation makes a committed mutation effective.
	ApplyMutation(m transaction.Mutation) error
	// DropMutation reverts reservations made while staging m.
	DropMutation(m transaction.Mutation)
}

// ObjectManager routes transaction mutations to their objects by ID.
type ObjectManager struct {
	mtx     sync.RWMutex
	objects map[uint64]Mutable
}

// NewObjectManager returns an empty manager.
func NewObjectManager() *ObjectManager {
	return &ObjectManager{objects: make(map[uint64]Mutable)}
}

// Register makes mutations addressed to id go to obj.
func (m *ObjectManager) Register(id uint64, obj Mutable) {
	m.mtx.Lock()
	m.objects[id] = obj
	m.mtx.Unlock()
}

func (m *ObjectManager) object(id uint64) (Mutable, error) {
	m.mtx.RLock()
	obj, ok := m.objects[id]
	m.mtx.RUnlock()
	if !ok {
		return nil, fserr.Inconsistent("mutation for unknown object %d", id)
	}
	return obj, nil
}

// Validate checks all mutations before a commit.
func (m *ObjectManager) Validate(ms []transaction.TxnMutation) error {
	for i := range ms {
		obj, err := m.object(ms[i].ObjectID)
		if err != nil {
			return err
		}
		if err := obj.ValidateMutation(ms[i].Mutation); err != nil {
			return err
		}
	}
	return nil
}

// Apply applies a committed mutation.
func (m *ObjectManager) Apply(tm transaction.TxnMutation) error {
	obj, err := m.object(tm.ObjectID)
	if err != nil {
		return err
	}
	return obj.ApplyMutation(tm.Mutation)
}

// Drop reverts a dropped mutation.
func (m *ObjectManager) Drop(tm transaction.TxnMutation) {
	if obj, err := m.object(tm.ObjectID); err == nil {
		obj.DropMutation(tm.Mutation)
	}
}

type allocatorApplier struct {
	a *allocator.Allocator
}

func (a allocatorApplier) ValidateMutation(m transaction.Mutation) error {
	if _, ok := m.(transaction.AllocatorMutation); !ok {
		return fmt.Errorf("unexpected allocator mutation %T", m)
	}
	return nil
}

func (a allocatorApplier) ApplyMutation(m transaction.Mutation) error {
	return a.a.ApplyMutation(m.(transaction.AllocatorMutation))
}

func (a allocatorApplier) DropMutation(m transaction.Mutation) {
	if am, ok := m.(transaction.AllocatorMutation); ok {
		a.a.DropMutation(am)
	}
}

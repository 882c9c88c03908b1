package transaction

import (
	"context"
	"errors"

	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/record"
)

// ErrFinished is returned when a committed or dropped transaction is used.
var ErrFinished = errors.New("transaction already finished")

// Handler commits and drops transactions. It is implemented by the
// filesystem.
type Handler interface {
	// CommitTransaction applies all mutations of txn atomically. On failure
	// nothing is applied and the reservations of txn are released.
	CommitTransaction(ctx context.Context, txn *Transaction) error
	// DropTransaction releases reservations and locks of txn.
	DropTransaction(txn *Transaction)
}

// Options of a new transaction.
type Options struct {
	// SkipJournalChecks disables flushing of the store before the transaction
	// starts when too many records are held in memory.
	SkipJournalChecks bool
}

// Transaction groups mutations that become visible together on Commit.
// It is not safe for concurrent use.
type Transaction struct {
	handler   Handler
	locks     []LockKey
	mutations []TxnMutation
	finished  bool
}

// New returns a transaction holding already acquired locks.
func New(h Handler, locks []LockKey) *Transaction {
	return &Transaction{handler: h, locks: locks}
}

// Locks returns the keys locked by the transaction.
func (t *Transaction) Locks() []LockKey {
	return t.locks
}

// Mutations returns staged mutations in application order.
func (t *Transaction) Mutations() []TxnMutation {
	return t.mutations
}

// IsEmpty reports whether nothing is staged.
func (t *Transaction) IsEmpty() bool {
	return len(t.mutations) == 0
}

// Add stages m for the object with the given ID. A record or extent
// mutation replaces an earlier one with the same key.
func (t *Transaction) Add(objectID uint64, m Mutation) {
	t.AddWithObject(objectID, m, nil)
}

// AddWithObject is like Add but also registers obj to be notified when m is
// applied.
func (t *Transaction) AddWithObject(objectID uint64, m Mutation, obj AssociatedObject) {
	tm := TxnMutation{ObjectID: objectID, Mutation: m, AssociatedObject: obj}
	for i := range t.mutations {
		if sameTarget(t.mutations[i], tm) {
			t.mutations = append(t.mutations[:i], t.mutations[i+1:]...)
			break
		}
	}
	t.mutations = append(t.mutations, tm)
}

// GetObjectMutation returns the staged object record mutation for key in the
// store, if any.
func (t *Transaction) GetObjectMutation(storeID uint64, key record.ObjectKey) (ObjectStoreMutation, bool) {
	for i := len(t.mutations) - 1; i >= 0; i-- {
		if t.mutations[i].ObjectID != storeID {
			continue
		}
		if m, ok := t.mutations[i].Mutation.(ObjectStoreMutation); ok && m.Item.Key == key {
			return m, true
		}
	}
	return ObjectStoreMutation{}, false
}

// Commit applies the transaction. The transaction can't be used afterwards.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.finished {
		return ErrFinished
	}
	t.finished = true
	return t.handler.CommitTransaction(ctx, t)
}

// Drop discards the transaction. It does nothing after Commit, so it is safe
// to defer right after creation.
func (t *Transaction) Drop() {
	if t.finished {
		return
	}
	t.finished = true
	t.handler.DropTransaction(t)
}

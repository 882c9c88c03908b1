package transaction

import (
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/record"
)

// Mutation is a change staged in a Transaction.
type Mutation interface {
	mutation()
}

// Operation selects how an object record mutation is applied.
type Operation uint8

const (
	// OpInsert fails the commit if the record exists.
	OpInsert Operation = iota
	// OpReplaceOrInsert overwrites any existing record.
	OpReplaceOrInsert
	// OpRemove deletes the record.
	OpRemove
)

// ObjectStoreMutation changes an object metadata record.
type ObjectStoreMutation struct {
	Item record.ObjectItem
	Op   Operation
}

// ExtentMutation maps a logical range of an attribute. Applying it trims
// overlapping extents.
type ExtentMutation struct {
	Key   record.ExtentKey
	Value record.ExtentValue
}

// AllocatorOp is the kind of an AllocatorMutation.
type AllocatorOp uint8

const (
	// OpAllocate reserves a device range.
	OpAllocate AllocatorOp = iota
	// OpDeallocate frees a device range.
	OpDeallocate
	// OpMarkAllocated reserves a fixed device range.
	OpMarkAllocated
)

func (o AllocatorOp) String() string {
	switch o {
	case OpAllocate:
		return "allocate"
	case OpDeallocate:
		return "deallocate"
	case OpMarkAllocated:
		return "mark_allocated"
	default:
		return "unknown"
	}
}

// AllocatorMutation changes device space accounting.
type AllocatorMutation struct {
	Op    AllocatorOp
	Range record.Range
}

func (ObjectStoreMutation) mutation() {}
func (ExtentMutation) mutation()      {}
func (AllocatorMutation) mutation()   {}

// AssociatedObject is notified right before one of its mutations is applied
// during commit. Handles use it to keep cached state in sync with committed
// records.
type AssociatedObject interface {
	WillApplyMutation(m Mutation, objectID uint64)
}

// TxnMutation is a mutation addressed to the object (store or allocator)
// with the given ID.
type TxnMutation struct {
	ObjectID         uint64
	Mutation         Mutation
	AssociatedObject AssociatedObject
}

func sameTarget(a, b TxnMutation) bool {
	if a.ObjectID != b.ObjectID {
		return false
	}
	switch am := a.Mutation.(type) {
	case ObjectStoreMutation:
		bm, ok := b.Mutation.(ObjectStoreMutation)
		return ok && am.Item.Key == bm.Item.Key
	case ExtentMutation:
		bm, ok := b.Mutation.(ExtentMutation)
		return ok && am.Key == bm.Key
	default:
		return false
	}
}

package allocator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/record"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/transaction"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/round"
	"go.uber.org/zap"
)

// DefaultMaxExtentSize limits the length of a single allocation.
const DefaultMaxExtentSize = 1 << 20

// Metrics receives allocator usage updates.
type Metrics interface {
	SetAllocatedBytes(v uint64)
	SetFreeBytes(v uint64)
}

type noopMetrics struct{}

func (noopMetrics) SetAllocatedBytes(uint64) {}
func (noopMetrics) SetFreeBytes(uint64)      {}

type cfg struct {
	log           *zap.Logger
	maxExtentSize uint64
	metrics       Metrics
}

// Option configures Allocator.
type Option func(*cfg)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *cfg) {
		c.log = l
	}
}

// WithMaxExtentSize limits the length returned by a single Allocate call.
func WithMaxExtentSize(sz uint64) Option {
	return func(c *cfg) {
		c.maxExtentSize = sz
	}
}

// WithMetrics sets the usage metrics receiver.
func WithMetrics(m Metrics) Option {
	return func(c *cfg) {
		c.metrics = m
	}
}

// Allocator hands out device ranges first-fit. Space is reserved as soon as
// it is allocated and returned if the transaction is dropped. Deallocated
// space becomes reusable only after DidFlush, so that records still
// referencing it on disk never point to overwritten data.
type Allocator struct {
	cfg

	objectID  uint64
	blockSize uint64
	size      uint64

	mtx            sync.Mutex
	free           *btree.BTreeG[record.Range]
	freeBytes      uint64
	allocatedBytes uint64
	pendingFree    []record.Range
}

func lessRange(a, b record.Range) bool {
	return a.Start < b.Start
}

// New returns an allocator for a device of the given size where everything is
// free. objectID is the ID its mutations are addressed to.
func New(objectID uint64, blockSize uint32, size uint64, opts ...Option) *Allocator {
	a := &Allocator{
		cfg: cfg{
			log:           zap.NewNop(),
			maxExtentSize: DefaultMaxExtentSize,
			metrics:       noopMetrics{},
		},
		objectID:  objectID,
		blockSize: uint64(blockSize),
		size:      round.Down(size, uint64(blockSize)),
		free:      btree.NewG(16, lessRange),
	}
	for i := range opts {
		opts[i](&a.cfg)
	}
	a.maxExtentSize = round.Down(a.maxExtentSize, a.blockSize)
	if a.maxExtentSize == 0 {
		a.maxExtentSize = a.blockSize
	}
	a.log = a.log.With(zap.String("component", "allocator"))

	if a.size > 0 {
		a.insertFree(record.Range{Start: 0, End: a.size})
	}
	a.updateMetrics()
	return a
}

// ObjectID returns the ID allocator mutations are addressed to.
func (a *Allocator) ObjectID() uint64 {
	return a.objectID
}

// Size returns the managed device size.
func (a *Allocator) Size() uint64 {
	return a.size
}

// AllocatedBytes returns the number of committed allocated bytes.
func (a *Allocator) AllocatedBytes() uint64 {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.allocatedBytes
}

// FreeBytes returns the number of bytes available for allocation.
func (a *Allocator) FreeBytes() uint64 {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.freeBytes
}

func (a *Allocator) checkRange(r record.Range) error {
	if r.Empty() || !round.Aligned(r.Start, a.blockSize) || !round.Aligned(r.End, a.blockSize) {
		return fserr.InvalidArgs("device range %s is not aligned to %d", r, a.blockSize)
	}
	if r.End > a.size {
		return fmt.Errorf("%w: device range %s beyond %d", fserr.ErrOutOfRange, r, a.size)
	}
	return nil
}

// Allocate reserves up to length bytes and stages the reservation in txn.
// The returned range may be shorter than requested.
func (a *Allocator) Allocate(ctx context.Context, txn *transaction.Transaction, length uint64) (record.Range, error) {
	if err := ctx.Err(); err != nil {
		return record.Range{}, err
	}
	if length == 0 || !round.Aligned(length, a.blockSize) {
		return record.Range{}, fserr.InvalidArgs("allocation length %d is not aligned to %d", length, a.blockSize)
	}
	want := min(length, a.maxExtentSize)

	a.mtx.Lock()
	var found, largest record.Range
	a.free.Ascend(func(r record.Range) bool {
		if r.Len() >= want {
			found = r
			return false
		}
		if r.Len() > largest.Len() {
			largest = r
		}
		return true
	})
	if found.Empty() {
		found = largest
	}
	if found.Empty() {
		a.mtx.Unlock()
		return record.Range{}, fserr.ErrNoSpace
	}

	res := record.Range{Start: found.Start, End: found.Start + min(want, found.Len())}
	a.removeFree(found, res)
	a.mtx.Unlock()
	a.updateMetrics()

	txn.Add(a.objectID, transaction.AllocatorMutation{Op: transaction.OpAllocate, Range: res})
	return res, nil
}

// Deallocate stages freeing of r in txn.
func (a *Allocator) Deallocate(ctx context.Context, txn *transaction.Transaction, r record.Range) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.checkRange(r); err != nil {
		return err
	}
	txn.Add(a.objectID, transaction.AllocatorMutation{Op: transaction.OpDeallocate, Range: r})
	return nil
}

// MarkAllocated reserves the fixed range r, which must be free, and stages
// the reservation in txn.
func (a *Allocator) MarkAllocated(ctx context.Context, txn *transaction.Transaction, r record.Range) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.reserve(r); err != nil {
		return err
	}
	txn.Add(a.objectID, transaction.AllocatorMutation{Op: transaction.OpMarkAllocated, Range: r})
	return nil
}

// Reserve marks r as allocated and committed. It is used to rebuild the
// allocator state from persisted extents.
func (a *Allocator) Reserve(r record.Range) error {
	if err := a.reserve(r); err != nil {
		return err
	}
	a.mtx.Lock()
	a.allocatedBytes += r.Len()
	a.mtx.Unlock()
	a.updateMetrics()
	return nil
}

func (a *Allocator) reserve(r record.Range) error {
	if err := a.checkRange(r); err != nil {
		return err
	}

	a.mtx.Lock()
	defer a.mtx.Unlock()

	var container record.Range
	a.free.DescendLessOrEqual(record.Range{Start: r.Start}, func(f record.Range) bool {
		container = f
		return false
	})
	if container.Start > r.Start || container.End < r.End || container.Empty() {
		return fmt.Errorf("%w: device range %s is in use", fserr.ErrAlreadyExists, r)
	}
	a.removeFree(container, r)
	return nil
}

// ApplyMutation makes a committed mutation effective.
func (a *Allocator) ApplyMutation(m transaction.AllocatorMutation) error {
	a.mtx.Lock()
	switch m.Op {
	case transaction.OpAllocate, transaction.OpMarkAllocated:
		a.allocatedBytes += m.Range.Len()
	case transaction.OpDeallocate:
		if a.allocatedBytes < m.Range.Len() {
			a.mtx.Unlock()
			return fserr.Inconsistent("deallocating %s with %d bytes allocated", m.Range, a.allocatedBytes)
		}
		a.allocatedBytes -= m.Range.Len()
		a.pendingFree = append(a.pendingFree, m.Range)
	default:
		a.mtx.Unlock()
		return fmt.Errorf("unknown allocator operation %d", m.Op)
	}
	a.mtx.Unlock()

	a.updateMetrics()
	return nil
}

// DropMutation reverts the reservation of an uncommitted mutation.
func (a *Allocator) DropMutation(m transaction.AllocatorMutation) {
	if m.Op == transaction.OpDeallocate {
		return
	}
	a.mtx.Lock()
	a.insertFree(m.Range)
	a.mtx.Unlock()
	a.updateMetrics()
}

// DidFlush makes space deallocated before the flush available again.
func (a *Allocator) DidFlush() {
	a.mtx.Lock()
	pending := a.pendingFree
	a.pendingFree = nil
	for _, r := range pending {
		a.insertFree(r)
	}
	a.mtx.Unlock()

	if len(pending) > 0 {
		a.log.Debug("released deallocated ranges", zap.Int("count", len(pending)))
		a.updateMetrics()
	}
}

func (a *Allocator) updateMetrics() {
	a.mtx.Lock()
	allocated, free := a.allocatedBytes, a.freeBytes
	a.mtx.Unlock()

	a.metrics.SetAllocatedBytes(allocated)
	a.metrics.SetFreeBytes(free)
}

// removeFree cuts r out of the free range f containing it.
func (a *Allocator) removeFree(f, r record.Range) {
	a.free.Delete(f)
	if f.Start < r.Start {
		a.free.ReplaceOrInsert(record.Range{Start: f.Start, End: r.Start})
	}
	if r.End < f.End {
		a.free.ReplaceOrInsert(record.Range{Start: r.End, End: f.End})
	}
	a.freeBytes -= r.Len()
}

// insertFree adds r to the free set merging it with adjacent ranges.
func (a *Allocator) insertFree(r record.Range) {
	var prev, next record.Range
	a.free.DescendLessOrEqual(record.Range{Start: r.Start}, func(f record.Range) bool {
		prev = f
		return false
	})
	a.free.AscendGreaterOrEqual(record.Range{Start: r.Start}, func(f record.Range) bool {
		next = f
		return false
	})
	if (!prev.Empty() && prev.End > r.Start) || (!next.Empty() && next.Start < r.End) {
		a.log.Error("freeing range overlapping free space", zap.Stringer("range", r))
		return
	}

	a.freeBytes += r.Len()
	if !prev.Empty() && prev.End == r.Start {
		a.free.Delete(prev)
		r.Start = prev.Start
	}
	if !next.Empty() && next.Start == r.End {
		a.free.Delete(next)
		r.End = next.End
	}
	a.free.ReplaceOrInsert(r)
}

package util

import (
	"fmt"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"
)

// WorkerPool represents the tool for control
// the execution of go-routine pool.
type WorkerPool interface {
	// Submit queues a function for execution
	// in a separate routine.
	//
	// Implementation must return any error encountered
	// that prevented the function from being queued.
	Submit(func()) error

	// Release releases worker pool resources. All `Submit` calls will
	// finish with ErrPoolClosed. It doesn't wait until all submitted
	// functions have returned so synchronization must be achieved
	// via other means (e.g. sync.WaitGroup).
	Release()
}

// ErrPoolClosed is returned by Submit after Release.
var ErrPoolClosed = ants.ErrPoolClosed

// syncPool runs every submitted task in the submitting goroutine.
type syncPool struct {
	released atomic.Bool
}

// NewSyncWorkerPool returns a WorkerPool without goroutines of its own: Submit
// returns once the task is done.
func NewSyncWorkerPool() WorkerPool {
	return new(syncPool)
}

func (p *syncPool) Submit(task func()) error {
	if p.released.Load() {
		return ErrPoolClosed
	}
	task()
	return nil
}

func (p *syncPool) Release() {
	p.released.Store(true)
}

// NewWorkerPool returns a pool of size goroutines. Submit blocks while all
// of them are busy. Zero size gives a synchronous pool, negative size an
// unbounded one.
func NewWorkerPool(size int) (WorkerPool, error) {
	if size == 0 {
		return NewSyncWorkerPool(), nil
	}
	p, err := ants.NewPool(size, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("can't create worker pool of size %d: %w", size, err)
	}
	return p, nil
}

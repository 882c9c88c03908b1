package objectstore

import (
	"time"

	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/allocator"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/mode"
	"go.uber.org/zap"
)

const (
	// DefaultBlockSize is the default filesystem block size.
	DefaultBlockSize = 4096
	// defaultIOWorkers is the default number of concurrent device reads.
	defaultIOWorkers = 16
	// defaultFlushThreshold is the default number of in-memory records
	// after which new transactions flush the filesystem first.
	defaultFlushThreshold = 1 << 16
	// defaultCipherCacheSize is the default number of cached object cipher
	// sets.
	defaultCipherCacheSize = 1024
)

// Metrics receives filesystem metrics.
type Metrics interface {
	allocator.Metrics
	AddOp(op string, d time.Duration, bytes int, err error)
	SetMode(m mode.Mode)
	SetPendingRecords(n int)
	AddFlushDuration(seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) SetAllocatedBytes(uint64)                 {}
func (noopMetrics) SetFreeBytes(uint64)                      {}
func (noopMetrics) AddOp(string, time.Duration, int, error) {}
func (noopMetrics) SetMode(mode.Mode)                        {}
func (noopMetrics) SetPendingRecords(int)                    {}
func (noopMetrics) AddFlushDuration(float64)                 {}

// Option represents filesystem configuration option.
type Option func(*options)

type options struct {
	log *zap.Logger
	// blockSize is the filesystem block size used for new filesystems.
	blockSize uint32
	// maxExtentSize limits a single allocation.
	maxExtentSize uint64
	// ioWorkers is the number of goroutines serving device reads.
	ioWorkers int
	// flushInterval is the period of background flushes, zero disables them.
	flushInterval time.Duration
	// flushThreshold is the number of in-memory records forcing a flush.
	flushThreshold int
	// cipherCacheSize is the number of cached unwrapped cipher sets.
	cipherCacheSize int
	readOnly        bool
	noSync          bool
	metrics         Metrics
}

func defaultOptions() options {
	return options{
		log:             zap.NewNop(),
		blockSize:       DefaultBlockSize,
		maxExtentSize:   allocator.DefaultMaxExtentSize,
		ioWorkers:       defaultIOWorkers,
		flushThreshold:  defaultFlushThreshold,
		cipherCacheSize: defaultCipherCacheSize,
		metrics:         noopMetrics{},
	}
}

// WithLogger sets logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithBlockSize sets the block size of a new filesystem. Existing
// filesystems use the stored block size.
func WithBlockSize(bs uint32) Option {
	return func(o *options) {
		o.blockSize = bs
	}
}

// WithMaxExtentSize limits the size of a single allocation.
func WithMaxExtentSize(sz uint64) Option {
	return func(o *options) {
		o.maxExtentSize = sz
	}
}

// WithIOWorkers sets the number of goroutines serving concurrent device reads.
// Zero makes reads synchronous.
func WithIOWorkers(n int) Option {
	return func(o *options) {
		o.ioWorkers = n
	}
}

// WithFlushInterval sets the period of background flushes.
func WithFlushInterval(d time.Duration) Option {
	return func(o *options) {
		o.flushInterval = d
	}
}

// WithFlushThreshold sets the number of in-memory metadata records after which
// new transactions flush the filesystem first.
func WithFlushThreshold(n int) Option {
	return func(o *options) {
		o.flushThreshold = n
	}
}

// WithCipherCacheSize sets the number of cached object cipher sets.
func WithCipherCacheSize(n int) Option {
	return func(o *options) {
		o.cipherCacheSize = n
	}
}

// WithReadOnly opens the filesystem in read-only mode.
func WithReadOnly(ro bool) Option {
	return func(o *options) {
		o.readOnly = ro
	}
}

// WithNoSync disables fsync of metadata.
func WithNoSync(noSync bool) Option {
	return func(o *options) {
		o.noSync = noSync
	}
}

// WithMetrics sets metrics receiver.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

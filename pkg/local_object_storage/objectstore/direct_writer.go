package objectstore

import (
	"context"
	"errors"

	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/transaction"
	"go.uber.org/zap"
)

// DirectWriterBufferSize is the number of bytes DirectWriter accumulates
// before writing them out.
const DirectWriterBufferSize = 1 << 20

// errUnflushedData is returned by DirectWriter.Close if buffered data was not
// written.
var errUnflushedData = errors.New("direct writer closed with unflushed data")

// DirectWriter writes an object sequentially from offset 0 in large
// transactions. Complete must be called once all data is written.
type DirectWriter struct {
	handle *StoreObjectHandle
	opts   transaction.Options

	buf []byte
	// offset is the file offset of buf[0].
	offset uint64
	// buffered is the number of bytes held in buf.
	buffered int
}

// NewDirectWriter returns a writer of the object starting at offset 0.
func NewDirectWriter(h *StoreObjectHandle, opts transaction.Options) *DirectWriter {
	return &DirectWriter{
		handle: h,
		opts:   opts,
		buf:    h.AllocateBuffer(DirectWriterBufferSize),
	}
}

// Offset returns the file offset the next byte will be written at.
func (w *DirectWriter) Offset() uint64 {
	return w.offset + uint64(w.buffered)
}

// Flush writes the buffered data in one transaction.
func (w *DirectWriter) Flush(ctx context.Context) error {
	return w.flush(ctx, false)
}

func (w *DirectWriter) flush(ctx context.Context, complete bool) error {
	if w.buffered == 0 && !complete {
		return nil
	}
	txn, err := w.handle.NewTransactionWithOptions(ctx, w.opts)
	if err != nil {
		return err
	}
	defer txn.Drop()

	if err := w.handle.TxnWrite(ctx, txn, w.offset, w.buf[:w.buffered]); err != nil {
		return err
	}
	if end := w.Offset(); complete && end > w.handle.txnGetSize(txn) {
		w.handle.stageSize(txn, end)
	}
	if err := txn.Commit(ctx); err != nil {
		return err
	}
	w.offset += uint64(w.buffered)
	w.buffered = 0
	return nil
}

// WriteBytes appends buf.
func (w *DirectWriter) WriteBytes(ctx context.Context, buf []byte) error {
	for len(buf) > 0 {
		n := copy(w.buf[w.buffered:], buf)
		w.buffered += n
		buf = buf[n:]
		if w.buffered == len(w.buf) {
			if err := w.Flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Skip advances the offset by amount bytes reading as zeros. Gaps that do not
// fit into the buffer are left as holes.
func (w *DirectWriter) Skip(ctx context.Context, amount uint64) error {
	if uint64(len(w.buf)-w.buffered) > amount {
		clear(w.buf[w.buffered : w.buffered+int(amount)])
		w.buffered += int(amount)
		return nil
	}
	if err := w.Flush(ctx); err != nil {
		return err
	}
	w.offset += amount
	return nil
}

// Complete writes the buffered data and makes the object size cover
// everything written or skipped.
func (w *DirectWriter) Complete(ctx context.Context) error {
	return w.flush(ctx, true)
}

// Close releases the writer. It fails if buffered data was not written.
func (w *DirectWriter) Close() error {
	if w.buffered > 0 {
		w.handle.log.Warn("dropping data, did you forget to call Complete?",
			zap.Int("bytes", w.buffered),
			zap.Uint64("offset", w.offset))
		return errUnflushedData
	}
	return nil
}

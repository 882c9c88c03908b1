package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"go.uber.org/zap"
)

// FileDevice is a Device backed by a regular file or a raw block device node.
type FileDevice struct {
	log *zap.Logger

	path      string
	perm      fs.FileMode
	blockSize uint32
	size      uint64
	noSync    bool
	readOnly  bool

	f *os.File
}

// FileOption configures FileDevice.
type FileOption func(*FileDevice)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) FileOption {
	return func(d *FileDevice) {
		d.log = l
	}
}

// WithNoSync disables fdatasync on Flush.
func WithNoSync(noSync bool) FileOption {
	return func(d *FileDevice) {
		d.noSync = noSync
	}
}

// WithReadOnly opens the file read-only.
func WithReadOnly(ro bool) FileOption {
	return func(d *FileDevice) {
		d.readOnly = ro
	}
}

// WithPerm sets permissions of a newly created file.
func WithPerm(p fs.FileMode) FileOption {
	return func(d *FileDevice) {
		d.perm = p
	}
}

// OpenFile opens or creates the file at path and sizes it to size bytes. A
// zero size keeps the size of an existing file.
func OpenFile(path string, blockSize uint32, size uint64, opts ...FileOption) (*FileDevice, error) {
	d := &FileDevice{
		log:       zap.NewNop(),
		path:      path,
		perm:      0o640,
		blockSize: blockSize,
		size:      size,
	}
	for i := range opts {
		opts[i](d)
	}
	if blockSize == 0 {
		return nil, errors.New("zero block size")
	}

	flags := os.O_RDWR | os.O_CREATE
	if d.readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, d.perm)
	if err != nil {
		return nil, fmt.Errorf("open device file: %w", err)
	}

	if d.size == 0 {
		end, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("get device size: %w", err)
		}
		d.size = uint64(end)
	} else if !d.readOnly {
		if err := allocate(f, d.size); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("size device file: %w", err)
		}
	}
	d.size -= d.size % uint64(blockSize)
	d.f = f

	d.log.Debug("opened file device",
		zap.String("path", path),
		zap.Uint64("size", d.size),
		zap.Uint32("block size", blockSize))
	return d, nil
}

// BlockSize implements Device.
func (d *FileDevice) BlockSize() uint32 {
	return d.blockSize
}

// Size implements Device.
func (d *FileDevice) Size() uint64 {
	return d.size
}

// Read implements Device.
func (d *FileDevice) Read(ctx context.Context, offset uint64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkRange(d, offset, len(buf)); err != nil {
		return err
	}
	n, err := d.f.ReadAt(buf, int64(offset))
	if errors.Is(err, io.EOF) {
		// Regions past the end of a sparse file read as zeros.
		clear(buf[n:])
		err = nil
	}
	if err != nil {
		return fmt.Errorf("read %s at %d: %w", d.path, offset, err)
	}
	return nil
}

// Write implements Device.
func (d *FileDevice) Write(ctx context.Context, offset uint64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkRange(d, offset, len(buf)); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(buf, int64(offset)); err != nil {
		return fmt.Errorf("write %s at %d: %w", d.path, offset, err)
	}
	return nil
}

// Flush implements Device.
func (d *FileDevice) Flush(context.Context) error {
	if d.noSync || d.readOnly {
		return nil
	}
	return datasync(d.f)
}

// Close implements Device.
func (d *FileDevice) Close() error {
	return d.f.Close()
}

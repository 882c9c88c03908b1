//go:build linux

package device

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func allocate(f *os.File, size uint64) error {
	err := unix.Fallocate(int(f.Fd()), 0, 0, int64(size))
	if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
		return f.Truncate(int64(size))
	}
	return err
}

func datasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}

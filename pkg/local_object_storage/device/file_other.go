//go:build !linux

package device

import "os"

func allocate(f *os.File, size uint64) error {
	return f.Truncate(int64(size))
}

func datasync(f *os.File) error {
	return f.Sync()
}

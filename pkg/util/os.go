package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// MkdirParents creates missing parent directories of every file path. The
// directories get perm with +x for a user and a group so they stay openable.
func MkdirParents(perm os.FileMode, paths ...string) error {
	for _, p := range paths {
		dir := filepath.Dir(p)
		if err := os.MkdirAll(dir, perm|0110); err != nil {
			return fmt.Errorf("can't create directory %s: %w", dir, err)
		}
	}
	return nil
}

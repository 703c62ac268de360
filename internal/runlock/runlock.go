// Package runlock serializes full polling runs with an advisory lock file,
// so a manual run cannot interleave with a scheduled one.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrHeld means another run currently holds the lock.
var ErrHeld = errors.New("run lock already held")

// Lock is a held advisory lock. Release removes it.
type Lock struct {
	path string
}

// Acquire creates the lock file exclusively. If it already exists, another
// run is in progress and ErrHeld is returned.
func Acquire(path string) (*Lock, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create lock dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrHeld)
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}

	fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close lock file: %w", err)
	}

	return &Lock{path: path}, nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

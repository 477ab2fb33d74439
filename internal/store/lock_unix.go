//go:build !windows

package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is the single-writer advisory lock acquired once on the state
// directory at startup. POSIX flock(LOCK_EX | LOCK_NB) backs it.
type Lock struct {
	f *os.File
}

// AcquireLock opens (creating if needed) a lock file at path and takes
// an exclusive, non-blocking advisory lock on it. ErrLocked is
// returned if another process already holds it.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, ownerOnly)
	if err != nil {
		return nil, fmt.Errorf("store: open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, ErrLocked
	}
	return &Lock{f: f}, nil
}

// Release drops the lock and closes the lock file.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return fmt.Errorf("store: release lock: %w", err)
	}
	return l.f.Close()
}

//go:build windows

package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// Lock is the single-writer advisory lock acquired once on the state
// directory at startup. LockFileEx with LOCKFILE_FAIL_IMMEDIATELY |
// LOCKFILE_EXCLUSIVE_LOCK backs it, mirroring the no-FILE_SHARE
// CreateFile handle the original client opens for the same purpose.
type Lock struct {
	f *os.File
}

// AcquireLock opens (creating if needed) a lock file at path and takes
// an exclusive, non-blocking lock on it. ErrLocked is returned if
// another process already holds it.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, ownerOnly)
	if err != nil {
		return nil, fmt.Errorf("store: open lock file: %w", err)
	}
	overlapped := new(windows.Overlapped)
	const flags = windows.LOCKFILE_FAIL_IMMEDIATELY | windows.LOCKFILE_EXCLUSIVE_LOCK
	if err := windows.LockFileEx(windows.Handle(f.Fd()), flags, 0, 1, 0, overlapped); err != nil {
		f.Close()
		return nil, ErrLocked
	}
	return &Lock{f: f}, nil
}

// Release drops the lock and closes the lock file.
func (l *Lock) Release() error {
	overlapped := new(windows.Overlapped)
	if err := windows.UnlockFileEx(windows.Handle(l.f.Fd()), 0, 1, 0, overlapped); err != nil {
		l.f.Close()
		return fmt.Errorf("store: release lock: %w", err)
	}
	return l.f.Close()
}

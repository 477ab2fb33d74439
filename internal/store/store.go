// Package store implements the on-disk persistence layer for the
// per-user state directory: the atomic-write primitive every other
// file in this package builds on, permission hardening for
// secret-bearing paths, the server trust store, the platform secret
// wrap, and the single-writer advisory lock acquired once at startup.
//
// Nothing here talks to a socket, a ratchet, or a history database —
// it only turns bytes into files and back, safely.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrInsecurePermissions is returned when a secret-bearing path is
	// readable or writable by anyone other than its owner.
	ErrInsecurePermissions = errors.New("store: path has insecure permissions")
	// ErrLocked is returned when the single-writer advisory lock is
	// already held by another process.
	ErrLocked = errors.New("store: state directory already locked")
)

// ownerOnly is the file mode every secret-bearing file is hardened to
// after a successful write, on platforms where POSIX mode bits apply.
const ownerOnly = 0o600

// AtomicWriteFile writes data to path by writing to a temp file in the
// same directory, fsync'ing it, renaming it over path, then fsync'ing
// the containing directory — so a crash mid-write never leaves path
// truncated or half-written. The final file is hardened to owner-only
// permissions.
func AtomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, ownerOnly); err != nil {
		return fmt.Errorf("store: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("store: rename temp file: %w", err)
	}
	if err := fsyncDir(dir); err != nil {
		return fmt.Errorf("store: fsync state dir: %w", err)
	}
	return nil
}

// fsyncDir fsyncs the directory entry itself, so the rename in
// AtomicWriteFile survives a crash even if the directory's own inode
// hadn't been flushed yet. A no-op where opening a directory for sync
// isn't meaningful.
func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}

// ReadFileChecked reads path after verifying it is not world- or
// group-writable, refusing to trust a secret-bearing file whose
// permissions a second local user could have weakened.
func ReadFileChecked(path string) ([]byte, error) {
	if err := checkNotWorldWritable(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	return data, nil
}

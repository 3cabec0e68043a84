//go:build unix

/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package shm

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrLockClosed is returned by Lock and Unlock after Close was called.
var ErrLockClosed = errors.New("lock is closed")

// FileLock is a mutual exclusion lock shared by goroutines of one process and by independent processes.
// Processes are serialized with flock(2) on a common lock file, goroutines are serialized with sync.Mutex
// because flock is held per open file description and does not exclude goroutines sharing one descriptor.
//
// Every process must open its own FileLock (via CreateLock or OpenLock) instead of inheriting one.
type FileLock struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// CreateLock creates the lock file if it does not exist and opens it.
func CreateLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create lock file %q: %w", path, err)
	}
	return &FileLock{path: path, file: f}, nil
}

// OpenLock opens an existing lock file.
func OpenLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open lock file %q: %w", path, err)
	}
	return &FileLock{path: path, file: f}, nil
}

// OpenLockReadOnly opens an existing lock file for reading, so the caller needs no write permission on it.
// Readers take it with RLock.
func OpenLockReadOnly(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open lock file %q: %w", path, err)
	}
	return &FileLock{path: path, file: f}, nil
}

// Lock blocks until the exclusive lock is acquired. There is no timeout.
func (l *FileLock) Lock() error {
	return l.lock(unix.LOCK_EX)
}

// RLock blocks until the shared lock is acquired. Shared locks of different processes do not exclude each other
// but exclude Lock.
func (l *FileLock) RLock() error {
	return l.lock(unix.LOCK_SH)
}

func (l *FileLock) lock(how int) error {
	l.mu.Lock()
	if l.file == nil {
		l.mu.Unlock()
		return ErrLockClosed
	}
	if err := flock(l.file, how); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("flock %q: %w", l.path, err)
	}
	return nil
}

// Unlock releases the lock acquired by Lock or RLock.
// The in-process mutex is released even if releasing the file lock fails.
func (l *FileLock) Unlock() error {
	defer l.mu.Unlock()
	if l.file == nil {
		return ErrLockClosed
	}
	if err := flock(l.file, unix.LOCK_UN); err != nil {
		return fmt.Errorf("funlock %q: %w", l.path, err)
	}
	return nil
}

// Close closes the lock file. Locks held by this descriptor are released by the kernel.
func (l *FileLock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the path of the lock file.
func (l *FileLock) Path() string {
	return l.path
}

func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

//go:build unix

/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package shm provides a file-backed memory region and a lock that are shared between
// independent processes of one host.
package shm

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrEmptyRegion is returned when the region file has no content to map.
var ErrEmptyRegion = errors.New("shared memory region is empty")

// Region is a memory-mapped file opened in MAP_SHARED mode.
// Writes made by one process are visible to every other process that mapped the same file.
type Region struct {
	path string
	data []byte
}

// Create creates (or truncates) the file at the specified path, extends it to size bytes and maps it into memory.
// The region is zero-initialized.
func Create(path string, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid shared memory region size %d", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create shared memory file %q: %w", path, err)
	}
	defer f.Close() // nolint: errcheck // mapping stays valid after closing the descriptor

	if err = f.Truncate(int64(size)); err != nil {
		return nil, fmt.Errorf("resize shared memory file %q: %w", path, err)
	}
	data, err := mmap(f, size, true)
	if err != nil {
		return nil, fmt.Errorf("map shared memory file %q: %w", path, err)
	}
	return &Region{path: path, data: data}, nil
}

// Attach maps an already existing region file created by Create.
// If readOnly is true, the memory is mapped with PROT_READ only and any write will crash the process.
func Attach(path string, readOnly bool) (*Region, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open shared memory file %q: %w", path, err)
	}
	defer f.Close() // nolint: errcheck

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat shared memory file %q: %w", path, err)
	}
	if fi.Size() == 0 {
		return nil, fmt.Errorf("attach %q: %w", path, ErrEmptyRegion)
	}
	data, err := mmap(f, int(fi.Size()), !readOnly)
	if err != nil {
		return nil, fmt.Errorf("map shared memory file %q: %w", path, err)
	}
	return &Region{path: path, data: data}, nil
}

func mmap(f *os.File, size int, writable bool) ([]byte, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	return unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED)
}

// Path returns the path of the backing file.
func (r *Region) Path() string {
	return r.path
}

// Bytes returns the mapped memory.
func (r *Region) Bytes() []byte {
	return r.data
}

// Size returns the length of the mapped memory in bytes.
func (r *Region) Size() int {
	return len(r.data)
}

// Close unmaps the region. The backing file is left in place.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}

// Remove unmaps the region and deletes the backing file.
func (r *Region) Remove() error {
	closeErr := r.Close()
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return closeErr
}

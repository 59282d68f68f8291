//go:build unix

// Package vmem provides page-granular anonymous memory for super pages.
package vmem

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Reserve maps size bytes of zeroed, readable and writable anonymous memory.
// size must be a multiple of the OS page size.
func Reserve(size int) ([]byte, error) {
	if size <= 0 || size%PageSize() != 0 {
		return nil, fmt.Errorf("vmem: size %d is not a positive multiple of the page size", size)
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("vmem: mmap %d bytes: %w", size, err)
	}
	return data, nil
}

// Decommit tells the OS the pages backing b are no longer needed. The range stays
// mapped; its contents are unspecified until written again.
func Decommit(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("vmem: madvise: %w", err)
	}
	return nil
}

// Release unmaps memory obtained from Reserve.
func Release(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	err := unix.Munmap(b)
	if errors.Is(err, unix.EINVAL) {
		// Treat double-unmap as no-op for callers.
		return nil
	}
	return err
}

// PageSize returns the OS page size.
func PageSize() int {
	return unix.Getpagesize()
}

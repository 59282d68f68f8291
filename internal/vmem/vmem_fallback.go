//go:build !unix && !windows

// Package vmem provides page-granular anonymous memory for super pages.
package vmem

import "fmt"

const fallbackPageSize = 4096

// Reserve allocates size bytes from the Go heap when anonymous mappings are not available.
func Reserve(size int) ([]byte, error) {
	if size <= 0 || size%PageSize() != 0 {
		return nil, fmt.Errorf("vmem: size %d is not a positive multiple of the page size", size)
	}
	return make([]byte, size), nil
}

// Decommit is a no-op without OS support.
func Decommit(b []byte) error { return nil }

// Release is a no-op; the garbage collector reclaims the backing array.
func Release(b []byte) error { return nil }

// PageSize returns the assumed page size.
func PageSize() int { return fallbackPageSize }

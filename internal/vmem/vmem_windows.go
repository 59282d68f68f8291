//go:build windows

// Package vmem provides page-granular anonymous memory for super pages.
package vmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

const windowsPageSize = 4096

// Reserve reserves and commits size bytes of zeroed read/write memory.
func Reserve(size int) ([]byte, error) {
	if size <= 0 || size%PageSize() != 0 {
		return nil, fmt.Errorf("vmem: size %d is not a positive multiple of the page size", size)
	}
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("vmem: VirtualAlloc %d bytes: %w", size, err)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

// Decommit resets the pages backing b. The range stays committed; its contents
// are unspecified until written again.
func Decommit(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&b[0]))
	if _, err := windows.VirtualAlloc(addr, uintptr(len(b)), windows.MEM_RESET, windows.PAGE_READWRITE); err != nil {
		return fmt.Errorf("vmem: MEM_RESET: %w", err)
	}
	return nil
}

// Release frees memory obtained from Reserve.
func Release(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return windows.VirtualFree(uintptr(unsafe.Pointer(&b[0])), 0, windows.MEM_RELEASE)
}

// PageSize returns the OS page size.
func PageSize() int {
	return windowsPageSize
}

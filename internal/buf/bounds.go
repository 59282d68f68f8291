// Package buf contains overflow-safe range arithmetic and word views over raw memory.
package buf

import "math"

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow uint64.
func AddOverflowSafe(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}

// Within reports whether [off, off+n) lies inside [begin, end).
func Within(off, n, begin, end uint64) bool {
	if off < begin || off > end {
		return false
	}
	last, ok := AddOverflowSafe(off, n)
	return ok && last <= end
}

// AlignUp rounds v up to a multiple of align. align must be a power of two.
func AlignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// AlignDown rounds v down to a multiple of align. align must be a power of two.
func AlignDown(v, align uint64) uint64 {
	return v &^ (align - 1)
}

// Slice returns the sub-slice [off:off+n] if it fits within len(b).
func Slice(b []byte, off, n uint64) ([]byte, bool) {
	if !Within(off, n, 0, uint64(len(b))) {
		return nil, false
	}
	return b[off : off+n], true
}

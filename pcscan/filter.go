package pcscan

import "github.com/joshuapare/starscan/partition"

// AddressFilter is the first, cheapest test applied to every scanned word.
// It may accept words that do not point into the partition; it must never
// reject one that does.
type AddressFilter interface {
	MayContain(a uint64) bool
}

// PoolFilter accepts words inside an address space aligned to its size.
type PoolFilter struct {
	base uint64
	mask uint64
}

// NewPoolFilter returns a filter for space.
func NewPoolFilter(space *partition.AddressSpace) PoolFilter {
	return PoolFilter{base: space.Base(), mask: space.BaseMask()}
}

// MayContain reports whether a lies in the pool.
func (f PoolFilter) MayContain(a uint64) bool {
	return a&f.mask == f.base
}

// SuperPageFilter accepts every non-zero word and leaves the decision to the
// super page lookup. Use it when partition memory does not come from a single
// size-aligned pool.
type SuperPageFilter struct{}

// MayContain reports whether a is non-zero.
func (SuperPageFilter) MayContain(a uint64) bool { return a != 0 }

package partition

import (
	"fmt"
	"sync"
)

// AddressSpace is a pool of super page addresses aligned to the pool size.
// Partitions sharing an AddressSpace never receive overlapping super pages.
type AddressSpace struct {
	base Addr
	size uint64

	mu   sync.Mutex
	next Addr   // next never-used super page
	free []Addr // released super pages, reused LIFO
}

// NewAddressSpace creates a pool covering [base, base+size). size must be a power
// of two no smaller than SuperPageSize, and base must be aligned to size.
func NewAddressSpace(base Addr, size uint64) (*AddressSpace, error) {
	if size < SuperPageSize || size&(size-1) != 0 {
		return nil, fmt.Errorf("%w: pool size %#x is not a power of two >= super page size", ErrBadConfig, size)
	}
	if base&(size-1) != 0 {
		return nil, fmt.Errorf("%w: pool base %#x is not aligned to %#x", ErrBadConfig, base, size)
	}
	if base == 0 {
		return nil, fmt.Errorf("%w: pool base must be non-zero", ErrBadConfig)
	}
	return &AddressSpace{base: base, size: size, next: base}, nil
}

var defaultAddressSpace = sync.OnceValue(func() *AddressSpace {
	s, err := NewAddressSpace(DefaultPoolBase, DefaultPoolSize)
	if err != nil {
		panic(err)
	}
	return s
})

// DefaultAddressSpace returns the process-wide address space used when
// Options.AddressSpace is nil. It is created on first use and never torn down.
func DefaultAddressSpace() *AddressSpace {
	return defaultAddressSpace()
}

// Base returns the first address of the pool.
func (s *AddressSpace) Base() Addr { return s.base }

// Size returns the pool size in bytes.
func (s *AddressSpace) Size() uint64 { return s.size }

// BaseMask returns the mask that maps any pool address to Base.
func (s *AddressSpace) BaseMask() uint64 { return ^(s.size - 1) }

// Contains reports whether a falls inside the pool.
func (s *AddressSpace) Contains(a Addr) bool {
	return a&s.BaseMask() == s.base
}

func (s *AddressSpace) reserveSuperPage() (Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.free); n > 0 {
		a := s.free[n-1]
		s.free = s.free[:n-1]
		return a, nil
	}
	if s.next-s.base >= s.size {
		return 0, ErrOutOfAddressSpace
	}
	a := s.next
	s.next += SuperPageSize
	return a, nil
}

func (s *AddressSpace) releaseSuperPage(a Addr) {
	s.mu.Lock()
	s.free = append(s.free, a)
	s.mu.Unlock()
}

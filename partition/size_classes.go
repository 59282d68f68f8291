package partition

import (
	"fmt"
	"math"

	"github.com/joshuapare/starscan/internal/buf"
)

// SizeClassConfig defines the bucket size class strategy.
// Different configurations trade internal fragmentation for bucket count.
type SizeClassConfig struct {
	// Name for this configuration (for benchmarking)
	Name string

	// Small slot sizes (linear increments)
	SmallMin       uint64 // Smallest slot size (multiple of SlotAlignment)
	SmallMax       uint64 // Largest slot size with linear increments
	SmallIncrement uint64 // Increment between small slot sizes

	// Medium/large slot sizes (logarithmic growth up to MediumMax)
	MediumMax    uint64  // Largest slot size, at most MaxBucketedSize
	GrowthFactor float64 // Exponential growth factor (1.25, 1.5, 2.0, etc.)
}

// Predefined configurations.
var (
	// FineGrained: Many small buckets, low internal fragmentation.
	// 16-512 step 16 (32 classes) + 512-64K growth 1.25 (~22 classes).
	ConfigFineGrained = SizeClassConfig{
		Name:           "FineGrained",
		SmallMin:       16,
		SmallMax:       512,
		SmallIncrement: 16,
		MediumMax:      MaxBucketedSize,
		GrowthFactor:   1.25,
	}

	// Balanced: 16-256 step 16 (16 classes) + 256-64K growth 1.5 (~14 classes).
	ConfigBalanced = SizeClassConfig{
		Name:           "Balanced",
		SmallMin:       16,
		SmallMax:       256,
		SmallIncrement: 16,
		MediumMax:      MaxBucketedSize,
		GrowthFactor:   1.5,
	}

	// Coarse: Fewer buckets, more internal fragmentation.
	// 32-256 step 32 (8 classes) + 256-64K doubling (8 classes).
	ConfigCoarse = SizeClassConfig{
		Name:           "Coarse",
		SmallMin:       32,
		SmallMax:       256,
		SmallIncrement: 32,
		MediumMax:      MaxBucketedSize,
		GrowthFactor:   2.0,
	}

	// Default configuration (used if none specified).
	DefaultConfig = ConfigBalanced
)

// sizeClassTable holds the computed slot sizes, ascending.
type sizeClassTable struct {
	config SizeClassConfig
	sizes  []uint64
}

func (c SizeClassConfig) validate() error {
	switch {
	case c.SmallMin < SlotAlignment || c.SmallMin%SlotAlignment != 0:
		return fmt.Errorf("%w: SmallMin %d must be a positive multiple of %d", ErrBadConfig, c.SmallMin, SlotAlignment)
	case c.SmallIncrement == 0 || c.SmallIncrement%SlotAlignment != 0:
		return fmt.Errorf("%w: SmallIncrement %d must be a positive multiple of %d", ErrBadConfig, c.SmallIncrement, SlotAlignment)
	case c.SmallMax < c.SmallMin:
		return fmt.Errorf("%w: SmallMax %d below SmallMin %d", ErrBadConfig, c.SmallMax, c.SmallMin)
	case c.MediumMax > MaxBucketedSize || c.MediumMax < c.SmallMax:
		return fmt.Errorf("%w: MediumMax %d outside [SmallMax, %d]", ErrBadConfig, c.MediumMax, MaxBucketedSize)
	case c.MediumMax > c.SmallMax && c.GrowthFactor <= 1:
		return fmt.Errorf("%w: GrowthFactor %.2f must exceed 1", ErrBadConfig, c.GrowthFactor)
	}
	return nil
}

// newSizeClassTable computes slot sizes from config.
func newSizeClassTable(config SizeClassConfig) (*sizeClassTable, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	table := &sizeClassTable{
		config: config,
		sizes:  make([]uint64, 0, 64),
	}

	// Phase 1: Small slots (linear increments)
	size := config.SmallMin
	for ; size <= config.SmallMax; size += config.SmallIncrement {
		table.sizes = append(table.sizes, size)
	}
	size = table.sizes[len(table.sizes)-1]

	// Phase 2: Medium/large slots (logarithmic growth)
	for size < config.MediumMax {
		next := buf.AlignUp(uint64(math.Ceil(float64(size)*config.GrowthFactor)), SlotAlignment)
		if next <= size {
			next = size + SlotAlignment // Ensure progress
		}
		if next > config.MediumMax {
			next = config.MediumMax
		}
		table.sizes = append(table.sizes, next)
		size = next
	}

	return table, nil
}

// classFor returns the index of the smallest slot size >= size.
// ok is false when size exceeds every class.
func (t *sizeClassTable) classFor(size uint64) (int, bool) {
	lo, hi := 0, len(t.sizes)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		if size <= t.sizes[mid] {
			// Check if this is the smallest size that fits
			if mid == 0 || size > t.sizes[mid-1] {
				return mid, true
			}
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	return 0, false
}

// slotSize returns the slot size of class sc.
func (t *sizeClassTable) slotSize(sc int) uint64 {
	return t.sizes[sc]
}

// NumClasses returns the number of size classes.
func (t *sizeClassTable) NumClasses() int {
	return len(t.sizes)
}

// String returns a human-readable description of the size class table.
func (t *sizeClassTable) String() string {
	return t.config.Name
}

// slotSpanPages picks how many partition pages a span of slotSize slots uses:
// enough for at least eight slots, capped at MaxSlotSpanPages.
func slotSpanPages(slotSize uint64) int {
	const targetSlots = 8
	pages := (slotSize*targetSlots + PartitionPageSize - 1) / PartitionPageSize
	if pages < 1 {
		pages = 1
	}
	if pages > MaxSlotSpanPages {
		pages = MaxSlotSpanPages
	}
	return int(pages)
}

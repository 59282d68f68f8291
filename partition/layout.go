package partition

import "github.com/joshuapare/starscan/quarantine"

// Addr is an address in a partition's address space.
type Addr = uint64

const (
	// SuperPageShift is log2(SuperPageSize).
	SuperPageShift = 21
	// SuperPageSize is the unit of address reservation.
	SuperPageSize = 1 << SuperPageShift
	// SuperPageOffsetMask extracts the offset of an address within its super page.
	SuperPageOffsetMask = SuperPageSize - 1
	// SuperPageBaseMask extracts the super page base of an address.
	SuperPageBaseMask = ^uint64(SuperPageOffsetMask)

	// PartitionPageShift is log2(PartitionPageSize).
	PartitionPageShift = 14
	// PartitionPageSize is the unit slot spans are carved in.
	PartitionPageSize = 1 << PartitionPageShift
	// NumPartitionPagesPerSuperPage is the number of partition pages per super page.
	NumPartitionPagesPerSuperPage = SuperPageSize / PartitionPageSize

	// SystemPageSize is the granularity used when discarding unused pages.
	SystemPageSize = 4096

	// SlotAlignment is the alignment of every slot start.
	SlotAlignment = quarantine.Granularity

	// MaxBucketedSize is the largest slot size served by buckets.
	MaxBucketedSize = 64 << 10

	// MaxSlotSpanPages caps the size of a single slot span.
	MaxSlotSpanPages = 16

	bitmapOffset = PartitionPageSize
	bitmapBytes  = SuperPageSize / SlotAlignment / 8

	// PayloadOffset is the offset of the first payload byte within a super page.
	PayloadOffset = bitmapOffset + 2*bitmapBytes
	// PayloadEnd is the offset of the trailing guard page within a super page.
	PayloadEnd = SuperPageSize - PartitionPageSize

	firstPayloadPage = PayloadOffset / PartitionPageSize
	endPayloadPage   = PayloadEnd / PartitionPageSize

	// DefaultPoolBase is the base address of the default address space.
	DefaultPoolBase = 0x1000_0000_0000
	// DefaultPoolSize is the size of the default address space (16 GiB).
	DefaultPoolSize = 1 << 34

	cookieSize = 16
)

// cookieValue is written before and after every object when cookies are enabled.
var cookieValue = [cookieSize]byte{
	0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE, 0xD0, 0x0D,
	0x13, 0x37, 0xF0, 0x05, 0xBA, 0x11, 0xAB, 0x1E,
}

// SuperPageBase returns the base of the super page containing a.
func SuperPageBase(a Addr) Addr {
	return a & SuperPageBaseMask
}

package partition

type spanState uint8

const (
	spanActive      spanState = iota // some slots allocated, some free
	spanFull                         // every slot allocated
	spanEmpty                        // no slot allocated, memory committed
	spanDecommitted                  // no slot allocated, memory returned to the OS
)

func (s spanState) String() string {
	switch s {
	case spanActive:
		return "active"
	case spanFull:
		return "full"
	case spanEmpty:
		return "empty"
	case spanDecommitted:
		return "decommitted"
	default:
		return "unknown"
	}
}

// SlotSpan is a run of equal-size slots within a super page.
//
// The geometry (Begin, SlotSize, NumSlots, ...) is immutable once the span is
// published and may be read without the partition lock. State accessors require
// the lock, which ViewArena holds for its callback.
type SlotSpan struct {
	sp           *SuperPage
	begin        Addr
	numPages     int
	numSlots     int
	slotSize     uint64
	usable       uint64
	objectOffset uint64

	// Guarded by the partition lock.
	bucket    *bucket
	freeSlots []uint32 // LIFO stack of free slot indexes
	live      []uint64 // bit per slot: handed out by Alloc and not yet released
	allocated int
	state     spanState
}

func newSlotSpan(sp *SuperPage, b *bucket, firstPage int, extras, objectOffset uint64) *SlotSpan {
	s := &SlotSpan{
		sp:           sp,
		begin:        sp.base + uint64(firstPage)*PartitionPageSize,
		numPages:     b.numPages,
		numSlots:     b.slotsPerSpan,
		slotSize:     b.slotSize,
		usable:       b.slotSize - extras,
		objectOffset: objectOffset,
		bucket:       b,
		freeSlots:    make([]uint32, b.slotsPerSpan),
		live:         make([]uint64, (b.slotsPerSpan+63)/64),
		state:        spanEmpty,
	}
	// Pop order hands out slots in ascending address order.
	for i := range s.freeSlots {
		s.freeSlots[i] = uint32(b.slotsPerSpan - 1 - i)
	}
	return s
}

// SuperPage returns the super page holding the span.
func (s *SlotSpan) SuperPage() *SuperPage { return s.sp }

// Begin returns the address of the first slot.
func (s *SlotSpan) Begin() Addr { return s.begin }

// End returns the address past the last provisioned slot.
func (s *SlotSpan) End() Addr { return s.begin + s.ProvisionedSize() }

// SlotSize returns the size of each slot, extras included.
func (s *SlotSpan) SlotSize() uint64 { return s.slotSize }

// UsableSize returns the bytes of each slot available to the object.
func (s *SlotSpan) UsableSize() uint64 { return s.usable }

// ObjectOffset returns the distance between a slot start and its object.
func (s *SlotSpan) ObjectOffset() uint64 { return s.objectOffset }

// NumSlots returns the number of slots in the span.
func (s *SlotSpan) NumSlots() int { return s.numSlots }

// ProvisionedSize returns the bytes covered by slots.
func (s *SlotSpan) ProvisionedSize() uint64 { return uint64(s.numSlots) * s.slotSize }

// SlotStart maps any address inside the span's slots to the start of its slot.
func (s *SlotSpan) SlotStart(a Addr) (Addr, bool) {
	if a < s.begin {
		return 0, false
	}
	idx := (a - s.begin) / s.slotSize
	if idx >= uint64(s.numSlots) {
		return 0, false
	}
	return s.begin + idx*s.slotSize, true
}

// IsEmpty reports whether no slot is allocated. Requires the partition lock.
func (s *SlotSpan) IsEmpty() bool { return s.state == spanEmpty }

// IsDecommitted reports whether the span's memory was returned to the OS.
// Requires the partition lock.
func (s *SlotSpan) IsDecommitted() bool { return s.state == spanDecommitted }

// IsFull reports whether every slot is allocated. Requires the partition lock.
func (s *SlotSpan) IsFull() bool { return s.state == spanFull }

// Allocated returns the number of allocated slots, quarantined ones included.
// Requires the partition lock.
func (s *SlotSpan) Allocated() int { return s.allocated }

func (s *SlotSpan) slotIndex(slot Addr) int {
	return int((slot - s.begin) / s.slotSize)
}

func (s *SlotSpan) isLive(idx int) bool {
	return s.live[idx/64]&(1<<(idx%64)) != 0
}

func (s *SlotSpan) popFreeLocked() int {
	n := len(s.freeSlots)
	idx := int(s.freeSlots[n-1])
	s.freeSlots = s.freeSlots[:n-1]
	s.live[idx/64] |= 1 << (idx % 64)
	s.allocated++
	if len(s.freeSlots) == 0 {
		s.state = spanFull
	} else {
		s.state = spanActive
	}
	return idx
}

func (s *SlotSpan) pushFreeLocked(idx int) {
	s.live[idx/64] &^= 1 << (idx % 64)
	s.freeSlots = append(s.freeSlots, uint32(idx))
	s.allocated--
	if s.allocated == 0 {
		s.state = spanEmpty
	} else {
		s.state = spanActive
	}
}

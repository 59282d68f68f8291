package partition

// bucket owns all slot spans of one slot size. Guarded by the partition lock.
type bucket struct {
	slotSize     uint64
	numPages     int
	slotsPerSpan int
	spans        []*SlotSpan
	hint         int // span most likely to have free slots
}

func newBucket(slotSize uint64) *bucket {
	pages := slotSpanPages(slotSize)
	return &bucket{
		slotSize:     slotSize,
		numPages:     pages,
		slotsPerSpan: int(uint64(pages) * PartitionPageSize / slotSize),
	}
}

// findSpanLocked returns a span with at least one free slot, preferring spans
// that are already partially used, then empty ones, then decommitted ones.
func (b *bucket) findSpanLocked() *SlotSpan {
	if b.hint < len(b.spans) && b.spans[b.hint].state == spanActive {
		return b.spans[b.hint]
	}
	var empty, decommitted *SlotSpan
	for i, s := range b.spans {
		switch s.state {
		case spanActive:
			b.hint = i
			return s
		case spanEmpty:
			if empty == nil {
				empty = s
			}
		case spanDecommitted:
			if decommitted == nil {
				decommitted = s
			}
		}
	}
	if empty != nil {
		return empty
	}
	return decommitted
}

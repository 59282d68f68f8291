package partition

import (
	"github.com/joshuapare/starscan/internal/buf"
	"github.com/joshuapare/starscan/internal/vmem"
)

// PurgeFlags selects what PurgeMemory releases.
type PurgeFlags uint8

const (
	// PurgeDecommitEmptySlotSpans returns the memory of spans with no allocated slot.
	PurgeDecommitEmptySlotSpans PurgeFlags = 1 << iota
	// PurgeDiscardUnusedSystemPages discards whole system pages inside free slots
	// of spans that still hold allocations.
	PurgeDiscardUnusedSystemPages
)

// PurgeMemory releases unused memory to the OS and returns the number of bytes
// released. Quarantined slots count as allocated and are never touched.
func (p *Partition) PurgeMemory(flags PurgeFlags) uint64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return 0
	}

	var decommitted, discarded uint64
	for _, b := range p.buckets {
		for _, s := range b.spans {
			switch {
			case s.state == spanEmpty && flags&PurgeDecommitEmptySlotSpans != 0:
				decommitted += p.decommitSpanLocked(s)
			case s.state == spanActive && flags&PurgeDiscardUnusedSystemPages != 0:
				discarded += p.discardFreeSlotsLocked(s)
			}
		}
	}
	p.committed -= decommitted
	p.stats.DecommittedBytes += decommitted
	if decommitted+discarded > 0 {
		p.log.Debug("memory purged", "decommitted", decommitted, "discarded", discarded)
	}
	return decommitted + discarded
}

func (p *Partition) decommitSpanLocked(s *SlotSpan) uint64 {
	n := uint64(s.numPages) * PartitionPageSize
	if err := vmem.Decommit(s.sp.bytes(s.begin, n)); err != nil {
		p.log.Warn("decommit failed", "span", s.begin, "error", err)
		return 0
	}
	s.state = spanDecommitted
	return n
}

func (p *Partition) discardFreeSlotsLocked(s *SlotSpan) uint64 {
	page := uint64(vmem.PageSize())
	var total uint64
	for _, idx := range s.freeSlots {
		slot := s.begin + uint64(idx)*s.slotSize
		begin := buf.AlignUp(slot, page)
		end := buf.AlignDown(slot+s.slotSize, page)
		if begin >= end {
			continue
		}
		if err := vmem.Decommit(s.sp.bytes(begin, end-begin)); err != nil {
			p.log.Warn("discard failed", "slot", slot, "error", err)
			continue
		}
		total += end - begin
	}
	return total
}

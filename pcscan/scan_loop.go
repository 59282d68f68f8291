package pcscan

import (
	"sync/atomic"

	"github.com/joshuapare/starscan/partition"
	"github.com/joshuapare/starscan/quarantine"
)

// scanLoop is the mark step: it looks for words pointing into slots that are
// marked in the scanner bitmap of its epoch.
type scanLoop struct {
	snap   *snapshot
	filter AddressFilter
	epoch  uint64
}

// run scans words and returns the slot bytes that survived.
func (l *scanLoop) run(words []uint64) uint64 {
	var survived uint64
	for _, w := range words {
		if w == 0 {
			continue
		}
		survived += l.tryMark(w)
	}
	return survived
}

// runAtomic is run for memory the Go race detector tracks.
func (l *scanLoop) runAtomic(words []uint64) uint64 {
	var survived uint64
	for i := range words {
		w := atomic.LoadUint64(&words[i])
		if w == 0 {
			continue
		}
		survived += l.tryMark(w)
	}
	return survived
}

// tryMark moves the slot ptr points into from the scanner bitmap to the
// mutator bitmap and returns its size, or returns 0 when ptr does not point
// into a quarantined slot.
func (l *scanLoop) tryMark(ptr uint64) uint64 {
	if !l.filter.MayContain(ptr) {
		return 0
	}
	sp := l.snap.find(partition.SuperPageBase(ptr))
	if sp == nil || !sp.IsWithinPayload(ptr) {
		return 0
	}
	span := sp.SlotSpanAt(ptr)
	if span == nil {
		return 0
	}
	slot, ok := span.SlotStart(ptr)
	if !ok {
		return 0
	}
	scanner := sp.QuarantineBitmap(quarantine.Scanner, l.epoch)
	if !scanner.CheckBit(slot) {
		return 0
	}
	// Pointers past the object's usable bytes do not keep it alive.
	if ptr > slot+span.ObjectOffset()+span.UsableSize() {
		return 0
	}
	scanner.ClearBit(slot)
	sp.QuarantineBitmap(quarantine.Mutator, l.epoch).SetBit(slot)
	return span.SlotSize()
}

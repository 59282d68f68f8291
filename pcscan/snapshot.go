package pcscan

import (
	"fmt"
	"sort"

	"github.com/joshuapare/starscan/partition"
	"github.com/joshuapare/starscan/quarantine"
)

// scanArea is a word-aligned range of live slot span memory.
type scanArea struct {
	sp       *partition.SuperPage
	begin    partition.Addr
	end      partition.Addr
	slotSize uint64 // set for large areas, which are scanned slot by slot
}

// snapshot is the heap layout a task works on. It is taken under the
// partition lock and read-only afterwards.
type snapshot struct {
	superPages []*partition.SuperPage // pages holding allocations, ascending
	areas      []scanArea
	largeAreas []scanArea
}

// take records every super page with active or full spans. Spans whose slot
// size reaches largeThreshold become large areas.
func (s *snapshot) take(v partition.ArenaView, epoch, largeThreshold uint64) {
	for _, sp := range v.SuperPages() {
		scannable := false
		sp.VisitSlotSpans(func(span *partition.SlotSpan) {
			if span.IsEmpty() || span.IsDecommitted() {
				return
			}
			scannable = true
			area := scanArea{sp: sp, begin: span.Begin(), end: span.End()}
			if largeThreshold != 0 && span.SlotSize() >= largeThreshold {
				area.slotSize = span.SlotSize()
				s.largeAreas = append(s.largeAreas, area)
				return
			}
			s.areas = append(s.areas, area)
		})
		if !scannable {
			// Quarantined slots count as allocated, so a page without
			// allocations cannot have quarantined anything.
			if bm := sp.QuarantineBitmap(quarantine.Scanner, epoch); !bm.Empty() {
				panic(fmt.Sprintf("pcscan: super page %#x has no allocations but %d quarantined slots",
					sp.Base(), bm.Count()))
			}
			continue
		}
		s.superPages = append(s.superPages, sp)
	}
	s.areas = coalesce(s.areas)
}

// find returns the snapshotted super page at base.
func (s *snapshot) find(base partition.Addr) *partition.SuperPage {
	pages := s.superPages
	i := sort.Search(len(pages), func(i int) bool { return pages[i].Base() >= base })
	if i < len(pages) && pages[i].Base() == base {
		return pages[i]
	}
	return nil
}

// coalesce sorts areas and merges those that are adjacent within one super page.
func coalesce(areas []scanArea) []scanArea {
	if len(areas) < 2 {
		return areas
	}
	sort.Slice(areas, func(i, j int) bool {
		return areas[i].begin < areas[j].begin
	})

	merged := areas[:1]
	for _, next := range areas[1:] {
		current := &merged[len(merged)-1]
		if next.sp == current.sp && next.begin <= current.end {
			current.end = max(current.end, next.end)
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

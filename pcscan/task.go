package pcscan

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/joshuapare/starscan/partition"
	"github.com/joshuapare/starscan/quarantine"
)

// task is one scan-and-sweep cycle. It runs exactly once.
type task struct {
	s     *Scanner
	epoch uint64
	mode  InvocationMode
	snap  snapshot
	roots [][]uint64
	stats statsCollector
	ran   atomic.Bool
	done  chan struct{}
}

func newTask(s *Scanner, mode InvocationMode) *task {
	return &task{s: s, mode: mode, done: make(chan struct{})}
}

func (t *task) run() {
	if t.ran.Swap(true) {
		panic("pcscan: scan task run twice")
	}

	t.stats.begin(PhaseOverall)
	t.stats.begin(PhaseClear)
	t.clearQuarantinedObjects()
	t.stats.end(PhaseClear)

	t.stats.begin(PhaseScan)
	t.scanPartition()
	t.stats.end(PhaseScan)

	t.stats.begin(PhaseSweep)
	t.sweepQuarantine()
	t.stats.end(PhaseSweep)
	t.stats.end(PhaseOverall)

	if t.mode == InvocationForced {
		t.s.p.PurgeMemory(partition.PurgeDecommitEmptySlotSpans | partition.PurgeDiscardUnusedSystemPages)
	}
	t.finish()
}

// clearQuarantinedObjects zeroes the usable bytes of every quarantined slot.
func (t *task) clearQuarantinedObjects() {
	for _, sp := range t.snap.superPages {
		sp.QuarantineBitmap(quarantine.Scanner, t.epoch).Iterate(func(slot uint64) {
			span := sp.SlotSpanAt(slot)
			obj := slot + span.ObjectOffset()
			clear(sp.Words(obj, obj+span.UsableSize()))
		})
	}
}

func (t *task) scanPartition() {
	loop := scanLoop{snap: &t.snap, filter: t.s.filter, epoch: t.epoch}
	var survived uint64

	// Quarantined slots in large areas were zeroed above and hold no pointers.
	for _, area := range t.snap.largeAreas {
		bm := area.sp.QuarantineBitmap(quarantine.Scanner, t.epoch)
		for slot := area.begin; slot < area.end; slot += area.slotSize {
			if bm.CheckBit(slot) {
				continue
			}
			survived += loop.run(area.sp.Words(slot, slot+area.slotSize))
		}
	}
	for _, area := range t.snap.areas {
		survived += loop.run(area.sp.Words(area.begin, area.end))
	}
	for _, root := range t.roots {
		survived += loop.runAtomic(root)
	}
	t.stats.survived = survived
}

// sweepQuarantine releases every slot left in the scanner bitmaps. A slot's
// bit is cleared before the slot goes back to its span, so a mutator that
// reuses the slot right away never sees it as quarantined.
func (t *task) sweepQuarantine() {
	p := t.s.p
	var swept uint64
	for _, sp := range t.snap.superPages {
		sp.QuarantineBitmap(quarantine.Scanner, t.epoch).IterateAndClear(func(slot uint64) {
			span := sp.SlotSpanAt(slot)
			if span == nil {
				panic(fmt.Sprintf("pcscan: quarantined slot %#x has no slot span", slot))
			}
			err := p.FreeNoHooksImmediate(slot)
			switch {
			case err == nil:
				swept += span.SlotSize()
			case errors.Is(err, partition.ErrClosed):
			default:
				panic(fmt.Sprintf("pcscan: sweeping slot %#x: %v", slot, err))
			}
		})
	}
	t.stats.swept = swept
}

// finish reports, updates the quarantine limit and releases the in-progress
// flag. It panics if the flag was not set.
func (t *task) finish() {
	s := t.s
	last := s.data.last.Load()
	survived := t.stats.survived
	rate := SurvivalRate(last, survived)

	rep := s.reporter()
	for _, e := range t.stats.events(s.p.Name(), s.opts.ProcessName, t.epoch) {
		rep.ReportPhase(e)
	}
	rep.ReportQuarantine(QuarantineReport{
		Partition:    s.p.Name(),
		Epoch:        t.epoch,
		Mode:         t.mode,
		LastSize:     last,
		NewSize:      survived,
		SweptBytes:   t.stats.swept,
		SurvivalRate: rate,
	})
	s.log.Debug("quarantine size",
		"last", last,
		"new", survived,
		"swept", t.stats.swept,
		"survival_rate", rate,
	)

	s.data.account(survived)
	s.data.growLimitIfNeeded(s.p.CommittedSize())

	if !s.inProgress.Swap(false) {
		panic("pcscan: scan finished while no scan was in progress")
	}
	s.mu.Lock()
	if s.current == t {
		s.current = nil
	}
	s.mu.Unlock()
	close(t.done)
}

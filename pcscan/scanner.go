package pcscan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/starscan/internal/logger"
	"github.com/joshuapare/starscan/partition"
	"github.com/joshuapare/starscan/quarantine"
)

// Scanner quarantines a partition's frees and runs scan tasks over it.
type Scanner struct {
	p      *partition.Partition
	opts   Options
	log    *slog.Logger
	filter AddressFilter
	data   *quarantineData

	// inProgress is set from scheduling until the task's finish step.
	inProgress atomic.Bool
	closed     atomic.Bool

	mu       sync.Mutex
	current  *task
	rep      Reporter
	roots    map[int][]uint64
	nextRoot int
}

var _ partition.Quarantiner = (*Scanner)(nil)

// New creates a scanner and installs it as p's quarantiner. A nil opts means
// DefaultOptions. A partition supports one scanner over its lifetime.
func New(p *partition.Partition, opts *Options) (*Scanner, error) {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	if o.MinQuarantineLimit == 0 {
		o.MinQuarantineLimit = DefaultMinQuarantineLimit
	}
	if p.QuarantineEnabled() {
		return nil, fmt.Errorf("%w: partition %q already has a quarantiner", ErrBadOptions, p.Name())
	}
	// Background sweeps mutate span free lists concurrently with the mutator.
	if !p.ThreadSafe() && o.TaskType != TaskBlocking {
		return nil, fmt.Errorf("%w: partition %q is not thread-safe, only %s scans are allowed",
			ErrBadOptions, p.Name(), TaskBlocking)
	}

	s := &Scanner{
		p:      p,
		opts:   o,
		log:    logger.Or(o.Logger).With("partition", p.Name()),
		filter: o.Filter,
		data:   newQuarantineData(o.MinQuarantineLimit, o.QuarantineFraction),
		rep:    o.Reporter,
		roots:  make(map[int][]uint64),
	}
	if s.filter == nil {
		s.filter = NewPoolFilter(p.AddressSpace())
	}
	if s.rep == nil {
		s.rep = NopReporter{}
	}
	if err := p.SetQuarantiner(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Partition returns the scanned partition.
func (s *Scanner) Partition() *partition.Partition { return s.p }

// Epoch returns the current epoch.
func (s *Scanner) Epoch() uint64 { return s.data.epoch.Load() }

// QuarantineSize returns the bytes quarantined since the last scan started,
// plus the survivors of that scan once it finished.
func (s *Scanner) QuarantineSize() uint64 { return s.data.current.Load() }

// LastQuarantineSize returns the quarantine size when the last scan started.
func (s *Scanner) LastQuarantineSize() uint64 { return s.data.last.Load() }

// QuarantineLimit returns the quarantine size above which a regular scan runs.
func (s *Scanner) QuarantineLimit() uint64 { return s.data.limit.Load() }

// InProgress reports whether a scan is scheduled or running.
func (s *Scanner) InProgress() bool { return s.inProgress.Load() }

// OnObjectFreed marks slot in the mutator bitmap of the current epoch. It runs
// under the partition lock, which also guards epoch changes.
func (s *Scanner) OnObjectFreed(sp *partition.SuperPage, slot partition.Addr, slotSize uint64) bool {
	sp.QuarantineBitmap(quarantine.Mutator, s.data.epoch.Load()).SetBit(slot)
	s.data.account(slotSize)
	return s.data.thresholdReached()
}

// OnQuarantineLimit starts a regular scan if none is running.
func (s *Scanner) OnQuarantineLimit() {
	s.PerformScanIfNeeded(InvocationRegular)
}

// RegisterStatsReporter installs r for subsequent scans. Nil removes the reporter.
func (s *Scanner) RegisterStatsReporter(r Reporter) {
	if r == nil {
		r = NopReporter{}
	}
	s.mu.Lock()
	s.rep = r
	s.mu.Unlock()
}

func (s *Scanner) reporter() Reporter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rep
}

// AddRoot registers words outside the partition, such as globals or stacks,
// to be scanned as live memory. Words are read atomically. The returned
// function unregisters the root; scans already scheduled may still read it.
func (s *Scanner) AddRoot(words []uint64) (remove func()) {
	s.mu.Lock()
	id := s.nextRoot
	s.nextRoot++
	s.roots[id] = words
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.roots, id)
		s.mu.Unlock()
	}
}

// ScheduleTask starts a regular scan of type tt. It returns false without doing
// anything when a scan is already in progress or the scanner is closed.
func (s *Scanner) ScheduleTask(tt TaskType) bool {
	return s.schedule(tt, InvocationRegular)
}

// PerformScan starts a scan in mode using Options.TaskType.
func (s *Scanner) PerformScan(mode InvocationMode) bool {
	return s.schedule(s.opts.TaskType, mode)
}

// PerformScanIfNeeded starts a scan when mode is forced or the quarantine
// exceeds its limit.
func (s *Scanner) PerformScanIfNeeded(mode InvocationMode) bool {
	if mode != InvocationForced && !s.data.thresholdReached() {
		return false
	}
	return s.PerformScan(mode)
}

func (s *Scanner) schedule(tt TaskType, mode InvocationMode) bool {
	// closed is set under mu, so once Close has set it no new scan can start.
	s.mu.Lock()
	if s.closed.Load() || s.inProgress.Swap(true) {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	t := newTask(s, mode)
	err := s.p.ViewArena(func(v partition.ArenaView) {
		t.epoch = s.data.resetAndAdvanceEpoch()
		t.snap.take(v, t.epoch, s.opts.LargeScanAreaThreshold)
	})
	if err != nil {
		s.inProgress.Store(false)
		s.log.Debug("scan not scheduled", "error", err)
		return false
	}

	s.mu.Lock()
	t.roots = make([][]uint64, 0, len(s.roots))
	for _, r := range s.roots {
		t.roots = append(t.roots, r)
	}
	s.current = t
	s.mu.Unlock()

	s.log.Debug("scan scheduled",
		"epoch", t.epoch,
		"mode", mode.String(),
		"task", tt.String(),
		"super_pages", len(t.snap.superPages),
		"areas", len(t.snap.areas),
		"large_areas", len(t.snap.largeAreas),
	)
	dispatch(tt, s.opts.Executor, t.run)
	return true
}

// Wait blocks until the scan in progress, if any, has finished.
func (s *Scanner) Wait(ctx context.Context) error {
	s.mu.Lock()
	t := s.current
	s.mu.Unlock()
	if t == nil {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for the running scan and detaches the scanner from the partition.
// Slots still quarantined stay allocated.
func (s *Scanner) Close() error {
	s.mu.Lock()
	wasClosed := s.closed.Swap(true)
	s.mu.Unlock()
	if wasClosed {
		return nil
	}
	// A scan scheduled just before Close may not have published its task yet,
	// in which case Wait returns early.
	for s.inProgress.Load() {
		if err := s.Wait(context.Background()); err != nil {
			return err
		}
		runtime.Gosched()
	}
	if err := s.p.SetQuarantiner(nil); err != nil && !errors.Is(err, partition.ErrClosed) {
		return err
	}
	return nil
}

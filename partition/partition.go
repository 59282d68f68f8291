package partition

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/starscan/internal/buf"
	"github.com/joshuapare/starscan/internal/logger"
	"github.com/joshuapare/starscan/internal/vmem"
)

// QuarantineMode controls whether a Quarantiner may be installed.
type QuarantineMode uint8

const (
	// QuarantineAllowed lets SetQuarantiner enable quarantine. Free releases slots
	// immediately until a quarantiner is installed.
	QuarantineAllowed QuarantineMode = iota
	// QuarantineDisallowed makes SetQuarantiner fail with ErrQuarantineUnsupported.
	QuarantineDisallowed
)

// Quarantiner receives slots freed while quarantine is enabled.
type Quarantiner interface {
	// OnObjectFreed records the slot starting at slot as quarantined. It runs with
	// the partition lock held and must not call back into the partition. The
	// return value reports whether enough memory is quarantined to warrant a scan.
	OnObjectFreed(sp *SuperPage, slot Addr, slotSize uint64) bool

	// OnQuarantineLimit runs after the partition lock is released whenever
	// OnObjectFreed returned true.
	OnQuarantineLimit()
}

// Options configures a Partition.
type Options struct {
	// Name identifies the partition in logs and stats reports.
	Name string

	// ThreadSafe guards every operation with a mutex. Without it callers must
	// serialize access themselves.
	ThreadSafe bool

	// Cookies surrounds every object with 16-byte guard cookies verified on free.
	Cookies bool

	// QuarantineMode gates SetQuarantiner.
	QuarantineMode QuarantineMode

	// SizeClasses selects the bucket slot sizes. Zero value means DefaultConfig.
	SizeClasses SizeClassConfig

	// AddressSpace hands out super page addresses. Nil means DefaultAddressSpace.
	AddressSpace *AddressSpace

	// Logger receives debug output. Nil means logger.L.
	Logger *slog.Logger
}

// DefaultOptions returns a thread-safe partition with quarantine allowed.
func DefaultOptions() Options {
	return Options{
		Name:        "default",
		ThreadSafe:  true,
		SizeClasses: DefaultConfig,
	}
}

// Stats is a point-in-time summary of a partition.
type Stats struct {
	SuperPages       int
	SlotSpans        int
	CommittedBytes   uint64 // super page bytes minus decommitted slot spans
	AllocatedBytes   uint64 // slot bytes handed out, quarantined slots included
	Allocs           uint64
	Frees            uint64 // application frees, quarantined or not
	QuarantinedFrees uint64 // frees diverted to the quarantiner
	ImmediateFrees   uint64 // slots released through FreeNoHooksImmediate
	DecommittedBytes uint64 // cumulative bytes returned by PurgeMemory
}

// Partition is a slab allocator serving fixed slot sizes from super pages.
type Partition struct {
	name       string
	lock       sync.Locker
	threadSafe bool
	space      *AddressSpace
	sizes      *sizeClassTable
	log        *slog.Logger
	mode       QuarantineMode
	extras     uint64 // cookie bytes per slot
	offset     uint64 // object offset within a slot

	// pages is a sorted copy-on-write slice of super pages, readable without the lock.
	pages atomic.Pointer[[]*SuperPage]

	// Guarded by lock.
	buckets     []*bucket
	current     *SuperPage // super page new spans are carved from
	quarantiner Quarantiner
	closed      bool
	committed   uint64
	stats       Stats
}

type noLock struct{}

func (noLock) Lock()   {}
func (noLock) Unlock() {}

// New creates a partition. A nil opts means DefaultOptions.
func New(opts *Options) (*Partition, error) {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}
	if o.SizeClasses == (SizeClassConfig{}) {
		o.SizeClasses = DefaultConfig
	}
	sizes, err := newSizeClassTable(o.SizeClasses)
	if err != nil {
		return nil, err
	}
	if o.AddressSpace == nil {
		o.AddressSpace = DefaultAddressSpace()
	}

	p := &Partition{
		name:  o.Name,
		lock:  noLock{},
		space: o.AddressSpace,
		sizes: sizes,
		log:   logger.Or(o.Logger).With("partition", o.Name),
		mode:  o.QuarantineMode,
	}
	if o.ThreadSafe {
		p.lock = &sync.Mutex{}
		p.threadSafe = true
	}
	if o.Cookies {
		p.extras = 2 * cookieSize
		p.offset = cookieSize
	}
	p.buckets = make([]*bucket, sizes.NumClasses())
	for i := range p.buckets {
		p.buckets[i] = newBucket(sizes.slotSize(i))
	}
	empty := []*SuperPage{}
	p.pages.Store(&empty)
	return p, nil
}

// Name returns the partition name.
func (p *Partition) Name() string { return p.name }

// ThreadSafe reports whether the partition locks around every operation.
func (p *Partition) ThreadSafe() bool { return p.threadSafe }

// AddressSpace returns the pool the partition's super pages come from.
func (p *Partition) AddressSpace() *AddressSpace { return p.space }

// ObjectOffset returns the distance between a slot start and the object it holds.
func (p *Partition) ObjectOffset() uint64 { return p.offset }

// SetQuarantiner installs q, or disables quarantine when q is nil. Slots already
// quarantined stay allocated until released with FreeNoHooksImmediate.
func (p *Partition) SetQuarantiner(q Quarantiner) error {
	if q != nil {
		if p.mode == QuarantineDisallowed {
			return fmt.Errorf("%w: partition %q disallows quarantine", ErrQuarantineUnsupported, p.name)
		}
		if strconv.IntSize < 64 {
			return fmt.Errorf("%w: requires a 64-bit address space", ErrQuarantineUnsupported)
		}
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.quarantiner = q
	return nil
}

// QuarantineEnabled reports whether a quarantiner is installed.
func (p *Partition) QuarantineEnabled() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.quarantiner != nil
}

// Alloc returns the address of an object with at least size usable bytes.
// Object contents are unspecified.
func (p *Partition) Alloc(size uint64) (Addr, error) {
	raw, ok := buf.AddOverflowSafe(size, p.extras)
	if !ok {
		return 0, ErrTooLarge
	}
	sc, ok := p.sizes.classFor(raw)
	if !ok {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return 0, ErrClosed
	}

	b := p.buckets[sc]
	span := b.findSpanLocked()
	if span == nil {
		var err error
		if span, err = p.newSpanLocked(b); err != nil {
			return 0, err
		}
	}
	if span.state == spanDecommitted {
		p.committed += uint64(span.numPages) * PartitionPageSize
	}
	idx := span.popFreeLocked()
	slot := span.begin + uint64(idx)*span.slotSize
	if p.extras != 0 {
		copy(span.sp.bytes(slot, cookieSize), cookieValue[:])
		copy(span.sp.bytes(slot+span.slotSize-cookieSize, cookieSize), cookieValue[:])
	}
	p.stats.Allocs++
	p.stats.AllocatedBytes += span.slotSize
	return slot + p.offset, nil
}

// Free releases the object at obj. With a quarantiner installed the slot is
// quarantined instead and stays allocated until swept.
func (p *Partition) Free(obj Addr) error {
	if !p.space.Contains(obj) {
		return fmt.Errorf("%w: %#x outside address space", ErrBadAddress, obj)
	}

	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return ErrClosed
	}
	span, idx, err := p.lookupLocked(obj - p.offset)
	if err == nil && obj-p.offset != span.begin+uint64(idx)*span.slotSize {
		err = fmt.Errorf("%w: %#x is not an object start", ErrBadAddress, obj)
	}
	if err != nil {
		p.lock.Unlock()
		return err
	}
	slot := obj - p.offset
	if err := p.checkCookiesLocked(span, slot); err != nil {
		p.lock.Unlock()
		return err
	}

	q := p.quarantiner
	if q == nil {
		p.stats.Frees++
		p.freeSlotLocked(span, idx)
		p.lock.Unlock()
		return nil
	}

	sp := span.sp
	if sp.bitmaps[0].CheckBit(slot) || sp.bitmaps[1].CheckBit(slot) {
		p.lock.Unlock()
		return fmt.Errorf("%w: %#x is quarantined", ErrDoubleFree, obj)
	}
	p.stats.Frees++
	p.stats.QuarantinedFrees++
	limit := q.OnObjectFreed(sp, slot, span.slotSize)
	p.lock.Unlock()

	if limit {
		q.OnQuarantineLimit()
	}
	return nil
}

// FreeNoHooksImmediate returns the slot starting at slot to its span, bypassing
// the quarantiner. It is the release path for swept quarantined slots.
func (p *Partition) FreeNoHooksImmediate(slot Addr) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return ErrClosed
	}
	span, idx, err := p.lookupLocked(slot)
	if err != nil {
		return err
	}
	if slot != span.begin+uint64(idx)*span.slotSize {
		return fmt.Errorf("%w: %#x is not a slot start", ErrBadAddress, slot)
	}
	p.stats.ImmediateFrees++
	p.freeSlotLocked(span, idx)
	return nil
}

// UsableSize returns the usable bytes of the object at obj.
func (p *Partition) UsableSize(obj Addr) (uint64, error) {
	sp := p.findSuperPage(obj)
	if sp == nil {
		return 0, fmt.Errorf("%w: %#x", ErrBadAddress, obj)
	}
	span := sp.SlotSpanAt(obj)
	if span == nil {
		return 0, fmt.Errorf("%w: %#x outside slot spans", ErrBadAddress, obj)
	}
	return span.usable, nil
}

// Bytes returns n bytes of live memory starting at a. The range must not cross
// a super page boundary. The slice aliases partition memory and is only valid
// while the partition is open.
func (p *Partition) Bytes(a Addr, n uint64) ([]byte, error) {
	sp := p.findSuperPage(a)
	if sp == nil {
		return nil, fmt.Errorf("%w: %#x", ErrBadAddress, a)
	}
	b, ok := buf.Slice(sp.mem, a-sp.base, n)
	if !ok {
		return nil, fmt.Errorf("%w: [%#x, +%d) crosses the super page", ErrBadAddress, a, n)
	}
	return b, nil
}

// LoadWord atomically reads the word at a, which must be 8-byte aligned.
func (p *Partition) LoadWord(a Addr) (uint64, error) {
	w, err := p.word(a)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint64(w), nil
}

// StoreWord atomically writes v to the word at a, which must be 8-byte aligned.
func (p *Partition) StoreWord(a Addr, v uint64) error {
	w, err := p.word(a)
	if err != nil {
		return err
	}
	atomic.StoreUint64(w, v)
	return nil
}

func (p *Partition) word(a Addr) (*uint64, error) {
	if a%buf.WordSize != 0 {
		return nil, fmt.Errorf("%w: %#x is not word aligned", ErrBadAddress, a)
	}
	sp := p.findSuperPage(a)
	if sp == nil {
		return nil, fmt.Errorf("%w: %#x", ErrBadAddress, a)
	}
	return &sp.words[(a-sp.base)/buf.WordSize], nil
}

// CommittedSize returns the bytes of committed super page memory.
func (p *Partition) CommittedSize() uint64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.committed
}

// Stats returns a snapshot of the partition counters.
func (p *Partition) Stats() Stats {
	p.lock.Lock()
	defer p.lock.Unlock()
	s := p.stats
	s.CommittedBytes = p.committed
	s.SuperPages = len(*p.pages.Load())
	for _, b := range p.buckets {
		s.SlotSpans += len(b.spans)
	}
	return s
}

// Close unmaps every super page and returns its address to the address space.
// Callers must make sure no scan is running.
func (p *Partition) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.quarantiner = nil

	pages := *p.pages.Load()
	empty := []*SuperPage{}
	p.pages.Store(&empty)

	var firstErr error
	for _, sp := range pages {
		if err := vmem.Release(sp.mem); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("release super page %#x: %w", sp.base, err)
		}
		p.space.releaseSuperPage(sp.base)
	}
	p.committed = 0
	p.current = nil
	for _, b := range p.buckets {
		b.spans = nil
		b.hint = 0
	}
	p.log.Debug("partition closed", "super_pages", len(pages))
	return firstErr
}

// findSuperPage binary searches the published super pages. Safe without the lock.
func (p *Partition) findSuperPage(a Addr) *SuperPage {
	pages := *p.pages.Load()
	base := SuperPageBase(a)
	i := sort.Search(len(pages), func(i int) bool { return pages[i].base >= base })
	if i < len(pages) && pages[i].base == base {
		return pages[i]
	}
	return nil
}

// lookupLocked maps any address inside an allocated slot to its span and index.
func (p *Partition) lookupLocked(a Addr) (*SlotSpan, int, error) {
	sp := p.findSuperPage(a)
	if sp == nil || !sp.IsWithinPayload(a) {
		return nil, 0, fmt.Errorf("%w: %#x not in partition %q", ErrBadAddress, a, p.name)
	}
	span := sp.SlotSpanAt(a)
	if span == nil {
		return nil, 0, fmt.Errorf("%w: %#x outside slot spans", ErrBadAddress, a)
	}
	slot, ok := span.SlotStart(a)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %#x past the last slot", ErrBadAddress, a)
	}
	idx := span.slotIndex(slot)
	if !span.isLive(idx) {
		return nil, 0, fmt.Errorf("%w: slot %#x is not allocated", ErrDoubleFree, slot)
	}
	return span, idx, nil
}

func (p *Partition) checkCookiesLocked(span *SlotSpan, slot Addr) error {
	if p.extras == 0 {
		return nil
	}
	head := span.sp.bytes(slot, cookieSize)
	tail := span.sp.bytes(slot+span.slotSize-cookieSize, cookieSize)
	if !bytes.Equal(head, cookieValue[:]) || !bytes.Equal(tail, cookieValue[:]) {
		return fmt.Errorf("%w: slot %#x", ErrCookieCorrupted, slot)
	}
	return nil
}

func (p *Partition) freeSlotLocked(span *SlotSpan, idx int) {
	if span.allocated == 0 || span.state == spanDecommitted {
		panic(fmt.Sprintf("partition: freeing slot %d of %s span %#x with %d allocated",
			idx, span.state, span.begin, span.allocated))
	}
	span.pushFreeLocked(idx)
	p.stats.AllocatedBytes -= span.slotSize
}

// newSpanLocked carves a span for b, reserving a new super page when the current
// one has no room left.
func (p *Partition) newSpanLocked(b *bucket) (*SlotSpan, error) {
	sp := p.current
	if sp == nil || sp.nextPage+b.numPages > endPayloadPage {
		var err error
		if sp, err = p.newSuperPageLocked(); err != nil {
			return nil, err
		}
	}
	first := sp.nextPage
	span := newSlotSpan(sp, b, first, p.extras, p.offset)
	sp.nextPage += b.numPages
	sp.publishSpan(span, first)
	b.spans = append(b.spans, span)
	return span, nil
}

func (p *Partition) newSuperPageLocked() (*SuperPage, error) {
	base, err := p.space.reserveSuperPage()
	if err != nil {
		return nil, err
	}
	mem, err := vmem.Reserve(SuperPageSize)
	if err != nil {
		p.space.releaseSuperPage(base)
		return nil, err
	}
	sp := newSuperPage(p, base, mem)

	old := *p.pages.Load()
	pages := make([]*SuperPage, 0, len(old)+1)
	pages = append(pages, old...)
	pages = append(pages, sp)
	sort.Slice(pages, func(i, j int) bool { return pages[i].base < pages[j].base })
	p.pages.Store(&pages)

	p.current = sp
	p.committed += SuperPageSize
	p.log.Debug("super page reserved", "base", fmt.Sprintf("%#x", base), "super_pages", len(pages))
	return sp, nil
}

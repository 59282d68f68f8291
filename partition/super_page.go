package partition

import (
	"sync/atomic"

	"github.com/joshuapare/starscan/internal/buf"
	"github.com/joshuapare/starscan/quarantine"
)

// SuperPage is a 2 MiB region of a partition. Its geometry and quarantine
// bitmaps are immutable after creation; the span table is published atomically
// so scanners may resolve addresses without the partition lock.
type SuperPage struct {
	base      Addr
	mem       []byte
	words     []uint64
	partition *Partition
	bitmaps   [2]*quarantine.Bitmap
	spans     [NumPartitionPagesPerSuperPage]atomic.Pointer[SlotSpan]

	nextPage int // next uncarved partition page; guarded by the partition lock
}

func newSuperPage(p *Partition, base Addr, mem []byte) *SuperPage {
	sp := &SuperPage{
		base:      base,
		mem:       mem,
		words:     buf.Words(mem),
		partition: p,
		nextPage:  firstPayloadPage,
	}
	const wordsPerBitmap = bitmapBytes / buf.WordSize
	for i := range sp.bitmaps {
		first := bitmapOffset/buf.WordSize + i*wordsPerBitmap
		sp.bitmaps[i] = quarantine.New(base, sp.words[first:first+wordsPerBitmap])
	}
	return sp
}

// Base returns the first address of the super page.
func (sp *SuperPage) Base() Addr { return sp.base }

// Partition returns the owning partition.
func (sp *SuperPage) Partition() *Partition { return sp.partition }

// IsWithinPayload reports whether a points into the payload region.
func (sp *SuperPage) IsWithinPayload(a Addr) bool {
	if a&SuperPageBaseMask != sp.base {
		return false
	}
	off := a - sp.base
	return off >= PayloadOffset && off < PayloadEnd
}

// SlotSpanAt returns the span covering a, or nil when a is outside every span.
func (sp *SuperPage) SlotSpanAt(a Addr) *SlotSpan {
	if a&SuperPageBaseMask != sp.base {
		return nil
	}
	return sp.spans[(a-sp.base)>>PartitionPageShift].Load()
}

// QuarantineBitmap returns the bitmap playing role kind in epoch.
func (sp *SuperPage) QuarantineBitmap(kind quarantine.Kind, epoch uint64) *quarantine.Bitmap {
	return sp.bitmaps[quarantine.StorageIndex(kind, epoch)]
}

// BitmapStorage returns physical bitmap i (0 or 1) regardless of role.
func (sp *SuperPage) BitmapStorage(i int) *quarantine.Bitmap {
	return sp.bitmaps[i]
}

// Words returns the words backing [begin, end). Both must be word aligned and
// inside the super page. The slice aliases live memory.
func (sp *SuperPage) Words(begin, end Addr) []uint64 {
	return sp.words[(begin-sp.base)/buf.WordSize : (end-sp.base)/buf.WordSize]
}

// bytes returns the n bytes at a without bounds checks beyond slicing.
func (sp *SuperPage) bytes(a Addr, n uint64) []byte {
	off := a - sp.base
	return sp.mem[off : off+n]
}

// VisitSlotSpans calls fn for every carved span in address order.
// Requires the partition lock.
func (sp *SuperPage) VisitSlotSpans(fn func(s *SlotSpan)) {
	for page := firstPayloadPage; page < sp.nextPage; {
		s := sp.spans[page].Load()
		if s == nil {
			page++
			continue
		}
		fn(s)
		page += s.numPages
	}
}

// publishSpan makes s reachable from every partition page it covers.
func (sp *SuperPage) publishSpan(s *SlotSpan, firstPage int) {
	for page := firstPage; page < firstPage+s.numPages; page++ {
		sp.spans[page].Store(s)
	}
}

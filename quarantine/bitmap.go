package quarantine

import (
	"fmt"
	"math/bits"
	"sync/atomic"
)

// Granularity is the distance in bytes between two consecutive bits.
const Granularity = 16

const bitsPerWord = 64

// Kind names the logical role of a bitmap within an epoch.
type Kind uint8

const (
	// Mutator is the bitmap freed objects are quarantined into.
	Mutator Kind = 0
	// Scanner is the bitmap frozen for the scan of the current epoch.
	Scanner Kind = 1
)

func (k Kind) String() string {
	switch k {
	case Mutator:
		return "mutator"
	case Scanner:
		return "scanner"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// StorageIndex returns which of the two physical bitmaps plays role k in epoch.
func StorageIndex(k Kind, epoch uint64) int {
	return int((uint64(k) ^ epoch) & 1)
}

// WordsFor returns the number of uint64 words needed to cover regionSize bytes.
func WordsFor(regionSize uint64) int {
	n := regionSize / Granularity
	return int((n + bitsPerWord - 1) / bitsPerWord)
}

// Bitmap is a quarantine bitmap covering [base, base+len(words)*64*Granularity).
// The word storage is owned by the caller, typically a super page's metadata area.
type Bitmap struct {
	base  uint64
	words []uint64
}

// New returns a bitmap over words for the region starting at base.
func New(base uint64, words []uint64) *Bitmap {
	return &Bitmap{base: base, words: words}
}

// Base returns the first address covered by the bitmap.
func (b *Bitmap) Base() uint64 { return b.base }

// Limit returns the first address past the covered region.
func (b *Bitmap) Limit() uint64 {
	return b.base + uint64(len(b.words))*bitsPerWord*Granularity
}

func (b *Bitmap) index(addr uint64) (word int, mask uint64) {
	if addr < b.base || addr >= b.Limit() || (addr-b.base)%Granularity != 0 {
		panic(fmt.Sprintf("quarantine: address %#x outside bitmap [%#x, %#x) or unaligned", addr, b.base, b.Limit()))
	}
	bit := (addr - b.base) / Granularity
	return int(bit / bitsPerWord), 1 << (bit % bitsPerWord)
}

// SetBit marks the slot starting at addr quarantined. Setting a set bit is a no-op.
func (b *Bitmap) SetBit(addr uint64) {
	w, mask := b.index(addr)
	atomic.OrUint64(&b.words[w], mask)
}

// ClearBit unmarks the slot starting at addr.
func (b *Bitmap) ClearBit(addr uint64) {
	w, mask := b.index(addr)
	atomic.AndUint64(&b.words[w], ^mask)
}

// CheckBit reports whether the slot starting at addr is marked.
func (b *Bitmap) CheckBit(addr uint64) bool {
	w, mask := b.index(addr)
	return atomic.LoadUint64(&b.words[w])&mask != 0
}

// Iterate calls fn with the address of every set bit in ascending order.
// Each word is loaded once, so bits set or cleared by fn or by other goroutines
// in words already visited are not observed.
func (b *Bitmap) Iterate(fn func(addr uint64)) {
	for wi := range b.words {
		word := atomic.LoadUint64(&b.words[wi])
		for word != 0 {
			bit := uint64(wi)*bitsPerWord + uint64(bits.TrailingZeros64(word))
			fn(b.base + bit*Granularity)
			word &= word - 1
		}
	}
}

// IterateAndClear is Iterate, except that each word is atomically zeroed
// before its bits are visited. fn never sees its own bit still set.
func (b *Bitmap) IterateAndClear(fn func(addr uint64)) {
	for wi := range b.words {
		word := atomic.SwapUint64(&b.words[wi], 0)
		for word != 0 {
			bit := uint64(wi)*bitsPerWord + uint64(bits.TrailingZeros64(word))
			fn(b.base + bit*Granularity)
			word &= word - 1
		}
	}
}

// Count returns the number of set bits.
func (b *Bitmap) Count() int {
	n := 0
	for wi := range b.words {
		n += bits.OnesCount64(atomic.LoadUint64(&b.words[wi]))
	}
	return n
}

// Empty reports whether no bit is set.
func (b *Bitmap) Empty() bool {
	for wi := range b.words {
		if atomic.LoadUint64(&b.words[wi]) != 0 {
			return false
		}
	}
	return true
}

// Clear unmarks every slot.
func (b *Bitmap) Clear() {
	for wi := range b.words {
		atomic.StoreUint64(&b.words[wi], 0)
	}
}

// Package partition provides a slab/bucket allocator over super pages of anonymous memory.
//
// # Overview
//
// A Partition hands out fixed-size slots from slot spans. Slot spans are carved
// from 2 MiB super pages, and every super page is assigned an address from an
// AddressSpace: a pool of addresses aligned to its own size, so membership can be
// tested with a single mask. Addresses are synthetic 64-bit values; the bytes
// behind them live in memory mapped by internal/vmem and are reached through
// Bytes, LoadWord and StoreWord.
//
// # Super Page Layout
//
//	[0, 16K)        metadata partition page
//	[16K, 32K)      quarantine bitmap storage 0
//	[32K, 48K)      quarantine bitmap storage 1
//	[48K, 2M-16K)   payload (slot spans)
//	[2M-16K, 2M)    trailing guard partition page
//
// # Quarantine
//
// When a Quarantiner is installed, Free does not return the slot to its span.
// Instead the quarantiner records it (normally in the mutator quarantine bitmap)
// and the slot stays allocated until FreeNoHooksImmediate releases it. The
// pcscan package is the production Quarantiner.
//
// # Arena View
//
// ViewArena runs a callback with the partition lock held and exposes the super
// pages and slot spans, which is all a scanner needs to snapshot the heap.
//
// # Thread Safety
//
// With Options.ThreadSafe a Partition may be used from any number of goroutines.
// Without it, callers must serialize access externally.
package partition

// Package pcscan implements probabilistic conservative scanning of quarantined
// memory for a partition.
//
// # Overview
//
// A Scanner installs itself as the partition's Quarantiner. Freed slots are not
// returned to their span; instead their start address is recorded in the
// super page's mutator quarantine bitmap. When enough memory is quarantined
// (or when asked to), the scanner runs a scan task:
//
//  1. Snapshot: under the partition lock, advance the epoch (which swaps the
//     roles of the two bitmaps) and record the super pages and slot spans that
//     hold allocations.
//  2. Clear: zero the usable bytes of every quarantined slot, so pointers held
//     by quarantined objects keep nothing alive.
//  3. Scan: read every word of live memory. A word equal to an address inside
//     a quarantined slot keeps the slot quarantined for another round.
//  4. Sweep: release every slot still marked in the scanner bitmap through
//     Partition.FreeNoHooksImmediate, then clear the bitmap.
//  5. Account: report statistics and update the quarantine limit.
//
// At most one task runs per scanner. Triggers arriving during a scan are
// dropped, not queued.
//
// # Races
//
// The scan reads memory that application goroutines may be writing. A torn or
// stale word can only keep a slot quarantined longer; it cannot free a slot
// that is still referenced, because a slot is released only when no word seen
// during the scan pointed into it.
//
// # Usage
//
//	p, _ := partition.New(nil)
//	s, _ := pcscan.New(p, nil)
//	defer s.Close()
//
//	a, _ := p.Alloc(64)
//	_ = p.Free(a) // quarantined
//	s.ScheduleTask(pcscan.TaskBlocking) // a is swept unless referenced
package pcscan

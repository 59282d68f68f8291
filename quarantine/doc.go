// Package quarantine implements the per-super-page quarantine bitmaps.
//
// # Overview
//
// Every super page carries two physical bitmaps with one bit per possible slot
// start (16-byte granularity). Their logical roles, mutator and scanner, rotate
// each time the scan epoch advances:
//
//	storage index = (kind XOR epoch) & 1
//
// Mutator goroutines set bits in the mutator bitmap when objects are freed into
// quarantine. The scanner reads the frozen scanner bitmap, clears bits of objects
// it finds referenced (re-marking them in the mutator bitmap), and finally frees
// everything still set and clears the bitmap. The cleared bitmap becomes the
// mutator bitmap of the next epoch, so bitmap contents never need to be copied.
//
// # Thread Safety
//
// Bits of different slots may share a word and be touched by different goroutines,
// so every bit operation is an atomic read-modify-write on the containing word.
package quarantine

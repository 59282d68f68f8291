package buf

import "unsafe"

// unsafeBytes returns the byte view of an 8-byte aligned word slice.
func unsafeBytes(w []uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&w[0])), len(w)*WordSize)
}

package buf

import "unsafe"

// WordSize is the size of a scanned machine word.
const WordSize = 8

// Words reinterprets b as a slice of native-endian uint64 words. b must be 8-byte
// aligned and its length a multiple of WordSize; memory from vmem.Reserve always is.
// The result aliases b.
func Words(b []byte) []uint64 {
	if len(b) == 0 {
		return nil
	}
	if uintptr(unsafe.Pointer(&b[0]))%WordSize != 0 || len(b)%WordSize != 0 {
		panic("buf: word view over unaligned memory")
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), len(b)/WordSize)
}

package partition

import "errors"

var (
	// ErrTooLarge indicates a request larger than the largest bucketed slot.
	ErrTooLarge = errors.New("partition: allocation larger than max bucketed size")

	// ErrBadAddress indicates an address that is not an object start (or inner
	// pointer, where allowed) in this partition.
	ErrBadAddress = errors.New("partition: bad address")

	// ErrDoubleFree indicates a free of a slot that is already free or quarantined.
	ErrDoubleFree = errors.New("partition: double free")

	// ErrCookieCorrupted indicates a slot whose guard cookies were overwritten.
	ErrCookieCorrupted = errors.New("partition: cookie corrupted")

	// ErrOutOfAddressSpace indicates the address pool has no super pages left.
	ErrOutOfAddressSpace = errors.New("partition: address space exhausted")

	// ErrQuarantineUnsupported indicates quarantine cannot be enabled on this platform
	// or for this partition.
	ErrQuarantineUnsupported = errors.New("partition: quarantine not supported")

	// ErrClosed indicates use of a closed partition.
	ErrClosed = errors.New("partition: closed")

	// ErrBadConfig indicates invalid partition or address space options.
	ErrBadConfig = errors.New("partition: bad config")
)

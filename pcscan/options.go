package pcscan

import (
	"fmt"
	"log/slog"

	"github.com/joshuapare/starscan/partition"
)

// TaskType selects where a scan task runs.
type TaskType uint8

const (
	// TaskDefault runs the task on the Executor, or on a new goroutine when
	// there is none or it refuses the task.
	TaskDefault TaskType = iota
	// TaskBlocking runs the task on the calling goroutine. Intended for tests
	// and tools that need deterministic results.
	TaskBlocking
)

func (t TaskType) String() string {
	switch t {
	case TaskDefault:
		return "default"
	case TaskBlocking:
		return "blocking"
	default:
		return fmt.Sprintf("TaskType(%d)", uint8(t))
	}
}

// InvocationMode distinguishes opportunistic scans from memory pressure scans.
type InvocationMode uint8

const (
	// InvocationRegular scans only once the quarantine limit is exceeded.
	InvocationRegular InvocationMode = iota
	// InvocationForced always scans and purges the partition after sweeping.
	InvocationForced
)

func (m InvocationMode) String() string {
	switch m {
	case InvocationRegular:
		return "regular"
	case InvocationForced:
		return "forced"
	default:
		return fmt.Sprintf("InvocationMode(%d)", uint8(m))
	}
}

const (
	// DefaultMinQuarantineLimit is the smallest quarantine size that triggers a scan.
	DefaultMinQuarantineLimit = 1 << 20
	// DefaultQuarantineFraction is the share of committed memory the limit grows to.
	DefaultQuarantineFraction = 0.1
	// DefaultLargeScanAreaThreshold is the slot size from which spans are scanned
	// slot by slot, skipping quarantined slots.
	DefaultLargeScanAreaThreshold = 8 << 10
)

// Options configures a Scanner.
type Options struct {
	// Executor runs TaskDefault tasks. Nil means a new goroutine per task.
	Executor Executor

	// TaskType is used for scans triggered by the free path and PerformScan.
	TaskType TaskType

	// Reporter receives phase timings and quarantine statistics. Nil means none.
	Reporter Reporter

	// Logger receives debug output. Nil means logger.L.
	Logger *slog.Logger

	// MinQuarantineLimit is the floor of the quarantine limit in bytes.
	MinQuarantineLimit uint64

	// QuarantineFraction of committed memory becomes the limit when larger
	// than MinQuarantineLimit.
	QuarantineFraction float64

	// Filter cheaply rejects words that cannot point into the partition.
	// Nil means PoolFilter over the partition's address space.
	Filter AddressFilter

	// ProcessName, when set, adds histogram names to phase events.
	ProcessName string

	// LargeScanAreaThreshold is the slot size from which spans are scanned slot
	// by slot. Zero disables per-slot scanning.
	LargeScanAreaThreshold uint64
}

// DefaultOptions returns the scanner defaults.
func DefaultOptions() Options {
	return Options{
		TaskType:               TaskDefault,
		MinQuarantineLimit:     DefaultMinQuarantineLimit,
		QuarantineFraction:     DefaultQuarantineFraction,
		LargeScanAreaThreshold: DefaultLargeScanAreaThreshold,
	}
}

func (o Options) validate() error {
	if o.QuarantineFraction < 0 || o.QuarantineFraction > 1 {
		return fmt.Errorf("%w: QuarantineFraction %.2f outside [0, 1]", ErrBadOptions, o.QuarantineFraction)
	}
	if o.TaskType > TaskBlocking {
		return fmt.Errorf("%w: unknown %s", ErrBadOptions, o.TaskType)
	}
	if o.LargeScanAreaThreshold%partition.SlotAlignment != 0 {
		return fmt.Errorf("%w: LargeScanAreaThreshold %d not a multiple of %d",
			ErrBadOptions, o.LargeScanAreaThreshold, partition.SlotAlignment)
	}
	return nil
}

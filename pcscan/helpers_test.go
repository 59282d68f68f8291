package pcscan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/starscan/partition"
	"github.com/joshuapare/starscan/quarantine"
)

// newTestScanner creates a partition on a private address space with a
// blocking scanner attached. mutate may adjust both option sets.
func newTestScanner(t testing.TB, mutate func(po *partition.Options, so *Options)) (*partition.Partition, *Scanner, *Recorder) {
	t.Helper()

	space, err := partition.NewAddressSpace(0x6000_0000_0000, 1<<30)
	require.NoError(t, err)

	po := partition.DefaultOptions()
	po.Name = t.Name()
	po.AddressSpace = space

	rec := &Recorder{}
	so := DefaultOptions()
	so.TaskType = TaskBlocking
	so.Reporter = rec
	if mutate != nil {
		mutate(&po, &so)
	}

	p, err := partition.New(&po)
	require.NoError(t, err)
	s, err := New(p, &so)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, s.Close())
		require.NoError(t, p.Close())
	})
	return p, s, rec
}

func mustAlloc(t testing.TB, p *partition.Partition, size uint64) partition.Addr {
	t.Helper()
	a, err := p.Alloc(size)
	require.NoError(t, err)
	return a
}

// superPageOf returns the super page holding a.
func superPageOf(t testing.TB, p *partition.Partition, a partition.Addr) *partition.SuperPage {
	t.Helper()
	var found *partition.SuperPage
	require.NoError(t, p.ViewArena(func(v partition.ArenaView) {
		for _, sp := range v.SuperPages() {
			if sp.Base() == partition.SuperPageBase(a) {
				found = sp
			}
		}
	}))
	require.NotNil(t, found, "no super page for %#x", a)
	return found
}

// quarantined reports whether the slot of object a is marked in the bitmap
// playing kind in the scanner's current epoch.
func quarantined(t testing.TB, s *Scanner, a partition.Addr, kind quarantine.Kind) bool {
	t.Helper()
	slot := a - s.Partition().ObjectOffset()
	return superPageOf(t, s.Partition(), a).QuarantineBitmap(kind, s.Epoch()).CheckBit(slot)
}

// captureExecutor accepts tasks without running them.
type captureExecutor struct {
	mu    sync.Mutex
	tasks []func()
}

func (e *captureExecutor) Submit(task func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, task)
	return true
}

func (e *captureExecutor) runAll() int {
	e.mu.Lock()
	tasks := e.tasks
	e.tasks = nil
	e.mu.Unlock()
	for _, task := range tasks {
		task()
	}
	return len(tasks)
}

// refusingExecutor refuses every task.
type refusingExecutor struct{}

func (refusingExecutor) Submit(func()) bool { return false }

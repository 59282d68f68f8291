package partition

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/starscan/quarantine"
)

// ============================================================================
// Partition Creation Utilities
// ============================================================================

// newTestPartition creates a thread-safe partition on a private address space
// and closes it when the test ends.
func newTestPartition(t testing.TB, mutate func(o *Options)) *Partition {
	t.Helper()

	space, err := NewAddressSpace(0x2000_0000_0000, 1<<30)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Name = t.Name()
	opts.AddressSpace = space
	if mutate != nil {
		mutate(&opts)
	}
	p, err := New(&opts)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Close()) })
	return p
}

// mustAlloc allocates size bytes or fails the test.
func mustAlloc(t testing.TB, p *Partition, size uint64) Addr {
	t.Helper()
	a, err := p.Alloc(size)
	require.NoError(t, err)
	return a
}

// ============================================================================
// Quarantiner Fakes
// ============================================================================

// recordingQuarantiner sets the epoch-0 mutator bit for every freed slot and
// reports the limit once limit slots have been quarantined.
type recordingQuarantiner struct {
	p     *Partition
	limit int

	mu         sync.Mutex
	slots      []Addr
	limitCalls int
}

func (q *recordingQuarantiner) OnObjectFreed(sp *SuperPage, slot Addr, _ uint64) bool {
	sp.QuarantineBitmap(quarantine.Mutator, 0).SetBit(slot)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.slots = append(q.slots, slot)
	return q.limit > 0 && len(q.slots) >= q.limit
}

func (q *recordingQuarantiner) OnQuarantineLimit() {
	// Takes the partition lock; deadlocks if called with it held.
	_ = q.p.CommittedSize()
	q.mu.Lock()
	q.limitCalls++
	q.mu.Unlock()
}

func (q *recordingQuarantiner) quarantined() []Addr {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Addr(nil), q.slots...)
}

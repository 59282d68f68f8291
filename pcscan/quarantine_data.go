package pcscan

import "sync/atomic"

// quarantineData is the per-scanner quarantine bookkeeping.
//
// epoch only changes under the partition lock, together with the snapshot, so
// the free path (which also runs under that lock) always marks the bitmap the
// next scan will read.
type quarantineData struct {
	epoch    atomic.Uint64
	current  atomic.Uint64 // bytes quarantined since the last epoch advance
	last     atomic.Uint64 // current at the last epoch advance
	limit    atomic.Uint64
	minLimit uint64
	fraction float64
}

func newQuarantineData(minLimit uint64, fraction float64) *quarantineData {
	q := &quarantineData{minLimit: minLimit, fraction: fraction}
	q.limit.Store(minLimit)
	return q
}

func (q *quarantineData) account(size uint64) {
	q.current.Add(size)
}

func (q *quarantineData) resetAndAdvanceEpoch() uint64 {
	q.last.Store(q.current.Swap(0))
	return q.epoch.Add(1)
}

// growLimitIfNeeded sets the limit to fraction of heapSize, never below the
// minimum. heapSize includes the quarantine itself, which leaves some slack.
func (q *quarantineData) growLimitIfNeeded(heapSize uint64) {
	q.limit.Store(max(q.minLimit, uint64(q.fraction*float64(heapSize))))
}

func (q *quarantineData) thresholdReached() bool {
	return q.current.Load() > q.limit.Load()
}

package partition

// ArenaView exposes a partition's super pages while its lock is held.
// It must not escape the ViewArena callback.
type ArenaView struct {
	p *Partition
}

// SuperPages returns the partition's super pages in ascending address order.
func (v ArenaView) SuperPages() []*SuperPage {
	return *v.p.pages.Load()
}

// CommittedSize returns the committed bytes of the partition.
func (v ArenaView) CommittedSize() uint64 {
	return v.p.committed
}

// ViewArena runs fn with the partition lock held. fn must not call other
// Partition methods.
func (p *Partition) ViewArena(fn func(v ArenaView)) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return ErrClosed
	}
	fn(ArenaView{p: p})
	return nil
}

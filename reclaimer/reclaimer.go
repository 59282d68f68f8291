// Package reclaimer periodically returns unused partition memory to the OS.
//
// Each reclaim first lets a registered scanner run (when its quarantine limit
// is exceeded) and waits for it, so slots the scan sweeps are purged in the
// same pass.
package reclaimer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joshuapare/starscan/internal/logger"
	"github.com/joshuapare/starscan/partition"
	"github.com/joshuapare/starscan/pcscan"
)

// DefaultInterval is the time between two reclaims.
const DefaultInterval = 4 * time.Second

// Options configures a Reclaimer.
type Options struct {
	Interval time.Duration
	Flags    partition.PurgeFlags
	Logger   *slog.Logger
}

// DefaultOptions purges both empty spans and unused pages every DefaultInterval.
func DefaultOptions() Options {
	return Options{
		Interval: DefaultInterval,
		Flags:    partition.PurgeDecommitEmptySlotSpans | partition.PurgeDiscardUnusedSystemPages,
	}
}

type target struct {
	p *partition.Partition
	s *pcscan.Scanner // may be nil
}

// Reclaimer purges registered partitions. Safe for concurrent use.
type Reclaimer struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	targets map[int]target
	nextID  int
	total   uint64
}

// New creates a reclaimer. A nil opts means DefaultOptions.
func New(opts *Options) *Reclaimer {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	return &Reclaimer{
		opts:    o,
		log:     logger.Or(o.Logger),
		targets: make(map[int]target),
	}
}

// Register adds p to the reclaim set. When s is non-nil, reclaims are ordered
// after s's scan. The returned function unregisters p.
func (r *Reclaimer) Register(p *partition.Partition, s *pcscan.Scanner) (unregister func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.targets[id] = target{p: p, s: s}
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.targets, id)
		r.mu.Unlock()
	}
}

// ReclaimOnce runs one reclaim pass and returns the bytes released.
func (r *Reclaimer) ReclaimOnce(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	targets := make([]target, 0, len(r.targets))
	for _, t := range r.targets {
		targets = append(targets, t)
	}
	r.mu.Unlock()

	var released uint64
	for _, t := range targets {
		if t.s != nil {
			t.s.PerformScanIfNeeded(pcscan.InvocationRegular)
			if err := t.s.Wait(ctx); err != nil {
				return released, err
			}
		}
		n := t.p.PurgeMemory(r.opts.Flags)
		if n > 0 {
			r.log.Debug("reclaimed", "partition", t.p.Name(), "bytes", n)
		}
		released += n
	}

	r.mu.Lock()
	r.total += released
	r.mu.Unlock()
	return released, nil
}

// Total returns the bytes released since the reclaimer was created.
func (r *Reclaimer) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Run reclaims every Interval until ctx is done. It returns nil on cancellation.
func (r *Reclaimer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.ReclaimOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

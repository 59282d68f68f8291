package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joshuapare/starscan/internal/logger"
	"github.com/joshuapare/starscan/partition"
	"github.com/joshuapare/starscan/pcscan"
	"github.com/joshuapare/starscan/reclaimer"
)

// simConfig configures one simulation.
type simConfig struct {
	Workload        workloadConfig `json:"workload"`
	Workers         int            `json:"workers"` // 0 scans inline on the freeing goroutine
	Cookies         bool           `json:"cookies"`
	MinLimit        uint64         `json:"min_limit"`
	Fraction        float64        `json:"fraction"`
	ProcessName     string         `json:"process_name,omitempty"`
	ReclaimInterval time.Duration  `json:"reclaim_interval"` // 0 reclaims only at the end
}

func defaultSimConfig() simConfig {
	return simConfig{
		Workload: defaultWorkloadConfig(),
		MinLimit: 256 << 10,
		Fraction: pcscan.DefaultQuarantineFraction,
	}
}

// simulation wires a partition, its scanner and a reclaimer to a mutator.
type simulation struct {
	cfg   simConfig
	p     *partition.Partition
	s     *pcscan.Scanner
	rec   *pcscan.Recorder
	pool  *pcscan.WorkerPool
	recl  *reclaimer.Reclaimer
	mut   *mutator
	round int

	cancel context.CancelFunc
	runErr chan error
}

func newSimulation(cfg simConfig) (*simulation, error) {
	if err := cfg.Workload.validate(); err != nil {
		return nil, err
	}

	po := partition.DefaultOptions()
	po.Name = "pcscanctl"
	po.Cookies = cfg.Cookies
	p, err := partition.New(&po)
	if err != nil {
		return nil, fmt.Errorf("create partition: %w", err)
	}

	sim := &simulation{cfg: cfg, p: p, rec: &pcscan.Recorder{}}

	so := pcscan.DefaultOptions()
	so.Reporter = sim.rec
	so.MinQuarantineLimit = cfg.MinLimit
	so.QuarantineFraction = cfg.Fraction
	so.ProcessName = cfg.ProcessName
	if cfg.Workers > 0 {
		sim.pool = pcscan.NewWorkerPool(cfg.Workers, cfg.Workers)
		so.Executor = sim.pool
	} else {
		so.TaskType = pcscan.TaskBlocking
	}
	sim.s, err = pcscan.New(p, &so)
	if err != nil {
		sim.close()
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	ro := reclaimer.DefaultOptions()
	if cfg.ReclaimInterval > 0 {
		ro.Interval = cfg.ReclaimInterval
	}
	sim.recl = reclaimer.New(&ro)
	sim.recl.Register(p, sim.s)
	if cfg.ReclaimInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		sim.cancel = cancel
		sim.runErr = make(chan error, 1)
		go func() { sim.runErr <- sim.recl.Run(ctx) }()
	}

	sim.mut = newMutator(p, sim.s, cfg.Workload)
	logger.Debug("simulation started",
		"rounds", cfg.Workload.Rounds,
		"workers", cfg.Workers,
		"min_limit", cfg.MinLimit,
	)
	return sim, nil
}

// done reports whether every workload round has run.
func (sim *simulation) done() bool { return sim.round >= sim.cfg.Workload.Rounds }

// step runs one mutator round.
func (sim *simulation) step() error {
	if sim.done() {
		return nil
	}
	if err := sim.mut.round(); err != nil {
		return fmt.Errorf("round %d: %w", sim.round, err)
	}
	sim.round++
	return nil
}

// finish frees the remaining objects, forces a final scan, reclaims and
// returns the summary.
func (sim *simulation) finish(ctx context.Context) (simSummary, error) {
	if err := sim.s.Wait(ctx); err != nil {
		return simSummary{}, err
	}
	if err := sim.mut.drain(); err != nil {
		return simSummary{}, err
	}
	// A scan started by drain or the reclaimer refuses the forced one until
	// it finishes.
	for range 3 {
		if err := sim.s.Wait(ctx); err != nil {
			return simSummary{}, err
		}
		if sim.s.PerformScanIfNeeded(pcscan.InvocationForced) {
			break
		}
	}
	if err := sim.s.Wait(ctx); err != nil {
		return simSummary{}, err
	}
	reclaimed, err := sim.recl.ReclaimOnce(ctx)
	if err != nil {
		return simSummary{}, err
	}
	logger.Debug("simulation finished", "rounds", sim.round, "reclaimed", reclaimed)
	return sim.summary(), nil
}

// close releases everything. Safe to call more than once.
func (sim *simulation) close() error {
	var errs []error
	if sim.cancel != nil {
		sim.cancel()
		if err := <-sim.runErr; err != nil {
			errs = append(errs, err)
		}
		sim.cancel = nil
	}
	if sim.s != nil {
		errs = append(errs, sim.s.Close())
	}
	if sim.pool != nil {
		sim.pool.Close()
		sim.pool = nil
	}
	if err := sim.p.Close(); err != nil && !errors.Is(err, partition.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

package main

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"github.com/joshuapare/starscan/partition"
	"github.com/joshuapare/starscan/pcscan"
)

// workloadConfig shapes the synthetic mutator.
type workloadConfig struct {
	Rounds         int     `json:"rounds"`
	AllocsPerRound int     `json:"allocs_per_round"`
	MinSize        uint64  `json:"min_size"`
	MaxSize        uint64  `json:"max_size"`
	FreeRatio      float64 `json:"free_ratio"`     // share of live objects freed per round
	DanglingRatio  float64 `json:"dangling_ratio"` // share of frees that keep their root reference
	LinkRatio      float64 `json:"link_ratio"`     // share of new objects pointing at another live object
	Roots          int     `json:"roots"`
	Seed           uint64  `json:"seed"`
}

func defaultWorkloadConfig() workloadConfig {
	return workloadConfig{
		Rounds:         200,
		AllocsPerRound: 512,
		MinSize:        16,
		MaxSize:        4096,
		FreeRatio:      0.4,
		DanglingRatio:  0.05,
		LinkRatio:      0.3,
		Roots:          256,
		Seed:           1,
	}
}

func (c workloadConfig) validate() error {
	switch {
	case c.Rounds <= 0:
		return fmt.Errorf("rounds must be positive, got %d", c.Rounds)
	case c.AllocsPerRound <= 0:
		return fmt.Errorf("allocs per round must be positive, got %d", c.AllocsPerRound)
	case c.MinSize < 8:
		return fmt.Errorf("min size must hold a pointer (>= 8), got %d", c.MinSize)
	case c.MaxSize < c.MinSize:
		return fmt.Errorf("max size %d below min size %d", c.MaxSize, c.MinSize)
	case c.Roots <= 0:
		return fmt.Errorf("roots must be positive, got %d", c.Roots)
	}
	for name, r := range map[string]float64{
		"free ratio":     c.FreeRatio,
		"dangling ratio": c.DanglingRatio,
		"link ratio":     c.LinkRatio,
	} {
		if r < 0 || r > 1 {
			return fmt.Errorf("%s %.2f outside [0, 1]", name, r)
		}
	}
	return nil
}

// workloadStats counts what the mutator did.
type workloadStats struct {
	Allocs   uint64 `json:"allocs"`
	Frees    uint64 `json:"frees"`
	Dangling uint64 `json:"dangling"` // frees that left a root pointing at the object
	Links    uint64 `json:"links"`
	Live     int    `json:"live"`
}

// mutator allocates, links and frees objects. Its root slots are registered
// with the scanner, so objects freed while a root still points at them are
// kept in quarantine.
type mutator struct {
	p   *partition.Partition
	cfg workloadConfig
	rng *rand.Rand

	roots       []uint64
	removeRoots func()
	rootOf      map[partition.Addr]int
	live        []partition.Addr
	stats       workloadStats
}

func newMutator(p *partition.Partition, s *pcscan.Scanner, cfg workloadConfig) *mutator {
	m := &mutator{
		p:      p,
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		roots:  make([]uint64, cfg.Roots),
		rootOf: make(map[partition.Addr]int),
	}
	m.removeRoots = s.AddRoot(m.roots)
	return m
}

// round allocates AllocsPerRound objects and then frees FreeRatio of the live set.
func (m *mutator) round() error {
	for range m.cfg.AllocsPerRound {
		if err := m.allocOne(); err != nil {
			return err
		}
	}
	frees := int(float64(len(m.live)) * m.cfg.FreeRatio)
	for range frees {
		if err := m.freeOne(); err != nil {
			return err
		}
	}
	m.stats.Live = len(m.live)
	return nil
}

func (m *mutator) allocOne() error {
	size := m.cfg.MinSize
	if span := m.cfg.MaxSize - m.cfg.MinSize; span > 0 {
		size += m.rng.Uint64N(span + 1)
	}
	obj, err := m.p.Alloc(size)
	if err != nil {
		return fmt.Errorf("alloc %d bytes: %w", size, err)
	}
	m.stats.Allocs++

	if len(m.live) > 0 && m.rng.Float64() < m.cfg.LinkRatio {
		target := m.live[m.rng.IntN(len(m.live))]
		if err := m.p.StoreWord(obj, target); err != nil {
			return fmt.Errorf("link %#x -> %#x: %w", obj, target, err)
		}
		m.stats.Links++
	}

	i := m.rng.IntN(len(m.roots))
	if prev := atomic.LoadUint64(&m.roots[i]); prev != 0 {
		delete(m.rootOf, prev)
	}
	atomic.StoreUint64(&m.roots[i], obj)
	m.rootOf[obj] = i

	m.live = append(m.live, obj)
	return nil
}

func (m *mutator) freeOne() error {
	i := m.rng.IntN(len(m.live))
	obj := m.live[i]
	m.live[i] = m.live[len(m.live)-1]
	m.live = m.live[:len(m.live)-1]

	if idx, ok := m.rootOf[obj]; ok {
		delete(m.rootOf, obj)
		if m.rng.Float64() < m.cfg.DanglingRatio {
			m.stats.Dangling++
		} else {
			atomic.StoreUint64(&m.roots[idx], 0)
		}
	}

	if err := m.p.Free(obj); err != nil {
		return fmt.Errorf("free %#x: %w", obj, err)
	}
	m.stats.Frees++
	return nil
}

// drain frees every live object and drops the roots.
func (m *mutator) drain() error {
	m.removeRoots()
	for i := range m.roots {
		atomic.StoreUint64(&m.roots[i], 0)
	}
	clear(m.rootOf)

	var errs []error
	for _, obj := range m.live {
		if err := m.p.Free(obj); err != nil && !errors.Is(err, partition.ErrClosed) {
			errs = append(errs, fmt.Errorf("free %#x: %w", obj, err))
			continue
		}
		m.stats.Frees++
	}
	m.live = m.live[:0]
	m.stats.Live = 0
	return errors.Join(errs...)
}

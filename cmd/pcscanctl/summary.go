package main

import (
	"time"

	"github.com/aclements/go-moremath/stats"
	"github.com/joshuapare/starscan/partition"
	"github.com/joshuapare/starscan/pcscan"
)

// phaseSummary aggregates the durations of one phase over all scans.
type phaseSummary struct {
	Phase         string        `json:"phase"`
	TraceName     string        `json:"trace_name"`
	HistogramName string        `json:"histogram_name,omitempty"`
	Count         int           `json:"count"`
	Mean          time.Duration `json:"mean_ns"`
	P50           time.Duration `json:"p50_ns"`
	P99           time.Duration `json:"p99_ns"`
	Max           time.Duration `json:"max_ns"`
}

// simSummary is the result of a simulation.
type simSummary struct {
	Config    simConfig       `json:"config"`
	Rounds    int             `json:"rounds"`
	Workload  workloadStats   `json:"workload"`
	Partition partition.Stats `json:"partition"`

	Scans          int     `json:"scans"`
	ForcedScans    int     `json:"forced_scans"`
	Epoch          uint64  `json:"epoch"`
	ScannedBytes   uint64  `json:"scanned_quarantine_bytes"` // sum of quarantine sizes at scan start
	SweptBytes     uint64  `json:"swept_bytes"`
	MeanSurvival   float64 `json:"mean_survival_rate"`
	QuarantineSize uint64  `json:"quarantine_size"`
	QuarantineLim  uint64  `json:"quarantine_limit"`
	Reclaimed      uint64  `json:"reclaimed_bytes"`

	Phases []phaseSummary `json:"phases"`
}

func (sim *simulation) summary() simSummary {
	reports := sim.rec.Reports()
	sum := simSummary{
		Config:         sim.cfg,
		Rounds:         sim.round,
		Workload:       sim.mut.stats,
		Partition:      sim.p.Stats(),
		Scans:          len(reports),
		Epoch:          sim.s.Epoch(),
		QuarantineSize: sim.s.QuarantineSize(),
		QuarantineLim:  sim.s.QuarantineLimit(),
		Reclaimed:      sim.recl.Total(),
		Phases:         summarizePhases(sim.rec.Phases()),
	}

	rates := make([]float64, 0, len(reports))
	for _, r := range reports {
		if r.Mode == pcscan.InvocationForced {
			sum.ForcedScans++
		}
		sum.ScannedBytes += r.LastSize
		sum.SweptBytes += r.SweptBytes
		if r.LastSize > 0 {
			rates = append(rates, r.SurvivalRate)
		}
	}
	if len(rates) > 0 {
		sum.MeanSurvival = stats.Mean(rates)
	}
	return sum
}

// summarizePhases groups events by phase, in phase order.
func summarizePhases(events []pcscan.PhaseEvent) []phaseSummary {
	byPhase := make(map[pcscan.PhaseID][]pcscan.PhaseEvent)
	for _, e := range events {
		byPhase[e.Phase] = append(byPhase[e.Phase], e)
	}

	var out []phaseSummary
	for _, id := range []pcscan.PhaseID{pcscan.PhaseClear, pcscan.PhaseScan, pcscan.PhaseSweep, pcscan.PhaseOverall} {
		group := byPhase[id]
		if len(group) == 0 {
			continue
		}
		xs := make([]float64, len(group))
		for i, e := range group {
			xs[i] = float64(e.Duration())
		}
		sample := stats.Sample{Xs: xs}
		sample.Sort()
		_, maxNs := sample.Bounds()
		out = append(out, phaseSummary{
			Phase:         id.String(),
			TraceName:     group[0].TraceName,
			HistogramName: group[0].HistogramName,
			Count:         len(group),
			Mean:          time.Duration(sample.Mean()),
			P50:           time.Duration(sample.Quantile(0.5)),
			P99:           time.Duration(sample.Quantile(0.99)),
			Max:           time.Duration(maxNs),
		})
	}
	return out
}

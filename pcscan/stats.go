package pcscan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PhaseID identifies a timed scanner phase.
type PhaseID uint8

const (
	PhaseClear PhaseID = iota
	PhaseScan
	PhaseSweep
	PhaseOverall

	numPhases
)

func (id PhaseID) String() string {
	switch id {
	case PhaseClear:
		return "Clear"
	case PhaseScan:
		return "Scan"
	case PhaseSweep:
		return "Sweep"
	case PhaseOverall:
		return "Overall"
	default:
		return fmt.Sprintf("PhaseID(%d)", uint8(id))
	}
}

// TraceName returns the trace event name of the phase.
func (id PhaseID) TraceName() string {
	if id == PhaseOverall {
		return "PCScan.Scanner"
	}
	return "PCScan.Scanner." + id.String()
}

// HistogramName returns the per-process histogram name of the phase, or "" when
// process is empty.
func (id PhaseID) HistogramName(process string) string {
	if process == "" {
		return ""
	}
	if id == PhaseOverall {
		return "PA.PCScan." + process + ".Scanner"
	}
	return "PA.PCScan." + process + ".Scanner." + id.String()
}

// PhaseEvent is the timing of one phase of one scan.
type PhaseEvent struct {
	Partition     string
	Epoch         uint64
	Phase         PhaseID
	TraceName     string
	HistogramName string // empty unless Options.ProcessName is set
	Start         time.Time
	End           time.Time
}

// Duration returns End - Start.
func (e PhaseEvent) Duration() time.Duration { return e.End.Sub(e.Start) }

// QuarantineReport summarizes the quarantine after one scan.
type QuarantineReport struct {
	Partition    string
	Epoch        uint64
	Mode         InvocationMode
	LastSize     uint64 // bytes quarantined when the scan started
	NewSize      uint64 // bytes still quarantined after the scan
	SweptBytes   uint64
	SurvivalRate float64
}

// SurvivalRate returns newSize/lastSize, or 0 when lastSize is 0.
func SurvivalRate(lastSize, newSize uint64) float64 {
	if lastSize == 0 {
		return 0
	}
	return float64(newSize) / float64(lastSize)
}

// Reporter receives scan statistics once per scan, after sweeping. Calls for
// one scanner never overlap.
type Reporter interface {
	ReportPhase(e PhaseEvent)
	ReportQuarantine(r QuarantineReport)
}

// NopReporter discards everything.
type NopReporter struct{}

func (NopReporter) ReportPhase(PhaseEvent)            {}
func (NopReporter) ReportQuarantine(QuarantineReport) {}

// LogReporter writes statistics to a structured logger.
type LogReporter struct {
	Logger *slog.Logger
	Level  slog.Level
}

// ReportPhase logs the phase duration.
func (r LogReporter) ReportPhase(e PhaseEvent) {
	r.Logger.Log(context.Background(), r.Level, e.TraceName,
		"partition", e.Partition,
		"epoch", e.Epoch,
		"duration", e.Duration(),
	)
}

// ReportQuarantine logs the quarantine summary.
func (r LogReporter) ReportQuarantine(q QuarantineReport) {
	r.Logger.Log(context.Background(), r.Level, "PCScan.Quarantine",
		"partition", q.Partition,
		"epoch", q.Epoch,
		"mode", q.Mode.String(),
		"last_size", q.LastSize,
		"new_size", q.NewSize,
		"swept", q.SweptBytes,
		"survival_rate", q.SurvivalRate,
	)
}

// Recorder keeps every report in memory. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	phases  []PhaseEvent
	reports []QuarantineReport
}

// ReportPhase records e.
func (r *Recorder) ReportPhase(e PhaseEvent) {
	r.mu.Lock()
	r.phases = append(r.phases, e)
	r.mu.Unlock()
}

// ReportQuarantine records q.
func (r *Recorder) ReportQuarantine(q QuarantineReport) {
	r.mu.Lock()
	r.reports = append(r.reports, q)
	r.mu.Unlock()
}

// Phases returns a copy of the recorded phase events.
func (r *Recorder) Phases() []PhaseEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PhaseEvent(nil), r.phases...)
}

// Reports returns a copy of the recorded quarantine reports.
func (r *Recorder) Reports() []QuarantineReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]QuarantineReport(nil), r.reports...)
}

// Last returns the most recent quarantine report.
func (r *Recorder) Last() (QuarantineReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reports) == 0 {
		return QuarantineReport{}, false
	}
	return r.reports[len(r.reports)-1], true
}

// statsCollector accumulates one task's timings and sizes. Phase events are
// buffered and reported after the scan so reporters never run mid-scan.
type statsCollector struct {
	starts   [numPhases]time.Time
	ends     [numPhases]time.Time
	survived uint64
	swept    uint64
}

func (c *statsCollector) begin(id PhaseID) { c.starts[id] = time.Now() }
func (c *statsCollector) end(id PhaseID)   { c.ends[id] = time.Now() }

func (c *statsCollector) events(partitionName, process string, epoch uint64) []PhaseEvent {
	events := make([]PhaseEvent, 0, numPhases)
	for id := range numPhases {
		if c.starts[id].IsZero() {
			continue
		}
		events = append(events, PhaseEvent{
			Partition:     partitionName,
			Epoch:         epoch,
			Phase:         id,
			TraceName:     id.TraceName(),
			HistogramName: id.HistogramName(process),
			Start:         c.starts[id],
			End:           c.ends[id],
		})
	}
	return events
}

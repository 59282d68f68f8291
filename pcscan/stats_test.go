package pcscan

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPhaseNames(t *testing.T) {
	require.Equal(t, "PCScan.Scanner.Sweep", PhaseSweep.TraceName())
	require.Equal(t, "PCScan.Scanner", PhaseOverall.TraceName())
	require.Empty(t, PhaseScan.HistogramName(""))
	require.Equal(t, "PA.PCScan.Browser.Scanner.Scan", PhaseScan.HistogramName("Browser"))
	require.Equal(t, "PhaseID(9)", PhaseID(9).String())
}

func TestStatsCollectorSkipsUnstartedPhases(t *testing.T) {
	var c statsCollector
	c.begin(PhaseClear)
	c.end(PhaseClear)

	events := c.events("p", "", 3)
	require.Len(t, events, 1)
	require.Equal(t, PhaseClear, events[0].Phase)
	require.Equal(t, uint64(3), events[0].Epoch)
	require.GreaterOrEqual(t, events[0].Duration(), time.Duration(0))
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	r := LogReporter{Logger: slog.New(slog.NewTextHandler(&buf, nil)), Level: slog.LevelInfo}

	now := time.Now()
	r.ReportPhase(PhaseEvent{Partition: "p", Epoch: 2, Phase: PhaseScan, TraceName: PhaseScan.TraceName(), Start: now, End: now.Add(time.Millisecond)})
	r.ReportQuarantine(QuarantineReport{Partition: "p", Epoch: 2, LastSize: 64, NewSize: 16, SweptBytes: 48, SurvivalRate: 0.25})

	out := buf.String()
	require.Contains(t, out, "PCScan.Scanner.Scan")
	require.Contains(t, out, "duration=1ms")
	require.Contains(t, out, "survival_rate=0.25")
	require.Contains(t, out, "mode=regular")
}

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// smallSimConfig scans inline and never reaches the quarantine limit on its
// own, so tests decide when scans run.
func smallSimConfig() simConfig {
	cfg := defaultSimConfig()
	cfg.Workload.Rounds = 2
	cfg.Workload.AllocsPerRound = 64
	cfg.Workload.MaxSize = 512
	cfg.Workload.Roots = 1024
	cfg.MinLimit = 1 << 30
	cfg.Fraction = 0
	return cfg
}

func newTestSimulation(t *testing.T, cfg simConfig) *simulation {
	t.Helper()
	sim, err := newSimulation(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, sim.close()) })
	return sim
}

// captureStdout redirects command output for the duration of the test.
func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

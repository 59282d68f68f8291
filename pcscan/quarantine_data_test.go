package pcscan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuarantineData(t *testing.T) {
	q := newQuarantineData(100, 0.1)
	require.Equal(t, uint64(100), q.limit.Load())

	q.account(60)
	q.account(40)
	require.False(t, q.thresholdReached(), "limit is exclusive")
	q.account(1)
	require.True(t, q.thresholdReached())

	require.Equal(t, uint64(1), q.resetAndAdvanceEpoch())
	require.Equal(t, uint64(101), q.last.Load())
	require.Zero(t, q.current.Load())
	require.Equal(t, uint64(2), q.resetAndAdvanceEpoch())
	require.Zero(t, q.last.Load())

	q.growLimitIfNeeded(500)
	require.Equal(t, uint64(100), q.limit.Load())
	q.growLimitIfNeeded(10_000)
	require.Equal(t, uint64(1000), q.limit.Load())
	q.growLimitIfNeeded(0)
	require.Equal(t, uint64(100), q.limit.Load(), "limit follows the heap down to the floor")
}

func TestSurvivalRate(t *testing.T) {
	require.Zero(t, SurvivalRate(0, 0))
	require.Zero(t, SurvivalRate(0, 64))
	require.InDelta(t, 0.25, SurvivalRate(64, 16), 1e-9)
	require.InDelta(t, 1.0, SurvivalRate(64, 64), 1e-9)
}

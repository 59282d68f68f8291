package buf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddOverflowSafe(t *testing.T) {
	v, ok := AddOverflowSafe(1, 2)
	require.True(t, ok)
	require.Equal(t, uint64(3), v)

	_, ok = AddOverflowSafe(math.MaxUint64, 1)
	require.False(t, ok)
}

func TestWithin(t *testing.T) {
	tests := []struct {
		name       string
		off, n     uint64
		begin, end uint64
		want       bool
	}{
		{"inside", 10, 5, 0, 100, true},
		{"exact", 0, 100, 0, 100, true},
		{"empty at end", 100, 0, 0, 100, true},
		{"before begin", 5, 1, 10, 100, false},
		{"past end", 96, 8, 0, 100, false},
		{"overflow", math.MaxUint64 - 1, 8, 0, math.MaxUint64, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Within(tt.off, tt.n, tt.begin, tt.end))
		})
	}
}

func TestAlign(t *testing.T) {
	require.Equal(t, uint64(4096), AlignUp(1, 4096))
	require.Equal(t, uint64(4096), AlignUp(4096, 4096))
	require.Equal(t, uint64(0), AlignDown(4095, 4096))
	require.Equal(t, uint64(8192), AlignDown(8193, 4096))
}

func TestSlice(t *testing.T) {
	b := make([]byte, 16)
	s, ok := Slice(b, 4, 8)
	require.True(t, ok)
	require.Len(t, s, 8)

	_, ok = Slice(b, 12, 8)
	require.False(t, ok)
}

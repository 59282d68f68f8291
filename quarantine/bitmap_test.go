package quarantine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testBase = 0x1000_0000_0000

func newTestBitmap(t *testing.T, regionSize uint64) *Bitmap {
	t.Helper()
	return New(testBase, make([]uint64, WordsFor(regionSize)))
}

func TestStorageIndexRotates(t *testing.T) {
	for epoch := uint64(0); epoch < 6; epoch++ {
		m := StorageIndex(Mutator, epoch)
		s := StorageIndex(Scanner, epoch)
		require.NotEqual(t, m, s, "epoch %d", epoch)

		// The mutator storage of one epoch is the scanner storage of the next.
		require.Equal(t, m, StorageIndex(Scanner, epoch+1), "epoch %d", epoch)
	}
}

func TestSetCheckClear(t *testing.T) {
	b := newTestBitmap(t, 4096)
	addr := uint64(testBase + 3*Granularity)

	require.False(t, b.CheckBit(addr))
	b.SetBit(addr)
	require.True(t, b.CheckBit(addr))

	// Idempotent.
	b.SetBit(addr)
	require.Equal(t, 1, b.Count())

	b.ClearBit(addr)
	require.False(t, b.CheckBit(addr))
	require.True(t, b.Empty())
}

func TestIterateAscending(t *testing.T) {
	b := newTestBitmap(t, 64*1024)
	want := []uint64{
		testBase,
		testBase + 63*Granularity,
		testBase + 64*Granularity,
		testBase + 1000*Granularity,
		b.Limit() - Granularity,
	}
	for i := len(want) - 1; i >= 0; i-- {
		b.SetBit(want[i])
	}

	var got []uint64
	b.Iterate(func(addr uint64) { got = append(got, addr) })
	require.Equal(t, want, got)
}

func TestIterateToleratesClearingVisitor(t *testing.T) {
	b := newTestBitmap(t, 4096)
	for i := uint64(0); i < 10; i++ {
		b.SetBit(testBase + i*Granularity)
	}

	visited := 0
	b.Iterate(func(addr uint64) {
		visited++
		b.ClearBit(addr)
	})
	require.Equal(t, 10, visited)
	require.True(t, b.Empty())
}

func TestIterateAndClear(t *testing.T) {
	b := newTestBitmap(t, 1<<20)
	want := []uint64{testBase, testBase + 16, testBase + 64*Granularity, testBase + 5000*Granularity}
	for _, a := range want {
		b.SetBit(a)
	}

	var got []uint64
	b.IterateAndClear(func(a uint64) {
		require.False(t, b.CheckBit(a), "bit of %#x still set while visited", a)
		got = append(got, a)
	})
	require.Equal(t, want, got)
	require.True(t, b.Empty())
}

func TestClear(t *testing.T) {
	b := newTestBitmap(t, 8192)
	for i := uint64(0); i < 100; i += 7 {
		b.SetBit(testBase + i*Granularity)
	}
	require.False(t, b.Empty())

	b.Clear()
	require.True(t, b.Empty())
	require.Equal(t, 0, b.Count())
}

func TestOutOfRangePanics(t *testing.T) {
	b := newTestBitmap(t, 4096)
	require.Panics(t, func() { b.SetBit(testBase - Granularity) })
	require.Panics(t, func() { b.CheckBit(b.Limit()) })
	require.Panics(t, func() { b.ClearBit(testBase + 1) })
}

func TestConcurrentBitsInSameWord(t *testing.T) {
	b := newTestBitmap(t, 4096)

	// 64 goroutines each own one bit of the first word.
	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := testBase + uint64(i)*Granularity
			for range 1000 {
				b.SetBit(addr)
				b.ClearBit(addr)
			}
			b.SetBit(addr)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 64, b.Count())
}

func TestKindString(t *testing.T) {
	require.Equal(t, "mutator", Mutator.String())
	require.Equal(t, "scanner", Scanner.String())
	require.Equal(t, "Kind(7)", Kind(7).String())
}

func BenchmarkCheckBit(b *testing.B) {
	bm := New(testBase, make([]uint64, WordsFor(2<<20)))
	bm.SetBit(testBase + 4096)

	b.ReportAllocs()
	b.ResetTimer()
	for i := range b.N {
		_ = bm.CheckBit(testBase + uint64(i%8192)*Granularity)
	}
}

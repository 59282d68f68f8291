package partition

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/starscan/internal/vmem"
	"github.com/joshuapare/starscan/quarantine"
)

func Test_Partition_AllocBasics(t *testing.T) {
	p := newTestPartition(t, nil)

	a := mustAlloc(t, p, 16)
	b := mustAlloc(t, p, 16)

	require.True(t, p.AddressSpace().Contains(a))
	require.Zero(t, a%SlotAlignment)
	require.Equal(t, uint64(16), b-a, "consecutive slots of the same span")

	off := a & SuperPageOffsetMask
	require.GreaterOrEqual(t, off, uint64(PayloadOffset))
	require.Less(t, off, uint64(PayloadEnd))

	usable, err := p.UsableSize(a)
	require.NoError(t, err)
	require.Equal(t, uint64(16), usable)

	st := p.Stats()
	require.Equal(t, 1, st.SuperPages)
	require.Equal(t, 1, st.SlotSpans)
	require.Equal(t, uint64(2), st.Allocs)
	require.Equal(t, uint64(32), st.AllocatedBytes)
	require.Equal(t, uint64(SuperPageSize), st.CommittedBytes)
}

func Test_Partition_SizeClassRounding(t *testing.T) {
	p := newTestPartition(t, nil)

	tests := []struct {
		size   uint64
		usable uint64
	}{
		{0, 16},
		{1, 16},
		{17, 32},
		{256, 256},
		{257, 384},
		{MaxBucketedSize, MaxBucketedSize},
	}
	for _, tt := range tests {
		a := mustAlloc(t, p, tt.size)
		usable, err := p.UsableSize(a)
		require.NoError(t, err)
		assert.Equal(t, tt.usable, usable, "size %d", tt.size)
	}

	_, err := p.Alloc(MaxBucketedSize + 1)
	require.ErrorIs(t, err, ErrTooLarge)
}

func Test_Partition_FreeReusesLastFreedSlot(t *testing.T) {
	p := newTestPartition(t, nil)

	a := mustAlloc(t, p, 48)
	b := mustAlloc(t, p, 48)
	_ = mustAlloc(t, p, 48)

	require.NoError(t, p.Free(a))
	require.NoError(t, p.Free(b))

	require.Equal(t, b, mustAlloc(t, p, 48))
	require.Equal(t, a, mustAlloc(t, p, 48))
}

func Test_Partition_FreeErrors(t *testing.T) {
	p := newTestPartition(t, nil)
	a := mustAlloc(t, p, 32)

	t.Run("outside address space", func(t *testing.T) {
		require.ErrorIs(t, p.Free(0x1234), ErrBadAddress)
	})
	t.Run("unknown super page", func(t *testing.T) {
		require.ErrorIs(t, p.Free(p.AddressSpace().Base()+64*SuperPageSize), ErrBadAddress)
	})
	t.Run("inner pointer", func(t *testing.T) {
		require.ErrorIs(t, p.Free(a+8), ErrBadAddress)
	})
	t.Run("never allocated", func(t *testing.T) {
		require.ErrorIs(t, p.Free(a+32), ErrDoubleFree)
	})
	t.Run("double free", func(t *testing.T) {
		require.NoError(t, p.Free(a))
		require.ErrorIs(t, p.Free(a), ErrDoubleFree)
	})
}

func Test_Partition_Cookies(t *testing.T) {
	p := newTestPartition(t, func(o *Options) { o.Cookies = true })
	require.Equal(t, uint64(cookieSize), p.ObjectOffset())

	a := mustAlloc(t, p, 16)
	usable, err := p.UsableSize(a)
	require.NoError(t, err)
	require.Equal(t, uint64(16), usable, "48-byte slot minus two cookies")

	head, err := p.Bytes(a-cookieSize, cookieSize)
	require.NoError(t, err)
	require.Equal(t, cookieValue[:], head)

	// Overrun the object by one byte into the trailing cookie.
	obj, err := p.Bytes(a, usable+1)
	require.NoError(t, err)
	obj[usable] ^= 0xFF
	require.ErrorIs(t, p.Free(a), ErrCookieCorrupted)

	obj[usable] ^= 0xFF
	require.NoError(t, p.Free(a))
}

func Test_Partition_WordAccess(t *testing.T) {
	p := newTestPartition(t, nil)
	a := mustAlloc(t, p, 64)

	require.NoError(t, p.StoreWord(a+8, 0xFEEDFACE))
	v, err := p.LoadWord(a + 8)
	require.NoError(t, err)
	require.Equal(t, uint64(0xFEEDFACE), v)

	b, err := p.Bytes(a+8, 8)
	require.NoError(t, err)
	require.Equal(t, []byte{0xCE, 0xFA, 0xED, 0xFE, 0, 0, 0, 0}, b)

	_, err = p.LoadWord(a + 4)
	require.ErrorIs(t, err, ErrBadAddress)
	_, err = p.Bytes(SuperPageBase(a)+SuperPageSize-8, 16)
	require.ErrorIs(t, err, ErrBadAddress)
}

func Test_Partition_NewSuperPageWhenFull(t *testing.T) {
	p := newTestPartition(t, nil)

	// Each 64K span takes 16 partition pages; a super page holds 124 payload pages.
	perSuperPage := (endPayloadPage - firstPayloadPage) / MaxSlotSpanPages
	slotsPerSpan := MaxSlotSpanPages * PartitionPageSize / MaxBucketedSize

	var last Addr
	for range perSuperPage*slotsPerSpan + 1 {
		last = mustAlloc(t, p, MaxBucketedSize)
	}
	require.Equal(t, 2, p.Stats().SuperPages)

	var bases []Addr
	require.NoError(t, p.ViewArena(func(v ArenaView) {
		for _, sp := range v.SuperPages() {
			bases = append(bases, sp.Base())
		}
	}))
	require.Len(t, bases, 2)
	require.Less(t, bases[0], bases[1])
	require.Equal(t, bases[1], SuperPageBase(last))
}

func Test_Partition_OutOfAddressSpace(t *testing.T) {
	space, err := NewAddressSpace(0x3000_0000_0000, SuperPageSize)
	require.NoError(t, err)
	p, err := New(&Options{Name: "tiny", ThreadSafe: true, AddressSpace: space})
	require.NoError(t, err)
	defer p.Close()

	perSuperPage := (endPayloadPage - firstPayloadPage) / MaxSlotSpanPages
	slotsPerSpan := MaxSlotSpanPages * PartitionPageSize / MaxBucketedSize
	for range perSuperPage * slotsPerSpan {
		_, err := p.Alloc(MaxBucketedSize)
		require.NoError(t, err)
	}
	_, err = p.Alloc(MaxBucketedSize)
	require.ErrorIs(t, err, ErrOutOfAddressSpace)
}

func Test_Partition_Quarantine(t *testing.T) {
	p := newTestPartition(t, nil)
	q := &recordingQuarantiner{p: p, limit: 2}
	require.NoError(t, p.SetQuarantiner(q))
	require.True(t, p.QuarantineEnabled())

	a := mustAlloc(t, p, 16)
	b := mustAlloc(t, p, 16)

	require.NoError(t, p.Free(a))
	require.Equal(t, []Addr{a}, q.quarantined())
	require.Zero(t, q.limitCalls)

	// A quarantined slot stays allocated.
	c := mustAlloc(t, p, 16)
	require.NotEqual(t, a, c)
	require.ErrorIs(t, p.Free(a), ErrDoubleFree)

	require.NoError(t, p.Free(b))
	require.Equal(t, 1, q.limitCalls)

	st := p.Stats()
	require.Equal(t, uint64(2), st.QuarantinedFrees)
	require.Equal(t, uint64(48), st.AllocatedBytes)

	// Sweeping a releases it for reuse.
	sp := p.findSuperPage(a)
	sp.QuarantineBitmap(quarantine.Mutator, 0).ClearBit(a)
	require.NoError(t, p.FreeNoHooksImmediate(a))
	require.ErrorIs(t, p.FreeNoHooksImmediate(a), ErrDoubleFree)
	require.Equal(t, uint64(1), p.Stats().ImmediateFrees)
	require.Equal(t, a, mustAlloc(t, p, 16))
}

func Test_Partition_QuarantineDisallowed(t *testing.T) {
	p := newTestPartition(t, func(o *Options) { o.QuarantineMode = QuarantineDisallowed })
	err := p.SetQuarantiner(&recordingQuarantiner{p: p})
	require.ErrorIs(t, err, ErrQuarantineUnsupported)
	require.False(t, p.QuarantineEnabled())
	require.NoError(t, p.SetQuarantiner(nil))
}

func Test_Partition_PurgeDecommitsEmptySpans(t *testing.T) {
	p := newTestPartition(t, nil)

	a := mustAlloc(t, p, 1000)
	keep := mustAlloc(t, p, 16)
	require.NoError(t, p.StoreWord(a, 0xABCD))
	require.NoError(t, p.Free(a))

	before := p.CommittedSize()
	released := p.PurgeMemory(PurgeDecommitEmptySlotSpans)
	require.Positive(t, released)
	require.Equal(t, before-released, p.CommittedSize())
	require.Equal(t, released, p.Stats().DecommittedBytes)

	// Purging again finds nothing; the 16-byte span is still in use.
	require.Zero(t, p.PurgeMemory(PurgeDecommitEmptySlotSpans))
	_, err := p.UsableSize(keep)
	require.NoError(t, err)

	// A decommitted span is recommitted on demand.
	a2 := mustAlloc(t, p, 1000)
	require.Equal(t, a, a2)
	require.Equal(t, before, p.CommittedSize())
}

func Test_Partition_PurgeDiscardsFreeSlots(t *testing.T) {
	if vmem.PageSize() != SystemPageSize {
		t.Skip("discard granularity assumes 4 KiB pages")
	}
	p := newTestPartition(t, nil)

	a := mustAlloc(t, p, 9000)
	b := mustAlloc(t, p, 9000)
	require.NoError(t, p.Free(b))

	committed := p.CommittedSize()
	released := p.PurgeMemory(PurgeDiscardUnusedSystemPages)
	require.Positive(t, released)
	require.Equal(t, committed, p.CommittedSize(), "discarding does not decommit spans")

	_, err := p.UsableSize(a)
	require.NoError(t, err)
}

func Test_Partition_PurgeSkipsQuarantinedSlots(t *testing.T) {
	p := newTestPartition(t, nil)
	q := &recordingQuarantiner{p: p}
	require.NoError(t, p.SetQuarantiner(q))

	a := mustAlloc(t, p, 1000)
	require.NoError(t, p.StoreWord(a, 42))
	require.NoError(t, p.Free(a))

	require.Zero(t, p.PurgeMemory(PurgeDecommitEmptySlotSpans))
	v, err := p.LoadWord(a)
	require.NoError(t, err)
	require.Equal(t, uint64(42), v)
}

func Test_Partition_ArenaView(t *testing.T) {
	p := newTestPartition(t, nil)
	small := mustAlloc(t, p, 16)
	large := mustAlloc(t, p, 20000)

	var spans []*SlotSpan
	require.NoError(t, p.ViewArena(func(v ArenaView) {
		require.Equal(t, uint64(SuperPageSize), v.CommittedSize())
		for _, sp := range v.SuperPages() {
			sp.VisitSlotSpans(func(s *SlotSpan) { spans = append(spans, s) })
		}
	}))
	require.Len(t, spans, 2)

	sp := spans[0].SuperPage()
	require.Same(t, spans[0], sp.SlotSpanAt(small))
	require.Same(t, spans[1], sp.SlotSpanAt(large+100))
	require.Nil(t, sp.SlotSpanAt(sp.Base()))
	require.False(t, sp.IsWithinPayload(sp.Base()+bitmapOffset))
	require.True(t, sp.IsWithinPayload(small))

	slot, ok := spans[1].SlotStart(large + 100)
	require.True(t, ok)
	require.Equal(t, large, slot)
	require.Equal(t, spans[1].Begin()+spans[1].ProvisionedSize(), spans[1].End())
	require.False(t, spans[1].IsEmpty())
	require.Equal(t, 1, spans[1].Allocated())
}

func Test_Partition_BitmapStorageIsDistinct(t *testing.T) {
	p := newTestPartition(t, nil)
	a := mustAlloc(t, p, 16)
	sp := p.findSuperPage(a)

	sp.BitmapStorage(0).SetBit(a)
	require.True(t, sp.QuarantineBitmap(quarantine.Mutator, 0).CheckBit(a))
	require.True(t, sp.QuarantineBitmap(quarantine.Scanner, 1).CheckBit(a))
	require.False(t, sp.BitmapStorage(1).CheckBit(a))

	// Bitmap storage lives in the super page's metadata area, not the payload.
	v, err := p.LoadWord(a)
	require.NoError(t, err)
	require.Zero(t, v)
	sp.BitmapStorage(0).Clear()
}

func Test_Partition_Close(t *testing.T) {
	space, err := NewAddressSpace(0x4000_0000_0000, 1<<30)
	require.NoError(t, err)
	p, err := New(&Options{Name: "close", AddressSpace: space})
	require.NoError(t, err)

	a := mustAlloc(t, p, 16)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err = p.Alloc(16)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, p.Free(a), ErrClosed)
	require.ErrorIs(t, p.ViewArena(func(ArenaView) {}), ErrClosed)
	require.ErrorIs(t, p.SetQuarantiner(&recordingQuarantiner{}), ErrClosed)

	// The super page address is handed to the next partition.
	p2, err := New(&Options{Name: "reuse", AddressSpace: space})
	require.NoError(t, err)
	defer p2.Close()
	require.Equal(t, SuperPageBase(a), SuperPageBase(mustAlloc(t, p2, 16)))
}

func Test_Partition_ConcurrentAllocFree(t *testing.T) {
	p := newTestPartition(t, nil)

	const workers = 8
	const rounds = 2000
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			size := uint64(16 * (w + 1))
			live := make([]Addr, 0, 16)
			for i := range rounds {
				a, err := p.Alloc(size)
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, p.StoreWord(a, uint64(i)))
				live = append(live, a)
				if len(live) == cap(live) {
					for _, x := range live {
						assert.NoError(t, p.Free(x))
					}
					live = live[:0]
				}
			}
			for _, x := range live {
				assert.NoError(t, p.Free(x))
			}
		}()
	}
	wg.Wait()

	st := p.Stats()
	require.Zero(t, st.AllocatedBytes)
	require.Equal(t, uint64(workers*rounds), st.Allocs)
	require.Equal(t, st.Allocs, st.Frees)
}

func Test_Partition_SingleThreadedVariant(t *testing.T) {
	p := newTestPartition(t, func(o *Options) { o.ThreadSafe = false })
	_, ok := p.lock.(noLock)
	require.True(t, ok)
	require.False(t, p.ThreadSafe())
	require.True(t, newTestPartition(t, nil).ThreadSafe())

	a := mustAlloc(t, p, 16)
	require.NoError(t, p.Free(a))
	require.Equal(t, a, mustAlloc(t, p, 16))
}

func BenchmarkAllocFree(b *testing.B) {
	p := newTestPartition(b, nil)
	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		a, err := p.Alloc(64)
		if err != nil {
			b.Fatal(err)
		}
		if err := p.Free(a); err != nil {
			b.Fatal(err)
		}
	}
}

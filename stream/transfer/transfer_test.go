package transfer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/cmdring/stream/sim"
	"github.com/joshuapare/cmdring/stream/transport"
)

func TestInitialize_InvalidConfig(t *testing.T) {
	f := newFixture(t, sim.Synchronous)

	cfg := smallConfig(1024, 256, 1024)
	cfg.Alignment = 3
	require.ErrorIs(t, f.tb.Initialize(cfg), ErrInvalidConfig)

	cfg = smallConfig(1024, 2048, 1024)
	require.ErrorIs(t, f.tb.Initialize(cfg), ErrInvalidConfig)

	cfg = smallConfig(1024, 64, 1024)
	require.ErrorIs(t, f.tb.Initialize(cfg), ErrInvalidConfig)
	require.False(t, f.tb.HaveBuffer())
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := DefaultConfig().normalize()
	require.NoError(t, err)
	require.Equal(t, uint32(DefaultBufferSize), cfg.DefaultSize)
}

// A 256-byte region with a 64-byte result area leaves 192 ring bytes.
func TestAllocVersusAllocUpTo(t *testing.T) {
	f := newFixture(t, sim.Synchronous)
	require.NoError(t, f.tb.Initialize(smallConfig(256, 256, 256)))

	require.Equal(t, uint32(256), f.tb.GetSize())
	require.Equal(t, uint32(192), f.tb.GetCurrentMaxAllocationWithoutRealloc())
	require.Equal(t, uint32(192), f.tb.GetMaxAllocation())

	_, mem, err := f.tb.Alloc(193)
	require.ErrorIs(t, err, ErrTooLarge)
	require.Nil(t, mem)

	off, mem, err := f.tb.AllocUpTo(193)
	require.NoError(t, err)
	require.Len(t, mem, 192)
	require.Equal(t, uint32(64), off)
	require.Equal(t, []uint32{256}, f.rec.reallocs)

	require.NoError(t, f.tb.FreePendingToken(f.tb.GetShmID(), off, f.helper.InsertToken()))
}

func TestResultArea(t *testing.T) {
	f := newFixture(t, sim.Synchronous)
	require.NoError(t, f.tb.Initialize(smallConfig(1024, 256, 4096)))

	res := f.tb.GetResultBuffer()
	require.Len(t, res, 64)
	require.Equal(t, uint32(0), f.tb.GetResultOffset())

	id := f.tb.GetShmID()
	require.NotEqual(t, transport.InvalidID, id)

	// The service sees result writes through its own mapping.
	res[0] = 0x5a
	require.Equal(t, byte(0x5a), f.svc.Region(id)[0])
}

func TestGrowThenShrinkAfterFree(t *testing.T) {
	f := newFixture(t, sim.Synchronous)
	require.NoError(t, f.tb.Initialize(smallConfig(1024, 256, 8192)))
	require.Equal(t, uint32(1024), f.tb.GetSize())

	// 2000 + 64 rounds up to 4096.
	off, mem, err := f.tb.Alloc(2000)
	require.NoError(t, err)
	require.Len(t, mem, 2000)
	require.Equal(t, uint32(4096), f.tb.GetSize())
	require.NoError(t, f.tb.FreePendingToken(f.tb.GetShmID(), off, f.helper.InsertToken()))

	// A smaller request keeps the larger buffer.
	off, _, err = f.tb.Alloc(100)
	require.NoError(t, err)
	require.Equal(t, uint32(4096), f.tb.GetSize())
	require.NoError(t, f.tb.FreePendingToken(f.tb.GetShmID(), off, f.helper.InsertToken()))
	f.tb.Free()

	// Above the maximum: grow to the max, then fail.
	_, _, err = f.tb.Alloc(100000)
	require.ErrorIs(t, err, ErrTooLarge)
	require.Equal(t, uint32(8192), f.tb.GetSize())

	f.tb.Free()
	require.False(t, f.tb.HaveBuffer())
	require.Equal(t, uint32(0), f.tb.GetSize())
	require.Equal(t, uint32(0), f.tb.GetFreeSize())

	_, _, err = f.tb.Alloc(10)
	require.NoError(t, err)
	require.Equal(t, uint32(1024), f.tb.GetSize())
	require.Equal(t, []uint32{1024, 4096, 8192, 1024}, f.rec.reallocs)
}

// A live allocation does not stop growth: its region is kept until the
// allocation is released and its token has passed.
func TestGrowWhileInUse(t *testing.T) {
	f := newFixture(t, sim.Synchronous)
	require.NoError(t, f.tb.Initialize(smallConfig(1024, 256, 8192)))
	require.Equal(t, 2, f.svc.NumRegions())

	p := NewScopedPtr(f.helper, f.tb, 100)
	require.True(t, p.Valid())
	oldID := p.ShmID()
	copy(p.Bytes(), "still mapped")

	off, mem, err := f.tb.Alloc(2000)
	require.NoError(t, err)
	require.Len(t, mem, 2000)
	require.Equal(t, uint32(4096), f.tb.GetSize())
	require.Equal(t, []uint32{1024, 4096}, f.rec.reallocs)
	require.NotEqual(t, oldID, f.tb.GetShmID())

	// The old region is retired, not destroyed.
	require.Equal(t, 1, f.tb.NumRetired())
	require.Equal(t, 3, f.svc.NumRegions())
	require.Equal(t, "still mapped", string(p.Bytes()[:12]))
	require.Equal(t, "still mapped", string(f.svc.Region(oldID)[64:76]))

	require.NoError(t, f.tb.FreePendingToken(f.tb.GetShmID(), off, f.helper.InsertToken()))
	require.NoError(t, p.Release())
	require.NoError(t, f.helper.Finish())

	// The next call reaps it.
	_, _, err = f.tb.Alloc(16)
	require.NoError(t, err)
	require.Equal(t, 0, f.tb.NumRetired())
	require.Equal(t, 2, f.svc.NumRegions())
	require.Nil(t, f.svc.Region(oldID))
}

// AllocUpTo settles for the space in front of a live block instead of
// failing on it.
func TestAllocUpTo_DegradesAroundLiveBlock(t *testing.T) {
	f := newFixture(t, sim.Synchronous)
	require.NoError(t, f.tb.Initialize(smallConfig(1024, 256, 1024)))

	live, _, err := f.tb.Alloc(100)
	require.NoError(t, err)
	require.Equal(t, uint32(848), f.tb.GetFreeSize())

	off, mem, err := f.tb.AllocUpTo(960)
	require.NoError(t, err)
	require.Len(t, mem, 848)
	require.Equal(t, live+112, off)

	id := f.tb.GetShmID()
	require.NoError(t, f.tb.FreePendingToken(id, off, f.helper.InsertToken()))
	require.NoError(t, f.tb.FreePendingToken(id, live, f.helper.InsertToken()))
}

// A result area that is not a multiple of the alignment leaves an unaligned
// ring; best-effort allocations round down instead of failing.
func TestAllocUpTo_UnalignedResultSize(t *testing.T) {
	f := newFixture(t, sim.Synchronous)
	cfg := smallConfig(1024, 256, 1024)
	cfg.ResultSize = 60
	require.NoError(t, f.tb.Initialize(cfg))

	require.Equal(t, uint32(960), f.tb.GetCurrentMaxAllocationWithoutRealloc())
	off, mem, err := f.tb.AllocUpTo(5000)
	require.NoError(t, err)
	require.Len(t, mem, 960)
	require.Equal(t, uint32(60), off)
	require.NoError(t, f.tb.FreePendingToken(f.tb.GetShmID(), off, f.helper.InsertToken()))

	_, _, err = f.tb.Alloc(961)
	require.ErrorIs(t, err, ErrTooLarge)
}

// A handle held across Free releases into its own region and never touches
// blocks of the region that replaced it.
func TestScopedPtr_HeldAcrossFree(t *testing.T) {
	f := newFixture(t, sim.Synchronous)
	require.NoError(t, f.tb.Initialize(smallConfig(1024, 256, 1024)))

	p := NewScopedPtr(f.helper, f.tb, 100)
	oldID := p.ShmID()
	f.tb.Free()
	require.Equal(t, 1, f.tb.NumRetired())
	require.NotNil(t, f.svc.Region(oldID))
	require.Len(t, p.Bytes(), 100)

	q := NewScopedPtr(f.helper, f.tb, 100)
	require.NotEqual(t, oldID, q.ShmID())
	require.Equal(t, uint32(64), q.Offset())
	require.Equal(t, p.Offset(), q.Offset())

	require.NoError(t, p.Release())
	require.NoError(t, f.helper.Finish())

	// q is still live in the new region, so a large request cannot cover it.
	r, mem, err := f.tb.AllocUpTo(900)
	require.NoError(t, err)
	require.Len(t, mem, 960-112)
	require.GreaterOrEqual(t, r, q.Offset()+112)
	require.Equal(t, 0, f.tb.NumRetired())
	require.Nil(t, f.svc.Region(oldID))

	require.NoError(t, f.tb.FreePendingToken(f.tb.GetShmID(), r, f.helper.InsertToken()))
	require.NoError(t, q.Release())
}

func TestStaleRegionRejected(t *testing.T) {
	f := newFixture(t, sim.Synchronous)
	require.NoError(t, f.tb.Initialize(smallConfig(1024, 256, 1024)))
	oldID := f.tb.GetShmID()
	f.tb.Free()

	_, _, err := f.tb.Alloc(16)
	require.NoError(t, err)
	require.ErrorIs(t, f.tb.FreePendingToken(oldID, 64, 1), ErrUnknownRegion)
	require.ErrorIs(t, f.tb.DiscardBlock(oldID, 64), ErrUnknownRegion)
}

func TestHelperCloseDestroysBuffers(t *testing.T) {
	f := newFixture(t, sim.Synchronous)
	require.NoError(t, f.tb.Initialize(smallConfig(1024, 256, 4096)))

	// One live block in a retired region and one in the current region.
	p := NewScopedPtr(f.helper, f.tb, 64)
	require.True(t, p.Valid())
	_, _, err := f.tb.Alloc(2000)
	require.NoError(t, err)
	require.Equal(t, 1, f.tb.NumRetired())
	require.Equal(t, 3, f.svc.NumRegions())

	f.helper.Close()
	require.False(t, f.tb.HaveBuffer())
	require.Equal(t, 0, f.tb.NumRetired())
	require.Equal(t, 0, f.svc.NumRegions())
	require.Nil(t, f.svc.Region(p.ShmID()))
}

func TestFree_Idempotent(t *testing.T) {
	f := newFixture(t, sim.Synchronous)
	require.NoError(t, f.tb.Initialize(smallConfig(1024, 256, 4096)))
	require.Equal(t, 2, f.svc.NumRegions())

	f.tb.Free()
	f.tb.Free()
	require.Equal(t, 1, f.svc.NumRegions())
	require.Equal(t, 1, f.svc.Stats().BuffersDestroyed)
}

func TestFree_DrainsHelper(t *testing.T) {
	f := newFixture(t, sim.Paused)
	require.NoError(t, f.tb.Initialize(smallConfig(1024, 256, 4096)))

	off, _, err := f.tb.Alloc(64)
	require.NoError(t, err)
	tok := f.helper.InsertToken()
	require.NoError(t, f.tb.FreePendingToken(f.tb.GetShmID(), off, tok))

	f.tb.Free()
	require.True(t, f.helper.HasTokenPassed(tok))
	require.Equal(t, f.helper.PutOffset(), f.svc.GetLastState().GetOffset)
}

func TestAllocateHalvesOnFailure(t *testing.T) {
	f := newFixture(t, sim.Synchronous)
	f.svc.LimitCreateSize(1024)

	require.NoError(t, f.tb.Initialize(smallConfig(4096, 256, 8192)))
	require.Equal(t, uint32(1024), f.tb.GetSize())
	require.Equal(t, []uint32{4096, 2048}, f.rec.failed)
	require.Equal(t, uint32(1024), f.tb.Config().MaxSize)
	require.Equal(t, uint32(960), f.tb.GetMaxAllocation())

	// The lowered maximum stops further growth attempts.
	_, _, err := f.tb.Alloc(2000)
	require.ErrorIs(t, err, ErrTooLarge)
	require.Len(t, f.rec.failed, 2)
}

func TestUnusableWhenMinimumFails(t *testing.T) {
	f := newFixture(t, sim.Synchronous)
	f.svc.FailCreates(true)

	require.ErrorIs(t, f.tb.Initialize(smallConfig(1024, 256, 4096)), ErrUnusable)
	require.False(t, f.tb.Usable())
	require.Equal(t, []uint32{1024, 512, 256}, f.rec.failed)

	_, _, err := f.tb.Alloc(10)
	require.ErrorIs(t, err, ErrUnusable)
	_, _, err = f.tb.AllocUpTo(10)
	require.ErrorIs(t, err, ErrUnusable)
	require.Nil(t, f.tb.GetResultBuffer())
	require.Equal(t, transport.InvalidID, f.tb.GetShmID())
	require.Equal(t, uint32(0), f.tb.GetMaxAllocation())

	// Never retried.
	require.Equal(t, 3, f.svc.Stats().CreateFailures)
}

func TestFlushThreshold(t *testing.T) {
	f := newFixture(t, sim.Synchronous)
	cfg := smallConfig(4096, 256, 4096)
	cfg.FlushThreshold = 256
	require.NoError(t, f.tb.Initialize(cfg))

	off, _, err := f.tb.Alloc(100)
	require.NoError(t, err)
	require.NoError(t, f.tb.FreePendingToken(f.tb.GetShmID(), off, f.helper.InsertToken()))
	require.Equal(t, uint32(0), f.helper.FlushGeneration())

	off, _, err = f.tb.Alloc(200)
	require.NoError(t, err)
	require.NoError(t, f.tb.FreePendingToken(f.tb.GetShmID(), off, f.helper.InsertToken()))
	require.Equal(t, uint32(1), f.helper.FlushGeneration())

	// The counter restarts after the flush.
	off, _, err = f.tb.Alloc(100)
	require.NoError(t, err)
	require.NoError(t, f.tb.FreePendingToken(f.tb.GetShmID(), off, f.helper.InsertToken()))
	require.Equal(t, uint32(1), f.helper.FlushGeneration())
}

func TestRingReuseWaitsOnTokens(t *testing.T) {
	f := newFixture(t, sim.Paused)
	require.NoError(t, f.tb.Initialize(smallConfig(1024, 256, 1024)))

	for i := 0; i < 20; i++ {
		off, mem, err := f.tb.Alloc(300)
		require.NoError(t, err, "iteration %d", i)
		mem[0] = byte(i)
		require.NoError(t, f.tb.FreePendingToken(f.tb.GetShmID(), off, f.helper.InsertToken()))
	}
	require.Greater(t, f.svc.Stats().Waits, 0)
	require.False(t, f.helper.IsContextLost())
}

func TestShrinkAndDiscard(t *testing.T) {
	f := newFixture(t, sim.Synchronous)
	require.NoError(t, f.tb.Initialize(smallConfig(1024, 256, 1024)))

	off, _, err := f.tb.Alloc(200)
	require.NoError(t, err)
	require.NoError(t, f.tb.ShrinkLastBlock(f.tb.GetShmID(), 40))

	next, _, err := f.tb.Alloc(16)
	require.NoError(t, err)
	require.Equal(t, off+48, next)

	require.NoError(t, f.tb.DiscardBlock(f.tb.GetShmID(), next))
	require.NoError(t, f.tb.DiscardBlock(f.tb.GetShmID(), off))
	require.Equal(t, uint32(960), f.tb.GetFreeSize())
}

func TestBytes(t *testing.T) {
	f := newFixture(t, sim.Synchronous)
	require.NoError(t, f.tb.Initialize(smallConfig(1024, 256, 1024)))

	off, mem, err := f.tb.Alloc(8)
	require.NoError(t, err)
	copy(mem, "payload!")
	require.Equal(t, "payload!", string(f.tb.Bytes(off, 8)))
	require.Nil(t, f.tb.Bytes(1020, 8))
}

func TestNoBufferOperations(t *testing.T) {
	f := newFixture(t, sim.Synchronous)

	require.ErrorIs(t, f.tb.FreePendingToken(1, 64, 1), ErrNoBuffer)
	require.ErrorIs(t, f.tb.DiscardBlock(1, 64), ErrNoBuffer)
	require.ErrorIs(t, f.tb.ShrinkLastBlock(1, 8), ErrNoBuffer)
	require.Nil(t, f.tb.Bytes(0, 1))
	require.Equal(t, uint32(0), f.tb.GetCurrentMaxAllocationWithoutRealloc())
}

package transfer

import (
	"fmt"
	"log/slog"

	"github.com/joshuapare/cmdring/internal/format"
	"github.com/joshuapare/cmdring/stream/cmdbuf"
	"github.com/joshuapare/cmdring/stream/ringbuf"
	"github.com/joshuapare/cmdring/stream/transport"
)

// region is one shared region and the ring sub-allocating it.
type region struct {
	buffer *transport.Buffer
	id     int32
	ring   *ringbuf.RingBuffer
}

// TransferBuffer manages a resizable shared region for bulk payloads. The
// first ResultSize bytes hold the result area; a RingBuffer sub-allocates the
// rest.
//
// NOT thread-safe. It shares the single writer of its helper.
type TransferBuffer struct {
	helper *cmdbuf.Helper
	log    *slog.Logger
	obs    Observer
	cfg    Config

	cur region
	// retired holds replaced regions that still had live blocks. Each is
	// destroyed once its ring drains.
	retired []region

	bytesSinceLastFlush uint32
	lastAllocatedSize   uint32
	usable              bool
}

// New creates a manager for helper and registers it to be destroyed when the
// helper closes. Call Initialize before allocating.
func New(helper *cmdbuf.Helper, opts Options) *TransferBuffer {
	opts = opts.withDefaults(helper.Logger())
	tb := &TransferBuffer{
		helper: helper,
		log:    opts.Logger,
		obs:    opts.Observer,
		cur:    region{id: transport.InvalidID},
		usable: true,
	}
	helper.OnClose(tb.destroyAll)
	return tb
}

// Initialize sets the size bounds and allocates a buffer of the default size.
// It fails if no buffer could be allocated.
func (tb *TransferBuffer) Initialize(cfg Config) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}
	tb.cfg = cfg
	tb.reallocateRingBuffer(cfg.DefaultSize - min(cfg.ResultSize, cfg.DefaultSize))
	if !tb.HaveBuffer() {
		return ErrUnusable
	}
	return nil
}

// Free drains the helper and releases the current region, resetting to the
// no-buffer state. The next allocation reallocates. A region that still
// holds live blocks stays mapped until they are released. Free without a
// buffer is a no-op.
func (tb *TransferBuffer) Free() {
	if !tb.HaveBuffer() {
		return
	}
	if err := tb.helper.Finish(); err != nil {
		tb.log.Warn("transfer.free.finish_failed", "error", err)
	}
	cur := tb.cur
	tb.cur = region{id: transport.InvalidID}
	tb.bytesSinceLastFlush = 0

	if n := cur.ring.InUseCount(); n > 0 {
		tb.log.Debug("transfer.region.retired", "id", cur.id, "in_use", n)
		tb.retired = append(tb.retired, cur)
	} else {
		tb.destroy(cur)
	}
	tb.reapRetired()
}

// destroyAll frees every region, live blocks or not. The helper calls it on
// Close.
func (tb *TransferBuffer) destroyAll() {
	tb.Free()
	for _, r := range tb.retired {
		tb.log.Warn("transfer.close.blocks_outstanding", "id", r.id, "in_use", r.ring.InUseCount())
		tb.destroy(r)
	}
	tb.retired = nil
}

func (tb *TransferBuffer) destroy(r region) {
	if err := r.ring.Close(); err != nil {
		tb.log.Warn("transfer.free.blocks_outstanding", "id", r.id, "error", err)
	}
	tb.helper.CommandBuffer().DestroyTransferBuffer(r.id)
	tb.log.Debug("transfer.region.destroyed", "id", r.id)
}

// reapRetired destroys retired regions whose blocks have all been released
// and whose tokens have passed. It never waits.
func (tb *TransferBuffer) reapRetired() {
	kept := tb.retired[:0]
	for _, r := range tb.retired {
		r.ring.GetLargestFreeSizeNoWaiting()
		if r.ring.NumBlocks() > 0 {
			kept = append(kept, r)
			continue
		}
		tb.destroy(r)
	}
	clear(tb.retired[len(kept):])
	tb.retired = kept
}

// NumRetired returns the number of replaced regions still kept for their
// live blocks.
func (tb *TransferBuffer) NumRetired() int { return len(tb.retired) }

// HaveBuffer reports whether a region is currently allocated.
func (tb *TransferBuffer) HaveBuffer() bool { return tb.cur.id != transport.InvalidID }

// Usable reports whether allocation can still succeed.
func (tb *TransferBuffer) Usable() bool { return tb.usable }

// Config returns the normalized bounds. MaxSize reflects any lowering after
// failed allocations.
func (tb *TransferBuffer) Config() Config { return tb.cfg }

// Alloc allocates exactly size bytes, growing the region first if needed. It
// fails with ErrTooLarge if size exceeds what the region can hold even after
// growing. The allocation belongs to the region GetShmID reports right after
// the call.
func (tb *TransferBuffer) Alloc(size uint32) (uint32, []byte, error) {
	tb.reallocateRingBuffer(size)
	if !tb.HaveBuffer() {
		return 0, nil, tb.noBufferError()
	}
	if largest := tb.cur.ring.GetLargestFreeOrPendingSize(); size > largest {
		return 0, nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, size, largest)
	}
	return tb.alloc(size)
}

// AllocUpTo allocates up to size bytes, settling for the largest allocation
// obtainable without waiting on blocks that are still in use. The returned
// slice's length is the size obtained.
func (tb *TransferBuffer) AllocUpTo(size uint32) (uint32, []byte, error) {
	tb.reallocateRingBuffer(size)
	if !tb.HaveBuffer() {
		return 0, nil, tb.noBufferError()
	}
	return tb.alloc(min(size, tb.cur.ring.GetLargestReclaimableSize()))
}

func (tb *TransferBuffer) alloc(size uint32) (uint32, []byte, error) {
	off, mem, err := tb.cur.ring.Alloc(size)
	if err != nil {
		return 0, nil, err
	}
	tb.bytesSinceLastFlush += size
	return off, mem, nil
}

func (tb *TransferBuffer) noBufferError() error {
	if !tb.usable {
		return ErrUnusable
	}
	return ErrNoBuffer
}

// ringFor returns the ring of region id and whether it is retired.
func (tb *TransferBuffer) ringFor(id int32) (*ringbuf.RingBuffer, bool, error) {
	if tb.HaveBuffer() && id == tb.cur.id {
		return tb.cur.ring, false, nil
	}
	for _, r := range tb.retired {
		if r.id == id {
			return r.ring, true, nil
		}
	}
	if !tb.HaveBuffer() {
		return nil, false, ErrNoBuffer
	}
	return nil, false, fmt.Errorf("%w: %d", ErrUnknownRegion, id)
}

// FreePendingToken releases the block at offset in region id once token has
// passed. Once FlushThreshold bytes were allocated since the last such flush,
// the helper is flushed so the service starts on them.
func (tb *TransferBuffer) FreePendingToken(id int32, offset uint32, token int32) error {
	ring, retired, err := tb.ringFor(id)
	if err != nil {
		return err
	}
	if err := ring.FreePendingToken(offset, token); err != nil {
		return err
	}
	if retired {
		tb.reapRetired()
	}
	if t := tb.cfg.FlushThreshold; t > 0 && tb.bytesSinceLastFlush >= t {
		tb.log.Debug("transfer.flush_threshold", "bytes", tb.bytesSinceLastFlush)
		tb.helper.Flush()
		tb.bytesSinceLastFlush = 0
	}
	return nil
}

// DiscardBlock returns a block the service never saw, without a token.
func (tb *TransferBuffer) DiscardBlock(id int32, offset uint32) error {
	ring, retired, err := tb.ringFor(id)
	if err != nil {
		return err
	}
	if err := ring.DiscardBlock(offset); err != nil {
		return err
	}
	if retired {
		tb.reapRetired()
	}
	return nil
}

// ShrinkLastBlock shrinks the most recent allocation of region id to newSize
// bytes.
func (tb *TransferBuffer) ShrinkLastBlock(id int32, newSize uint32) error {
	ring, _, err := tb.ringFor(id)
	if err != nil {
		return err
	}
	return ring.ShrinkLastBlock(newSize)
}

// Bytes returns size bytes of the current region at offset, or nil.
func (tb *TransferBuffer) Bytes(offset, size uint32) []byte {
	if !tb.HaveBuffer() {
		return nil
	}
	n := tb.cur.buffer.Size()
	if offset > n || size > n-offset {
		return nil
	}
	return tb.cur.buffer.Mem[offset : offset+size]
}

// GetResultBuffer returns the result area, allocating a region if needed.
func (tb *TransferBuffer) GetResultBuffer() []byte {
	tb.reallocateRingBuffer(tb.cfg.ResultSize)
	if !tb.HaveBuffer() {
		return nil
	}
	return tb.cur.buffer.Mem[:tb.cfg.ResultSize]
}

// GetResultOffset returns the result area's offset in the region, allocating
// a region if needed.
func (tb *TransferBuffer) GetResultOffset() uint32 {
	tb.reallocateRingBuffer(tb.cfg.ResultSize)
	return 0
}

// GetShmID returns the region's buffer id, allocating a region if needed. It
// is transport.InvalidID when the manager is unusable.
func (tb *TransferBuffer) GetShmID() int32 {
	tb.reallocateRingBuffer(tb.cfg.ResultSize)
	return tb.cur.id
}

// GetSize returns the region size, or 0 without a region.
func (tb *TransferBuffer) GetSize() uint32 {
	if !tb.HaveBuffer() {
		return 0
	}
	return tb.cur.buffer.Size()
}

// GetFreeSize returns the ring bytes available without waiting.
func (tb *TransferBuffer) GetFreeSize() uint32 {
	if !tb.HaveBuffer() {
		return 0
	}
	return tb.cur.ring.GetTotalFreeSizeNoWaiting()
}

// GetCurrentMaxAllocationWithoutRealloc returns the largest allocation the
// current region can hold.
func (tb *TransferBuffer) GetCurrentMaxAllocationWithoutRealloc() uint32 {
	if !tb.HaveBuffer() {
		return 0
	}
	return tb.cur.ring.GetLargestFreeOrPendingSize()
}

// GetMaxAllocation returns the largest allocation any region could hold.
func (tb *TransferBuffer) GetMaxAllocation() uint32 {
	if !tb.HaveBuffer() || tb.cfg.MaxSize <= tb.cfg.ResultSize {
		return 0
	}
	return format.AlignDown(tb.cfg.MaxSize-tb.cfg.ResultSize, tb.cfg.Alignment)
}

// reallocateRingBuffer makes sure a region exists that can hold size ring
// bytes, within the bounds. A live region is only ever replaced by a larger
// one; shrinking needs an explicit Free. A replaced region with live blocks
// is retired rather than destroyed.
func (tb *TransferBuffer) reallocateRingBuffer(size uint32) {
	tb.reapRetired()
	if !tb.usable {
		return
	}
	needed := format.NextPow2(size + tb.cfg.ResultSize)
	needed = max(needed, tb.cfg.MinSize)
	if !tb.HaveBuffer() {
		needed = max(needed, tb.cfg.DefaultSize)
	}
	needed = min(needed, tb.cfg.MaxSize)

	if tb.HaveBuffer() {
		if needed <= tb.cur.buffer.Size() {
			return
		}
		tb.log.Debug("transfer.grow", "from", tb.cur.buffer.Size(), "to", needed)
		tb.Free()
	}
	tb.allocateRingBuffer(needed)
}

// allocateRingBuffer creates a region of size bytes, halving down to MinSize
// on failure. Each failure lowers MaxSize so larger sizes are not retried.
func (tb *TransferBuffer) allocateRingBuffer(size uint32) {
	for ; size >= tb.cfg.MinSize && size > 0; size /= 2 {
		buf, id := tb.helper.CommandBuffer().CreateTransferBuffer(size)
		if id != transport.InvalidID && buf != nil {
			rb, err := ringbuf.New(tb.cfg.Alignment, tb.cfg.ResultSize, buf.Size()-tb.cfg.ResultSize, tb.helper, buf.Mem[tb.cfg.ResultSize:])
			if err != nil {
				tb.log.Warn("transfer.ring_init_failed", "size", size, "error", err)
				tb.helper.CommandBuffer().DestroyTransferBuffer(id)
				break
			}
			tb.cur = region{buffer: buf, id: id, ring: rb}
			tb.lastAllocatedSize = size
			tb.log.Debug("transfer.realloc", "size", size, "id", id)
			tb.obs.Reallocated(size)
			return
		}
		tb.obs.CreateFailed(size)
		tb.cfg.MaxSize = format.AlignDown(size/2, tb.cfg.Alignment)
		tb.log.Debug("transfer.create_failed", "size", size, "max", tb.cfg.MaxSize)
	}
	tb.usable = false
	tb.log.Warn("transfer.unusable", "min", tb.cfg.MinSize)
}

// LastAllocatedSize returns the size of the most recent successful region
// allocation.
func (tb *TransferBuffer) LastAllocatedSize() uint32 { return tb.lastAllocatedSize }

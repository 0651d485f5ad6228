package ringbuf

import (
	"fmt"

	"github.com/joshuapare/cmdring/internal/format"
)

// RingBuffer manages a fixed-size region as a circular buffer of blocks.
//
// Offsets returned to callers include baseOffset, so they can be sent to the
// service as offsets into the enclosing shared region.
//
// NOT thread-safe. Only one goroutine should use it at a time.
type RingBuffer struct {
	helper     TokenWaiter
	base       []byte // ring memory; base[0] is at baseOffset in the region
	baseOffset uint32
	size       uint32
	alignment  uint32

	// freeOffset is where the next block starts; inUseOffset is where the
	// oldest live block starts. Equal offsets mean empty (no blocks) or full.
	freeOffset  uint32
	inUseOffset uint32

	blocks blockQueue
}

// New creates a ring of size bytes starting at baseOffset within its shared
// region. base is the ring's memory (it may be nil when only the offset
// bookkeeping is needed); helper answers token queries.
func New(alignment, baseOffset, size uint32, helper TokenWaiter, base []byte) (*RingBuffer, error) {
	if !format.IsPow2(alignment) {
		return nil, fmt.Errorf("%w: %d", ErrBadAlignment, alignment)
	}
	if base != nil && uint32(len(base)) < size {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrShortBase, len(base), size)
	}
	return &RingBuffer{
		helper:     helper,
		base:       base,
		baseOffset: baseOffset,
		size:       size,
		alignment:  alignment,
	}, nil
}

// Alloc allocates a block of at least size bytes and returns its region
// offset and memory. The memory slice has length size and capacity of the
// aligned block.
//
// This method:
//  1. Rounds size up to the alignment (a zero-size request takes 1 byte so
//     every allocation gets a distinct offset)
//  2. Retires the oldest blocks, waiting on their tokens, until the request
//     fits without waiting
//  3. Pads to the physical end of the ring and wraps to 0 when the request
//     does not fit before the end
//  4. Appends a new InUse block
//
// Alloc fails with ErrTooLarge if size exceeds the ring and with
// ErrBlockInUse if the blocks in the way are still in use.
func (r *RingBuffer) Alloc(size uint32) (uint32, []byte, error) {
	if size > r.size {
		return 0, nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, size, r.size)
	}
	want := size
	if size == 0 {
		size = 1
	}
	size = format.AlignUp(size, r.alignment)
	if size > r.size {
		return 0, nil, fmt.Errorf("%w: aligned %d > %d", ErrTooLarge, size, r.size)
	}

	for size > r.GetLargestFreeSizeNoWaiting() {
		if err := r.FreeOldestBlock(); err != nil {
			return 0, nil, err
		}
	}

	if r.freeOffset+size > r.size {
		r.blocks.pushBack(Block{Offset: r.freeOffset, Size: r.size - r.freeOffset, State: Padding})
		r.freeOffset = 0
	}

	off := r.freeOffset
	r.blocks.pushBack(Block{Offset: off, Size: size, State: InUse})
	r.freeOffset += size
	if r.freeOffset == r.size {
		r.freeOffset = 0
	}

	var buf []byte
	if r.base != nil {
		buf = r.base[off : off+want : off+size]
	}
	return off + r.baseOffset, buf, nil
}

// FreePendingToken releases the block at offset (as returned by Alloc). The
// block is reused only once token has passed.
//
// Blocks are searched from the most recent backward, since releases usually
// come in allocation order shortly after the allocation.
func (r *RingBuffer) FreePendingToken(offset uint32, token int32) error {
	b, err := r.findBlock(offset)
	if err != nil {
		return err
	}
	if b.State != InUse {
		return fmt.Errorf("%w: offset %d is %s", ErrNotInUse, offset, b.State)
	}
	b.Token = token
	b.State = FreePendingToken
	return nil
}

// DiscardBlock returns the block at offset without a token, for blocks the
// service never saw. Trailing and leading padding left behind is dropped.
func (r *RingBuffer) DiscardBlock(offset uint32) error {
	b, err := r.findBlock(offset)
	if err != nil {
		return err
	}
	if b.State == Padding {
		return fmt.Errorf("%w: offset %d already discarded", ErrNotInUse, offset)
	}
	b.State = Padding

	for !r.blocks.empty() && r.blocks.back().State == Padding {
		r.freeOffset = r.blocks.back().Offset
		r.blocks.popBack()
	}
	for !r.blocks.empty() && r.blocks.front().State == Padding {
		r.blocks.popFront()
		if r.blocks.empty() {
			break
		}
		r.inUseOffset = r.blocks.front().Offset
	}
	if r.blocks.empty() {
		r.freeOffset = 0
		r.inUseOffset = 0
	}
	return nil
}

// ShrinkLastBlock shrinks the most recent block to newSize bytes (rounded up
// to the alignment, minimum 1), returning the tail to the free space.
// Growing is not supported; a newSize at or above the current size is a no-op.
func (r *RingBuffer) ShrinkLastBlock(newSize uint32) error {
	if r.blocks.empty() {
		return nil
	}
	b := r.blocks.back()
	if b.State != InUse {
		return fmt.Errorf("%w: last block is %s", ErrNotInUse, b.State)
	}
	if newSize == 0 {
		newSize = 1
	}
	newSize = format.AlignUp(newSize, r.alignment)
	if newSize >= b.Size {
		return nil
	}
	b.Size = newSize
	r.freeOffset = b.Offset + newSize
	return nil
}

// FreeOldestBlock retires the head block, waiting for its token if it is
// pending. It fails with ErrBlockInUse if the head block was never released;
// that means the caller asked for more space than the ring can provide.
func (r *RingBuffer) FreeOldestBlock() error {
	if r.blocks.empty() {
		return ErrNoBlocks
	}
	b := r.blocks.front()
	switch b.State {
	case InUse:
		return fmt.Errorf("%w: offset %d size %d", ErrBlockInUse, b.Offset+r.baseOffset, b.Size)
	case FreePendingToken:
		if err := r.helper.WaitForToken(b.Token); err != nil {
			return fmt.Errorf("ringbuf: wait for token %d: %w", b.Token, err)
		}
	}
	r.retireHead()
	return nil
}

// retireHead pops the head block and advances inUseOffset past it.
func (r *RingBuffer) retireHead() {
	b := r.blocks.front()
	r.inUseOffset += b.Size
	if r.inUseOffset == r.size {
		r.inUseOffset = 0
	}
	r.blocks.popFront()
	// Matching offsets after a pop mean the ring is empty.
	if r.freeOffset == r.inUseOffset {
		r.freeOffset = 0
		r.inUseOffset = 0
	}
}

// GetLargestFreeSizeNoWaiting retires every head block that can be retired
// without waiting and returns the largest contiguous span available now.
func (r *RingBuffer) GetLargestFreeSizeNoWaiting() uint32 {
	for !r.blocks.empty() {
		b := r.blocks.front()
		if b.State == InUse {
			break
		}
		if b.State == FreePendingToken && !r.helper.HasTokenPassed(b.Token) {
			break
		}
		r.retireHead()
	}

	switch {
	case r.freeOffset == r.inUseOffset:
		if r.blocks.empty() {
			return r.size
		}
		return 0
	case r.freeOffset > r.inUseOffset:
		// Free from freeOffset to the end and from 0 to inUseOffset.
		return max(r.size-r.freeOffset, r.inUseOffset)
	default:
		return r.inUseOffset - r.freeOffset
	}
}

// GetTotalFreeSizeNoWaiting returns all space available now, including the
// span before the wrap point that a single allocation could not use.
func (r *RingBuffer) GetTotalFreeSizeNoWaiting() uint32 {
	largest := r.GetLargestFreeSizeNoWaiting()
	if r.freeOffset > r.inUseOffset {
		return r.size - r.freeOffset + r.inUseOffset
	}
	return largest
}

// GetLargestFreeOrPendingSize returns the largest request Alloc can satisfy
// on an otherwise idle ring: the ring size rounded down to the alignment.
func (r *RingBuffer) GetLargestFreeOrPendingSize() uint32 {
	return format.AlignDown(r.size, r.alignment)
}

// GetLargestReclaimableSize returns the largest request Alloc can satisfy
// without failing: released blocks count as free (Alloc may wait on their
// tokens), the oldest InUse block and everything after it do not. The result
// is rounded down to the alignment.
func (r *RingBuffer) GetLargestReclaimableSize() uint32 {
	live := -1
	for i := 0; i < r.blocks.len(); i++ {
		if r.blocks.at(i).State == InUse {
			live = i
			break
		}
	}
	if live < 0 {
		return r.GetLargestFreeOrPendingSize()
	}

	inUse := r.blocks.at(live).Offset
	var span uint32
	switch {
	case r.freeOffset == inUse:
		span = 0
	case r.freeOffset > inUse:
		span = max(r.size-r.freeOffset, inUse)
	default:
		span = inUse - r.freeOffset
	}
	return format.AlignDown(span, r.alignment)
}

// GetUsedSize returns the bytes held by InUse and FreePendingToken blocks.
func (r *RingBuffer) GetUsedSize() uint32 {
	var used uint32
	for i := 0; i < r.blocks.len(); i++ {
		if b := r.blocks.at(i); b.State != Padding {
			used += b.Size
		}
	}
	return used
}

// Bytes returns the memory for size bytes at a region offset returned by
// Alloc. It returns nil for rings without backing memory or out-of-range
// requests.
func (r *RingBuffer) Bytes(offset, size uint32) []byte {
	if r.base == nil || offset < r.baseOffset {
		return nil
	}
	off := offset - r.baseOffset
	if off > r.size || size > r.size-off {
		return nil
	}
	return r.base[off : off+size]
}

// Contains reports whether a region offset falls inside the ring.
func (r *RingBuffer) Contains(offset uint32) bool {
	return offset >= r.baseOffset && offset-r.baseOffset < r.size
}

// InUseCount returns the number of blocks allocated and not yet released.
func (r *RingBuffer) InUseCount() int {
	n := 0
	for i := 0; i < r.blocks.len(); i++ {
		if r.blocks.at(i).State == InUse {
			n++
		}
	}
	return n
}

// Size returns the ring size in bytes.
func (r *RingBuffer) Size() uint32 { return r.size }

// BaseOffset returns the ring's offset in its shared region.
func (r *RingBuffer) BaseOffset() uint32 { return r.baseOffset }

// Alignment returns the allocation alignment.
func (r *RingBuffer) Alignment() uint32 { return r.alignment }

// NumBlocks returns the number of blocks, padding included.
func (r *RingBuffer) NumBlocks() int { return r.blocks.len() }

// Blocks returns a copy of the block FIFO, oldest first (for testing/debugging).
func (r *RingBuffer) Blocks() []Block {
	out := make([]Block, r.blocks.len())
	for i := range out {
		out[i] = *r.blocks.at(i)
	}
	return out
}

// Close drains the ring, waiting on every pending token. InUse blocks are a
// usage error: they are dropped and ErrBlockInUse is returned. The ring is
// empty afterwards whatever the result.
func (r *RingBuffer) Close() error {
	var firstErr error
	for !r.blocks.empty() {
		b := r.blocks.front()
		switch b.State {
		case InUse:
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: offset %d still allocated at close", ErrBlockInUse, b.Offset+r.baseOffset)
			}
		case FreePendingToken:
			if err := r.helper.WaitForToken(b.Token); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("ringbuf: drain token %d: %w", b.Token, err)
			}
		}
		r.blocks.popFront()
	}
	r.blocks.reset()
	r.freeOffset = 0
	r.inUseOffset = 0
	return firstErr
}

// findBlock searches for the block starting at a region offset, newest first.
func (r *RingBuffer) findBlock(offset uint32) (*Block, error) {
	if offset < r.baseOffset {
		return nil, fmt.Errorf("%w: %d below base %d", ErrUnknownBlock, offset, r.baseOffset)
	}
	off := offset - r.baseOffset
	for i := r.blocks.len() - 1; i >= 0; i-- {
		if b := r.blocks.at(i); b.Offset == off {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownBlock, offset)
}

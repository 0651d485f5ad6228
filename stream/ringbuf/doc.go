// Package ringbuf sub-allocates a fixed region as a circular buffer of
// variable-length, token-gated blocks.
//
// # Overview
//
// A RingBuffer hands out blocks in strictly increasing address order (mod
// wraparound) and retires them from the oldest end once the service has read
// past the token each block was released with. Allocation and release are
// expected to be roughly stack-like: the caller allocates, writes, issues a
// command that references the block, inserts a token, and releases the block
// against that token.
//
// # Block States
//
//   - InUse: handed out by Alloc and not yet released
//   - FreePendingToken: released, reusable once its token has passed
//   - Padding: filler from the previous free offset to the physical end of
//     the region, emitted when an allocation has to wrap to offset 0
//
// Bookkeeping is a FIFO of value-typed Block records kept outside the shared
// region, so it can be tested without a real mapping.
//
// # Usage Example
//
//	rb, err := ringbuf.New(16, resultSize, size, helper, mem[resultSize:])
//	if err != nil {
//	    return err
//	}
//
//	off, buf, err := rb.Alloc(256)
//	if err != nil {
//	    return err
//	}
//	copy(buf, payload)
//	// ... issue a command referencing off ...
//	err = rb.FreePendingToken(off, helper.InsertToken())
//
// # Blocking
//
// Alloc and FreeOldestBlock block through the TokenWaiter when the only way to
// make room is to wait for a released block's token. Nothing else blocks.
//
// # Thread Safety
//
// RingBuffer instances are not thread-safe. Each one is used by exactly one
// writer.
package ringbuf

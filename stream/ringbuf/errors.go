package ringbuf

import "errors"

var (
	// ErrTooLarge indicates a request larger than the whole region.
	ErrTooLarge = errors.New("ringbuf: allocation larger than ring")

	// ErrBlockInUse indicates the oldest block is still in use, so no amount of
	// waiting can free enough space for the request.
	ErrBlockInUse = errors.New("ringbuf: oldest block still in use")

	// ErrNoBlocks indicates FreeOldestBlock was called on an empty ring.
	ErrNoBlocks = errors.New("ringbuf: no blocks to free")

	// ErrUnknownBlock indicates a free or discard of an offset that does not
	// start any live block.
	ErrUnknownBlock = errors.New("ringbuf: no block at offset")

	// ErrNotInUse indicates a block was released twice.
	ErrNotInUse = errors.New("ringbuf: block already released")

	// ErrBadAlignment indicates an alignment that is not a power of two.
	ErrBadAlignment = errors.New("ringbuf: alignment must be a power of two")

	// ErrShortBase indicates the backing memory is smaller than the ring.
	ErrShortBase = errors.New("ringbuf: backing memory smaller than ring size")
)

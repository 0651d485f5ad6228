package transfer

import "errors"

var (
	// ErrUnusable indicates even the minimum buffer size could not be
	// allocated. The manager never retries.
	ErrUnusable = errors.New("transfer: buffer unusable")

	// ErrNoBuffer indicates an operation that needs a live buffer was called
	// without one.
	ErrNoBuffer = errors.New("transfer: no buffer")

	// ErrTooLarge indicates an Alloc larger than the current buffer can hold.
	ErrTooLarge = errors.New("transfer: allocation larger than buffer")

	// ErrUnknownRegion indicates a block operation naming a region the
	// manager no longer holds.
	ErrUnknownRegion = errors.New("transfer: unknown region")

	// ErrInvalidConfig indicates inconsistent size bounds.
	ErrInvalidConfig = errors.New("transfer: invalid config")
)

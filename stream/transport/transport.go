package transport

import (
	"context"
	"errors"
)

// ErrContextLost indicates the service reported an unrecoverable error. Once
// observed, every blocking operation is treated as already failed.
var ErrContextLost = errors.New("transport: context lost")

// InvalidID is returned as a buffer id when a transfer buffer could not be
// created.
const InvalidID int32 = -1

// Buffer is a shared region handed out by the transport. Mem is the client's
// local mapping.
type Buffer struct {
	ID  int32
	Mem []byte
}

// Size returns the mapped size in bytes.
func (b *Buffer) Size() uint32 {
	if b == nil {
		return 0
	}
	return uint32(len(b.Mem))
}

// State is a snapshot of service progress.
type State struct {
	GetOffset int32  // next unconsumed entry
	Token     int32  // last token read
	Error     Error  // ErrorNone while healthy
	Reason    Reason // why the context was lost, when Error != ErrorNone
	// Generation counts SetGetBuffer calls the service has processed. A state
	// from an older generation describes a ring the client no longer uses.
	Generation uint32
}

// CommandBuffer is the service side of the command stream as seen by the
// client. Every method may fail; failures are reported through State.Error or
// an InvalidID buffer id rather than panics.
type CommandBuffer interface {
	// Initialize prepares the transport. It returns false if the transport
	// can never be used.
	Initialize() bool

	// GetLastState returns the most recently reported service state without
	// blocking.
	GetLastState() State

	// GetLastToken returns the most recently reported token. It is cheaper
	// than GetLastState for token polling.
	GetLastToken() int32

	// Flush publishes putOffset and asks the service to process up to it.
	Flush(putOffset int32)

	// OrderingBarrier publishes putOffset and requires strict interleaving
	// with other streams on the same channel without forcing eager processing.
	OrderingBarrier(putOffset int32)

	// WaitForTokenInRange blocks until the last token read is in [start, end],
	// the service reports an error, or ctx is done.
	WaitForTokenInRange(ctx context.Context, start, end int32) State

	// WaitForGetOffsetInRange blocks until the service has processed the
	// SetGetBuffer call numbered generation and its get offset lies in
	// [start, end], the service reports an error, or ctx is done.
	WaitForGetOffsetInRange(ctx context.Context, generation uint32, start, end int32) State

	// SetGetBuffer binds the command ring to buffer id and resets both get
	// and put offsets to 0. An id of InvalidID unbinds the ring.
	SetGetBuffer(id int32)

	// CreateTransferBuffer creates a shared region of size bytes. On failure
	// the returned id is InvalidID and the buffer is nil.
	CreateTransferBuffer(size uint32) (*Buffer, int32)

	// DestroyTransferBuffer releases the region with the given id.
	DestroyTransferBuffer(id int32)
}

// InRange reports whether v lies in [start, end], accounting for ranges that
// wrap past the end of the ring (start > end).
func InRange(start, end, v int32) bool {
	if start <= end {
		return start <= v && v <= end
	}
	return start <= v || v <= end
}

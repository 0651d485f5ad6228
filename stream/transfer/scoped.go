package transfer

import (
	"unsafe"

	"github.com/joshuapare/cmdring/stream/cmdbuf"
	"github.com/joshuapare/cmdring/stream/transport"
)

// ScopedPtr owns one transfer buffer allocation. Release (or Reset) hands it
// back against a freshly inserted token, so the region is not reused until
// the service has consumed every command issued while it was held.
//
// The typical pattern is
//
//	p := transfer.NewScopedPtr(helper, tb, uint32(len(payload)))
//	defer p.Release()
//	n := copy(p.Bytes(), payload)
//	// ... issue a command referencing p.ShmID(), p.Offset() and n ...
type ScopedPtr struct {
	helper *cmdbuf.Helper
	tb     *TransferBuffer
	shmID  int32
	offset uint32
	mem    []byte
	valid  bool
	err    error
}

// NewScopedPtr allocates up to size bytes. Check Valid: the allocation may
// have failed, and Size may be smaller than requested.
func NewScopedPtr(helper *cmdbuf.Helper, tb *TransferBuffer, size uint32) *ScopedPtr {
	p := &ScopedPtr{helper: helper, tb: tb, shmID: transport.InvalidID}
	p.Reset(size)
	return p
}

// Reset releases the current allocation and allocates up to newSize bytes.
// A zero newSize still allocates, so Offset and ShmID stay meaningful.
func (p *ScopedPtr) Reset(newSize uint32) error {
	if err := p.Release(); err != nil {
		return err
	}
	off, mem, err := p.tb.AllocUpTo(newSize)
	p.err = err
	if err != nil {
		return err
	}
	p.shmID, p.offset, p.mem, p.valid = p.tb.cur.id, off, mem, true
	return nil
}

// Release frees the allocation pending a new token. Releasing an empty
// pointer is a no-op. The allocation goes back to the region it came from,
// even if the manager has moved to a new one since.
func (p *ScopedPtr) Release() error {
	if !p.valid {
		return nil
	}
	id, off := p.shmID, p.offset
	p.clear()
	return p.tb.FreePendingToken(id, off, p.helper.InsertToken())
}

// Discard frees the allocation without a token. Only use it when no command
// referencing the memory was issued.
func (p *ScopedPtr) Discard() error {
	if !p.valid {
		return nil
	}
	id, off := p.shmID, p.offset
	p.clear()
	return p.tb.DiscardBlock(id, off)
}

// Shrink gives back the tail of the allocation. It never grows it.
func (p *ScopedPtr) Shrink(newSize uint32) error {
	if !p.valid || newSize >= uint32(len(p.mem)) {
		return nil
	}
	if err := p.tb.ShrinkLastBlock(p.shmID, newSize); err != nil {
		return err
	}
	p.mem = p.mem[:newSize]
	return nil
}

func (p *ScopedPtr) clear() {
	p.shmID, p.offset, p.mem, p.valid = transport.InvalidID, 0, nil, false
}

// Valid reports whether the pointer holds an allocation.
func (p *ScopedPtr) Valid() bool { return p.valid }

// Err returns the error of the last failed allocation, if any.
func (p *ScopedPtr) Err() error { return p.err }

// Bytes returns the allocated memory.
func (p *ScopedPtr) Bytes() []byte { return p.mem }

// Size returns the allocated size in bytes.
func (p *ScopedPtr) Size() uint32 { return uint32(len(p.mem)) }

// Offset returns the allocation's offset in the transfer region.
func (p *ScopedPtr) Offset() uint32 { return p.offset }

// ShmID returns the buffer id of the region holding the allocation, or
// transport.InvalidID without one.
func (p *ScopedPtr) ShmID() int32 { return p.shmID }

// BelongsToBuffer reports whether a region offset falls inside the
// allocation.
func (p *ScopedPtr) BelongsToBuffer(offset uint32) bool {
	return p.valid && offset >= p.offset && offset-p.offset < uint32(len(p.mem))
}

// ScopedArray is a ScopedPtr viewed as elements of T. T must be plain
// fixed-size data without pointers.
type ScopedArray[T any] struct {
	*ScopedPtr
}

// NewScopedArray allocates room for up to n elements.
func NewScopedArray[T any](helper *cmdbuf.Helper, tb *TransferBuffer, n int) *ScopedArray[T] {
	var zero T
	return &ScopedArray[T]{NewScopedPtr(helper, tb, uint32(n)*uint32(unsafe.Sizeof(zero)))}
}

// Len returns the number of whole elements allocated.
func (a *ScopedArray[T]) Len() int {
	var zero T
	sz := int(unsafe.Sizeof(zero))
	if sz == 0 {
		return 0
	}
	return len(a.mem) / sz
}

// Elements returns the allocation as a slice of T.
func (a *ScopedArray[T]) Elements() []T {
	n := a.Len()
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&a.mem[0])), n)
}

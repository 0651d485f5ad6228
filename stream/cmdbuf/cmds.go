package cmdbuf

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/cmdring/internal/format"
)

// GetCmdSpace reserves space for a fixed-layout command T and returns it
// typed. T must be made of 32-bit fields starting with a format.CommandHeader.
func GetCmdSpace[T any](h *Helper) (*T, error) {
	space, err := h.GetSpace(int32(format.SizeOf[T]()))
	if err != nil {
		return nil, err
	}
	return (*T)(unsafe.Pointer(&space[0])), nil
}

// GetImmediateCmdSpace reserves a command T followed by dataSize bytes of
// inline data, rounded up to whole entries. It returns the typed command and
// the data bytes.
func GetImmediateCmdSpace[T any](h *Helper, dataSize uint32) (*T, []byte, error) {
	fixed := format.SizeOf[T]()
	dataEntries := format.AlignUp(dataSize, format.EntrySize) / format.EntrySize
	space, err := h.GetSpace(int32(fixed + dataEntries))
	if err != nil {
		return nil, nil, err
	}
	cmd := (*T)(unsafe.Pointer(&space[0]))
	if dataSize == 0 {
		return cmd, nil, nil
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(&space[fixed])), dataSize)
	return cmd, data, nil
}

// PutCommand writes a command with the given id and argument entries.
func (h *Helper) PutCommand(cmd uint32, args ...uint32) error {
	size := uint32(len(args)) + 1
	if size > format.MaxCommandSize {
		return fmt.Errorf("%w: %d entries", format.ErrTooLarge, size)
	}
	if cmd > format.MaxCommandID {
		return fmt.Errorf("cmdbuf: command id %d out of range", cmd)
	}
	space, err := h.GetSpace(int32(size))
	if err != nil {
		return err
	}
	space[0] = uint32(format.MakeHeader(cmd, size))
	copy(space[1:], args)
	return nil
}

// Noop writes a Noop command spanning n entries.
func (h *Helper) Noop(n int32) error {
	space, err := h.GetSpace(n)
	if err != nil {
		return err
	}
	format.PutNoops(space)
	return nil
}

package format

import "unsafe"

// CommandHeader is the first entry of every command: the low 21 bits hold the
// command size in entries (header included), the high 11 bits the command id.
type CommandHeader uint32

// MakeHeader packs a command id and a size in entries.
func MakeHeader(cmd uint32, size uint32) CommandHeader {
	return CommandHeader(cmd<<CommandSizeBits | size&commandSizeMask)
}

// Size returns the command size in entries.
func (h CommandHeader) Size() uint32 { return uint32(h) & commandSizeMask }

// Command returns the command id.
func (h CommandHeader) Command() uint32 { return uint32(h) >> CommandSizeBits }

// Noop is a padding command. Its body is Size()-1 ignored entries.
type Noop struct {
	Header CommandHeader
}

// SetToken asks the service to publish Token as its last read token once
// everything before it has been consumed.
type SetToken struct {
	Header CommandHeader
	Token  uint32
}

// Init fills in the header and token.
func (c *SetToken) Init(token int32) {
	c.Header = MakeHeader(CmdSetToken, SizeOf[SetToken]())
	c.Token = uint32(token)
}

// SizeOf returns the size of a fixed-layout command in entries.
func SizeOf[T any]() uint32 {
	var zero T
	return uint32((unsafe.Sizeof(zero) + EntrySize - 1) / EntrySize)
}

// PutNoops writes Noop commands covering all of entries. Runs longer than
// MaxCommandSize are split into several Noops.
func PutNoops(entries []uint32) {
	for len(entries) > 0 {
		n := min(len(entries), MaxCommandSize)
		entries[0] = uint32(MakeHeader(CmdNoop, uint32(n)))
		entries = entries[n:]
	}
}

// ReadHeader decodes the header at entries[0] and checks that the whole
// command fits in entries.
func ReadHeader(entries []uint32) (CommandHeader, error) {
	if len(entries) == 0 {
		return 0, ErrTruncated
	}
	h := CommandHeader(entries[0])
	switch {
	case h.Size() == 0:
		return h, ErrZeroSize
	case int(h.Size()) > len(entries):
		return h, ErrTruncated
	}
	return h, nil
}

// EntriesOf views a byte region as command buffer entries. len(mem) is
// truncated down to a whole number of entries; mem must be 4-byte aligned.
func EntriesOf(mem []byte) []uint32 {
	n := len(mem) / EntrySize
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&mem[0])), n)
}

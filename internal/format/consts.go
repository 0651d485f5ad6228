// Package format holds the low-level layout of the command stream: the entry
// unit, the command header bit packing, and the handful of commands the
// transport core itself emits (Noop padding and SetToken). Command encodings
// for anything above the transport live with their callers.
package format

const (
	// EntrySize is the size in bytes of one command buffer entry.
	// All put/get offsets are expressed in entries.
	EntrySize = 4

	// CommandSizeBits is the width of the size field in a command header.
	CommandSizeBits = 21

	// CommandIDBits is the width of the command id field in a command header.
	CommandIDBits = 11

	// MaxCommandSize is the largest size (in entries, header included) a
	// single command header can describe.
	MaxCommandSize = 1<<CommandSizeBits - 1

	// MaxCommandID is the largest command id a header can carry.
	MaxCommandID = 1<<CommandIDBits - 1

	commandSizeMask = MaxCommandSize
)

// Command ids reserved by the transport core.
const (
	CmdNoop     uint32 = 0
	CmdSetToken uint32 = 1

	// FirstUserCommand is the first id available to command sets layered on
	// top of the transport.
	FirstUserCommand uint32 = 256
)

// TokenMask keeps tokens in the positive int32 range. Negative tokens signal
// a failed insertion.
const TokenMask = 0x7FFFFFFF

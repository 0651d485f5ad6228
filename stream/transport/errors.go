package transport

// Error is the service's error code.
type Error uint32

const (
	ErrorNone Error = iota
	ErrorInvalidSize
	ErrorOutOfBounds
	ErrorUnknownCommand
	ErrorInvalidArguments
	ErrorLostContext
)

// IsError reports whether e is an actual error.
func (e Error) IsError() bool { return e != ErrorNone }

func (e Error) String() string {
	switch e {
	case ErrorNone:
		return "none"
	case ErrorInvalidSize:
		return "invalid_size"
	case ErrorOutOfBounds:
		return "out_of_bounds"
	case ErrorUnknownCommand:
		return "unknown_command"
	case ErrorInvalidArguments:
		return "invalid_arguments"
	case ErrorLostContext:
		return "lost_context"
	default:
		return "unknown"
	}
}

// Reason explains why a context was lost.
type Reason uint32

const (
	ReasonUnknown Reason = iota
	ReasonGuilty
	ReasonInnocent
	ReasonOutOfMemory
	ReasonChannelLost
)

func (r Reason) String() string {
	switch r {
	case ReasonGuilty:
		return "guilty"
	case ReasonInnocent:
		return "innocent"
	case ReasonOutOfMemory:
		return "out_of_memory"
	case ReasonChannelLost:
		return "channel_lost"
	default:
		return "unknown"
	}
}

package cmdbuf

import "errors"

var (
	// ErrUnusable indicates the helper could not allocate its ring and will
	// never hand out space again.
	ErrUnusable = errors.New("cmdbuf: helper unusable")

	// ErrNoSpace indicates the ring could not provide the requested entries,
	// usually because the request exceeds the ring.
	ErrNoSpace = errors.New("cmdbuf: not enough ring space")

	// ErrWaitTimeout indicates a blocking wait outlived Options.WaitTimeout.
	ErrWaitTimeout = errors.New("cmdbuf: wait timed out")

	// ErrInvalidRingSize indicates a ring too small to hold a single command.
	ErrInvalidRingSize = errors.New("cmdbuf: invalid ring size")

	// ErrTransportInit indicates the transport refused to initialize.
	ErrTransportInit = errors.New("cmdbuf: transport initialization failed")
)

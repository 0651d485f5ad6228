package format

import "errors"

var (
	// ErrTruncated indicates a command ran past the end of the entry slice.
	ErrTruncated = errors.New("format: truncated command")
	// ErrZeroSize indicates a command header with a size of zero entries.
	ErrZeroSize = errors.New("format: zero-sized command")
	// ErrTooLarge indicates a command larger than a header can describe.
	ErrTooLarge = errors.New("format: command too large")
)

package transfer

import (
	"fmt"
	"log/slog"

	"github.com/joshuapare/cmdring/internal/format"
)

// Default sizes, in bytes.
const (
	DefaultBufferSize     = 64 << 10
	DefaultResultSize     = 64
	DefaultMinBufferSize  = 4 << 10
	DefaultMaxBufferSize  = 16 << 20
	DefaultAlignment      = 16
	DefaultFlushThreshold = 256 << 10
)

// Config bounds the transfer buffer. Sizes cover the whole region, result
// area included.
type Config struct {
	DefaultSize uint32
	ResultSize  uint32
	MinSize     uint32
	MaxSize     uint32
	Alignment   uint32

	// FlushThreshold is how many allocated bytes may accumulate before a
	// release forces a helper flush. Zero disables it.
	FlushThreshold uint32
}

// DefaultConfig returns the bounds used when nothing else is configured.
func DefaultConfig() Config {
	return Config{
		DefaultSize:    DefaultBufferSize,
		ResultSize:     DefaultResultSize,
		MinSize:        DefaultMinBufferSize,
		MaxSize:        DefaultMaxBufferSize,
		Alignment:      DefaultAlignment,
		FlushThreshold: DefaultFlushThreshold,
	}
}

// normalize aligns every size and checks the bounds are consistent.
func (c Config) normalize() (Config, error) {
	if !format.IsPow2(c.Alignment) {
		return c, fmt.Errorf("%w: alignment %d is not a power of two", ErrInvalidConfig, c.Alignment)
	}
	c.DefaultSize = format.AlignUp(c.DefaultSize, c.Alignment)
	c.MinSize = format.AlignUp(c.MinSize, c.Alignment)
	c.MaxSize = format.AlignUp(c.MaxSize, c.Alignment)
	c.FlushThreshold = format.AlignUp(c.FlushThreshold, c.Alignment)

	switch {
	case c.MinSize > c.MaxSize:
		return c, fmt.Errorf("%w: min %d > max %d", ErrInvalidConfig, c.MinSize, c.MaxSize)
	case c.ResultSize >= c.MinSize:
		return c, fmt.Errorf("%w: result size %d leaves no ring in a %d byte buffer", ErrInvalidConfig, c.ResultSize, c.MinSize)
	}
	return c, nil
}

// Observer receives buffer lifecycle events.
type Observer interface {
	Reallocated(size uint32)
	CreateFailed(size uint32)
}

type nopObserver struct{}

func (nopObserver) Reallocated(uint32)  {}
func (nopObserver) CreateFailed(uint32) {}

// Options configures a TransferBuffer beyond its size bounds.
type Options struct {
	Logger   *slog.Logger // nil uses the helper's logger
	Observer Observer
}

func (o Options) withDefaults(fallback *slog.Logger) Options {
	if o.Logger == nil {
		o.Logger = fallback
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

package cmdbuf

import (
	"log/slog"
	"time"
)

const (
	// autoFlushSmall divides the ring when the service is caught up.
	autoFlushSmall = 16
	// autoFlushBig divides the ring while the service is still busy.
	autoFlushBig = 2

	// DefaultCommandsPerFlushCheck is how many reservations pass between
	// periodic flush checks.
	DefaultCommandsPerFlushCheck = 100

	// DefaultPeriodicFlushDelay is the longest a reservation stream may go
	// without a flush before the periodic check forces one.
	DefaultPeriodicFlushDelay = time.Second / (5 * 60)
)

// WaitKind labels a blocking wait for observers.
type WaitKind string

const (
	WaitToken     WaitKind = "token"
	WaitGetOffset WaitKind = "get_offset"
)

// Observer receives helper events. Implementations must be cheap; they run on
// the writer's goroutine.
type Observer interface {
	Flushed(put int32, ordering bool)
	Waited(kind WaitKind, d time.Duration)
	TokenWrapped()
	ContextLost()
}

type nopObserver struct{}

func (nopObserver) Flushed(int32, bool)            {}
func (nopObserver) Waited(WaitKind, time.Duration) {}
func (nopObserver) TokenWrapped()                  {}
func (nopObserver) ContextLost()                   {}

// Options configures a Helper. The zero value is valid.
type Options struct {
	// Logger receives state changes. Nil discards.
	Logger *slog.Logger

	// Observer receives flush/wait events. Nil disables.
	Observer Observer

	// DisableAutomaticFlushes turns off the entry-budget and periodic flush
	// heuristics. Callers then flush explicitly.
	DisableAutomaticFlushes bool

	// CommandsPerFlushCheck overrides DefaultCommandsPerFlushCheck.
	CommandsPerFlushCheck int

	// PeriodicFlushDelay overrides DefaultPeriodicFlushDelay.
	PeriodicFlushDelay time.Duration

	// WaitTimeout bounds every blocking wait. Zero waits forever, which is
	// the transport contract's native behavior.
	WaitTimeout time.Duration

	// Now replaces time.Now for tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.CommandsPerFlushCheck <= 0 {
		o.CommandsPerFlushCheck = DefaultCommandsPerFlushCheck
	}
	if o.PeriodicFlushDelay <= 0 {
		o.PeriodicFlushDelay = DefaultPeriodicFlushDelay
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

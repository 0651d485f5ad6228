package cmdbuf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshuapare/cmdring/internal/format"
	"github.com/joshuapare/cmdring/stream/transport"
)

// ErrStalled indicates a wait returned without error but also without the
// progress it was waiting for.
var ErrStalled = errors.New("cmdbuf: service made no progress")

// Helper writes commands into the shared command ring and drives flow control
// against the service.
//
// NOT thread-safe. Only one goroutine should use it at a time.
type Helper struct {
	cb  transport.CommandBuffer
	log *slog.Logger
	obs Observer
	opt Options

	ringSize uint32 // bytes requested for the ring
	ring     *transport.Buffer
	ringID   int32
	entries  []uint32

	totalEntryCount     int32
	immediateEntryCount int32

	token               int32 // last issued token
	put                 int32 // next free entry, client owned
	lastPutSent         int32 // put offset of the last Flush
	cachedGetOffset     int32
	cachedLastTokenRead int32

	// generation counts SetGetBuffer calls. A service state from an older
	// generation describes a ring we no longer use.
	generation         uint32
	serviceOnOldBuffer bool

	commandsIssued     int
	lastFlushTime      time.Time
	flushGeneration    uint32
	flushAutomatically bool

	usable      bool
	contextLost bool

	closers []func()
}

// NewHelper creates a helper over cb. Call Initialize before reserving space.
func NewHelper(cb transport.CommandBuffer, opts Options) *Helper {
	opts = opts.withDefaults()
	return &Helper{
		cb:                 cb,
		log:                opts.Logger,
		obs:                opts.Observer,
		opt:                opts,
		ringID:             transport.InvalidID,
		flushAutomatically: !opts.DisableAutomaticFlushes,
		usable:             true,
	}
}

// Initialize initializes the transport and allocates a command ring of
// ringSize bytes.
func (h *Helper) Initialize(ringSize uint32) error {
	if ringSize/format.EntrySize < 4 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidRingSize, ringSize)
	}
	if !h.cb.Initialize() {
		h.ClearUsable()
		return ErrTransportInit
	}
	h.ringSize = ringSize
	if !h.allocateRingBuffer() {
		return fmt.Errorf("allocate %d byte ring: %w", ringSize, ErrUnusable)
	}
	return nil
}

// Close runs the functions registered with OnClose, newest first, then
// flushes pending work and releases the command ring.
func (h *Helper) Close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		h.closers[i]()
	}
	h.closers = nil
	h.FreeRingBuffer()
}

// OnClose registers fn to run when the helper closes, while the command ring
// is still available. Resources layered on the helper, such as transfer
// buffers, use it to go away with it.
func (h *Helper) OnClose(fn func()) {
	h.closers = append(h.closers, fn)
}

// CommandBuffer returns the underlying transport.
func (h *Helper) CommandBuffer() transport.CommandBuffer { return h.cb }

// Logger returns the helper's logger.
func (h *Helper) Logger() *slog.Logger { return h.log }

// SetAutomaticFlushes toggles the auto-flush heuristics.
func (h *Helper) SetAutomaticFlushes(enabled bool) {
	h.flushAutomatically = enabled
	h.calcImmediateEntries(0)
}

// HaveRingBuffer reports whether a command ring is currently bound.
func (h *Helper) HaveRingBuffer() bool { return h.ringID != transport.InvalidID }

// Usable reports whether the helper can still hand out space.
func (h *Helper) Usable() bool { return h.usable }

// ClearUsable permanently marks the helper unusable. Reservations fail
// without blocking from then on.
func (h *Helper) ClearUsable() {
	if h.usable {
		h.log.Warn("cmdbuf.unusable")
	}
	h.usable = false
	h.markContextLost()
	h.calcImmediateEntries(0)
}

// IsContextLost reports whether the service has reported an error, querying
// the last state if no error has been seen yet.
func (h *Helper) IsContextLost() bool {
	if !h.contextLost {
		if st := h.cb.GetLastState(); st.Error.IsError() {
			h.log.Warn("cmdbuf.context_lost", "error", st.Error.String(), "reason", st.Reason.String())
			h.markContextLost()
		}
	}
	return h.contextLost
}

func (h *Helper) markContextLost() {
	if !h.contextLost {
		h.contextLost = true
		h.obs.ContextLost()
	}
}

// allocateRingBuffer creates and binds the ring if there is none. A transport
// failure makes the helper unusable.
func (h *Helper) allocateRingBuffer() bool {
	if !h.usable {
		return false
	}
	if h.HaveRingBuffer() {
		return true
	}
	buf, id := h.cb.CreateTransferBuffer(h.ringSize)
	if id < 0 || buf == nil {
		h.log.Warn("cmdbuf.ring.alloc_failed", "size", h.ringSize)
		h.ClearUsable()
		return false
	}
	h.setGetBuffer(id, buf)
	return true
}

func (h *Helper) setGetBuffer(id int32, buf *transport.Buffer) {
	h.cb.SetGetBuffer(id)
	h.ring = buf
	h.ringID = id
	h.generation++
	h.entries = nil
	h.totalEntryCount = 0
	if buf != nil {
		h.entries = format.EntriesOf(buf.Mem)
		if n := int(h.ringSize / format.EntrySize); len(h.entries) > n {
			h.entries = h.entries[:n]
		}
		h.totalEntryCount = int32(len(h.entries))
	}
	// SetGetBuffer resets both offsets on the service side.
	h.put = 0
	h.lastPutSent = 0
	h.cachedGetOffset = 0
	h.serviceOnOldBuffer = true
	h.calcImmediateEntries(0)
}

// FreeRingBuffer flushes and destroys the command ring. The next reservation
// allocates a fresh one.
func (h *Helper) FreeRingBuffer() {
	if !h.HaveRingBuffer() {
		return
	}
	h.FlushLazy()
	h.cb.DestroyTransferBuffer(h.ringID)
	h.setGetBuffer(transport.InvalidID, nil)
}

// calcImmediateEntries recomputes how many entries GetSpace may hand out
// without flushing or waiting. waiting is the size of the request being
// served; the budget never drops below it so oversized commands cannot
// deadlock against the flush limit.
func (h *Helper) calcImmediateEntries(waiting int32) {
	if !h.HaveRingBuffer() {
		h.immediateEntryCount = 0
		return
	}

	// Maximum contiguous entries that are safe to write.
	get := h.cachedGetOffset
	if get > h.put {
		h.immediateEntryCount = get - h.put - 1
	} else {
		h.immediateEntryCount = h.totalEntryCount - h.put
		if get == 0 {
			h.immediateEntryCount--
		}
	}

	if !h.flushAutomatically {
		return
	}
	divisor := int32(autoFlushBig)
	if get == h.lastPutSent {
		divisor = autoFlushSmall
	}
	limit := h.totalEntryCount / divisor
	pending := (h.put + h.totalEntryCount - h.lastPutSent) % h.totalEntryCount
	if pending > 0 && pending >= limit {
		h.immediateEntryCount = 0
		return
	}
	limit = max(limit-pending, waiting)
	h.immediateEntryCount = min(h.immediateEntryCount, limit)
}

// GetSpace reserves n contiguous entries and advances the put offset past
// them. It may flush or block to make room.
func (h *Helper) GetSpace(n int32) ([]uint32, error) {
	if h.flushAutomatically {
		h.commandsIssued++
		if h.commandsIssued%h.opt.CommandsPerFlushCheck == 0 {
			h.PeriodicFlushCheck()
		}
	}

	if !h.usable {
		return nil, ErrUnusable
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative request %d", ErrNoSpace, n)
	}
	if n > h.immediateEntryCount {
		if err := h.waitForAvailableEntries(n); err != nil {
			return nil, err
		}
		if n > h.immediateEntryCount {
			return nil, h.spaceError(n)
		}
	}

	space := h.entries[h.put : h.put+n : h.put+n]
	h.put += n
	h.immediateEntryCount -= n
	return space, nil
}

func (h *Helper) spaceError(n int32) error {
	switch {
	case !h.usable:
		return ErrUnusable
	case h.contextLost:
		return transport.ErrContextLost
	default:
		return fmt.Errorf("%w: %d entries, %d available", ErrNoSpace, n, h.immediateEntryCount)
	}
}

// waitForAvailableEntries makes count contiguous entries available, wrapping
// the ring with Noop padding if the request does not fit before the end. It
// may change the put offset.
func (h *Helper) waitForAvailableEntries(count int32) error {
	if !h.allocateRingBuffer() {
		return ErrUnusable
	}
	if count >= h.totalEntryCount {
		return fmt.Errorf("%w: %d entries requested, ring holds %d", ErrNoSpace, count, h.totalEntryCount)
	}

	if h.put+count > h.totalEntryCount {
		// Not enough room before the end: pad to the end and wrap. The get
		// offset has to move off 0 first, otherwise the service would see
		// put == get after the wrap and skip the whole ring.
		if get := h.cachedGetOffset; get > h.put || get == 0 {
			h.FlushLazy()
			if err := h.WaitForGetOffsetInRange(1, h.put); err != nil {
				return err
			}
		}
		format.PutNoops(h.entries[h.put:h.totalEntryCount])
		h.put = 0
	}

	h.calcImmediateEntries(count)
	if h.immediateEntryCount >= count {
		return nil
	}
	// Try again with a shallow flush.
	h.FlushLazy()
	h.calcImmediateEntries(count)
	if h.immediateEntryCount >= count {
		return nil
	}
	// The ring is full: wait until get leaves the span we want to write.
	if err := h.WaitForGetOffsetInRange((h.put+count+1)%h.totalEntryCount, h.put); err != nil {
		return err
	}
	h.calcImmediateEntries(count)
	return nil
}

// GetTotalFreeEntriesNoWaiting returns every free entry, including those past
// the wrap point that a single reservation could not use.
func (h *Helper) GetTotalFreeEntriesNoWaiting() int32 {
	get := h.cachedGetOffset
	if get > h.put {
		return get - h.put - 1
	}
	free := get + h.totalEntryCount - h.put
	if get == 0 {
		free--
	}
	return free
}

// Flush publishes the put offset to the service.
func (h *Helper) Flush() {
	if h.put == h.totalEntryCount {
		h.put = 0
	}
	if !h.HaveRingBuffer() {
		return
	}
	h.lastFlushTime = h.opt.Now()
	h.lastPutSent = h.put
	h.cb.Flush(h.put)
	h.flushGeneration++
	h.obs.Flushed(h.put, false)
	h.calcImmediateEntries(0)
}

// FlushLazy flushes only if the put offset moved since the last flush.
func (h *Helper) FlushLazy() {
	if h.put == h.lastPutSent {
		return
	}
	h.Flush()
}

// OrderingBarrier publishes the put offset with strict ordering against other
// streams on the same channel, without forcing the service to process it
// now. It does not count as a flush for FlushLazy.
func (h *Helper) OrderingBarrier() {
	if h.put == h.totalEntryCount {
		h.put = 0
	}
	if !h.HaveRingBuffer() {
		return
	}
	h.cb.OrderingBarrier(h.put)
	h.flushGeneration++
	h.obs.Flushed(h.put, true)
	h.calcImmediateEntries(0)
}

// PeriodicFlushCheck flushes if the last flush is older than the configured
// delay.
func (h *Helper) PeriodicFlushCheck() {
	if h.opt.Now().Sub(h.lastFlushTime) > h.opt.PeriodicFlushDelay {
		h.Flush()
	}
}

// Finish flushes and blocks until the service has consumed everything up to
// the put offset.
func (h *Helper) Finish() error {
	if !h.HaveRingBuffer() || (h.put == h.cachedGetOffset && !h.serviceOnOldBuffer) {
		if h.contextLost {
			return transport.ErrContextLost
		}
		return nil
	}
	h.FlushLazy()
	if err := h.WaitForGetOffsetInRange(h.put, h.put); err != nil {
		return err
	}
	h.calcImmediateEntries(0)
	return nil
}

// WaitForGetOffsetInRange blocks until the service's get offset lies in
// [start, end] (a wrapped range when start > end).
func (h *Helper) WaitForGetOffsetInRange(start, end int32) error {
	if h.contextLost {
		return transport.ErrContextLost
	}
	ctx, cancel := h.waitContext()
	defer cancel()

	began := h.opt.Now()
	st := h.cb.WaitForGetOffsetInRange(ctx, h.generation, start, end)
	h.obs.Waited(WaitGetOffset, h.opt.Now().Sub(began))
	h.updateCachedState(st)

	switch {
	case h.contextLost:
		return transport.ErrContextLost
	case ctx.Err() != nil:
		return fmt.Errorf("%w: get offset in [%d, %d]: %w", ErrWaitTimeout, start, end, ctx.Err())
	case h.serviceOnOldBuffer || !transport.InRange(start, end, h.cachedGetOffset):
		return fmt.Errorf("%w: get offset %d not in [%d, %d]", ErrStalled, h.cachedGetOffset, start, end)
	}
	return nil
}

func (h *Helper) waitContext() (context.Context, context.CancelFunc) {
	if h.opt.WaitTimeout > 0 {
		return context.WithTimeout(context.Background(), h.opt.WaitTimeout)
	}
	return context.Background(), func() {}
}

func (h *Helper) updateCachedState(st transport.State) {
	h.serviceOnOldBuffer = st.Generation != h.generation
	if h.serviceOnOldBuffer {
		h.cachedGetOffset = 0
	} else {
		h.cachedGetOffset = st.GetOffset
	}
	h.cachedLastTokenRead = st.Token
	if st.Error.IsError() && !h.contextLost {
		h.log.Warn("cmdbuf.context_lost", "error", st.Error.String(), "reason", st.Reason.String())
		h.markContextLost()
	}
}

// Accessors, mostly for tests and diagnostics.

// FlushGeneration increments on every Flush and OrderingBarrier. Callers
// compare values to tell whether a flush happened since an earlier point.
func (h *Helper) FlushGeneration() uint32 { return h.flushGeneration }

// PutOffset returns the client's put offset in entries.
func (h *Helper) PutOffset() int32 { return h.put }

// LastPutSent returns the put offset of the last Flush.
func (h *Helper) LastPutSent() int32 { return h.lastPutSent }

// CachedGetOffset returns the last observed get offset.
func (h *Helper) CachedGetOffset() int32 { return h.cachedGetOffset }

// TotalEntryCount returns the ring size in entries.
func (h *Helper) TotalEntryCount() int32 { return h.totalEntryCount }

// ImmediateEntryCount returns the current reservation budget.
func (h *Helper) ImmediateEntryCount() int32 { return h.immediateEntryCount }

// RingBuffer returns the bound command ring, or nil.
func (h *Helper) RingBuffer() *transport.Buffer { return h.ring }

// RingID returns the bound ring's buffer id, or transport.InvalidID.
func (h *Helper) RingID() int32 { return h.ringID }

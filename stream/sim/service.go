// Package sim is an in-process reference service for the command stream.
//
// It implements transport.CommandBuffer over shmem regions, consumes the
// commands the transport core emits (Noop and SetToken) and hands every other
// command to an optional Handler. Tests use it to observe flushes and waits;
// the streamctl tool uses it to run workloads end to end.
//
// # Modes
//
//   - Synchronous: Flush processes everything up to the new put offset
//   - Paused: nothing is processed until a wait needs progress or Process
//     is called, which makes unflushed and flushed-but-unread states visible
//   - Async: a worker goroutine consumes commands as they are flushed,
//     optionally sleeping CommandDelay after each one
//
// A wait that can never be satisfied (the service is idle at the published put
// offset and the condition is still false) loses the context rather than
// hanging, since a real client would otherwise stall forever.
package sim

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joshuapare/cmdring/internal/format"
	"github.com/joshuapare/cmdring/stream/shmem"
	"github.com/joshuapare/cmdring/stream/transport"
)

// Mode selects when the service consumes flushed commands.
type Mode int

const (
	Synchronous Mode = iota
	Paused
	Async
)

// Handler consumes a command the service does not know itself. args excludes
// the header; region looks up the memory of a live buffer by id, or returns
// nil. Returning an error code loses the context.
type Handler func(cmd uint32, args []uint32, region func(id int32) []byte) transport.Error

// Options configures a Service.
type Options struct {
	Mode         Mode
	Handler      Handler
	CommandDelay time.Duration // Async only
	Logger       *slog.Logger
}

// Stats counts service-side activity.
type Stats struct {
	Flushes          int
	OrderingBarriers int
	Commands         int
	Tokens           int
	Waits            int
	BuffersCreated   int
	BuffersDestroyed int
	CreateFailures   int
	LastPut          int32
}

// Service is a transport.CommandBuffer that consumes commands in-process.
// It is safe for use by one client goroutine plus its own worker.
type Service struct {
	mu   sync.Mutex
	cond *sync.Cond
	opts Options
	log  *slog.Logger

	regions map[int32]*shmem.Region
	nextID  int32

	ringID     int32
	ring       []uint32
	put        int32
	get        int32
	token      int32
	generation uint32
	err        transport.Error
	reason     transport.Reason

	failInit    bool
	failCreate  bool
	createLimit uint32

	stats  Stats
	closed bool
	done   chan struct{}
}

var _ transport.CommandBuffer = (*Service)(nil)

// New creates a service. In Async mode the worker starts immediately; Close
// stops it.
func New(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Service{
		opts:    opts,
		log:     log,
		regions: make(map[int32]*shmem.Region),
		nextID:  1,
		ringID:  transport.InvalidID,
	}
	s.cond = sync.NewCond(&s.mu)
	if opts.Mode == Async {
		s.done = make(chan struct{})
		go s.run()
	}
	return s
}

// Close stops the worker and unmaps every region. Calling Close twice is a
// no-op.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	if s.done != nil {
		<-s.done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for id, r := range s.regions {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.regions, id)
	}
	s.ring = nil
	return firstErr
}

// Initialize implements transport.CommandBuffer.
func (s *Service) Initialize() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.failInit && !s.closed
}

// GetLastState implements transport.CommandBuffer.
func (s *Service) GetLastState() transport.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// GetLastToken implements transport.CommandBuffer.
func (s *Service) GetLastToken() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Flush implements transport.CommandBuffer.
func (s *Service) Flush(put int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Flushes++
	if !s.setPutLocked(put) {
		return
	}
	if s.opts.Mode == Synchronous {
		s.processLocked()
	}
	s.cond.Broadcast()
}

// OrderingBarrier implements transport.CommandBuffer. It publishes put but
// only the Async worker picks it up eagerly.
func (s *Service) OrderingBarrier(put int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.OrderingBarriers++
	if s.setPutLocked(put) {
		s.cond.Broadcast()
	}
}

// WaitForTokenInRange implements transport.CommandBuffer.
func (s *Service) WaitForTokenInRange(ctx context.Context, start, end int32) transport.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitLocked(ctx, func() bool {
		return transport.InRange(start, end, s.token)
	})
	return s.stateLocked()
}

// WaitForGetOffsetInRange implements transport.CommandBuffer.
func (s *Service) WaitForGetOffsetInRange(ctx context.Context, generation uint32, start, end int32) transport.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitLocked(ctx, func() bool {
		return s.generation == generation && transport.InRange(start, end, s.get)
	})
	return s.stateLocked()
}

// SetGetBuffer implements transport.CommandBuffer.
func (s *Service) SetGetBuffer(id int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.get, s.put = 0, 0
	s.ringID = id
	s.ring = nil
	if id != transport.InvalidID {
		r, ok := s.regions[id]
		if !ok {
			s.loseLocked(transport.ErrorInvalidArguments, transport.ReasonGuilty, "unknown ring buffer id")
			return
		}
		s.ring = format.EntriesOf(r.Bytes())
	}
	s.cond.Broadcast()
}

// CreateTransferBuffer implements transport.CommandBuffer.
func (s *Service) CreateTransferBuffer(size uint32) (*transport.Buffer, int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.failCreate || (s.createLimit > 0 && size > s.createLimit) {
		s.stats.CreateFailures++
		return nil, transport.InvalidID
	}
	r, err := shmem.New(int(size))
	if err != nil {
		s.log.Warn("sim.buffer.create_failed", "size", size, "error", err)
		s.stats.CreateFailures++
		return nil, transport.InvalidID
	}
	id := s.nextID
	s.nextID++
	s.regions[id] = r
	s.stats.BuffersCreated++
	return &transport.Buffer{ID: id, Mem: r.Bytes()}, id
}

// DestroyTransferBuffer implements transport.CommandBuffer. Destroying the
// bound ring first consumes everything flushed into it, as a real service
// would before seeing the destroy request.
func (s *Service) DestroyTransferBuffer(id int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regions[id]
	if !ok {
		s.log.Debug("sim.buffer.destroy_unknown", "id", id)
		return
	}
	if id == s.ringID {
		s.processLocked()
		s.ring = nil
	}
	delete(s.regions, id)
	if err := r.Close(); err != nil {
		s.log.Warn("sim.buffer.unmap_failed", "id", id, "error", err)
	}
	s.stats.BuffersDestroyed++
}

// Test and tooling controls.

// Process consumes everything up to the published put offset.
func (s *Service) Process() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processLocked()
	s.cond.Broadcast()
}

// SetMode switches between Synchronous and Paused. Switching to Synchronous
// processes pending work. The Async mode is fixed at construction.
func (s *Service) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opts.Mode == Async || m == Async {
		return
	}
	s.opts.Mode = m
	if m == Synchronous {
		s.processLocked()
	}
}

// LoseContext reports an unrecoverable error to the client.
func (s *Service) LoseContext(reason transport.Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loseLocked(transport.ErrorLostContext, reason, "forced")
}

// FailInitialize makes Initialize report failure.
func (s *Service) FailInitialize(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failInit = fail
}

// FailCreates makes every CreateTransferBuffer fail.
func (s *Service) FailCreates(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreate = fail
}

// LimitCreateSize makes CreateTransferBuffer fail above limit bytes. Zero
// removes the limit.
func (s *Service) LimitCreateSize(limit uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createLimit = limit
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Region returns the memory of a live buffer, for handlers that read
// transfer buffer payloads.
func (s *Service) Region(id int32) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regionLocked(id)
}

// NumRegions returns the number of live buffers, the ring included.
func (s *Service) NumRegions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regions)
}

func (s *Service) regionLocked(id int32) []byte {
	if r, ok := s.regions[id]; ok {
		return r.Bytes()
	}
	return nil
}

func (s *Service) stateLocked() transport.State {
	return transport.State{
		GetOffset:  s.get,
		Token:      s.token,
		Error:      s.err,
		Reason:     s.reason,
		Generation: s.generation,
	}
}

func (s *Service) setPutLocked(put int32) bool {
	if s.err.IsError() {
		return false
	}
	if s.ring == nil || put < 0 || int(put) >= len(s.ring) {
		s.loseLocked(transport.ErrorOutOfBounds, transport.ReasonGuilty, "put offset out of range")
		return false
	}
	s.put = put
	s.stats.LastPut = put
	return true
}

func (s *Service) loseLocked(code transport.Error, reason transport.Reason, why string) {
	if s.err.IsError() {
		return
	}
	s.err = code
	s.reason = reason
	s.log.Warn("sim.context_lost", "error", code.String(), "reason", reason.String(), "why", why)
	s.cond.Broadcast()
}

func (s *Service) idleLocked() bool {
	return s.ring == nil || s.get == s.put || s.err.IsError()
}

func (s *Service) processLocked() {
	for !s.idleLocked() {
		s.stepLocked()
	}
}

// stepLocked consumes the command at the get offset.
func (s *Service) stepLocked() {
	hdr, err := format.ReadHeader(s.ring[s.get:])
	if err != nil {
		s.loseLocked(transport.ErrorInvalidSize, transport.ReasonGuilty, err.Error())
		return
	}
	size := int32(hdr.Size())
	if s.get < s.put && s.get+size > s.put {
		s.loseLocked(transport.ErrorOutOfBounds, transport.ReasonGuilty, "command crosses put offset")
		return
	}

	switch cmd := hdr.Command(); cmd {
	case format.CmdNoop:
	case format.CmdSetToken:
		if size < int32(format.SizeOf[format.SetToken]()) {
			s.loseLocked(transport.ErrorInvalidSize, transport.ReasonGuilty, "short SetToken")
			return
		}
		s.token = int32(s.ring[s.get+1])
		s.stats.Tokens++
	default:
		if s.opts.Handler != nil {
			if code := s.opts.Handler(cmd, s.ring[s.get+1:s.get+size], s.regionLocked); code.IsError() {
				s.loseLocked(code, transport.ReasonGuilty, "handler rejected command")
				return
			}
		} else if cmd < format.FirstUserCommand {
			s.loseLocked(transport.ErrorUnknownCommand, transport.ReasonGuilty, "unknown command")
			return
		}
	}

	s.stats.Commands++
	s.get += size
	if int(s.get) == len(s.ring) {
		s.get = 0
	}
}

// waitLocked blocks until done reports true, the context is lost, or ctx is
// done. An idle service whose condition is still false can never make
// progress, so that case loses the context instead of hanging.
func (s *Service) waitLocked(ctx context.Context, done func() bool) {
	s.stats.Waits++
	if s.opts.Mode != Async {
		s.processLocked()
	}

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	for {
		if s.err.IsError() || done() || ctx.Err() != nil {
			return
		}
		if s.closed {
			s.loseLocked(transport.ErrorLostContext, transport.ReasonChannelLost, "service closed")
			return
		}
		if s.idleLocked() {
			s.loseLocked(transport.ErrorLostContext, transport.ReasonUnknown, "wait can never be satisfied")
			return
		}
		s.cond.Wait()
	}
}

// run is the Async worker.
func (s *Service) run() {
	defer close(s.done)
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		for !s.closed && s.idleLocked() {
			s.cond.Wait()
		}
		if s.closed {
			return
		}
		s.stepLocked()
		s.cond.Broadcast()
		if d := s.opts.CommandDelay; d > 0 {
			s.mu.Unlock()
			time.Sleep(d)
			s.mu.Lock()
		}
	}
}

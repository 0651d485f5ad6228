package cmdbuf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/cmdring/internal/format"
	"github.com/joshuapare/cmdring/stream/sim"
)

// recorder is an Observer that counts events.
type recorder struct {
	flushes   []int32
	barriers  []int32
	waits     map[WaitKind]int
	wraps     int
	lostCount int
}

func newRecorder() *recorder {
	return &recorder{waits: make(map[WaitKind]int)}
}

func (r *recorder) Flushed(put int32, ordering bool) {
	if ordering {
		r.barriers = append(r.barriers, put)
		return
	}
	r.flushes = append(r.flushes, put)
}

func (r *recorder) Waited(kind WaitKind, _ time.Duration) { r.waits[kind]++ }
func (r *recorder) TokenWrapped()                        { r.wraps++ }
func (r *recorder) ContextLost()                         { r.lostCount++ }

// fakeClock is a manually advanced time source.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// newTestHelper creates a helper with a ring of entries entries over a sim
// service. Both are closed at test cleanup.
func newTestHelper(t *testing.T, mode sim.Mode, entries int, opts Options) (*Helper, *sim.Service) {
	t.Helper()
	svc := sim.New(sim.Options{Mode: mode})
	t.Cleanup(func() { _ = svc.Close() })

	h := NewHelper(svc, opts)
	require.NoError(t, h.Initialize(uint32(entries)*format.EntrySize))
	t.Cleanup(h.Close)
	return h, svc
}

// reserveOnes reserves n single-entry Noops.
func reserveOnes(t *testing.T, h *Helper, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, h.Noop(1), "reservation %d", i)
	}
}

package transfer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/cmdring/stream/cmdbuf"
	"github.com/joshuapare/cmdring/stream/sim"
)

type recorder struct {
	reallocs []uint32
	failed   []uint32
}

func (r *recorder) Reallocated(size uint32)  { r.reallocs = append(r.reallocs, size) }
func (r *recorder) CreateFailed(size uint32) { r.failed = append(r.failed, size) }

type fixture struct {
	svc    *sim.Service
	helper *cmdbuf.Helper
	tb     *TransferBuffer
	rec    *recorder
}

// newFixture wires a sim service, a helper with a 4 KiB command ring and an
// uninitialized transfer buffer. Automatic flushes are off so tests see only
// the flushes they cause.
func newFixture(t *testing.T, mode sim.Mode) *fixture {
	t.Helper()
	svc := sim.New(sim.Options{Mode: mode})
	t.Cleanup(func() { _ = svc.Close() })

	h := cmdbuf.NewHelper(svc, cmdbuf.Options{DisableAutomaticFlushes: true})
	require.NoError(t, h.Initialize(4096))
	t.Cleanup(h.Close)

	rec := &recorder{}
	tb := New(h, Options{Observer: rec})
	t.Cleanup(tb.Free)
	return &fixture{svc: svc, helper: h, tb: tb, rec: rec}
}

func smallConfig(def, minSize, maxSize uint32) Config {
	return Config{
		DefaultSize: def,
		ResultSize:  64,
		MinSize:     minSize,
		MaxSize:     maxSize,
		Alignment:   16,
	}
}

package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/cmdring/stream/cmdbuf"
	"github.com/joshuapare/cmdring/stream/sim"
	"github.com/joshuapare/cmdring/stream/transfer"
)

func TestCollector_Events(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.Flushed(10, false)
	c.Flushed(12, true)
	c.Flushed(14, false)
	c.Waited(cmdbuf.WaitToken, 3*time.Millisecond)
	c.TokenWrapped()
	c.ContextLost()
	c.Reallocated(4096)
	c.CreateFailed(8192)

	require.Equal(t, 2.0, testutil.ToFloat64(c.flushes.WithLabelValues("flush")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.flushes.WithLabelValues("ordering_barrier")))
	require.Equal(t, 14.0, testutil.ToFloat64(c.lastPut))
	require.Equal(t, 1.0, testutil.ToFloat64(c.tokenWraps))
	require.Equal(t, 1.0, testutil.ToFloat64(c.contextLost))
	require.Equal(t, 4096.0, testutil.ToFloat64(c.bufferSize))
	require.Equal(t, 1.0, testutil.ToFloat64(c.createFailures))
	require.Equal(t, 1, testutil.CollectAndCount(c.waits))

	expected := `
# HELP cmdring_transfer_reallocations_total Transfer regions allocated.
# TYPE cmdring_transfer_reallocations_total counter
cmdring_transfer_reallocations_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "cmdring_transfer_reallocations_total"))
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}

func TestCollector_WiredIntoStack(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	svc := sim.New(sim.Options{Mode: sim.Paused})
	defer svc.Close()
	h := cmdbuf.NewHelper(svc, cmdbuf.Options{Observer: c})
	require.NoError(t, h.Initialize(1024))
	defer h.Close()

	tb := transfer.New(h, transfer.Options{Observer: c})
	require.NoError(t, tb.Initialize(transfer.Config{
		DefaultSize: 1024, ResultSize: 64, MinSize: 256, MaxSize: 1024, Alignment: 16,
	}))
	defer tb.Free()

	tok := h.InsertToken()
	require.NoError(t, h.WaitForToken(tok))

	require.Equal(t, 1.0, testutil.ToFloat64(c.flushes.WithLabelValues("flush")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.reallocs))
	require.Equal(t, 1024.0, testutil.ToFloat64(c.bufferSize))
	require.Equal(t, 1, testutil.CollectAndCount(c.waits))
}

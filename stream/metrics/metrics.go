// Package metrics exports command stream activity as Prometheus metrics. A
// Collector plugs into the helper and the transfer buffer as their Observer.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshuapare/cmdring/stream/cmdbuf"
	"github.com/joshuapare/cmdring/stream/transfer"
)

const namespace = "cmdring"

var (
	_ cmdbuf.Observer   = (*Collector)(nil)
	_ transfer.Observer = (*Collector)(nil)
)

// Collector records helper and transfer buffer events.
type Collector struct {
	flushes        *prometheus.CounterVec
	waits          *prometheus.HistogramVec
	lastPut        prometheus.Gauge
	tokenWraps     prometheus.Counter
	contextLost    prometheus.Counter
	reallocs       prometheus.Counter
	bufferSize     prometheus.Gauge
	createFailures prometheus.Counter
}

// New creates a Collector and registers its metrics with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cmdbuf",
			Name:      "flushes_total",
			Help:      "Put offsets published to the service, by kind.",
		}, []string{"kind"}),
		waits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cmdbuf",
			Name:      "wait_seconds",
			Help:      "Time spent blocked on the service, by wait kind.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"kind"}),
		lastPut: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cmdbuf",
			Name:      "last_put_offset",
			Help:      "Put offset of the most recent flush, in entries.",
		}),
		tokenWraps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cmdbuf",
			Name:      "token_wraps_total",
			Help:      "Times the token counter wrapped to zero.",
		}),
		contextLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cmdbuf",
			Name:      "context_lost_total",
			Help:      "Helpers that observed a lost context.",
		}),
		reallocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "reallocations_total",
			Help:      "Transfer regions allocated.",
		}),
		bufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "buffer_bytes",
			Help:      "Size of the current transfer region.",
		}),
		createFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "create_failures_total",
			Help:      "Transfer region allocations the transport refused.",
		}),
	}

	for _, m := range []prometheus.Collector{
		c.flushes, c.waits, c.lastPut, c.tokenWraps,
		c.contextLost, c.reallocs, c.bufferSize, c.createFailures,
	} {
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return c, nil
}

// Flushed implements cmdbuf.Observer.
func (c *Collector) Flushed(put int32, ordering bool) {
	kind := "flush"
	if ordering {
		kind = "ordering_barrier"
	}
	c.flushes.WithLabelValues(kind).Inc()
	c.lastPut.Set(float64(put))
}

// Waited implements cmdbuf.Observer.
func (c *Collector) Waited(kind cmdbuf.WaitKind, d time.Duration) {
	c.waits.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// TokenWrapped implements cmdbuf.Observer.
func (c *Collector) TokenWrapped() { c.tokenWraps.Inc() }

// ContextLost implements cmdbuf.Observer.
func (c *Collector) ContextLost() { c.contextLost.Inc() }

// Reallocated implements transfer.Observer.
func (c *Collector) Reallocated(size uint32) {
	c.reallocs.Inc()
	c.bufferSize.Set(float64(size))
}

// CreateFailed implements transfer.Observer.
func (c *Collector) CreateFailed(uint32) { c.createFailures.Inc() }

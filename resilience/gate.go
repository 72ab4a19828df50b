package resilience

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erradvise/erradvise/core"
	"github.com/erradvise/erradvise/telemetry"
)

// GateConfig holds configuration for the concurrency gate
type GateConfig struct {
	// Name identifies the gate, normally the provider id
	Name string

	// Concurrency is the number of tasks allowed in flight at once
	Concurrency int

	// QueueLimit is the number of waiting slots before synchronous
	// rejection
	QueueLimit int

	// SafeThreshold upper-clamps Concurrency and QueueLimit
	SafeThreshold int

	// Logger for clamps, rejections and the metrics reporter
	Logger core.Logger
}

// Gate provides bounded-parallelism admission in front of the provider
// call. Tasks beyond the concurrency limit wait in a FIFO queue up to
// the queue limit; beyond that they are rejected synchronously with
// core.ErrQueueExhausted.
type Gate struct {
	name        string
	concurrency int
	queueLimit  int
	logger      core.Logger

	mu       sync.Mutex
	inFlight int
	waiting  *list.List // of *gateWaiter, FIFO

	rejected uint64

	metricsStop chan struct{}
	metricsMu   sync.Mutex
}

type gateWaiter struct {
	ready  chan struct{}
	queued bool
}

// NewGate creates a gate, clamping limits to the safe threshold with a
// warning on every clamp
func NewGate(config *GateConfig) *Gate {
	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	concurrency := config.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	queueLimit := config.QueueLimit
	if queueLimit < 0 {
		queueLimit = 0
	}

	safe := config.SafeThreshold
	if safe <= 0 {
		safe = core.DefaultSafeThreshold
	}
	if concurrency > safe {
		logger.Warn("Gate concurrency clamped", map[string]interface{}{
			"operation": "gate_config_clamp",
			"name":      config.Name,
			"requested": concurrency,
			"applied":   safe,
		})
		concurrency = safe
	}
	if queueLimit > safe {
		logger.Warn("Gate queue limit clamped", map[string]interface{}{
			"operation": "gate_config_clamp",
			"name":      config.Name,
			"requested": queueLimit,
			"applied":   safe,
		})
		queueLimit = safe
	}

	return &Gate{
		name:        config.Name,
		concurrency: concurrency,
		queueLimit:  queueLimit,
		logger:      logger,
		waiting:     list.New(),
	}
}

// Do runs fn under the gate. It starts immediately when a slot is
// free, waits FIFO when the queue has room, and rejects synchronously
// with core.ErrQueueExhausted otherwise. Cancelling a queued task
// removes it from the queue without counting as a rejection.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	g.mu.Lock()

	if g.inFlight < g.concurrency {
		g.inFlight++
		g.mu.Unlock()
		return g.run(fn)
	}

	if g.waiting.Len() >= g.queueLimit {
		g.mu.Unlock()
		atomic.AddUint64(&g.rejected, 1)
		telemetry.Counter("gate.rejections", "gate", g.name)
		g.logger.Warn("Gate rejected task", map[string]interface{}{
			"operation":   "gate_reject",
			"name":        g.name,
			"in_flight":   g.InFlight(),
			"queue_limit": g.queueLimit,
		})
		return fmt.Errorf("gate %q: %w", g.name, core.ErrQueueExhausted)
	}

	w := &gateWaiter{ready: make(chan struct{}), queued: true}
	elem := g.waiting.PushBack(w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		// Slot was transferred by the releasing task
		return g.run(fn)
	case <-ctx.Done():
		g.mu.Lock()
		if w.queued {
			g.waiting.Remove(elem)
			w.queued = false
			g.mu.Unlock()
			return ctx.Err()
		}
		g.mu.Unlock()
		// Promotion raced the cancellation; the slot is ours and must
		// be handed back
		<-w.ready
		g.release()
		return ctx.Err()
	}
}

func (g *Gate) run(fn func() error) error {
	defer g.release()
	return fn()
}

// release hands the slot to the oldest waiter, or frees it
func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if front := g.waiting.Front(); front != nil {
		w := g.waiting.Remove(front).(*gateWaiter)
		w.queued = false
		close(w.ready)
		return
	}
	g.inFlight--
}

// RejectCount returns the number of synchronous rejections so far
func (g *Gate) RejectCount() uint64 {
	return atomic.LoadUint64(&g.rejected)
}

// InFlight returns the number of tasks currently running
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// QueueDepth returns the number of tasks waiting for a slot
func (g *Gate) QueueDepth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting.Len()
}

// StartMetricsReporter emits gate depth and rejection metrics at the
// given cadence until StopMetricsReporter is called
func (g *Gate) StartMetricsReporter(interval time.Duration) {
	if interval < core.MinMetricInterval {
		interval = core.MinMetricInterval
	}

	g.metricsMu.Lock()
	defer g.metricsMu.Unlock()
	if g.metricsStop != nil {
		return
	}
	stop := make(chan struct{})
	g.metricsStop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.emitMetrics()
			case <-stop:
				return
			}
		}
	}()
}

// StopMetricsReporter stops the periodic metrics emission
func (g *Gate) StopMetricsReporter() {
	g.metricsMu.Lock()
	defer g.metricsMu.Unlock()
	if g.metricsStop == nil {
		return
	}
	close(g.metricsStop)
	g.metricsStop = nil
}

func (g *Gate) emitMetrics() {
	g.mu.Lock()
	inFlight := g.inFlight
	depth := g.waiting.Len()
	g.mu.Unlock()
	rejected := atomic.LoadUint64(&g.rejected)

	telemetry.Gauge("gate.in_flight", float64(inFlight), "gate", g.name)
	telemetry.Gauge("gate.queue_depth", float64(depth), "gate", g.name)
	telemetry.Gauge("gate.rejected_total", float64(rejected), "gate", g.name)

	g.logger.Debug("Gate metrics", map[string]interface{}{
		"operation":      "gate_metrics",
		"name":           g.name,
		"in_flight":      inFlight,
		"queue_depth":    depth,
		"rejected_total": rejected,
	})
}

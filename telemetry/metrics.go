// Package telemetry provides a small metrics facade over the
// OpenTelemetry metric API. Components emit through package-level
// functions; until a meter provider is installed the calls route to
// the OTel global provider, which defaults to no-op. Instruments are
// created once and cached.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/erradvise/erradvise"

type registry struct {
	mu         sync.Mutex
	provider   metric.MeterProvider
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
}

var global = &registry{
	counters:   make(map[string]metric.Float64Counter),
	histograms: make(map[string]metric.Float64Histogram),
}

// SetMeterProvider installs the meter provider used for all subsequent
// emission. Existing cached instruments are discarded so they rebind.
func SetMeterProvider(mp metric.MeterProvider) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.provider = mp
	global.counters = make(map[string]metric.Float64Counter)
	global.histograms = make(map[string]metric.Float64Histogram)
}

// Counter increments a counter metric by 1.
// Labels are provided as key-value pairs.
// Example: Counter("advice.cache.lookups", "result", "hit")
func Counter(name string, labels ...string) {
	CounterAdd(name, 1, labels...)
}

// CounterAdd increments a counter metric by value
func CounterAdd(name string, value float64, labels ...string) {
	c := global.counter(name)
	if c == nil {
		return
	}
	c.Add(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

// Histogram records a value in a distribution.
// Use for latencies, depths, sizes.
func Histogram(name string, value float64, labels ...string) {
	h := global.histogram(name)
	if h == nil {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

// Gauge records a current-value metric. Recorded as a histogram
// internally; OTel gauges require callbacks and the reporters here are
// push-based timers.
func Gauge(name string, value float64, labels ...string) {
	Histogram(name, value, labels...)
}

func (r *registry) meter() metric.Meter {
	if r.provider != nil {
		return r.provider.Meter(meterName)
	}
	return otel.GetMeterProvider().Meter(meterName)
}

func (r *registry) counter(name string) metric.Float64Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[name]; ok {
		return c
	}
	c, err := r.meter().Float64Counter(name)
	if err != nil {
		return nil
	}
	r.counters[name] = c
	return c
}

func (r *registry) histogram(name string) metric.Float64Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.histograms[name]; ok {
		return h
	}
	h, err := r.meter().Float64Histogram(name)
	if err != nil {
		return nil
	}
	r.histograms[name] = h
	return h
}

func toAttributes(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}

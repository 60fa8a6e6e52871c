// Package telemetry exposes the engine's metrics behind small interfaces
// with noop defaults. A library must never force a metrics registry on its
// caller: until Enable is called, every metric is a no-op.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var registry *prometheus.Registry

type Histogram interface {
	Observe(float64)
}

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
}

type CounterVec interface {
	With(labels ...string) Counter
}

type NoopStat struct{}

func (NoopStat) Observe(float64) {}
func (NoopStat) Inc()            {}
func (NoopStat) Add(float64)     {}
func (NoopStat) Set(float64)     {}
func (NoopStat) Dec()            {}

type noopCounterVec struct{}

func (noopCounterVec) With(labels ...string) Counter { return NoopStat{} }

type prometheusCounterVec struct {
	vec *prometheus.CounterVec
}

func (p *prometheusCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

// Enable registers all engine metrics on the given registry and replaces
// the noop defaults. Pass nil to create a dedicated registry with the
// standard Go and process collectors.
func Enable(reg *prometheus.Registry) *prometheus.Registry {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	registry = reg
	initMetrics()
	return reg
}

func newCounter(name, help string) Counter {
	if registry == nil {
		return NoopStat{}
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "schemacore",
		Name:      name,
		Help:      help,
	})
	registry.MustRegister(c)
	return c
}

func newCounterVec(name, help string, labels ...string) CounterVec {
	if registry == nil {
		return noopCounterVec{}
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schemacore",
		Name:      name,
		Help:      help,
	}, labels)
	registry.MustRegister(vec)
	return &prometheusCounterVec{vec: vec}
}

func newHistogram(name, help string, buckets []float64) Histogram {
	if registry == nil {
		return NoopStat{}
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "schemacore",
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
	registry.MustRegister(h)
	return h
}

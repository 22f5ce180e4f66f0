// Package metrics declares the out-of-scope metrics/tracing sink as an
// external collaborator interface (spec §1), so every component can
// accept one without binding to a concrete backend.
package metrics

import "time"

// Sink receives counters, gauges, and latency observations. A concrete
// implementation (Prometheus, statsd, ...) is out of scope for this repo.
type Sink interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, d time.Duration, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// Noop discards every observation. It is the default Sink so components
// never need a nil check.
type Noop struct{}

func (Noop) IncCounter(string, map[string]string)                  {}
func (Noop) ObserveLatency(string, time.Duration, map[string]string) {}
func (Noop) SetGauge(string, float64, map[string]string)            {}

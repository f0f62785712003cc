// Package monitor is the tagged-event telemetry sink spec.md §7 describes:
// status bits only, no payload, emitted by the handler and writers. The
// IDL-generated monitoring payload type is out of scope (spec.md §1); this
// package is the Go-native stand-in interface plus a Prometheus-backed
// default implementation.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink receives tagged events. Fields are free-form key/value context, never
// payload bytes (spec.md §7: "status bits only").
type Sink interface {
	Emit(tag string, fields map[string]string)
}

// Noop discards every event; used where no monitoring backend is configured.
type Noop struct{}

// Emit implements Sink.
func (Noop) Emit(string, map[string]string) {}

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ddsrecorder",
	Name:      "monitor_events_total",
	Help:      "Total number of tagged telemetry events emitted by the recording core.",
}, []string{"tag"})

// PrometheusSink counts events per tag. It is the default Sink used by the
// recorder orchestrator when no external monitoring publisher is wired in.
type PrometheusSink struct{}

// Emit implements Sink.
func (PrometheusSink) Emit(tag string, _ map[string]string) {
	eventsTotal.WithLabelValues(tag).Inc()
}

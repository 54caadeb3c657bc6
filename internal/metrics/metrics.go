// Package metrics provides the observation sink for the reconciliation
// engine and the HTTP exporter that exposes it.
//
// The sink is an injected capability, not a process-wide singleton: each
// component that observes receives the Sink it should report to, and tests
// construct their own.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"nodelabels/internal/labels"
)

const namespace = "node_label"

// Handler names used as metric labels, matching the reconcile entry points.
const (
	HandlerCreate = "on_create"
	HandlerUpdate = "on_update"
	HandlerDelete = "on_delete"
	HandlerResync = "resync"
)

// Sink records reconciliation metrics into its own prometheus registry.
type Sink struct {
	registry *prometheus.Registry

	labelsApplied   *prometheus.CounterVec
	labelsSynced    *prometheus.CounterVec
	handlerErrors   *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	nodesTracked    prometheus.Gauge
}

// NewSink creates a sink with a fresh registry and all collectors registered.
func NewSink() *Sink {
	s := &Sink{
		registry: prometheus.NewRegistry(),
		labelsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "labels_applied_total",
				Help:      "Total number of labels applied to nodes from stored records",
			},
			[]string{"node"},
		),
		labelsSynced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "labels_synced_total",
				Help:      "Total number of label changes synced into stored records",
			},
			[]string{"node", "action"}, // action: added, removed, changed
		),
		handlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_errors_total",
				Help:      "Total number of handler errors",
			},
			[]string{"handler"},
		),
		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_duration_seconds",
				Help:      "Time spent in reconcile handlers",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"handler"},
		),
		nodesTracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "nodes_tracked",
				Help:      "Number of nodes with stored labels",
			},
		),
	}

	s.registry.MustRegister(
		s.labelsApplied,
		s.labelsSynced,
		s.handlerErrors,
		s.handlerDuration,
		s.nodesTracked,
	)
	return s
}

// Registry exposes the underlying registry for the exporter.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

// LabelsApplied counts labels restored onto a node from its record.
func (s *Sink) LabelsApplied(node string, count int) {
	if count > 0 {
		s.labelsApplied.WithLabelValues(node).Add(float64(count))
	}
}

// LabelsSynced counts record changes by action, from the record-perspective
// delta computed by the resolver.
func (s *Sink) LabelsSynced(node string, delta labels.Delta) {
	if n := len(delta.Added); n > 0 {
		s.labelsSynced.WithLabelValues(node, "added").Add(float64(n))
	}
	if n := len(delta.Changed); n > 0 {
		s.labelsSynced.WithLabelValues(node, "changed").Add(float64(n))
	}
	if n := len(delta.Removed); n > 0 {
		s.labelsSynced.WithLabelValues(node, "removed").Add(float64(n))
	}
}

// HandlerError counts a failed handler invocation.
func (s *Sink) HandlerError(handler string) {
	s.handlerErrors.WithLabelValues(handler).Inc()
}

// ObserveHandler records the duration of one handler invocation.
func (s *Sink) ObserveHandler(handler string, d time.Duration) {
	s.handlerDuration.WithLabelValues(handler).Observe(d.Seconds())
}

// SetNodesTracked updates the tracked-nodes gauge.
func (s *Sink) SetNodesTracked(n int) {
	s.nodesTracked.Set(float64(n))
}

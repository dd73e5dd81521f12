// Package metrics provides Prometheus collectors for registration outcomes,
// readiness and reconciliation. A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "levelsync"

// Registration outcomes.
const (
	OutcomeAdmitted   = "admitted"
	OutcomeDuplicate  = "duplicate"
	OutcomeRedirected = "redirected"
	OutcomeSealed     = "rejected_sealed"
	OutcomeInvalid    = "invalid"
)

// Metrics holds the collectors for one participant.
type Metrics struct {
	registry *prometheus.Registry

	registrations      *prometheus.CounterVec
	templates          prometheus.Gauge
	pendingSpawns      prometheus.Gauge
	ready              prometheus.Gauge
	exchanges          *prometheus.CounterVec
	divergences        *prometheus.CounterVec
	droppedFrames      prometheus.Counter
	fallbackSelections prometheus.Counter
}

// New creates collectors registered on a fresh registry labelled with peer.
func New(peer string) *Metrics {
	labels := prometheus.Labels{"peer": peer}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "registry",
			Name:        "registrations_total",
			Help:        "Template registration attempts by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		templates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "registry",
			Name:        "templates",
			Help:        "Templates admitted with a network identity.",
			ConstLabels: labels,
		}),
		pendingSpawns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "barrier",
			Name:        "pending_spawns",
			Help:        "Singleton confirmations still outstanding this session.",
			ConstLabels: labels,
		}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "barrier",
			Name:        "ready",
			Help:        "1 when every scheduled singleton is confirmed live.",
			ConstLabels: labels,
		}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "sync",
			Name:        "exchanges_total",
			Help:        "Handled synchronization calls by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		divergences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "sync",
			Name:        "divergences_total",
			Help:        "Local values overwritten to match the host, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "net",
			Name:        "undecodable_frames_total",
			Help:        "Frames discarded because they could not be decoded or had no handler.",
			ConstLabels: labels,
		}),
		fallbackSelections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "sync",
			Name:        "fallback_selections_total",
			Help:        "Flow selections that had to use the fallback candidate.",
			ConstLabels: labels,
		}),
	}
	m.registry.MustRegister(
		m.registrations,
		m.templates,
		m.pendingSpawns,
		m.ready,
		m.exchanges,
		m.divergences,
		m.droppedFrames,
		m.fallbackSelections,
	)
	return m
}

// Registry exposes the underlying Prometheus registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Registration records a registration outcome.
func (m *Metrics) Registration(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
}

// SetTemplates records the registry size.
func (m *Metrics) SetTemplates(n int) {
	if m == nil {
		return
	}
	m.templates.Set(float64(n))
}

// SetPendingSpawns records outstanding confirmations.
func (m *Metrics) SetPendingSpawns(n int) {
	if m == nil {
		return
	}
	m.pendingSpawns.Set(float64(n))
}

// SetReady records the readiness flag.
func (m *Metrics) SetReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.ready.Set(1)
		return
	}
	m.ready.Set(0)
}

// Exchange records a handled synchronization call.
func (m *Metrics) Exchange(kind string) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(kind).Inc()
}

// Divergence records a local value overwritten to match the host.
func (m *Metrics) Divergence(kind string) {
	if m == nil {
		return
	}
	m.divergences.WithLabelValues(kind).Inc()
}

// DroppedFrame records a discarded frame.
func (m *Metrics) DroppedFrame() {
	if m == nil {
		return
	}
	m.droppedFrames.Inc()
}

// FallbackSelection records a selection that used the fallback candidate.
func (m *Metrics) FallbackSelection() {
	if m == nil {
		return
	}
	m.fallbackSelections.Inc()
}

// Snapshot gathers every sample into a flat map keyed by metric name plus
// non-peer labels, e.g. "levelsync_sync_divergences_total{kind=weather}".
func (m *Metrics) Snapshot() (map[string]float64, error) {
	if m == nil {
		return map[string]float64{}, nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}

	out := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "peer" {
					continue
				}
				key += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				out[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[key] = metric.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}

// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starford/stencil/internal/model"
	"github.com/starford/stencil/internal/queue"
)

const namespace = "stencil"

// Metrics observes the queue and the generator. It implements
// queue.Observer and generator.Observer.
type Metrics struct {
	registry *prometheus.Registry

	events    *prometheus.CounterVec
	depth     prometheus.Gauge
	runs      *prometheus.CounterVec
	templates *prometheus.CounterVec
	outputs   *prometheus.CounterVec
	duration  prometheus.Histogram
}

var _ queue.Observer = (*Metrics)(nil)

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "events_total",
			Help:      "Change events offered to the work queue, by outcome.",
		}, []string{"outcome"}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pending_requests",
			Help:      "Generation requests waiting in the queue.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "runs_total",
			Help:      "Finished generation runs, by final request state.",
		}, []string{"state"}),
		templates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "templates_total",
			Help:      "Templates processed, by result.",
		}, []string{"result"}),
		outputs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "outputs_total",
			Help:      "Output files touched, by action.",
		}, []string{"action"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "run_duration_seconds",
			Help:      "Wall time of generation runs.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	m.registry.MustRegister(m.events, m.depth, m.runs, m.templates, m.outputs, m.duration)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Enqueued implements queue.Observer.
func (m *Metrics) Enqueued() { m.events.WithLabelValues("enqueued").Inc() }

// Coalesced implements queue.Observer.
func (m *Metrics) Coalesced(n int) { m.events.WithLabelValues("coalesced").Add(float64(n)) }

// Dropped implements queue.Observer.
func (m *Metrics) Dropped() { m.events.WithLabelValues("dropped").Inc() }

// Depth implements queue.Observer.
func (m *Metrics) Depth(n int) { m.depth.Set(float64(n)) }

// RunFinished implements generator.Observer.
func (m *Metrics) RunFinished(s model.RunSummary, final queue.State) {
	m.runs.WithLabelValues(final.String()).Inc()
	m.duration.Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
	m.templates.WithLabelValues("succeeded").Add(float64(s.Succeeded))
	m.templates.WithLabelValues("failed").Add(float64(s.Failed))
	for _, r := range s.Results {
		m.outputs.WithLabelValues("written").Add(float64(len(r.Written)))
		m.outputs.WithLabelValues("unchanged").Add(float64(len(r.Unchanged)))
		m.outputs.WithLabelValues("removed").Add(float64(len(r.Removed)))
	}
}

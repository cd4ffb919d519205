package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal     prometheus.Counter
	SnapshotsTotal  prometheus.Counter
	ActionsTotal    *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	DroppedWrites   prometheus.Counter

	ActiveBlocks  prometheus.Gauge
	AnomalyScore  prometheus.Gauge
	ActiveSources prometheus.Gauge
}

// New creates the instrument set.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		EventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ddosguard_events_total",
			Help: "Request events ingested.",
		}),
		SnapshotsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ddosguard_snapshots_total",
			Help: "Window metrics snapshots emitted.",
		}),
		ActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ddosguard_actions_total",
			Help: "Mitigation actions by type.",
		}, []string{"action"}),
		PersistFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ddosguard_persistence_failures_total",
			Help: "Failed persistence writes by record kind.",
		}, []string{"kind"}),
		DroppedWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "ddosguard_dropped_writes_total",
			Help: "Persistence writes dropped under backpressure.",
		}),
		ActiveBlocks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ddosguard_active_blocks",
			Help: "Currently active block records.",
		}),
		AnomalyScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ddosguard_anomaly_score",
			Help: "Most recent composite anomaly score.",
		}),
		ActiveSources: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ddosguard_active_sources",
			Help: "Sources active in the per-source window.",
		}),
	}
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

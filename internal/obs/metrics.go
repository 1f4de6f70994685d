package obs

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the Prometheus collectors shared across components.
// client_golang's counters/histograms use sharded atomics internally, so
// incrementing one never contends with a shard worker on another
// component.
type Metrics struct {
	EventsIngested   *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	ClassifyDuration *prometheus.HistogramVec
	InterventionsDispatched *prometheus.CounterVec
	InterventionsGated      *prometheus.CounterVec
	BroadcastDropped  *prometheus.CounterVec
	BusPublishFailed  *prometheus.CounterVec
	OutcomeWritesDropped prometheus.Counter
}

// NewMetrics registers every collector against reg and returns the bundle.
// Pass prometheus.NewRegistry() in tests to avoid the global default
// registry's duplicate-registration panics across parallel test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_events_ingested_total",
			Help: "Telemetry events accepted at the ingest boundary.",
		}, []string{"tenant_id"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_events_dropped_total",
			Help: "Telemetry events dropped (shard queue full, rate limited).",
		}, []string{"reason"}),
		ClassifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "pulse_classify_duration_seconds",
			Help: "Time spent in the physics+classify+pattern pipeline per event.",
			Buckets: prometheus.DefBuckets,
		}, []string{"shard"}),
		InterventionsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_interventions_dispatched_total",
			Help: "Interventions that cleared every gate and were dispatched.",
		}, []string{"intervention_type"}),
		InterventionsGated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_interventions_gated_total",
			Help: "Pattern matches suppressed by a gating rule.",
		}, []string{"reason"}),
		BroadcastDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_broadcast_clients_disconnected_total",
			Help: "WebSocket clients disconnected for falling behind.",
		}, []string{"channel"}),
		BusPublishFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_bus_publish_failed_total",
			Help: "Internal bus publishes dropped after breaker/deadline failure.",
		}, []string{"subject"}),
		OutcomeWritesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_outcome_writes_dropped_total",
			Help: "Outcome writes dropped after exhausting the retry budget.",
		}),
	}
	reg.MustRegister(
		m.EventsIngested, m.EventsDropped, m.ClassifyDuration,
		m.InterventionsDispatched, m.InterventionsGated,
		m.BroadcastDropped, m.BusPublishFailed, m.OutcomeWritesDropped,
	)
	return m
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds every collector the service exposes.
type Metrics struct {
	Registry *prometheus.Registry

	EventsIngested   *prometheus.CounterVec
	EventsProcessed  *prometheus.CounterVec
	EventsInFlight   prometheus.Gauge
	OrderTransitions *prometheus.CounterVec
	TokenExchanges   *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New builds a registry with the service collectors plus the standard Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_ingested_total",
			Help: "Inbound webhook deliveries by event type and ingest result.",
		}, []string{"type", "result"}),
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_processed_total",
			Help: "Dispatch attempts by event type and outcome.",
		}, []string{"type", "outcome"}),
		EventsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webhook_events_in_flight",
			Help: "Events currently claimed by dispatch workers.",
		}),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order lifecycle transitions by source and target status.",
		}, []string{"from", "to"}),
		TokenExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "token_exchanges_total",
			Help: "OAuth token endpoint calls by grant type and result.",
		}, []string{"grant", "result"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EventsIngested,
		m.EventsProcessed,
		m.EventsInFlight,
		m.OrderTransitions,
		m.TokenExchanges,
		m.HTTPDuration,
	)
	return m
}

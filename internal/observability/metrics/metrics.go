// Package metrics defines the Prometheus collectors shared by the sampling
// pipeline, the SSE hub and the change listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles all application collectors behind one registry.
type Metrics struct {
	registry *prometheus.Registry

	UploadDecisions     *prometheus.CounterVec
	CacheLookups        *prometheus.CounterVec
	SSEClients          prometheus.Gauge
	SSEEventsTotal      *prometheus.CounterVec
	ListenerReconnects  prometheus.Counter
	NotificationsTotal  *prometheus.CounterVec
	UploadProcessingSec prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		UploadDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mindtrack_upload_decisions_total",
			Help: "Sampling decisions by outcome",
		}, []string{"decision"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mindtrack_cache_lookups_total",
			Help: "Dedup cache nearest-neighbor lookups by result",
		}, []string{"result"}),
		SSEClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mindtrack_sse_clients",
			Help: "Currently connected SSE streams",
		}),
		SSEEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mindtrack_sse_events_total",
			Help: "SSE events published by name",
		}, []string{"event"}),
		ListenerReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mindtrack_listener_reconnects_total",
			Help: "Change listener reconnect attempts",
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mindtrack_notifications_total",
			Help: "Change notifications by handling result",
		}, []string{"result"}),
		UploadProcessingSec: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mindtrack_upload_processing_seconds",
			Help:    "End-to-end sampling decision latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		m.UploadDecisions,
		m.CacheLookups,
		m.SSEClients,
		m.SSEEventsTotal,
		m.ListenerReconnects,
		m.NotificationsTotal,
		m.UploadProcessingSec,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package metrics exposes Prometheus instrumentation for the runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the runtime's Prometheus collectors.
//
// A Metrics value is constructed against an explicit registry so tests can
// build isolated instances instead of sharing process-global state.
type Metrics struct {
	registry *prometheus.Registry

	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	JournalAppends    prometheus.Counter
	OutboxPublished   prometheus.Counter
	OutboxFailures    prometheus.Counter
}

// New builds a Metrics instance with its own registry, including the standard
// Go and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cadenza_executions_total",
			Help: "Executions by terminal status.",
		}, []string{"status"}),
		ExecutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cadenza_execution_duration_seconds",
			Help:    "Wall time from acceptance to terminal status.",
			Buckets: prometheus.DefBuckets,
		}),
		JournalAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cadenza_journal_appends_total",
			Help: "Entries appended to the write-ahead journal.",
		}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cadenza_outbox_published_total",
			Help: "Outbox events confirmed by the stream log.",
		}),
		OutboxFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cadenza_outbox_publish_failures_total",
			Help: "Outbox publish attempts that failed and will be retried.",
		}),
	}
	registry.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.JournalAppends,
		m.OutboxPublished,
		m.OutboxFailures,
	)
	return m
}

// Registry returns the backing registry for HTTP exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

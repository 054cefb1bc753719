// Package metrics holds the Prometheus collectors shared by the services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Transitions     *prometheus.CounterVec
	QuotaDecisions  *prometheus.CounterVec
	Activations     *prometheus.CounterVec
	Retries         *prometheus.CounterVec
	Sends           *prometheus.CounterVec
	HealthScore     prometheus.Gauge
	CorruptedCount  prometheus.Gauge
	DuplicateGroups prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnel",
			Name:      "transitions_total",
			Help:      "Prospect status updates by target status and result.",
		}, []string{"status", "result"}),
		QuotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnel",
			Name:      "quota_decisions_total",
			Help:      "QuotaGuard outcomes.",
		}, []string{"outcome"}),
		Activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnel",
			Name:      "campaign_activations_total",
			Help:      "Campaign activation saga outcomes.",
		}, []string{"outcome"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnel",
			Name:      "retries_total",
			Help:      "Retry attempts by call site.",
		}, []string{"operation"}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnel",
			Name:      "queue_sends_total",
			Help:      "Send queue records processed by the worker.",
		}, []string{"outcome"}),
		HealthScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "funnel",
			Name:      "integrity_health_score",
			Help:      "Last computed integrity health score (0-100).",
		}),
		CorruptedCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "funnel",
			Name:      "integrity_corrupted_prospects",
			Help:      "Prospects past first contact without contacted_at.",
		}),
		DuplicateGroups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "funnel",
			Name:      "integrity_duplicate_queue_groups",
			Help:      "(prospect, step) pairs with more than one pending send.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.Transitions,
		m.QuotaDecisions,
		m.Activations,
		m.Retries,
		m.Sends,
		m.HealthScore,
		m.CorruptedCount,
		m.DuplicateGroups,
	)
	return m
}

// RetryObserver returns an OnRetry callback counting attempts for operation.
func (m *Metrics) RetryObserver(operation string) func(int, error) {
	c := m.Retries.WithLabelValues(operation)
	return func(int, error) { c.Inc() }
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

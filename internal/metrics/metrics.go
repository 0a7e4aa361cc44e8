// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the engine counters and histograms.
type Metrics struct {
	registry *prometheus.Registry

	TransactionsAnalyzed prometheus.Counter
	SuspiciousDetected   prometheus.Counter
	AnalysisErrors       prometheus.Counter
	AlertsGenerated      *prometheus.CounterVec
	AnalysisDuration     prometheus.Histogram
	RiskScores           prometheus.Histogram
}

// New builds a self-registered metrics set.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		TransactionsAnalyzed: factory.NewCounter(prometheus.CounterOpts{
			Name: "chimerascan_transactions_analyzed_total",
			Help: "Transactions run through the detection pipeline.",
		}),
		SuspiciousDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "chimerascan_suspicious_transactions_total",
			Help: "Transactions flagged as suspicious.",
		}),
		AnalysisErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "chimerascan_analysis_errors_total",
			Help: "Analyses that failed outright.",
		}),
		AlertsGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chimerascan_alerts_generated_total",
			Help: "Alerts generated, labeled by triggering rule.",
		}, []string{"rule"}),
		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chimerascan_analysis_duration_seconds",
			Help:    "Latency of a single transaction analysis.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		RiskScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chimerascan_risk_score",
			Help:    "Distribution of computed risk scores.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

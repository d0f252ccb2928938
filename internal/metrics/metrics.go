// Package metrics exposes Prometheus instrumentation for the claims
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Ingestion
	ClaimsIngested prometheus.Counter

	// Routing
	ClaimsRouted   *prometheus.CounterVec
	FallbackRoutes prometheus.Counter

	// Adjudication
	RemittancesIssued   *prometheus.CounterVec // payer_id, status
	AdjudicationSeconds *prometheus.HistogramVec
	DeniedAmount        *prometheus.CounterVec

	// Billing
	BilledTotal prometheus.Counter
	PaidTotal   prometheus.Counter

	// Queues
	QueueDepth *prometheus.GaugeVec
	JobRetries *prometheus.CounterVec
	JobsFailed *prometheus.CounterVec

	// AR aging
	OutstandingClaims prometheus.Gauge
	AgingAlerts       *prometheus.CounterVec
}

// NewMetrics creates and registers all pipeline metrics on the given
// registerer (pass prometheus.DefaultRegisterer in production).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ClaimsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "claimsim_claims_ingested_total",
			Help: "Total claims accepted by the ingestor",
		}),

		ClaimsRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "claimsim_claims_routed_total",
			Help: "Claims routed by the clearinghouse, per destination payer",
		}, []string{"payer_id"}),

		FallbackRoutes: factory.NewCounter(prometheus.CounterOpts{
			Name: "claimsim_fallback_routes_total",
			Help: "Claims that named an unknown payer and took the fallback route",
		}),

		RemittancesIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "claimsim_remittances_issued_total",
			Help: "Remittances produced by payer adjudicators",
		}, []string{"payer_id", "status"}), // status: APPROVED, DENIED, PARTIAL_DENIAL

		AdjudicationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "claimsim_adjudication_duration_seconds",
			Help:    "Wall time from envelope pickup to remittance emission",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"payer_id"}),

		DeniedAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "claimsim_denied_amount_dollars_total",
			Help: "Dollar amount denied, per payer",
		}, []string{"payer_id"}),

		BilledTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "claimsim_billed_dollars_total",
			Help: "Total billed amount aggregated by billing",
		}),

		PaidTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "claimsim_paid_dollars_total",
			Help: "Total payer-paid amount aggregated by billing",
		}),

		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "claimsim_queue_depth",
			Help: "Pending jobs per queue",
		}, []string{"queue"}),

		JobRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "claimsim_job_retries_total",
			Help: "Handler attempts beyond the first, per queue",
		}, []string{"queue"}),

		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "claimsim_jobs_failed_total",
			Help: "Jobs that exhausted their attempts, per queue",
		}, []string{"queue"}),

		OutstandingClaims: factory.NewGauge(prometheus.GaugeOpts{
			Name: "claimsim_outstanding_claims",
			Help: "Claims submitted but not yet remitted",
		}),

		AgingAlerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "claimsim_aging_alerts_total",
			Help: "AR aging alerts emitted, by type and severity",
		}, []string{"type", "severity"}),
	}
}

// RecordRemittance updates the adjudication metrics for one remittance.
func (m *Metrics) RecordRemittance(payerID, status string, durationSeconds, deniedAmount float64) {
	m.RemittancesIssued.WithLabelValues(payerID, status).Inc()
	m.AdjudicationSeconds.WithLabelValues(payerID).Observe(durationSeconds)
	if deniedAmount > 0 {
		m.DeniedAmount.WithLabelValues(payerID).Add(deniedAmount)
	}
}

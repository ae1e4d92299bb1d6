// Package observability wires logging and metrics for the guard.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "guard"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	decisions      *prometheus.CounterVec
	storeFailOpens prometheus.Counter
	riskScores     prometheus.Histogram
	signatureHits  *prometheus.CounterVec
	auditFailures  prometheus.Counter
	sessionsSwept  prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Guard verdicts by outcome.",
		}, []string{"outcome"}),
		storeFailOpens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_store_failures_total",
			Help:      "Rate limit checks admitted because the counter store failed.",
		}),
		riskScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Distribution of assessed risk scores.",
			Buckets:   []float64{0, 10, 20, 30, 50, 70, 90, 100},
		}),
		signatureHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_signature_hits_total",
			Help:      "Payload signature matches by signature name.",
		}, []string{"signature"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_audit_failures_total",
			Help:      "Risk events the audit sink failed to record.",
		}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_swept_total",
			Help:      "Expired sessions removed by cleanup.",
		}),
	}

	m.registry.MustRegister(
		m.decisions,
		m.storeFailOpens,
		m.riskScores,
		m.signatureHits,
		m.auditFailures,
		m.sessionsSwept,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncStoreFailOpen() {
	if m == nil {
		return
	}
	m.storeFailOpens.Inc()
}

func (m *Metrics) ObserveRiskScore(score int) {
	if m == nil {
		return
	}
	m.riskScores.Observe(float64(score))
}

func (m *Metrics) IncSignatureHit(name string) {
	if m == nil {
		return
	}
	m.signatureHits.WithLabelValues(name).Inc()
}

func (m *Metrics) IncAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *Metrics) AddSessionsSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsSwept.Add(float64(n))
}

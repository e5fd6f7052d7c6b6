package core

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the gateway. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	credentialsIssued prometheus.Counter
	issueFailures     *prometheus.CounterVec
	classifyTotal     *prometheus.CounterVec
	classifyDuration  prometheus.Histogram
	reapedTotal       prometheus.Counter
	reapFailures      prometheus.Counter

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		credentialsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classify_access_credentials_issued_total",
			Help: "Total number of credentials issued",
		}),
		issueFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "classify_access_issue_failures_total",
				Help: "Credential issuance failures by reason",
			},
			[]string{"reason"},
		),
		classifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "classify_access_classify_requests_total",
				Help: "Classify requests by outcome",
			},
			[]string{"outcome"},
		),
		classifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "classify_access_classifier_duration_seconds",
			Help:    "Time spent in the classifier backend",
			Buckets: prometheus.DefBuckets,
		}),
		reapedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classify_access_credentials_reaped_total",
			Help: "Expired or malformed credential records removed by the reaper",
		}),
		reapFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classify_access_reap_failures_total",
			Help: "Reaper passes that failed and left the store untouched",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.credentialsIssued,
		m.issueFailures,
		m.classifyTotal,
		m.classifyDuration,
		m.reapedTotal,
		m.reapFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) credentialIssued() {
	if m == nil {
		return
	}
	m.credentialsIssued.Inc()
}

func (m *Metrics) issueFailed(reason string) {
	if m == nil {
		return
	}
	m.issueFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) classified(outcome string) {
	if m == nil {
		return
	}
	m.classifyTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) classifierLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.classifyDuration.Observe(d.Seconds())
}

func (m *Metrics) reaped(n int, failed bool) {
	if m == nil {
		return
	}
	if failed {
		m.reapFailures.Inc()
		return
	}
	m.reapedTotal.Add(float64(n))
}

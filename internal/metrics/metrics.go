// Package metrics exposes Prometheus instrumentation for the collector.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rasad"

// Metrics holds every collector metric. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CredentialAcquisitions *prometheus.CounterVec
	CredentialDeactivated  prometheus.Counter
	FetchRequests          *prometheus.CounterVec
	FetchDuration          *prometheus.HistogramVec
	PostsIngested          *prometheus.CounterVec
	TopicCritical          *prometheus.GaugeVec
	Escalations            *prometheus.CounterVec
	TicksSkipped           *prometheus.CounterVec
}

// New registers all metrics on a private registry so tests can build many instances.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CredentialAcquisitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_acquisitions_total",
			Help:      "Credential acquisition attempts by result (acquired, none, error).",
		}, []string{"result"}),
		CredentialDeactivated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_deactivations_total",
			Help:      "Credentials deactivated after authentication failures.",
		}),
		FetchRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Platform fetches by operation and error kind.",
		}, []string{"operation", "result"}),
		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Platform fetch latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		PostsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_ingested_total",
			Help:      "Ingested posts by outcome (created, existing, failed).",
		}, []string{"outcome"}),
		TopicCritical: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "topic_critical",
			Help:      "1 when the topic is polled at the critical interval.",
		}, []string{"topic"}),
		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_transitions_total",
			Help:      "Schedule status transitions by target status.",
		}, []string{"to"}),
		TicksSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topic_ticks_skipped_total",
			Help:      "Due topics skipped on a tick, by reason.",
		}, []string{"reason"}),
	}
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveAcquire(result string) {
	if m == nil {
		return
	}
	m.CredentialAcquisitions.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveDeactivation() {
	if m == nil {
		return
	}
	m.CredentialDeactivated.Inc()
}

func (m *Metrics) ObserveFetch(op, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.FetchRequests.WithLabelValues(op, result).Inc()
	m.FetchDuration.WithLabelValues(op).Observe(took.Seconds())
}

func (m *Metrics) ObserveIngest(outcome string) {
	if m == nil {
		return
	}
	m.PostsIngested.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStatus(topic string, critical bool) {
	if m == nil {
		return
	}
	v := 0.0
	to := "normal"
	if critical {
		v = 1
		to = "critical"
	}
	m.TopicCritical.WithLabelValues(topic).Set(v)
	m.Escalations.WithLabelValues(to).Inc()
}

func (m *Metrics) ObserveSkip(reason string) {
	if m == nil {
		return
	}
	m.TicksSkipped.WithLabelValues(reason).Inc()
}

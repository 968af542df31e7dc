// Package metrics exposes Prometheus counters for generation, exams and
// backend sync. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eikenprep"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	generations *prometheus.CounterVec
	attempts    prometheus.Counter
	exams       *prometheus.CounterVec
	syncs       *prometheus.CounterVec
	purchases   *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Question generation calls by kind and outcome.",
		}, []string{"kind", "outcome"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_attempts_total",
			Help:      "Individual requests sent to the question generator, retries included.",
		}),
		exams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exams_completed_total",
			Help:      "Scored sessions by grade, mode and pass state.",
		}, []string{"grade", "mode", "passed"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_syncs_total",
			Help:      "Best-effort backend state syncs by outcome.",
		}, []string{"outcome"}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_total",
			Help:      "Shop actions by action and outcome.",
		}, []string{"action", "outcome"}),
	}
	m.registry.MustRegister(
		m.generations, m.attempts, m.exams, m.syncs, m.purchases,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Generation(kind, outcome string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) GeneratorAttempt() {
	if m == nil {
		return
	}
	m.attempts.Inc()
}

func (m *Metrics) ExamCompleted(grade, mode string, passed bool) {
	if m == nil {
		return
	}
	p := "false"
	if passed {
		p = "true"
	}
	m.exams.WithLabelValues(grade, mode, p).Inc()
}

func (m *Metrics) Sync(outcome string) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Purchase(action, outcome string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(action, outcome).Inc()
}

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "chatbot"

// Metrics holds the Prometheus collectors of the chatbot service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// TurnsTotal counts finished turns. Labels: outcome
	TurnsTotal *prometheus.CounterVec

	// ConsultationsTotal counts responder consultations. Labels: stage, outcome
	ConsultationsTotal *prometheus.CounterVec

	// ConsultationSeconds measures responder latency. Labels: responder
	ConsultationSeconds *prometheus.HistogramVec

	// DecisionsTotal counts answered turns. Labels: stage, category
	DecisionsTotal *prometheus.CounterVec

	// SessionsLive tracks sessions reachable from the store.
	SessionsLive prometheus.Gauge

	// EvictionsTotal counts idle sessions removed by the sweeper.
	EvictionsTotal prometheus.Counter

	// TranslationsTotal counts translator calls. Labels: direction, status
	TranslationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg.
// Panics on duplicate registration, so call it once per registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "chat",
				Name:      "turns_total",
				Help:      "Total number of turns by outcome",
			},
			[]string{"outcome"},
		),
		ConsultationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "arbiter",
				Name:      "consultations_total",
				Help:      "Total responder consultations by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		ConsultationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "arbiter",
				Name:      "consultation_seconds",
				Help:      "Responder consultation latency in seconds",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"responder"},
		),
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "arbiter",
				Name:      "decisions_total",
				Help:      "Total answered turns by deciding stage and category",
			},
			[]string{"stage", "category"},
		),
		SessionsLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "session",
				Name:      "live",
				Help:      "Number of sessions currently held by the store",
			},
		),
		EvictionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "session",
				Name:      "evictions_total",
				Help:      "Total sessions evicted for idleness",
			},
		),
		TranslationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "fallback",
				Name:      "translations_total",
				Help:      "Total translation calls by direction and status",
			},
			[]string{"direction", "status"},
		),
	}
}

func (m *Metrics) RecordTurn(outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordConsultation(stage, outcome, responderID string, seconds float64) {
	if m == nil {
		return
	}
	m.ConsultationsTotal.WithLabelValues(stage, outcome).Inc()
	m.ConsultationSeconds.WithLabelValues(responderID).Observe(seconds)
}

func (m *Metrics) RecordDecision(stage, category string) {
	if m == nil {
		return
	}
	if category == "" {
		category = "admitted"
	}
	m.DecisionsTotal.WithLabelValues(stage, category).Inc()
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsLive.Set(float64(n))
}

func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.EvictionsTotal.Inc()
}

func (m *Metrics) RecordTranslation(direction string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.TranslationsTotal.WithLabelValues(direction, status).Inc()
}

// Package metrics exposes prometheus collectors for the intake pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aim"

// Metrics groups every collector the bot reports.
type Metrics struct {
	events        *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	gatewayCalls  *prometheus.CounterVec
	gatewayRetry  *prometheus.CounterVec
	gatewayTime   *prometheus.HistogramVec
	malformed     prometheus.Counter
	sessions      prometheus.Gauge
	reportsSaved  *prometheus.CounterVec
	deliveryFails *prometheus.CounterVec
	reminders     prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_total",
			Help: "Inbound chat events by platform and content type.",
		}, []string{"platform", "content_type"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_transitions_total",
			Help: "Session state transitions.",
		}, []string{"from", "to"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "gateway_calls_total",
			Help: "AI gateway calls by gateway and outcome (ok, transient, permanent).",
		}, []string{"gateway", "outcome"}),
		gatewayRetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "gateway_retries_total",
			Help: "Retried AI gateway attempts.",
		}, []string{"gateway"}),
		gatewayTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "gateway_duration_seconds",
			Help:    "AI gateway call latency including retries.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"gateway"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "extraction_malformed_total",
			Help: "Extraction responses that could not be parsed.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_sessions",
			Help: "Sessions currently held in memory.",
		}),
		reportsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reports_saved_total",
			Help: "Confirmed reports persisted.",
		}, []string{"platform"}),
		deliveryFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "delivery_failures_total",
			Help: "Outbound messages that could not be delivered.",
		}, []string{"platform"}),
		reminders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reminders_sent_total",
			Help: "Daily reminders delivered.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.transitions, m.gatewayCalls, m.gatewayRetry, m.gatewayTime,
			m.malformed, m.sessions, m.reportsSaved, m.deliveryFails, m.reminders)
	}
	return m
}

func (m *Metrics) Event(platform, contentType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(platform, contentType).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// GatewayCall records one gateway call. outcome is "ok", "transient" or
// "permanent".
func (m *Metrics) GatewayCall(gateway, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(gateway, outcome).Inc()
	m.gatewayTime.WithLabelValues(gateway).Observe(time.Since(started).Seconds())
}

func (m *Metrics) GatewayRetry(gateway string) {
	if m == nil {
		return
	}
	m.gatewayRetry.WithLabelValues(gateway).Inc()
}

func (m *Metrics) Malformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) ActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) ReportSaved(platform string) {
	if m == nil {
		return
	}
	m.reportsSaved.WithLabelValues(platform).Inc()
}

func (m *Metrics) DeliveryFailed(platform string) {
	if m == nil {
		return
	}
	m.deliveryFails.WithLabelValues(platform).Inc()
}

func (m *Metrics) ReminderSent() {
	if m == nil {
		return
	}
	m.reminders.Inc()
}

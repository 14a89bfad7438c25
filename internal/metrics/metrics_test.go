package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Event("discord", "voice")
	m.Event("discord", "voice")
	m.Transition("Idle", "Processing")
	m.GatewayCall("transcription", "ok", time.Now())
	m.GatewayCall("transcription", "transient", time.Now())
	m.GatewayRetry("transcription")
	m.Malformed()
	m.ActiveSessions(4)
	m.ReportSaved("slack")
	m.DeliveryFailed("slack")
	m.ReminderSent()

	if got := testutil.ToFloat64(m.events.WithLabelValues("discord", "voice")); got != 2 {
		t.Errorf("events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.gatewayCalls.WithLabelValues("transcription", "transient")); got != 1 {
		t.Errorf("transient calls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sessions); got != 4 {
		t.Errorf("sessions = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.reportsSaved.WithLabelValues("slack")); got != 1 {
		t.Errorf("reports saved = %v, want 1", got)
	}

	n, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n == 0 {
		t.Error("no metrics gathered")
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.Event("x", "y")
	m.Transition("a", "b")
	m.GatewayCall("g", "ok", time.Now())
	m.GatewayRetry("g")
	m.Malformed()
	m.ActiveSessions(1)
	m.ReportSaved("p")
	m.DeliveryFailed("p")
	m.ReminderSent()
}

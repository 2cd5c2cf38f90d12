package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestConversationMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConversationMetrics(reg)
	m.ObserveTurn("DONE", "handled")
	m.ObserveTurn("DONE", "handled")
	m.ObserveRequestCreated("appointment")
	m.ObserveDirectoryLatency("verify", 0.25)
	m.ObserveDirectoryFailure("available_days")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got := counterValue(families, "saudeflow_conversation_turns_total"); got != 2 {
		t.Fatalf("expected 2 handled turns, got %v", got)
	}
	if got := counterValue(families, "saudeflow_conversation_requests_created_total"); got != 1 {
		t.Fatalf("expected 1 request created, got %v", got)
	}
}

func TestConversationMetricsNilSafe(t *testing.T) {
	var m *ConversationMetrics
	m.ObserveTurn("START", "handled")
	m.ObserveRequestCreated("waitlist")
	m.ObserveDirectoryLatency("book", 0.1)
	m.ObserveDirectoryFailure("verify")
}

func TestMessagingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMessagingMetrics(reg)
	m.ObserveInbound("accepted")
	m.ObserveOutbound("sent")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got := counterValue(families, "saudeflow_messaging_inbound_webhook_total"); got != 1 {
		t.Fatalf("expected 1 inbound webhook, got %v", got)
	}
}

func TestMessagingMetricsNilSafe(t *testing.T) {
	var m *MessagingMetrics
	m.ObserveInbound("accepted")
	m.ObserveOutbound("failed")
}

func counterValue(families []*dto.MetricFamily, name string) float64 {
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

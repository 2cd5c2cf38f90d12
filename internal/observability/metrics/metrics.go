// Package metrics exposes Prometheus instrumentation for the intake service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversationMetrics exposes counters/histograms for the intake dialogue
// flow. All methods are nil-safe so instrumentation stays optional.
type ConversationMetrics struct {
	turnsTotal        *prometheus.CounterVec
	requestsCreated   *prometheus.CounterVec
	directoryLatency  *prometheus.HistogramVec
	directoryFailures *prometheus.CounterVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saudeflow",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Handled inbound messages by resulting state and outcome",
		}, []string{"state", "outcome"}),
		requestsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saudeflow",
			Subsystem: "conversation",
			Name:      "requests_created_total",
			Help:      "Intake request records created by kind",
		}, []string{"kind"}),
		directoryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "saudeflow",
			Subsystem: "directory",
			Name:      "call_latency_seconds",
			Help:      "Latency of scheduling directory calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		directoryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saudeflow",
			Subsystem: "directory",
			Name:      "call_failures_total",
			Help:      "Unresolved scheduling directory failures by operation",
		}, []string{"op"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.requestsCreated, m.directoryLatency, m.directoryFailures)
	return m
}

func (m *ConversationMetrics) ObserveTurn(state, outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(state, outcome).Inc()
}

func (m *ConversationMetrics) ObserveRequestCreated(kind string) {
	if m == nil {
		return
	}
	m.requestsCreated.WithLabelValues(kind).Inc()
}

func (m *ConversationMetrics) ObserveDirectoryLatency(op string, seconds float64) {
	if m == nil {
		return
	}
	m.directoryLatency.WithLabelValues(op).Observe(seconds)
}

func (m *ConversationMetrics) ObserveDirectoryFailure(op string) {
	if m == nil {
		return
	}
	m.directoryFailures.WithLabelValues(op).Inc()
}

// MessagingMetrics counts webhook and outbound delivery activity.
type MessagingMetrics struct {
	inboundTotal  *prometheus.CounterVec
	outboundTotal *prometheus.CounterVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saudeflow",
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound message webhooks",
		}, []string{"status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saudeflow",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound sends",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal)
	return m
}

func (m *MessagingMetrics) ObserveInbound(status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
}

func (m *MessagingMetrics) ObserveOutbound(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

// RegisterQueueDepth exposes the pending message count of an in-process queue
// as a gauge sampled at scrape time.
func RegisterQueueDepth(reg prometheus.Registerer, depth func() float64) {
	if reg == nil || depth == nil {
		return
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "saudeflow",
		Subsystem: "messaging",
		Name:      "queue_depth",
		Help:      "Messages buffered in the in-process intake queue",
	}, depth))
}

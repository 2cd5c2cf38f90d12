package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saudeflow/clinic-intake/internal/conversation"
	"github.com/saudeflow/clinic-intake/internal/observability/metrics"
	"github.com/saudeflow/clinic-intake/pkg/logging"
)

type intakePublisher interface {
	EnqueueInbound(ctx context.Context, jobID string, msg conversation.InboundMessage, opts ...conversation.PublishOption) (string, error)
}

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

type jobRecorder interface {
	PutPending(ctx context.Context, job *conversation.JobRecord) error
}

// MessageWebhookHandler accepts inbound patient messages from the messaging
// provider and enqueues them for the worker. It never runs the engine inline.
type MessageWebhookHandler struct {
	publisher intakePublisher
	processed processedTracker
	jobs      jobRecorder
	secret    string
	provider  string
	logger    *logging.Logger
	metrics   *metrics.MessagingMetrics
}

// MessageWebhookConfig wires the webhook handler dependencies.
type MessageWebhookConfig struct {
	Publisher intakePublisher
	Processed processedTracker
	Jobs      jobRecorder
	Secret    string
	Provider  string
	Logger    *logging.Logger
	Metrics   *metrics.MessagingMetrics
}

func NewMessageWebhookHandler(cfg MessageWebhookConfig) *MessageWebhookHandler {
	if cfg.Publisher == nil {
		panic("handlers: publisher required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Provider == "" {
		cfg.Provider = "whatsapp"
	}
	return &MessageWebhookHandler{
		publisher: cfg.Publisher,
		processed: cfg.Processed,
		jobs:      cfg.Jobs,
		secret:    cfg.Secret,
		provider:  cfg.Provider,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// inboundEnvelope tolerates the payload shapes the messaging providers send.
type inboundEnvelope struct {
	ID                string `json:"id"`
	MessageID         string `json:"message_id"`
	ProviderMessageID string `json:"provider_message_id"`

	From    string `json:"from"`
	Phone   string `json:"phone"`
	Contact struct {
		WaID string `json:"wa_id"`
	} `json:"contact"`
	Sender struct {
		Phone string `json:"phone"`
	} `json:"sender"`

	Text    string `json:"text"`
	Body    string `json:"body"`
	Message struct {
		Text struct {
			Body string `json:"body"`
		} `json:"text"`
	} `json:"message"`
	Payload struct {
		Text string `json:"text"`
	} `json:"payload"`

	FromMe  bool   `json:"from_me"`
	Self    bool   `json:"self"`
	Channel string `json:"channel"`
}

func (e *inboundEnvelope) contactID() string {
	for _, candidate := range []string{e.From, e.Phone, e.Contact.WaID, e.Sender.Phone} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v
		}
	}
	return ""
}

func (e *inboundEnvelope) text() string {
	for _, candidate := range []string{e.Text, e.Message.Text.Body, e.Body, e.Payload.Text} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v
		}
	}
	return ""
}

func (e *inboundEnvelope) eventID() string {
	for _, candidate := range []string{e.ID, e.MessageID, e.ProviderMessageID} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v
		}
	}
	return ""
}

// HandleInbound processes POST /webhooks/messages.
func (h *MessageWebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.observeInbound("rejected")
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if h.secret != "" {
		if !verifySignature(h.secret, body, r.Header.Get("X-Signature-256")) {
			h.logger.Warn("invalid webhook signature", "remote_ip", r.RemoteAddr)
			h.observeInbound("unauthorized")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var evt inboundEnvelope
	if err := json.Unmarshal(body, &evt); err != nil {
		h.observeInbound("rejected")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	// Echoes of our own outbound messages carry no patient intent.
	if evt.FromMe || evt.Self {
		h.observeInbound("echo")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	contactID := evt.contactID()
	text := evt.text()
	if contactID == "" || text == "" {
		h.observeInbound("rejected")
		http.Error(w, "missing contact or text", http.StatusBadRequest)
		return
	}

	eventID := evt.eventID()
	if eventID != "" && h.processed != nil {
		seen, err := h.processed.AlreadyProcessed(r.Context(), h.provider, eventID)
		if err != nil {
			h.logger.Error("processed lookup failed", "error", err, "event_id", eventID)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		if seen {
			h.observeInbound("duplicate")
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	jobID := uuid.NewString()
	inbound := conversation.InboundMessage{
		ContactID:         contactID,
		Text:              text,
		Channel:           evt.Channel,
		ProviderMessageID: eventID,
		ReceivedAt:        time.Now().UTC(),
	}

	if h.jobs != nil {
		if err := h.jobs.PutPending(r.Context(), &conversation.JobRecord{
			JobID:     jobID,
			ContactID: contactID,
			Inbound:   &inbound,
		}); err != nil {
			h.logger.Error("failed to record pending job", "error", err, "job_id", jobID)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
	}

	if _, err := h.publisher.EnqueueInbound(r.Context(), jobID, inbound); err != nil {
		h.logger.Error("failed to enqueue inbound message", "error", err, "contact_id", contactID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if eventID != "" && h.processed != nil {
		if _, err := h.processed.MarkProcessed(r.Context(), h.provider, eventID); err != nil {
			h.logger.Error("failed to mark event processed", "error", err, "event_id", eventID)
		}
	}

	h.observeInbound("accepted")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": "queued",
	})
}

func (h *MessageWebhookHandler) observeInbound(status string) {
	h.metrics.ObserveInbound(status)
}

func verifySignature(secret string, payload []byte, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	providedSig, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), providedSig)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

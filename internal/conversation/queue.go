package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type jobType string

const (
	jobTypeInbound jobType = "inbound_message"
)

// InboundMessage is one patient message accepted at the webhook boundary.
type InboundMessage struct {
	ContactID         string    `json:"contact_id"`
	Text              string    `json:"text"`
	Channel           string    `json:"channel,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}

type queuePayload struct {
	ID          string         `json:"id"`
	Kind        jobType        `json:"kind"`
	Inbound     InboundMessage `json:"inbound,omitempty"`
	TrackStatus bool           `json:"track_status"`
}

// PublishOption customizes an enqueued job.
type PublishOption func(*queuePayload)

// WithoutJobTracking disables job status persistence for fire-and-forget work.
func WithoutJobTracking() PublishOption {
	return func(p *queuePayload) {
		p.TrackStatus = false
	}
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("conversation: failed to encode payload: %w", err)
	}

	return payload, string(body), nil
}

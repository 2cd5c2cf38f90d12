package conversation

import (
	"context"
	"fmt"

	"github.com/saudeflow/clinic-intake/pkg/logging"
)

// Publisher enqueues intake jobs for asynchronous processing by the worker pool.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// EnqueueInbound publishes a patient message job. jobID may be empty, in which
// case one is generated.
func (p *Publisher) EnqueueInbound(ctx context.Context, jobID string, msg InboundMessage, opts ...PublishOption) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	payload := queuePayload{
		ID:          jobID,
		Kind:        jobTypeInbound,
		Inbound:     msg,
		TrackStatus: true,
	}
	for _, opt := range opts {
		opt(&payload)
	}

	payload, body, err := encodePayload(payload)
	if err != nil {
		return "", err
	}

	if err := p.queue.Send(ctx, body); err != nil {
		return "", fmt.Errorf("conversation: failed to enqueue job: %w", err)
	}

	p.logger.Debug("intake job enqueued", "job_id", payload.ID, "contact_id", msg.ContactID)
	return payload.ID, nil
}

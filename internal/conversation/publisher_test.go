package conversation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/saudeflow/clinic-intake/pkg/logging"
)

func TestPublisherEnqueueInbound(t *testing.T) {
	queue := NewMemoryQueue(4)
	pub := NewPublisher(queue, logging.Default())

	msg := InboundMessage{
		ContactID:         "+5511999990000",
		Text:              "quero agendar uma consulta",
		Channel:           "whatsapp",
		ProviderMessageID: "SM123",
		ReceivedAt:        time.Now().UTC(),
	}

	jobID, err := pub.EnqueueInbound(context.Background(), "", msg)
	if err != nil {
		t.Fatalf("EnqueueInbound returned error: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected a generated job ID")
	}

	got, err := queue.Receive(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(got))
	}

	var payload queuePayload
	if err := json.Unmarshal([]byte(got[0].Body), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.ID != jobID {
		t.Fatalf("expected payload ID %s, got %s", jobID, payload.ID)
	}
	if payload.Kind != jobTypeInbound {
		t.Fatalf("unexpected job kind %s", payload.Kind)
	}
	if !payload.TrackStatus {
		t.Fatal("expected status tracking by default")
	}
	if payload.Inbound.ContactID != msg.ContactID || payload.Inbound.Text != msg.Text {
		t.Fatalf("inbound message mangled: %#v", payload.Inbound)
	}
}

func TestPublisherWithoutJobTracking(t *testing.T) {
	queue := NewMemoryQueue(4)
	pub := NewPublisher(queue, logging.Default())

	_, err := pub.EnqueueInbound(context.Background(), "job-x", InboundMessage{
		ContactID: "+5511999990000",
		Text:      "oi",
	}, WithoutJobTracking())
	if err != nil {
		t.Fatalf("EnqueueInbound returned error: %v", err)
	}

	got, _ := queue.Receive(context.Background(), 1, 0)
	var payload queuePayload
	if err := json.Unmarshal([]byte(got[0].Body), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.TrackStatus {
		t.Fatal("expected tracking to be disabled")
	}
	if payload.ID != "job-x" {
		t.Fatalf("expected caller-provided ID to survive, got %s", payload.ID)
	}
}

package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/saudeflow/clinic-intake/pkg/logging"
)

func TestMemoryQueueRedeliversUnacknowledged(t *testing.T) {
	q := NewMemoryQueue(4)
	q.visibility = 20 * time.Millisecond

	if err := q.Send(context.Background(), "turn-1"); err != nil {
		t.Fatalf("send: %v", err)
	}

	msgs, err := q.Receive(context.Background(), 1, 1)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("first receive: msgs=%d err=%v", len(msgs), err)
	}

	// Not deleted: the message must come back after the visibility window.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	again, err := q.Receive(ctx, 1, 0)
	if err != nil {
		t.Fatalf("redelivery receive: %v", err)
	}
	if len(again) != 1 || again[0].Body != "turn-1" {
		t.Fatalf("expected redelivery of turn-1, got %#v", again)
	}
}

func TestMemoryQueueDeleteStopsRedelivery(t *testing.T) {
	q := NewMemoryQueue(4)
	q.visibility = 10 * time.Millisecond

	if err := q.Send(context.Background(), "turn-1"); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs, err := q.Receive(context.Background(), 1, 1)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("receive: msgs=%d err=%v", len(msgs), err)
	}
	if err := q.Delete(context.Background(), msgs[0].ReceiptHandle); err != nil {
		t.Fatalf("delete: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if depth := q.Depth(); depth != 0 {
		t.Fatalf("deleted message reappeared, depth=%d", depth)
	}
}

// flakyHandler fails the first turn and succeeds afterwards.
type flakyHandler struct {
	result *TurnResult

	mu    sync.Mutex
	calls int
}

func (h *flakyHandler) Handle(_ context.Context, _ InboundMessage) (*TurnResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.calls == 1 {
		return nil, errors.New("session store unavailable")
	}
	return h.result, nil
}

func (h *flakyHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func TestWorkerRetriesFailedTurnOnMemoryQueue(t *testing.T) {
	q := NewMemoryQueue(4)
	q.visibility = 50 * time.Millisecond

	handler := &flakyHandler{result: &TurnResult{
		Replies: []string{"Olá! Como posso ajudar?"},
		State:   StateAwaitingActionChoice,
	}}
	store := &stubJobUpdater{}
	messenger := &stubMessenger{}
	worker := NewWorker(handler, q, store, messenger, logging.Default(),
		WithWorkerCount(1), WithReceiveBatchSize(1), WithReceiveWaitSeconds(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	msg := inboundJobMessage(t, "job-1", "rh-ignored", InboundMessage{
		ContactID: "+5511999990000",
		Text:      "oi",
	})
	if err := q.Send(context.Background(), msg.Body); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(func() bool {
		return handler.callCount() >= 2 && len(store.completedJobs()) > 0
	}, 3*time.Second, t)

	cancel()
	worker.Wait()

	if jobs := store.completedJobs(); len(jobs) != 1 || jobs[0] != "job-1" {
		t.Fatalf("expected the retried turn to complete job-1, got %#v", jobs)
	}
}

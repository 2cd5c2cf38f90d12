package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memoryQueueVisibility = 30 * time.Second

// MemoryQueue is a queueClient backed by an in-memory buffered channel.
// It backs local development and tests where SQS is unavailable. Like SQS,
// a received message stays in flight until deleted: if the consumer does
// not delete it within the visibility window it is redelivered, so the
// worker's leave-on-failure retry strategy works on this queue too.
type MemoryQueue struct {
	ch         chan queueMessage
	visibility time.Duration

	mu       sync.Mutex
	inflight map[string]*time.Timer
}

// NewMemoryQueue creates a MemoryQueue with the provided buffer capacity.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{
		ch:         make(chan queueMessage, buffer),
		visibility: memoryQueueVisibility,
		inflight:   make(map[string]*time.Timer),
	}
}

// Send enqueues a payload or blocks until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	msg := queueMessage{
		ID:            uuid.NewString(),
		Body:          body,
		ReceiptHandle: uuid.NewString(),
	}

	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available, ctx is done, or waitSeconds elapses.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var timer *time.Timer
	if waitSeconds > 0 {
		timer = time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
	}

	if timer == nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg := <-q.ch:
			return q.collect(ctx, msg, maxMessages), nil
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case msg := <-q.ch:
		return q.collect(ctx, msg, maxMessages), nil
	}
}

// Depth reports the number of buffered messages awaiting a consumer.
func (q *MemoryQueue) Depth() int {
	return len(q.ch)
}

// Delete acknowledges a received message so it is not redelivered.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if timer, ok := q.inflight[receiptHandle]; ok {
		timer.Stop()
		delete(q.inflight, receiptHandle)
	}
	return nil
}

func (q *MemoryQueue) collect(ctx context.Context, first queueMessage, max int) []queueMessage {
	messages := make([]queueMessage, 0, max)
	messages = append(messages, first)

	for len(messages) < max {
		select {
		case <-ctx.Done():
			break
		case msg := <-q.ch:
			messages = append(messages, msg)
			continue
		default:
		}
		break
	}

	q.mu.Lock()
	for _, msg := range messages {
		msg := msg
		q.inflight[msg.ReceiptHandle] = time.AfterFunc(q.visibility, func() {
			q.redeliver(msg)
		})
	}
	q.mu.Unlock()
	return messages
}

func (q *MemoryQueue) redeliver(msg queueMessage) {
	q.mu.Lock()
	_, pending := q.inflight[msg.ReceiptHandle]
	delete(q.inflight, msg.ReceiptHandle)
	q.mu.Unlock()
	if !pending {
		return
	}
	// Blocks only while the buffer is full; runs on the timer goroutine.
	q.ch <- msg
}

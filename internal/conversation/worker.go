package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/saudeflow/clinic-intake/internal/observability/metrics"
	"github.com/saudeflow/clinic-intake/pkg/logging"
)

// TurnHandler processes one inbound patient message and returns the replies.
// *Engine is the production implementation.
type TurnHandler interface {
	Handle(ctx context.Context, msg InboundMessage) (*TurnResult, error)
}

// TranscriptAppender records dialogue messages for the staff dashboard.
type TranscriptAppender interface {
	AppendInbound(ctx context.Context, contactID, body string, at time.Time) error
	AppendOutbound(ctx context.Context, contactID, body string, at time.Time) error
}

// HandoffNotifier alerts clinic staff when a dialogue escalates to a human.
type HandoffNotifier interface {
	NotifyHandoff(ctx context.Context, contactID string) error
}

// Worker consumes intake jobs from the queue, runs the engine, and delivers
// the resulting replies in order.
type Worker struct {
	handler    TurnHandler
	queue      queueClient
	jobs       JobUpdater
	messenger  ReplyMessenger
	transcript TranscriptAppender
	notifier   HandoffNotifier
	metrics    *metrics.MessagingMetrics
	logger     *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	transcript       TranscriptAppender
	notifier         HandoffNotifier
	metrics          *metrics.MessagingMetrics
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	sendTimeoutSeconds   = 10
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithTranscriptAppender wires a transcript store written around each turn.
func WithTranscriptAppender(store TranscriptAppender) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.transcript = store
	}
}

// WithHandoffNotifier wires a staff notifier triggered on human handoff.
func WithHandoffNotifier(notifier HandoffNotifier) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.notifier = notifier
	}
}

// WithMessagingMetrics wires outbound delivery counters.
func WithMessagingMetrics(m *metrics.MessagingMetrics) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.metrics = m
	}
}

// NewWorker constructs a queue consumer around the provided turn handler.
func NewWorker(handler TurnHandler, queue queueClient, jobs JobUpdater, messenger ReplyMessenger, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("conversation: handler cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if jobs == nil {
		panic("conversation: job store cannot be nil")
	}
	if messenger == nil {
		panic("conversation: messenger cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		handler:    handler,
		queue:      queue,
		jobs:       jobs,
		messenger:  messenger,
		transcript: cfg.transcript,
		notifier:   cfg.notifier,
		metrics:    cfg.metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("intake worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("intake worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive intake jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode intake job", "error", err)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	if payload.Kind != jobTypeInbound {
		w.logger.Error("unknown intake job type", "kind", payload.Kind, "job_id", payload.ID)
		w.markFailed(ctx, payload, fmt.Sprintf("unknown job type %q", payload.Kind))
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	inbound := payload.Inbound
	w.logger.Info("worker processing intake job",
		"job_id", payload.ID,
		"contact_id", inbound.ContactID,
		"msg_id", msg.ID,
	)

	result, err := w.handler.Handle(ctx, inbound)
	if err != nil {
		w.logger.Error("intake job failed", "error", err, "job_id", payload.ID, "contact_id", inbound.ContactID)
		w.markFailed(ctx, payload, err.Error())
		// Leave the message on the queue so a redelivery retries the turn;
		// the engine's duplicate detection keeps the retry safe.
		return
	}

	if !result.Duplicate {
		w.appendInbound(ctx, inbound)
	}
	w.sendReplies(ctx, inbound, result)

	if payload.TrackStatus {
		if storeErr := w.jobs.MarkCompleted(ctx, payload.ID, result); storeErr != nil {
			w.logger.Error("failed to update job status", "error", storeErr, "job_id", payload.ID)
		}
	}

	if !result.Duplicate && result.State == StateHumanHandoff && w.notifier != nil {
		if err := w.notifier.NotifyHandoff(ctx, inbound.ContactID); err != nil {
			w.logger.Warn("failed to notify staff of handoff", "error", err, "contact_id", inbound.ContactID)
		}
	}

	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

// sendReplies delivers the engine's replies strictly in order. A delivery
// failure is logged and the remaining replies are still attempted; dialogue
// state has already been committed and must not be rolled back here.
func (w *Worker) sendReplies(ctx context.Context, inbound InboundMessage, result *TurnResult) {
	if result == nil {
		return
	}
	for _, body := range result.Replies {
		if strings.TrimSpace(body) == "" {
			continue
		}
		reply := OutboundReply{
			ContactID: inbound.ContactID,
			To:        inbound.ContactID,
			Body:      body,
		}
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeoutSeconds*time.Second)
		err := w.messenger.SendReply(sendCtx, reply)
		cancel()
		if err != nil {
			w.metrics.ObserveOutbound("error")
			w.logger.Error("failed to send reply", "error", err, "contact_id", inbound.ContactID)
			continue
		}
		w.metrics.ObserveOutbound("sent")
		if !result.Duplicate {
			w.appendOutbound(ctx, inbound.ContactID, body)
		}
	}
}

func (w *Worker) appendInbound(ctx context.Context, inbound InboundMessage) {
	if w.transcript == nil {
		return
	}
	at := inbound.ReceivedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if err := w.transcript.AppendInbound(ctx, inbound.ContactID, inbound.Text, at); err != nil {
		w.logger.Warn("failed to append inbound transcript", "error", err, "contact_id", inbound.ContactID)
	}
}

func (w *Worker) appendOutbound(ctx context.Context, contactID, body string) {
	if w.transcript == nil {
		return
	}
	if err := w.transcript.AppendOutbound(ctx, contactID, body, time.Now().UTC()); err != nil {
		w.logger.Warn("failed to append outbound transcript", "error", err, "contact_id", contactID)
	}
}

func (w *Worker) markFailed(ctx context.Context, payload queuePayload, errMsg string) {
	if !payload.TrackStatus {
		return
	}
	if err := w.jobs.MarkFailed(ctx, payload.ID, errMsg); err != nil {
		w.logger.Error("failed to update job status", "error", err, "job_id", payload.ID)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete intake job", "error", err)
	}
}

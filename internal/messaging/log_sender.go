package messaging

import (
	"context"
	"errors"
	"strings"

	"github.com/saudeflow/clinic-intake/internal/conversation"
	"github.com/saudeflow/clinic-intake/pkg/logging"
)

// LogSender writes outbound replies to the log instead of a provider.
// It backs local development and tests where no Twilio credentials exist.
type LogSender struct {
	logger *logging.Logger
}

// NewLogSender builds a log-only messenger.
func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

var _ conversation.ReplyMessenger = (*LogSender)(nil)

func (s *LogSender) SendReply(_ context.Context, msg conversation.OutboundReply) error {
	if msg.To == "" {
		return errors.New("messaging: to required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return errors.New("messaging: body required")
	}
	s.logger.Info("outbound reply (log sender)", "to", msg.To, "body", msg.Body)
	return nil
}

package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/saudeflow/clinic-intake/pkg/logging"
)

// sesAPI is the slice of the SESv2 client the sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers staff emails through AWS SESv2.
type SESSender struct {
	api    sesAPI
	from   string
	logger *logging.Logger
}

// SESConfig holds the sender identity for SES deliveries.
type SESConfig struct {
	FromEmail string
	FromName  string
}

// NewSESSender builds an SES-backed sender, or nil when no client is given.
func NewSESSender(client *sesv2.Client, cfg SESConfig, logger *logging.Logger) *SESSender {
	if client == nil || cfg.FromEmail == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	name := cfg.FromName
	if name == "" {
		name = "SaúdeFlow"
	}
	return &SESSender{
		api:    client,
		from:   fmt.Sprintf("%s <%s>", name, cfg.FromEmail),
		logger: logger,
	}
}

var _ EmailSender = (*SESSender)(nil)

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if msg.To == "" {
		return fmt.Errorf("notify: recipient is required")
	}

	body := &types.Body{}
	if msg.Body != "" {
		body.Text = utf8Content(msg.Body)
	}
	if msg.HTML != "" {
		body.Html = utf8Content(msg.HTML)
	}

	out, err := s.api.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: utf8Content(msg.Subject),
				Body:    body,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: SES send failed: %w", err)
	}

	s.logger.Info("email sent via SES", "to", msg.To, "subject", msg.Subject, "message_id", aws.ToString(out.MessageId))
	return nil
}

func utf8Content(data string) *types.Content {
	return &types.Content{
		Data:    aws.String(data),
		Charset: aws.String("UTF-8"),
	}
}

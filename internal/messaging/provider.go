package messaging

import (
	"fmt"
	"strings"

	"github.com/saudeflow/clinic-intake/internal/conversation"
	"github.com/saudeflow/clinic-intake/pkg/logging"
)

const (
	// SMSProviderTwilio selects the Twilio sender when credentials exist.
	SMSProviderTwilio = "twilio"
	// SMSProviderLog selects the log-only sender for development.
	SMSProviderLog = "log"
)

// ProviderSelectionConfig captures the credentials required to build outbound messengers.
type ProviderSelectionConfig struct {
	Preference       string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
}

// BuildReplyMessenger instantiates a ReplyMessenger based on the preferred provider.
// It returns the messenger, the provider that was selected, and a reason when no
// provider could be initialized.
func BuildReplyMessenger(cfg ProviderSelectionConfig, logger *logging.Logger) (conversation.ReplyMessenger, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	preference := strings.ToLower(strings.TrimSpace(cfg.Preference))
	if preference == "" {
		preference = SMSProviderTwilio
	}

	switch preference {
	case SMSProviderLog:
		return NewLogSender(logger), SMSProviderLog, ""
	case SMSProviderTwilio:
		var reasons []string
		if cfg.TwilioAccountSID == "" {
			reasons = append(reasons, "TWILIO_ACCOUNT_SID missing")
		}
		if cfg.TwilioAuthToken == "" {
			reasons = append(reasons, "TWILIO_AUTH_TOKEN missing")
		}
		if len(reasons) > 0 {
			return nil, "", strings.Join(reasons, ", ")
		}
		return NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger), SMSProviderTwilio, ""
	default:
		return nil, "", fmt.Sprintf("unknown SMS provider %q", preference)
	}
}

package conversation

import "context"

// ReplyMessenger delivers engine replies back to the patient (e.g. via WhatsApp or SMS).
type ReplyMessenger interface {
	SendReply(ctx context.Context, reply OutboundReply) error
}

// OutboundReply carries the data required to push one message to the patient.
type OutboundReply struct {
	ContactID  string
	DialogueID string
	To         string
	From       string
	Body       string
	Metadata   map[string]string
}

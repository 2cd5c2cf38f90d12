// Package conversation implements the per-contact intake state machine that
// turns free-text inbound messages into state transitions, directory calls,
// request records, and outbound replies.
package conversation

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// State identifies a node of the dialogue state machine.
type State string

const (
	StateStart                     State = "START"
	StateAwaitingActionChoice      State = "AWAITING_ACTION_CHOICE"
	StateAwaitingIdentity          State = "AWAITING_IDENTITY"
	StateAwaitingDateChoice        State = "AWAITING_DATE_CHOICE"
	StateAwaitingTimeChoice        State = "AWAITING_TIME_CHOICE"
	StateAwaitingConfirmation      State = "AWAITING_CONFIRMATION"
	StateAwaitingRescheduleDetails State = "AWAITING_RESCHEDULE_DETAILS"
	StateAwaitingCancelReason      State = "AWAITING_CANCEL_REASON"
	StateAwaitingWaitlistConfirm   State = "AWAITING_WAITLIST_CONFIRM"
	StateDone                      State = "DONE"
	StateHumanHandoff              State = "HUMAN_HANDOFF"
)

// Terminal reports whether the state ends a dialogue. A terminal session
// resets to START on the next inbound message.
func (s State) Terminal() bool {
	return s == StateDone || s == StateHumanHandoff
}

// Valid reports whether s is a member of the defined state set.
func (s State) Valid() bool {
	switch s {
	case StateStart, StateAwaitingActionChoice, StateAwaitingIdentity,
		StateAwaitingDateChoice, StateAwaitingTimeChoice, StateAwaitingConfirmation,
		StateAwaitingRescheduleDetails, StateAwaitingCancelReason,
		StateAwaitingWaitlistConfirm, StateDone, StateHumanHandoff:
		return true
	}
	return false
}

// Session context keys. Only keys relevant to the current flow are held;
// terminal transitions clear the whole map.
const (
	ctxDialogueID      = "dialogue_id"
	ctxAction          = "action"
	ctxCPF             = "cpf"
	ctxPatientName     = "patient_name"
	ctxSpecialty       = "specialty"
	ctxChosenDay       = "chosen_day"
	ctxChosenTime      = "chosen_time"
	ctxOfferedDays     = "offered_days"
	ctxOfferedTimes    = "offered_times"
	ctxIdentityFails   = "identity_failures"
	ctxServiceFails    = "service_failures"
	ctxBookingID       = "booking_id"
	offeredListSep     = "|"
)

// Session is the per-contact dialogue state. Exactly one session exists per
// contact; it is created at START on first message and expires with the
// store's TTL.
type Session struct {
	ContactID string            `json:"contact_id"`
	State     State             `json:"state"`
	Context   map[string]string `json:"context"`

	// LastInbound holds the fingerprint of the last handled message; with
	// LastReplies it makes redelivery of an already-handled message a
	// no-op that re-sends the previous replies instead of re-executing
	// side effects. LastTurnFailed suspends that
	// shortcut: after an unresolved upstream failure the patient is told
	// to retry the same input, and that retry must re-execute.
	LastInbound string    `json:"last_inbound,omitempty"`
	LastReplies     []string  `json:"last_replies,omitempty"`
	LastTurnFailed  bool      `json:"last_turn_failed,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewSession creates a fresh START session for a contact.
func NewSession(contactID string) *Session {
	return &Session{
		ContactID: contactID,
		State:     StateStart,
		Context:   make(map[string]string),
		UpdatedAt: time.Now().UTC(),
	}
}

func (s *Session) get(key string) string {
	if s.Context == nil {
		return ""
	}
	return s.Context[key]
}

func (s *Session) set(key, value string) {
	if s.Context == nil {
		s.Context = make(map[string]string)
	}
	s.Context[key] = value
}

func (s *Session) unset(keys ...string) {
	for _, key := range keys {
		delete(s.Context, key)
	}
}

func (s *Session) offered(key string) []string {
	raw := s.get(key)
	if raw == "" {
		return nil
	}
	return strings.Split(raw, offeredListSep)
}

func (s *Session) setOffered(key string, values []string) {
	s.set(key, strings.Join(values, offeredListSep))
}

// inboundFingerprint identifies an inbound message for duplicate detection.
// The provider message id tells a redelivery apart from a patient
// legitimately repeating the same answer (two "1" picks on consecutive
// numeric menus carry distinct ids). The text hash is a fallback for
// channels that deliver no id.
func inboundFingerprint(msg InboundMessage) string {
	if id := strings.TrimSpace(msg.ProviderMessageID); id != "" {
		return "id:" + id
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(msg.Text)))
	return "txt:" + hex.EncodeToString(sum[:])
}

package conversation

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saudeflow/clinic-intake/internal/directory"
	"github.com/saudeflow/clinic-intake/internal/identity"
	"github.com/saudeflow/clinic-intake/internal/observability/metrics"
	"github.com/saudeflow/clinic-intake/internal/requests"
	"github.com/saudeflow/clinic-intake/pkg/logging"
)

// DirectoryClient is the subset of the scheduling directory the engine uses.
type DirectoryClient interface {
	Verify(ctx context.Context, cpf string) (*directory.PatientRecord, error)
	AvailableDays(ctx context.Context, specialty string) ([]string, error)
	AvailableTimes(ctx context.Context, day, specialty string) ([]string, error)
	Book(ctx context.Context, req directory.BookingRequest) (*directory.BookingConfirmation, error)
}

// RequestCreator is the subset of the request repository the engine uses.
type RequestCreator interface {
	CreateAppointment(ctx context.Context, p requests.AppointmentParams) (uuid.UUID, error)
	CreateReschedule(ctx context.Context, p requests.RescheduleParams) (uuid.UUID, error)
	CreateCancellation(ctx context.Context, p requests.CancellationParams) (uuid.UUID, error)
	CreateWaitlistEntry(ctx context.Context, p requests.WaitlistParams) (uuid.UUID, error)
	CreateSecretaryTicket(ctx context.Context, p requests.TicketParams) (uuid.UUID, error)
}

// EngineConfig tunes retry, escalation, and booking policy.
type EngineConfig struct {
	DefaultSpecialty string
	// DirectBooking switches the confirmation commit from
	// create-pending-record (reviewed by staff) to calling the
	// directory's booking operation once and recording the result.
	DirectBooking bool
	// RetryAttempts is the number of extra attempts after a transient
	// directory failure.
	RetryAttempts int
	RetryBackoff  time.Duration
	// MaxIdentityFailures counts consecutive NotFound/InvalidInput
	// verifications before hand-off.
	MaxIdentityFailures int
	// MaxServiceFailures counts unresolved external failures before
	// hand-off.
	MaxServiceFailures int
}

func (c *EngineConfig) applyDefaults() {
	if c.DefaultSpecialty == "" {
		c.DefaultSpecialty = "clinica-geral"
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 2
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxIdentityFailures <= 0 {
		c.MaxIdentityFailures = 3
	}
	if c.MaxServiceFailures <= 0 {
		c.MaxServiceFailures = 3
	}
}

// TurnResult is the outcome of one handled inbound message.
type TurnResult struct {
	Replies []string
	State   State
	// Duplicate is set when the inbound message was a redelivery of the
	// previous one; Replies then repeats the stored replies and no side
	// effects ran.
	Duplicate bool
	// RequestID/RequestKind identify the request record committed this
	// turn, when one was.
	RequestID   uuid.UUID
	RequestKind requests.Kind
}

// Engine is the conversation state machine. It loads the contact's session,
// applies the current state's grammar to the inbound text, performs the
// resulting directory/repository calls, persists the new session, and
// returns the ordered outbound replies. It never sends messages itself.
type Engine struct {
	sessions  SessionStore
	directory DirectoryClient
	requests  RequestCreator
	locks     contactLocks
	cfg       EngineConfig
	logger    *logging.Logger
	metrics   *metrics.ConversationMetrics
}

// NewEngine wires the state machine to its collaborators.
func NewEngine(sessions SessionStore, dir DirectoryClient, reqs RequestCreator, cfg EngineConfig, logger *logging.Logger, m *metrics.ConversationMetrics) *Engine {
	if sessions == nil {
		panic("conversation: session store cannot be nil")
	}
	if dir == nil {
		panic("conversation: directory client cannot be nil")
	}
	if reqs == nil {
		panic("conversation: request repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg.applyDefaults()
	return &Engine{
		sessions:  sessions,
		directory: dir,
		requests:  reqs,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
	}
}

// turn accumulates the outcome of a dispatch so handlers stay small.
type turn struct {
	replies     []string
	requestID   uuid.UUID
	requestKind requests.Kind
	// failed marks a turn ending in an unresolved upstream failure. The
	// patient may retry the exact same input, so duplicate suppression
	// is skipped for the next message.
	failed bool
}

func (t *turn) say(messages ...string) {
	t.replies = append(t.replies, messages...)
}

// Handle processes one inbound message for a contact. All work for the same
// contact is serialized; an error return means the turn was aborted and
// nothing should be sent to the patient.
func (e *Engine) Handle(ctx context.Context, msg InboundMessage) (*TurnResult, error) {
	contactID := msg.ContactID
	if strings.TrimSpace(contactID) == "" {
		return nil, errors.New("conversation: contact id required")
	}

	mu := e.locks.lock(contactID)
	defer mu.Unlock()

	sess, err := e.sessions.Get(ctx, contactID)
	if errors.Is(err, ErrSessionNotFound) {
		sess = NewSession(contactID)
	} else if err != nil {
		return nil, err
	}

	// Redelivery of the message already reflected in the session re-sends
	// the previous replies without re-executing side effects. Checked
	// before the terminal reset so a duplicated final message cannot
	// start a second dialogue.
	fingerprint := inboundFingerprint(msg)
	if fingerprint == sess.LastInbound && len(sess.LastReplies) > 0 && !sess.LastTurnFailed {
		e.metrics.ObserveTurn(string(sess.State), "duplicate")
		return &TurnResult{Replies: sess.LastReplies, State: sess.State, Duplicate: true}, nil
	}

	// A terminal state never blocks future interaction: the next message
	// starts a fresh dialogue.
	if sess.State.Terminal() {
		sess = NewSession(contactID)
	}

	t := &turn{}
	e.dispatch(ctx, sess, strings.TrimSpace(msg.Text), t)

	if sess.State.Terminal() {
		// Stale context keys are cleared on terminal transition.
		sess.Context = make(map[string]string)
	}

	sess.LastInbound = fingerprint
	sess.LastReplies = t.replies
	sess.LastTurnFailed = t.failed
	if err := e.sessions.Put(ctx, contactID, sess); err != nil {
		// The patient must not be told an action succeeded when the
		// new state could not be saved.
		e.metrics.ObserveTurn(string(sess.State), "persist_error")
		return nil, err
	}

	e.metrics.ObserveTurn(string(sess.State), "handled")
	return &TurnResult{
		Replies:     t.replies,
		State:       sess.State,
		RequestID:   t.requestID,
		RequestKind: t.requestKind,
	}, nil
}

func (e *Engine) dispatch(ctx context.Context, sess *Session, text string, t *turn) {
	if text == "" && sess.State != StateStart {
		t.say(e.rePrompt(sess))
		return
	}

	switch sess.State {
	case StateStart:
		e.handleStart(sess, t)
	case StateAwaitingActionChoice:
		e.handleActionChoice(ctx, sess, text, t)
	case StateAwaitingIdentity:
		e.handleIdentity(ctx, sess, text, t)
	case StateAwaitingDateChoice:
		e.handleDateChoice(ctx, sess, text, t)
	case StateAwaitingTimeChoice:
		e.handleTimeChoice(sess, text, t)
	case StateAwaitingConfirmation:
		e.handleConfirmation(ctx, sess, text, t)
	case StateAwaitingRescheduleDetails:
		e.handleRescheduleDetails(ctx, sess, text, t)
	case StateAwaitingCancelReason:
		e.handleCancelReason(ctx, sess, text, t)
	case StateAwaitingWaitlistConfirm:
		e.handleWaitlistConfirm(ctx, sess, text, t)
	default:
		// Unknown persisted state restarts the dialogue.
		e.logger.Warn("resetting session with unknown state",
			"contact_id", sess.ContactID, "state", string(sess.State))
		*sess = *NewSession(sess.ContactID)
		e.handleStart(sess, t)
	}
}

// rePrompt repeats the current state's question without a transition.
func (e *Engine) rePrompt(sess *Session) string {
	switch sess.State {
	case StateAwaitingIdentity:
		return replyAskCPF
	case StateAwaitingDateChoice:
		return replyDayList(sess.offered(ctxOfferedDays))
	case StateAwaitingTimeChoice:
		return replyTimeList(sess.get(ctxChosenDay), sess.offered(ctxOfferedTimes))
	case StateAwaitingConfirmation:
		return replyConfirm(sess.get(ctxPatientName), sess.get(ctxChosenDay), sess.get(ctxChosenTime))
	case StateAwaitingRescheduleDetails:
		return replyAskRescheduleDetails
	case StateAwaitingCancelReason:
		return replyAskCancelReason
	case StateAwaitingWaitlistConfirm:
		return replyAskWaitlistConfirm
	default:
		return replyMenuRetry
	}
}

func (e *Engine) handleStart(sess *Session, t *turn) {
	sess.set(ctxDialogueID, uuid.NewString())
	sess.set(ctxSpecialty, e.cfg.DefaultSpecialty)
	sess.State = StateAwaitingActionChoice
	t.say(replyMenu)
}

func (e *Engine) handleActionChoice(ctx context.Context, sess *Session, text string, t *turn) {
	action, ok := ParseAction(text)
	if !ok {
		t.say(replyMenuRetry)
		return
	}

	if action == ActionHuman {
		e.escalate(ctx, sess, "patient asked for the secretary", t)
		return
	}

	sess.set(ctxAction, string(action))
	if sess.get(ctxCPF) == "" {
		sess.State = StateAwaitingIdentity
		t.say(replyAskCPF)
		return
	}
	e.enterFlow(ctx, sess, action, t)
}

func (e *Engine) handleIdentity(ctx context.Context, sess *Session, text string, t *turn) {
	cpf := identity.NormalizeCPF(text)
	if !identity.ValidCPF(cpf) {
		// Local validation failure: no directory call, no attempt
		// consumed.
		t.say(replyCPFMalformed)
		return
	}

	var record *directory.PatientRecord
	err := e.withRetry(ctx, func() error {
		var verifyErr error
		record, verifyErr = e.directory.Verify(ctx, cpf)
		return verifyErr
	}, "verify")

	switch {
	case err == nil:
		sess.set(ctxCPF, record.CPF)
		sess.set(ctxPatientName, record.Name)
		sess.unset(ctxIdentityFails)
		t.say(replyGreetName(record.Name))
		e.enterFlow(ctx, sess, Action(sess.get(ctxAction)), t)

	case directory.IsNotFound(err), directory.IsInvalidInput(err):
		fails := atoiDefault(sess.get(ctxIdentityFails)) + 1
		sess.set(ctxIdentityFails, strconv.Itoa(fails))
		if fails >= e.cfg.MaxIdentityFailures {
			e.escalate(ctx, sess, "identity verification failed "+strconv.Itoa(fails)+" times", t)
			return
		}
		t.say(replyCPFNotFound(e.cfg.MaxIdentityFailures - fails))

	default:
		e.serviceFailure(ctx, sess, "verify", err, t)
	}
}

// enterFlow branches into the chosen action's sub-flow once identity is
// known.
func (e *Engine) enterFlow(ctx context.Context, sess *Session, action Action, t *turn) {
	switch action {
	case ActionBook:
		e.offerDays(ctx, sess, t)
	case ActionReschedule:
		sess.State = StateAwaitingRescheduleDetails
		t.say(replyAskRescheduleDetails)
	case ActionCancel:
		sess.State = StateAwaitingCancelReason
		t.say(replyAskCancelReason)
	case ActionWaitlist:
		sess.State = StateAwaitingWaitlistConfirm
		t.say(replyAskWaitlistConfirm)
	default:
		sess.State = StateAwaitingActionChoice
		t.say(replyMenuRetry)
	}
}

// offerDays fetches current availability and presents it. The offered list
// is stored in the session so only just-presented choices can be accepted.
func (e *Engine) offerDays(ctx context.Context, sess *Session, t *turn) {
	var days []string
	err := e.withRetry(ctx, func() error {
		var fetchErr error
		days, fetchErr = e.directory.AvailableDays(ctx, sess.get(ctxSpecialty))
		return fetchErr
	}, "available_days")
	if err != nil {
		e.serviceFailure(ctx, sess, "available_days", err, t)
		return
	}
	e.resetServiceFailures(sess)

	if len(days) == 0 {
		sess.State = StateAwaitingActionChoice
		t.say(replyNoAvailability)
		return
	}

	sess.setOffered(ctxOfferedDays, days)
	sess.State = StateAwaitingDateChoice
	t.say(replyDayList(days))
}

func (e *Engine) handleDateChoice(ctx context.Context, sess *Session, text string, t *turn) {
	offeredDays := sess.offered(ctxOfferedDays)
	day, ok := MatchOffer(text, offeredDays)
	if !ok {
		t.say(replyOfferRetry(replyDayList(offeredDays)))
		return
	}

	var times []string
	err := e.withRetry(ctx, func() error {
		var fetchErr error
		times, fetchErr = e.directory.AvailableTimes(ctx, day, sess.get(ctxSpecialty))
		return fetchErr
	}, "available_times")
	if err != nil {
		e.serviceFailure(ctx, sess, "available_times", err, t)
		return
	}
	e.resetServiceFailures(sess)

	if len(times) == 0 {
		// The day filled up between listing and choosing; offer days
		// again from fresh availability.
		e.offerDays(ctx, sess, t)
		return
	}

	sess.set(ctxChosenDay, day)
	sess.setOffered(ctxOfferedTimes, times)
	sess.State = StateAwaitingTimeChoice
	t.say(replyTimeList(day, times))
}

func (e *Engine) handleTimeChoice(sess *Session, text string, t *turn) {
	offeredTimes := sess.offered(ctxOfferedTimes)
	timeOfDay, ok := MatchOffer(text, offeredTimes)
	if !ok {
		t.say(replyOfferRetry(replyTimeList(sess.get(ctxChosenDay), offeredTimes)))
		return
	}

	sess.set(ctxChosenTime, timeOfDay)
	sess.State = StateAwaitingConfirmation
	t.say(replyConfirm(sess.get(ctxPatientName), sess.get(ctxChosenDay), timeOfDay))
}

func (e *Engine) handleConfirmation(ctx context.Context, sess *Session, text string, t *turn) {
	yes, ok := ParseYesNo(text)
	if !ok {
		t.say(e.rePrompt(sess))
		return
	}
	if !yes {
		sess.unset(ctxChosenDay, ctxChosenTime, ctxOfferedDays, ctxOfferedTimes)
		sess.State = StateAwaitingActionChoice
		t.say(replyBackToMenu, replyMenu)
		return
	}
	e.commitBooking(ctx, sess, t)
}

// commitBooking runs the confirmation commit point. With direct booking
// enabled the directory's booking operation is called at most once per
// dialogue; the pending record is written either way so the review workflow
// sees every ask.
func (e *Engine) commitBooking(ctx context.Context, sess *Session, t *turn) {
	booked := sess.get(ctxBookingID) != ""

	if e.cfg.DirectBooking && !booked {
		confirmation, err := e.directory.Book(ctx, directory.BookingRequest{
			CPF:       sess.get(ctxCPF),
			Day:       sess.get(ctxChosenDay),
			Time:      sess.get(ctxChosenTime),
			Specialty: sess.get(ctxSpecialty),
		})
		if err != nil {
			e.serviceFailure(ctx, sess, "book", err, t)
			return
		}
		sess.set(ctxBookingID, confirmation.ID)
		booked = true
	}

	id, err := e.requests.CreateAppointment(ctx, requests.AppointmentParams{
		Contact:       sess.ContactID,
		CPF:           sess.get(ctxCPF),
		PatientName:   sess.get(ctxPatientName),
		Specialty:     sess.get(ctxSpecialty),
		RequestedDay:  sess.get(ctxChosenDay),
		RequestedTime: sess.get(ctxChosenTime),
	})
	if err != nil {
		if booked {
			// The booking already happened upstream; never retry it.
			// Record the gap for manual follow-up instead of blocking
			// the patient.
			e.logger.Error("appointment request write failed after booking",
				"contact_id", sess.ContactID,
				"booking_id", sess.get(ctxBookingID),
				"error", err,
			)
			sess.State = StateDone
			t.say(replyBookingPendingFollowup)
			return
		}
		e.logger.Error("appointment request write failed", "contact_id", sess.ContactID, "error", err)
		t.failed = true
		t.say(replyTransientApology)
		return
	}

	t.requestID = id
	t.requestKind = requests.KindAppointment
	e.metrics.ObserveRequestCreated(string(requests.KindAppointment))
	sess.State = StateDone
	if booked {
		t.say(replyBookingConfirmed)
	} else {
		t.say(replyBookingQueued)
	}
}

func (e *Engine) handleRescheduleDetails(ctx context.Context, sess *Session, text string, t *turn) {
	id, err := e.requests.CreateReschedule(ctx, requests.RescheduleParams{
		Contact:     sess.ContactID,
		CPF:         sess.get(ctxCPF),
		PatientName: sess.get(ctxPatientName),
		Details:     text,
		DialogueID:  sess.get(ctxDialogueID),
	})
	if err != nil {
		e.logger.Error("reschedule request write failed", "contact_id", sess.ContactID, "error", err)
		t.failed = true
		t.say(replyTransientApology)
		return
	}
	t.requestID = id
	t.requestKind = requests.KindReschedule
	e.metrics.ObserveRequestCreated(string(requests.KindReschedule))
	sess.State = StateDone
	t.say(replyRescheduleQueued)
}

func (e *Engine) handleCancelReason(ctx context.Context, sess *Session, text string, t *turn) {
	id, err := e.requests.CreateCancellation(ctx, requests.CancellationParams{
		Contact:     sess.ContactID,
		CPF:         sess.get(ctxCPF),
		PatientName: sess.get(ctxPatientName),
		Reason:      text,
		DialogueID:  sess.get(ctxDialogueID),
	})
	if err != nil {
		e.logger.Error("cancellation request write failed", "contact_id", sess.ContactID, "error", err)
		t.failed = true
		t.say(replyTransientApology)
		return
	}
	t.requestID = id
	t.requestKind = requests.KindCancellation
	e.metrics.ObserveRequestCreated(string(requests.KindCancellation))
	sess.State = StateDone
	t.say(replyCancelQueued)
}

func (e *Engine) handleWaitlistConfirm(ctx context.Context, sess *Session, text string, t *turn) {
	yes, ok := ParseYesNo(text)
	if !ok {
		t.say(replyAskWaitlistConfirm)
		return
	}
	if !yes {
		sess.State = StateAwaitingActionChoice
		t.say(replyBackToMenu, replyMenu)
		return
	}

	id, err := e.requests.CreateWaitlistEntry(ctx, requests.WaitlistParams{
		Contact:     sess.ContactID,
		CPF:         sess.get(ctxCPF),
		PatientName: sess.get(ctxPatientName),
		Specialty:   sess.get(ctxSpecialty),
		DialogueID:  sess.get(ctxDialogueID),
	})
	if err != nil {
		e.logger.Error("waitlist entry write failed", "contact_id", sess.ContactID, "error", err)
		t.failed = true
		t.say(replyTransientApology)
		return
	}
	t.requestID = id
	t.requestKind = requests.KindWaitlist
	e.metrics.ObserveRequestCreated(string(requests.KindWaitlist))
	sess.State = StateDone
	t.say(replyWaitlistQueued)
}

// escalate hands the dialogue to human staff: one secretary ticket, one
// hand-off reply, HUMAN_HANDOFF state. A ticket write failure is logged but
// never blocks the hand-off.
func (e *Engine) escalate(ctx context.Context, sess *Session, reason string, t *turn) {
	id, err := e.requests.CreateSecretaryTicket(ctx, requests.TicketParams{
		Contact:     sess.ContactID,
		CPF:         sess.get(ctxCPF),
		PatientName: sess.get(ctxPatientName),
		Reason:      reason,
		DialogueID:  sess.get(ctxDialogueID),
	})
	if err != nil {
		e.logger.Error("secretary ticket write failed", "contact_id", sess.ContactID, "error", err)
	} else {
		t.requestID = id
		t.requestKind = requests.KindSecretaryTicket
		e.metrics.ObserveRequestCreated(string(requests.KindSecretaryTicket))
	}
	sess.State = StateHumanHandoff
	t.say(replyHandoff)
}

// serviceFailure handles an unresolved external failure: one apology, no
// transition, and escalation once the failure ceiling is reached.
func (e *Engine) serviceFailure(ctx context.Context, sess *Session, op string, err error, t *turn) {
	fails := atoiDefault(sess.get(ctxServiceFails)) + 1
	sess.set(ctxServiceFails, strconv.Itoa(fails))
	e.logger.Warn("directory call failed",
		"contact_id", sess.ContactID,
		"op", op,
		"failures", fails,
		"transient", directory.IsTransient(err),
		"error", err,
	)
	e.metrics.ObserveDirectoryFailure(op)

	if fails >= e.cfg.MaxServiceFailures {
		e.escalate(ctx, sess, "repeated scheduling system failures during "+op, t)
		return
	}
	t.failed = true
	t.say(replyTransientApology)
}

func (e *Engine) resetServiceFailures(sess *Session) {
	sess.unset(ctxServiceFails)
}

// withRetry retries fn on transient directory errors with a fixed backoff.
// NotFound, InvalidInput, and permanent errors return immediately.
func (e *Engine) withRetry(ctx context.Context, fn func() error, op string) error {
	var err error
	for attempt := 0; attempt <= e.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &directory.TransientError{Op: op, Err: ctx.Err()}
			case <-time.After(e.cfg.RetryBackoff):
			}
			e.logger.Debug("retrying directory call", "op", op, "attempt", attempt)
		}
		start := time.Now()
		err = fn()
		e.metrics.ObserveDirectoryLatency(op, time.Since(start).Seconds())
		if err == nil || !directory.IsTransient(err) {
			return err
		}
	}
	return err
}

func atoiDefault(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

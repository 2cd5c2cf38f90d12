package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saudeflow/clinic-intake/internal/directory"
	"github.com/saudeflow/clinic-intake/internal/requests"
	"github.com/saudeflow/clinic-intake/pkg/logging"
)

// Known-valid CPF test numbers (check digits are correct).
const (
	cpfMaria   = "52998224725"
	cpfJoao    = "11144477735"
	cpfUnknown = "12345678909"
)

const contact = "+5511999990000"

type fakeDirectory struct {
	patients map[string]*directory.PatientRecord
	days     []string
	times    map[string][]string

	verifyErrs []error
	daysErrs   []error
	timesErrs  []error
	bookErr    error

	verifyCalls int
	daysCalls   int
	timesCalls  int
	bookCalls   int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		patients: map[string]*directory.PatientRecord{
			cpfMaria: {CPF: cpfMaria, Name: "Maria Souza", Phone: contact},
			cpfJoao:  {CPF: cpfJoao, Name: "João Lima", Phone: "+5511888880000"},
		},
		days: []string{"2026-09-03", "2026-09-04"},
		times: map[string][]string{
			"2026-09-03": {"09:00", "10:00"},
			"2026-09-04": {"14:00"},
		},
	}
}

func (f *fakeDirectory) popErr(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (f *fakeDirectory) Verify(_ context.Context, cpf string) (*directory.PatientRecord, error) {
	f.verifyCalls++
	if err := f.popErr(&f.verifyErrs); err != nil {
		return nil, err
	}
	if record, ok := f.patients[cpf]; ok {
		return record, nil
	}
	return nil, directory.ErrNotFound
}

func (f *fakeDirectory) AvailableDays(_ context.Context, _ string) ([]string, error) {
	f.daysCalls++
	if err := f.popErr(&f.daysErrs); err != nil {
		return nil, err
	}
	return f.days, nil
}

func (f *fakeDirectory) AvailableTimes(_ context.Context, day, _ string) ([]string, error) {
	f.timesCalls++
	if err := f.popErr(&f.timesErrs); err != nil {
		return nil, err
	}
	return f.times[day], nil
}

func (f *fakeDirectory) Book(_ context.Context, req directory.BookingRequest) (*directory.BookingConfirmation, error) {
	f.bookCalls++
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	return &directory.BookingConfirmation{ID: "bk-1", Day: req.Day, Time: req.Time}, nil
}

type fakeRequests struct {
	appointments  []requests.AppointmentParams
	reschedules   []requests.RescheduleParams
	cancellations []requests.CancellationParams
	waitlist      []requests.WaitlistParams
	tickets       []requests.TicketParams
	failNext      error
}

func (f *fakeRequests) takeErr() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeRequests) CreateAppointment(_ context.Context, p requests.AppointmentParams) (uuid.UUID, error) {
	if err := f.takeErr(); err != nil {
		return uuid.Nil, err
	}
	f.appointments = append(f.appointments, p)
	return uuid.New(), nil
}

func (f *fakeRequests) CreateReschedule(_ context.Context, p requests.RescheduleParams) (uuid.UUID, error) {
	if err := f.takeErr(); err != nil {
		return uuid.Nil, err
	}
	f.reschedules = append(f.reschedules, p)
	return uuid.New(), nil
}

func (f *fakeRequests) CreateCancellation(_ context.Context, p requests.CancellationParams) (uuid.UUID, error) {
	if err := f.takeErr(); err != nil {
		return uuid.Nil, err
	}
	f.cancellations = append(f.cancellations, p)
	return uuid.New(), nil
}

func (f *fakeRequests) CreateWaitlistEntry(_ context.Context, p requests.WaitlistParams) (uuid.UUID, error) {
	if err := f.takeErr(); err != nil {
		return uuid.Nil, err
	}
	f.waitlist = append(f.waitlist, p)
	return uuid.New(), nil
}

func (f *fakeRequests) CreateSecretaryTicket(_ context.Context, p requests.TicketParams) (uuid.UUID, error) {
	if err := f.takeErr(); err != nil {
		return uuid.Nil, err
	}
	f.tickets = append(f.tickets, p)
	return uuid.New(), nil
}

type engineFixture struct {
	engine *Engine
	dir    *fakeDirectory
	repo   *fakeRequests
	mr     *miniredis.Miniredis
}

func newEngineFixture(t *testing.T, cfg EngineConfig) *engineFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisSessionStore(client, time.Minute)

	dir := newFakeDirectory()
	repo := &fakeRequests{}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	engine := NewEngine(store, dir, repo, cfg, logging.Default(), nil)
	return &engineFixture{engine: engine, dir: dir, repo: repo, mr: mr}
}

// send delivers a fresh patient message: each call carries its own provider
// message id, the way every new inbound webhook does.
func (f *engineFixture) send(t *testing.T, text string) *TurnResult {
	t.Helper()
	return f.deliver(t, InboundMessage{ContactID: contact, Text: text, ProviderMessageID: uuid.NewString()})
}

func (f *engineFixture) deliver(t *testing.T, msg InboundMessage) *TurnResult {
	t.Helper()
	result, err := f.engine.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.NotEmpty(t, result.Replies, "every handled turn must answer the patient")
	return result
}

func TestHappyPathBooking(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})

	result := f.send(t, "oi")
	assert.Equal(t, StateAwaitingActionChoice, result.State)
	assert.Contains(t, result.Replies[0], "Agendar")

	result = f.send(t, "agendar")
	assert.Equal(t, StateAwaitingIdentity, result.State)
	assert.Contains(t, result.Replies[0], "CPF")

	result = f.send(t, cpfMaria)
	assert.Equal(t, StateAwaitingDateChoice, result.State)
	assert.Contains(t, strings.Join(result.Replies, "\n"), "03/09/2026")

	result = f.send(t, "1")
	assert.Equal(t, StateAwaitingTimeChoice, result.State)
	assert.Contains(t, strings.Join(result.Replies, "\n"), "09:00")

	result = f.send(t, "09:00")
	assert.Equal(t, StateAwaitingConfirmation, result.State)
	assert.Contains(t, result.Replies[0], "confirma")

	result = f.send(t, "sim")
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, requests.KindAppointment, result.RequestKind)

	require.Len(t, f.repo.appointments, 1)
	created := f.repo.appointments[0]
	assert.Equal(t, contact, created.Contact)
	assert.Equal(t, cpfMaria, created.CPF)
	assert.Equal(t, "2026-09-03", created.RequestedDay)
	assert.Equal(t, "09:00", created.RequestedTime)
	assert.Zero(t, f.dir.bookCalls, "default policy never books directly")

	// A terminal state never blocks the next dialogue.
	result = f.send(t, "oi")
	assert.Equal(t, StateAwaitingActionChoice, result.State)
}

func TestMalformedCPFNeverReachesDirectory(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.send(t, "oi")
	f.send(t, "agendar")

	result := f.send(t, "123")
	assert.Equal(t, StateAwaitingIdentity, result.State)
	assert.Contains(t, result.Replies[0], "CPF")
	assert.Zero(t, f.dir.verifyCalls)

	// Check digits wrong: still local, still no directory call.
	result = f.send(t, "52998224724")
	assert.Equal(t, StateAwaitingIdentity, result.State)
	assert.Zero(t, f.dir.verifyCalls)
}

func TestThreeUnknownIdentitiesEscalate(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.send(t, "oi")
	f.send(t, "agendar")

	// Three distinct well-formed CPFs unknown to the directory.
	f.dir.patients = map[string]*directory.PatientRecord{}

	result := f.send(t, cpfUnknown)
	assert.Equal(t, StateAwaitingIdentity, result.State)

	result = f.send(t, cpfMaria)
	assert.Equal(t, StateAwaitingIdentity, result.State)

	result = f.send(t, cpfJoao)
	assert.Equal(t, StateHumanHandoff, result.State)
	assert.Equal(t, requests.KindSecretaryTicket, result.RequestKind)

	require.Len(t, f.repo.tickets, 1)
	assert.Equal(t, contact, f.repo.tickets[0].Contact)
	assert.Empty(t, f.repo.appointments)
}

func TestStaleTimeOfferRejected(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.send(t, "oi")
	f.send(t, "agendar")
	f.send(t, cpfMaria)
	f.send(t, "1")

	result := f.send(t, "14:00")
	assert.Equal(t, StateAwaitingTimeChoice, result.State, "out-of-list input must not advance")
	joined := strings.Join(result.Replies, "\n")
	assert.Contains(t, joined, "09:00")
	assert.Contains(t, joined, "10:00")
	assert.Empty(t, f.repo.appointments)
}

func TestTransientFailureThenRecoveryIsInvisible(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.dir.daysErrs = []error{&directory.TransientError{Op: "available_days", Err: errors.New("timeout")}}

	f.send(t, "oi")
	f.send(t, "agendar")

	result := f.send(t, cpfMaria)
	assert.Equal(t, StateAwaitingDateChoice, result.State)
	joined := strings.Join(result.Replies, "\n")
	assert.Contains(t, joined, "03/09/2026")
	assert.NotContains(t, joined, "instabilidade")
	assert.Equal(t, 2, f.dir.daysCalls)
}

func TestExhaustedRetriesApologizeWithoutTransition(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{MaxServiceFailures: 5})
	transient := func() error { return &directory.TransientError{Op: "available_days", Err: errors.New("down")} }
	f.dir.daysErrs = []error{transient(), transient(), transient()}

	f.send(t, "oi")
	f.send(t, "agendar")

	result := f.send(t, cpfMaria)
	// Verification succeeded, so the patient is mid-flow; the
	// availability failure leaves the action re-entrant.
	assert.NotEqual(t, StateHumanHandoff, result.State)
	assert.Contains(t, strings.Join(result.Replies, "\n"), "instabilidade")
	assert.Equal(t, 3, f.dir.daysCalls, "one call plus two retries")
	assert.Empty(t, f.repo.appointments)
}

func TestRepeatedServiceFailuresEscalate(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{MaxServiceFailures: 2, RetryAttempts: 1})
	transient := func() error { return &directory.TransientError{Op: "available_days", Err: errors.New("down")} }
	f.dir.daysErrs = []error{transient(), transient(), transient(), transient()}

	f.send(t, "oi")
	f.send(t, "agendar")

	result := f.send(t, cpfMaria)
	assert.Contains(t, result.Replies[len(result.Replies)-1], "instabilidade")

	// The failure left the dialogue at the action menu; trying again
	// exhausts the ceiling.
	result = f.send(t, "1")
	assert.Equal(t, StateHumanHandoff, result.State)
	require.Len(t, f.repo.tickets, 1)
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.send(t, "oi")
	f.send(t, "agendar")
	f.send(t, cpfMaria)
	f.send(t, "1")
	f.send(t, "09:00")

	confirm := InboundMessage{ContactID: contact, Text: "sim", ProviderMessageID: uuid.NewString()}
	first := f.deliver(t, confirm)
	assert.Equal(t, StateDone, first.State)

	second := f.deliver(t, confirm)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Replies, second.Replies)
	assert.Len(t, f.repo.appointments, 1, "redelivery must not create a second record")
}

func TestRepeatedNumericPickAdvances(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.send(t, "oi")
	f.send(t, "agendar")
	f.send(t, cpfMaria)

	result := f.send(t, "1")
	assert.Equal(t, StateAwaitingTimeChoice, result.State)

	// A new message repeating "1" picks the first offered time; only a
	// redelivery of the same provider message id is suppressed.
	result = f.send(t, "1")
	assert.False(t, result.Duplicate)
	assert.Equal(t, StateAwaitingConfirmation, result.State)
	assert.Contains(t, strings.Join(result.Replies, "\n"), "09:00")
}

func TestTextOnlyChannelFallsBackToTextDedup(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.deliver(t, InboundMessage{ContactID: contact, Text: "oi"})

	result := f.deliver(t, InboundMessage{ContactID: contact, Text: "oi"})
	assert.True(t, result.Duplicate, "without a provider id, identical text is treated as redelivery")
}

func TestUnrecognizedActionRepromptsMenu(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.send(t, "oi")

	result := f.send(t, "qual o horário de funcionamento?")
	assert.Equal(t, StateAwaitingActionChoice, result.State)
	assert.Contains(t, result.Replies[0], "1️⃣")
	assert.Zero(t, f.dir.verifyCalls)
}

func TestNegativeConfirmationReturnsToMenu(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.send(t, "oi")
	f.send(t, "agendar")
	f.send(t, cpfMaria)
	f.send(t, "1")
	f.send(t, "09:00")

	result := f.send(t, "não")
	assert.Equal(t, StateAwaitingActionChoice, result.State)
	assert.Empty(t, f.repo.appointments)

	// Identity survives: picking a new action skips the CPF step.
	result = f.send(t, "4")
	assert.Equal(t, StateAwaitingWaitlistConfirm, result.State)
}

func TestWaitlistFlow(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.send(t, "oi")
	f.send(t, "lista de espera")
	f.send(t, cpfMaria)

	result := f.send(t, "sim")
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, requests.KindWaitlist, result.RequestKind)
	require.Len(t, f.repo.waitlist, 1)
	assert.Equal(t, cpfMaria, f.repo.waitlist[0].CPF)
}

func TestCancelFlow(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.send(t, "oi")
	f.send(t, "cancelar")
	f.send(t, cpfMaria)

	result := f.send(t, "vou viajar na data da consulta")
	assert.Equal(t, StateDone, result.State)
	require.Len(t, f.repo.cancellations, 1)
	assert.Equal(t, "vou viajar na data da consulta", f.repo.cancellations[0].Reason)
}

func TestRescheduleFlow(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.send(t, "oi")
	f.send(t, "remarcar")
	f.send(t, cpfMaria)

	result := f.send(t, "consulta de quinta 14h, prefiro sexta de manhã")
	assert.Equal(t, StateDone, result.State)
	require.Len(t, f.repo.reschedules, 1)
	assert.Contains(t, f.repo.reschedules[0].Details, "sexta")
}

func TestTalkToHumanCreatesTicket(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.send(t, "oi")

	result := f.send(t, "quero falar com a secretária")
	assert.Equal(t, StateHumanHandoff, result.State)
	require.Len(t, f.repo.tickets, 1)
}

func TestEmptyInboundReprompts(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.send(t, "oi")
	f.send(t, "agendar")

	result := f.send(t, "   ")
	assert.Equal(t, StateAwaitingIdentity, result.State)
	assert.Contains(t, result.Replies[0], "CPF")
}

func TestEmptyContactIDRejected(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	_, err := f.engine.Handle(context.Background(), InboundMessage{ContactID: "  ", Text: "oi"})
	assert.Error(t, err)
}

func TestDirectBookingPolicy(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{DirectBooking: true})
	f.send(t, "oi")
	f.send(t, "agendar")
	f.send(t, cpfMaria)
	f.send(t, "1")
	f.send(t, "09:00")

	result := f.send(t, "sim")
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, 1, f.dir.bookCalls)
	assert.Contains(t, result.Replies[0], "agendada")
	require.Len(t, f.repo.appointments, 1)
}

func TestDirectBookingRecordFailureStillCompletes(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{DirectBooking: true})
	f.send(t, "oi")
	f.send(t, "agendar")
	f.send(t, cpfMaria)
	f.send(t, "1")
	f.send(t, "09:00")

	f.repo.failNext = errors.New("db down")
	result := f.send(t, "sim")
	// Booking happened upstream: never re-book, never block the patient.
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, 1, f.dir.bookCalls)
	assert.Contains(t, result.Replies[0], "confirmar")
}

func TestSessionLoadFailureAbortsTurn(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.send(t, "oi")
	f.mr.Close()

	_, err := f.engine.Handle(context.Background(), InboundMessage{ContactID: contact, Text: "agendar", ProviderMessageID: uuid.NewString()})
	assert.Error(t, err)
}

func TestStateWalkStaysOnGraph(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})

	edges := map[State][]State{
		StateStart:                     {StateAwaitingActionChoice},
		StateAwaitingActionChoice:      {StateAwaitingActionChoice, StateAwaitingIdentity, StateAwaitingDateChoice, StateAwaitingRescheduleDetails, StateAwaitingCancelReason, StateAwaitingWaitlistConfirm, StateHumanHandoff},
		StateAwaitingIdentity:          {StateAwaitingIdentity, StateAwaitingDateChoice, StateAwaitingRescheduleDetails, StateAwaitingCancelReason, StateAwaitingWaitlistConfirm, StateAwaitingActionChoice, StateHumanHandoff},
		StateAwaitingDateChoice:        {StateAwaitingDateChoice, StateAwaitingTimeChoice, StateAwaitingActionChoice, StateHumanHandoff},
		StateAwaitingTimeChoice:        {StateAwaitingTimeChoice, StateAwaitingConfirmation},
		StateAwaitingConfirmation:      {StateAwaitingConfirmation, StateDone, StateAwaitingActionChoice, StateHumanHandoff},
		StateAwaitingRescheduleDetails: {StateAwaitingRescheduleDetails, StateDone},
		StateAwaitingCancelReason:      {StateAwaitingCancelReason, StateDone},
		StateAwaitingWaitlistConfirm:   {StateAwaitingWaitlistConfirm, StateDone, StateAwaitingActionChoice},
		StateDone:                      {StateAwaitingActionChoice},
		StateHumanHandoff:              {StateAwaitingActionChoice},
	}

	previous := StateStart
	script := []string{"oi", "que?", "agendar", "123", cpfMaria, "99", "1", "14:00", "09:00", "talvez", "sim", "oi"}
	for _, msg := range script {
		result := f.send(t, msg)
		assert.Contains(t, edges[previous], result.State,
			"transition %s -> %s not on the state graph (message %q)", previous, result.State, msg)
		previous = result.State
	}
}

package requests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/saudeflow/clinic-intake/pkg/logging"
)

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists intake requests to PostgreSQL.
type Repository struct {
	db     db
	logger *logging.Logger
}

// NewRepository creates a repository backed by a pgx pool (or mock).
func NewRepository(db db, logger *logging.Logger) *Repository {
	if db == nil {
		panic("requests: db cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Repository{db: db, logger: logger}
}

// AppointmentParams carries the fields of a new-appointment request.
type AppointmentParams struct {
	Contact       string
	CPF           string
	PatientName   string
	Specialty     string
	RequestedDay  string
	RequestedTime string
}

// CreateAppointment inserts a pending appointment request, returning the row
// id. Re-submission under the same correlation key returns the existing id.
func (r *Repository) CreateAppointment(ctx context.Context, p AppointmentParams) (uuid.UUID, error) {
	return r.insert(ctx, Record{
		Kind:           KindAppointment,
		Contact:        p.Contact,
		CPF:            p.CPF,
		PatientName:    p.PatientName,
		Specialty:      p.Specialty,
		RequestedDay:   p.RequestedDay,
		RequestedTime:  p.RequestedTime,
		CorrelationKey: CorrelationKey(p.Contact, KindAppointment, p.RequestedDay+"T"+p.RequestedTime),
	})
}

// RescheduleParams carries the fields of a reschedule request. Details holds
// the patient's free-text description of the current and desired slots.
type RescheduleParams struct {
	Contact     string
	CPF         string
	PatientName string
	Details     string
	DialogueID  string
}

// CreateReschedule inserts a pending reschedule request.
func (r *Repository) CreateReschedule(ctx context.Context, p RescheduleParams) (uuid.UUID, error) {
	return r.insert(ctx, Record{
		Kind:           KindReschedule,
		Contact:        p.Contact,
		CPF:            p.CPF,
		PatientName:    p.PatientName,
		Reason:         p.Details,
		CorrelationKey: CorrelationKey(p.Contact, KindReschedule, p.DialogueID),
	})
}

// CancellationParams carries the fields of a cancellation request.
type CancellationParams struct {
	Contact     string
	CPF         string
	PatientName string
	Reason      string
	DialogueID  string
}

// CreateCancellation inserts a pending cancellation request.
func (r *Repository) CreateCancellation(ctx context.Context, p CancellationParams) (uuid.UUID, error) {
	return r.insert(ctx, Record{
		Kind:           KindCancellation,
		Contact:        p.Contact,
		CPF:            p.CPF,
		PatientName:    p.PatientName,
		Reason:         p.Reason,
		CorrelationKey: CorrelationKey(p.Contact, KindCancellation, p.DialogueID),
	})
}

// WaitlistParams carries the fields of a waitlist entry.
type WaitlistParams struct {
	Contact     string
	CPF         string
	PatientName string
	Specialty   string
	DialogueID  string
}

// CreateWaitlistEntry inserts a pending waitlist entry.
func (r *Repository) CreateWaitlistEntry(ctx context.Context, p WaitlistParams) (uuid.UUID, error) {
	return r.insert(ctx, Record{
		Kind:           KindWaitlist,
		Contact:        p.Contact,
		CPF:            p.CPF,
		PatientName:    p.PatientName,
		Specialty:      p.Specialty,
		CorrelationKey: CorrelationKey(p.Contact, KindWaitlist, p.DialogueID),
	})
}

// TicketParams carries the fields of a secretary hand-off ticket.
type TicketParams struct {
	Contact     string
	CPF         string
	PatientName string
	Reason      string
	DialogueID  string
}

// CreateSecretaryTicket inserts a pending hand-off ticket for human staff.
func (r *Repository) CreateSecretaryTicket(ctx context.Context, p TicketParams) (uuid.UUID, error) {
	return r.insert(ctx, Record{
		Kind:           KindSecretaryTicket,
		Contact:        p.Contact,
		CPF:            p.CPF,
		PatientName:    p.PatientName,
		Reason:         p.Reason,
		CorrelationKey: CorrelationKey(p.Contact, KindSecretaryTicket, p.DialogueID),
	})
}

const insertSQL = `
	INSERT INTO intake_requests (
		id, kind, contact, cpf, patient_name, specialty,
		requested_day, requested_time, reason, status, correlation_key, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (correlation_key) DO NOTHING
	RETURNING id
`

// insert writes a pending row. A correlation-key conflict means the same
// logical request was already recorded; the existing id is returned so
// redelivered messages never produce duplicate pending rows.
func (r *Repository) insert(ctx context.Context, rec Record) (uuid.UUID, error) {
	if rec.Contact == "" {
		return uuid.Nil, errors.New("requests: contact required")
	}

	newID := uuid.New()
	var id uuid.UUID
	err := r.db.QueryRow(ctx, insertSQL,
		newID, rec.Kind, rec.Contact, rec.CPF, rec.PatientName, rec.Specialty,
		rec.RequestedDay, rec.RequestedTime, rec.Reason, StatusPending,
		rec.CorrelationKey, time.Now().UTC(),
	).Scan(&id)

	if errors.Is(err, pgx.ErrNoRows) {
		existing, lookupErr := r.findByCorrelationKey(ctx, rec.CorrelationKey)
		if lookupErr != nil {
			return uuid.Nil, lookupErr
		}
		r.logger.Debug("duplicate intake request suppressed",
			"kind", string(rec.Kind),
			"correlation_key", rec.CorrelationKey,
		)
		return existing, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("requests: insert %s: %w", rec.Kind, err)
	}
	return id, nil
}

func (r *Repository) findByCorrelationKey(ctx context.Context, key string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx,
		`SELECT id FROM intake_requests WHERE correlation_key = $1`, key,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("requests: lookup by correlation key: %w", err)
	}
	return id, nil
}

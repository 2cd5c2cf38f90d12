// Package requests persists patient-initiated intake requests as durable
// rows consumed by the clinic's review workflow. The conversation core only
// ever creates pending rows; approval, rejection, and finalization belong to
// that external workflow and are never read back here.
package requests

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the five request variants.
type Kind string

const (
	KindAppointment     Kind = "appointment"
	KindReschedule      Kind = "reschedule"
	KindCancellation    Kind = "cancellation"
	KindWaitlist        Kind = "waitlist"
	KindSecretaryTicket Kind = "secretary_ticket"
)

// Status values. The core writes pending only; the other values exist so the
// row shape matches what the review workflow mutates.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusFinalized Status = "finalized"
)

// Record is one intake request row.
type Record struct {
	ID             uuid.UUID
	Kind           Kind
	Contact        string
	CPF            string
	PatientName    string
	Specialty      string
	RequestedDay   string
	RequestedTime  string
	Reason         string
	Status         Status
	CorrelationKey string
	CreatedAt      time.Time
}

// CorrelationKey builds the natural key that makes re-submission of the same
// logical request idempotent: contact + kind + the salient portion of the
// request (date/time for dated kinds, the dialogue id otherwise).
func CorrelationKey(contact string, kind Kind, salient string) string {
	return fmt.Sprintf("%s:%s:%s", contact, kind, salient)
}

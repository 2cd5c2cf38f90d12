// Package transcript persists dialogue history to PostgreSQL for the staff
// dashboard. It is written around each handled turn and never read by the
// conversation engine itself.
package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RolePatient   = "patient"
	RoleAssistant = "assistant"
)

// Store persists dialogues and their messages.
type Store struct {
	db *sql.DB
}

// NewStore creates a transcript store. A nil db yields a nil store, and all
// nil-store methods are no-ops, so callers can wire it unconditionally.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db}
}

// DialogueRecord represents one contact's dialogue in the database.
type DialogueRecord struct {
	ID                    uuid.UUID
	ContactID             string
	Status                string
	MessageCount          int
	PatientMessageCount   int
	AssistantMessageCount int
	StartedAt             time.Time
	LastMessageAt         *time.Time
}

// MessageRecord represents one transcript message.
type MessageRecord struct {
	ID        uuid.UUID
	ContactID string
	Role      string
	Body      string
	CreatedAt time.Time
}

// EnsureDialogue creates the dialogue row for a contact if missing and
// returns its UUID.
func (s *Store) EnsureDialogue(ctx context.Context, contactID string) (uuid.UUID, error) {
	if s == nil || s.db == nil {
		return uuid.Nil, nil
	}
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return uuid.Nil, fmt.Errorf("transcript: contact id required")
	}

	var existingID uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM dialogues WHERE contact_id = $1`,
		contactID,
	).Scan(&existingID)
	if err == nil {
		return existingID, nil
	}
	if err != sql.ErrNoRows {
		return uuid.Nil, fmt.Errorf("transcript: failed to check existing dialogue: %w", err)
	}

	newID := uuid.New()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dialogues (
			id, contact_id, status,
			message_count, patient_message_count, assistant_message_count,
			started_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, newID, contactID, "active", 0, 0, 0, now, now, now)
	if err != nil {
		// Another worker may have created it between the select and insert.
		if strings.Contains(err.Error(), "duplicate key") {
			return s.EnsureDialogue(ctx, contactID)
		}
		return uuid.Nil, fmt.Errorf("transcript: failed to create dialogue: %w", err)
	}

	return newID, nil
}

// AppendInbound records a patient message.
func (s *Store) AppendInbound(ctx context.Context, contactID, body string, at time.Time) error {
	return s.appendMessage(ctx, contactID, RolePatient, body, at)
}

// AppendOutbound records an assistant reply.
func (s *Store) AppendOutbound(ctx context.Context, contactID, body string, at time.Time) error {
	return s.appendMessage(ctx, contactID, RoleAssistant, body, at)
}

func (s *Store) appendMessage(ctx context.Context, contactID, role, body string, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	if _, err := s.EnsureDialogue(ctx, contactID); err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	msgID := uuid.New()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO dialogue_messages (
			id, contact_id, role, body, created_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, msgID, contactID, role, body, at)
	if err != nil {
		return fmt.Errorf("transcript: failed to insert message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("transcript: failed to read insert result: %w", err)
	}
	if rowsAffected == 0 {
		return nil
	}

	counterColumn := "patient_message_count"
	if role == RoleAssistant {
		counterColumn = "assistant_message_count"
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE dialogues SET
			message_count = message_count + 1,
			%s = %s + 1,
			last_message_at = $1,
			updated_at = $1
		WHERE contact_id = $2
	`, counterColumn, counterColumn), at, contactID)
	if err != nil {
		return fmt.Errorf("transcript: failed to update counters: %w", err)
	}

	return nil
}

// GetDialogue retrieves a dialogue by contact. Returns nil when absent.
func (s *Store) GetDialogue(ctx context.Context, contactID string) (*DialogueRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}

	var rec DialogueRecord
	var lastMessageAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, contact_id, status,
			   message_count, patient_message_count, assistant_message_count,
			   started_at, last_message_at
		FROM dialogues
		WHERE contact_id = $1
	`, contactID).Scan(
		&rec.ID, &rec.ContactID, &rec.Status,
		&rec.MessageCount, &rec.PatientMessageCount, &rec.AssistantMessageCount,
		&rec.StartedAt, &lastMessageAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transcript: failed to load dialogue: %w", err)
	}
	if lastMessageAt.Valid {
		rec.LastMessageAt = &lastMessageAt.Time
	}
	return &rec, nil
}

// RecentMessages lists the newest messages for a contact, oldest first.
func (s *Store) RecentMessages(ctx context.Context, contactID string, limit int) ([]MessageRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contact_id, role, body, created_at
		FROM (
			SELECT id, contact_id, role, body, created_at
			FROM dialogue_messages
			WHERE contact_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`, contactID, limit)
	if err != nil {
		return nil, fmt.Errorf("transcript: failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []MessageRecord
	for rows.Next() {
		var msg MessageRecord
		if err := rows.Scan(&msg.ID, &msg.ContactID, &msg.Role, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("transcript: failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript: failed to iterate messages: %w", err)
	}
	return messages, nil
}

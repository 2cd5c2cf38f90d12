package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/saudeflow/clinic-intake/pkg/logging"
)

// Service sends intake notifications to clinic staff.
type Service struct {
	email      EmailSender
	staffEmail string
	clinicName string
	logger     *logging.Logger
}

// NewService creates a notification service. A nil email sender disables
// delivery; the service then only logs.
func NewService(email EmailSender, staffEmail, clinicName string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if clinicName == "" {
		clinicName = "SaúdeFlow"
	}
	return &Service{
		email:      email,
		staffEmail: staffEmail,
		clinicName: clinicName,
		logger:     logger,
	}
}

// NotifyHandoff alerts the front desk that a patient dialogue escalated to a
// human. Called by the worker after a handoff turn.
func (s *Service) NotifyHandoff(ctx context.Context, contactID string) error {
	if s.email == nil || s.staffEmail == "" {
		s.logger.Debug("notify: email not configured, skipping handoff alert", "contact_id", contactID)
		return nil
	}
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return fmt.Errorf("notify: contact id required")
	}

	now := time.Now()
	subject := fmt.Sprintf("[%s] Paciente aguardando atendimento humano", s.clinicName)
	body := fmt.Sprintf(
		"O contato %s pediu atendimento humano ou esgotou as tentativas automáticas.\n\n"+
			"Horário: %s\n\n"+
			"Responda pelo painel de atendimento o quanto antes.",
		contactID, now.Format("02/01/2006 15:04"),
	)

	msg := EmailMessage{
		To:      s.staffEmail,
		ToName:  "Recepção",
		Subject: subject,
		Body:    body,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: handoff alert: %w", err)
	}

	s.logger.Info("handoff alert sent", "contact_id", contactID, "to", s.staffEmail)
	return nil
}

// NotifyRequestCreated alerts staff that a new intake request needs review.
// Used for request kinds the front desk confirms manually.
func (s *Service) NotifyRequestCreated(ctx context.Context, contactID, kind, summary string) error {
	if s.email == nil || s.staffEmail == "" {
		s.logger.Debug("notify: email not configured, skipping request alert", "contact_id", contactID, "kind", kind)
		return nil
	}

	subject := fmt.Sprintf("[%s] Nova solicitação: %s", s.clinicName, kind)
	var b strings.Builder
	fmt.Fprintf(&b, "Contato: %s\n", contactID)
	fmt.Fprintf(&b, "Tipo: %s\n", kind)
	if summary != "" {
		fmt.Fprintf(&b, "Detalhes: %s\n", summary)
	}
	fmt.Fprintf(&b, "Recebida em: %s\n", time.Now().Format("02/01/2006 15:04"))

	msg := EmailMessage{
		To:      s.staffEmail,
		ToName:  "Recepção",
		Subject: subject,
		Body:    b.String(),
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: request alert: %w", err)
	}

	s.logger.Info("request alert sent", "contact_id", contactID, "kind", kind)
	return nil
}

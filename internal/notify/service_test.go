package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/saudeflow/clinic-intake/pkg/logging"
)

type capturingSender struct {
	mu       sync.Mutex
	messages []EmailMessage
	err      error
}

func (c *capturingSender) Send(ctx context.Context, msg EmailMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, msg)
	return nil
}

func (c *capturingSender) sent() []EmailMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]EmailMessage(nil), c.messages...)
}

func TestNotifyHandoffSendsEmail(t *testing.T) {
	sender := &capturingSender{}
	svc := NewService(sender, "recepcao@clinica.com.br", "Clínica Boa Saúde", logging.Default())

	if err := svc.NotifyHandoff(context.Background(), "+5511999990000"); err != nil {
		t.Fatalf("NotifyHandoff returned error: %v", err)
	}

	msgs := sender.sent()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 email, got %d", len(msgs))
	}
	if msgs[0].To != "recepcao@clinica.com.br" {
		t.Fatalf("unexpected recipient: %s", msgs[0].To)
	}
	if !strings.Contains(msgs[0].Subject, "Clínica Boa Saúde") {
		t.Fatalf("expected clinic name in subject, got %q", msgs[0].Subject)
	}
	if !strings.Contains(msgs[0].Body, "+5511999990000") {
		t.Fatalf("expected contact in body, got %q", msgs[0].Body)
	}
}

func TestNotifyHandoffWithoutEmailConfiguredIsNoOp(t *testing.T) {
	svc := NewService(nil, "", "", logging.Default())
	if err := svc.NotifyHandoff(context.Background(), "+5511999990000"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestNotifyHandoffRequiresContact(t *testing.T) {
	sender := &capturingSender{}
	svc := NewService(sender, "recepcao@clinica.com.br", "", logging.Default())
	if err := svc.NotifyHandoff(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank contact")
	}
}

func TestNotifyHandoffWrapsSenderError(t *testing.T) {
	sender := &capturingSender{err: errors.New("smtp down")}
	svc := NewService(sender, "recepcao@clinica.com.br", "", logging.Default())
	err := svc.NotifyHandoff(context.Background(), "+5511999990000")
	if err == nil || !strings.Contains(err.Error(), "smtp down") {
		t.Fatalf("expected wrapped sender error, got %v", err)
	}
}

func TestNotifyRequestCreatedIncludesDetails(t *testing.T) {
	sender := &capturingSender{}
	svc := NewService(sender, "recepcao@clinica.com.br", "Clínica Boa Saúde", logging.Default())

	err := svc.NotifyRequestCreated(context.Background(), "+5511988887777", "remarcacao", "quer mudar para quinta de manhã")
	if err != nil {
		t.Fatalf("NotifyRequestCreated returned error: %v", err)
	}

	msgs := sender.sent()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 email, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0].Body, "quinta de manhã") {
		t.Fatalf("expected details in body, got %q", msgs[0].Body)
	}
	if !strings.Contains(msgs[0].Subject, "remarcacao") {
		t.Fatalf("expected kind in subject, got %q", msgs[0].Subject)
	}
}

package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/topasig/PolicyBroker/internal/config"
	"gopkg.in/gomail.v2"
)

type capturingDialer struct {
	messages []*gomail.Message
	err      error
}

func (d *capturingDialer) DialAndSend(m ...*gomail.Message) error {
	d.messages = append(d.messages, m...)
	return d.err
}

func TestSendAttachment(t *testing.T) {
	dialer := &capturingDialer{}
	sender := &Sender{from: "noreply@broker.example", dialer: dialer}
	content := []byte("%PDF-1.7 policy")

	if errSend := sender.SendAttachment(context.Background(), "client@example.com", "", "", "DOC-1.pdf", content); errSend != nil {
		t.Fatalf("send: %v", errSend)
	}
	if len(dialer.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(dialer.messages))
	}

	var buf bytes.Buffer
	if _, errWrite := dialer.messages[0].WriteTo(&buf); errWrite != nil {
		t.Fatalf("render message: %v", errWrite)
	}
	raw := buf.String()
	for _, want := range []string{
		"From: noreply@broker.example",
		"To: client@example.com",
		"Subject: " + DefaultSubject,
		`filename="DOC-1.pdf"`,
		"application/pdf",
		base64.StdEncoding.EncodeToString(content),
	} {
		if !strings.Contains(raw, want) {
			t.Fatalf("expected message to contain %q, got:\n%s", want, raw)
		}
	}
}

func TestSendAttachmentErrors(t *testing.T) {
	unconfigured := NewSender(config.MailConfig{})
	if errSend := unconfigured.SendAttachment(context.Background(), "a@b.c", "", "", "f.pdf", nil); !errors.Is(errSend, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", errSend)
	}

	dialer := &capturingDialer{err: errors.New("connection refused")}
	sender := &Sender{from: "noreply@broker.example", dialer: dialer}
	if errSend := sender.SendAttachment(context.Background(), " ", "", "", "f.pdf", nil); errSend == nil {
		t.Fatalf("expected missing recipient error")
	}
	errSend := sender.SendAttachment(context.Background(), "client@example.com", "", "", "f.pdf", nil)
	if errSend == nil || strings.Contains(errSend.Error(), "client@example.com") {
		t.Fatalf("expected masked send error, got %v", errSend)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if errSend := sender.SendAttachment(ctx, "client@example.com", "", "", "f.pdf", nil); !errors.Is(errSend, context.Canceled) {
		t.Fatalf("expected context error, got %v", errSend)
	}
}

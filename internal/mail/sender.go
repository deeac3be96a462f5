// Package mail delivers issued documents by email.
package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/topasig/PolicyBroker/internal/config"
	"github.com/topasig/PolicyBroker/internal/util"
	"gopkg.in/gomail.v2"
)

// Default message text for document delivery.
const (
	DefaultSubject = "Your file"
	DefaultBody    = "Please find the attached file."
)

// ErrNotConfigured is returned when no SMTP host is set.
var ErrNotConfigured = errors.New("mail: smtp host not configured")

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Sender sends messages through one SMTP relay.
type Sender struct {
	from   string
	dialer dialer
}

// NewSender builds a Sender from the mail section. An empty host yields a
// Sender whose sends fail with ErrNotConfigured.
func NewSender(cfg config.MailConfig) *Sender {
	s := &Sender{from: strings.TrimSpace(cfg.From)}
	if strings.TrimSpace(cfg.Host) != "" {
		s.dialer = gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	}
	return s
}

// SendAttachment mails content to the recipient as a single PDF attachment.
func (s *Sender) SendAttachment(ctx context.Context, to, subject, body, filename string, content []byte) error {
	if s == nil || s.dialer == nil {
		return ErrNotConfigured
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("mail: recipient is required")
	}
	if errCtx := ctx.Err(); errCtx != nil {
		return errCtx
	}
	if subject == "" {
		subject = DefaultSubject
	}
	if body == "" {
		body = DefaultBody
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	m.Attach(filename,
		gomail.SetCopyFunc(func(w io.Writer) error {
			_, errWrite := w.Write(content)
			return errWrite
		}),
		gomail.SetHeader(map[string][]string{"Content-Type": {"application/pdf"}}),
	)

	if errSend := s.dialer.DialAndSend(m); errSend != nil {
		return fmt.Errorf("mail: send to %s: %w", util.MaskEmail(to), errSend)
	}
	log.Infof("mail: sent %s to %s", filename, util.MaskEmail(to))
	return nil
}

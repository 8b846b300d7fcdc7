package notify

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPSender delivers messages through an SMTP relay
type SMTPSender struct {
	mu     sync.Mutex
	client *mail.Client
	from   string
}

// NewSMTPSender configures a sender; auth is skipped when username is empty
func NewSMTPSender(host string, port int, username, password, from string) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(30 * time.Second),
	}
	if username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(username),
			mail.WithPassword(password),
		)
	}
	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("init smtp client: %w", err)
	}
	return &SMTPSender{client: client, from: from}, nil
}

// Send dials the relay and delivers msg. The dial and the session are bound
// to ctx, so a cancelled request does not deliver in the background.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := buildMessage(s.from, msg, time.Now())
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	// one client holds one connection at a time
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// buildMessage renders an HTML mail with an optional attachment
func buildMessage(from string, msg Message, date time.Time) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("sender address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("recipient address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(date)
	m.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)

	if att := msg.Attachment; att != nil {
		err := m.AttachReader(att.Filename, bytes.NewReader(att.Data),
			mail.WithFileContentType(mail.ContentType(att.ContentType)))
		if err != nil {
			return nil, fmt.Errorf("attach %s: %w", att.Filename, err)
		}
	}
	return m, nil
}

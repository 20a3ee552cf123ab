package provider

import (
	"context"
	"time"

	"github.com/sells-group/outreach-cli/pkg/mailer"
)

// SMTPSender adapts the mailer to MessageSender.
type SMTPSender struct {
	mailer mailer.Sender
	now    func() time.Time
}

// NewSMTPSender wraps m.
func NewSMTPSender(m mailer.Sender) *SMTPSender {
	return &SMTPSender{mailer: m, now: time.Now}
}

// Send implements MessageSender.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) (SendReceipt, error) {
	id, err := s.mailer.Send(ctx, to, subject, body)
	if err != nil {
		return SendReceipt{}, err
	}
	return SendReceipt{MessageID: id, SentAt: s.now().UTC()}, nil
}

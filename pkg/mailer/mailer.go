// Package mailer sends plain-text email over SMTP.
package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gopkg.in/gomail.v2"
)

// Sender delivers a single message and returns its Message-ID.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) (string, error)
}

// Dialer is the part of gomail.Dialer the mailer uses.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// Mailer implements Sender with gomail.
type Mailer struct {
	dialer Dialer
	from   string
	name   string
	domain string
	now    func() time.Time
}

// New returns a Mailer that dials cfg.Host for every send.
func New(cfg Config) (*Mailer, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, eris.New("mailer: host and from are required")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	return NewWithDialer(gomail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password), cfg.From, cfg.FromName), nil
}

// NewWithDialer returns a Mailer using d.
func NewWithDialer(d Dialer, from, name string) *Mailer {
	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	return &Mailer{dialer: d, from: from, name: name, domain: domain, now: time.Now}
}

// Send builds and delivers one message. gomail has no context support, so
// ctx is only checked before dialing.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "mailer: send")
	}
	if to == "" {
		return "", eris.New("mailer: empty recipient")
	}

	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), m.domain)

	msg := gomail.NewMessage()
	if m.name != "" {
		msg.SetAddressHeader("From", m.from, m.name)
	} else {
		msg.SetHeader("From", m.from)
	}
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetHeader("Message-ID", id)
	msg.SetDateHeader("Date", m.now())
	msg.SetBody("text/plain", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return "", eris.Wrapf(err, "mailer: send to %s", to)
	}
	return id, nil
}

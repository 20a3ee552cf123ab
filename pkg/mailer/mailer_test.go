package mailer

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type recordingDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *recordingDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func TestSend(t *testing.T) {
	d := &recordingDialer{}
	m := NewWithDialer(d, "hello@outreach.example", "Dana")

	id, err := m.Send(context.Background(), "owner@acme.com", "Quick question", "Hi there")
	require.NoError(t, err)
	assert.Regexp(t, `^<[0-9a-f-]{36}@outreach\.example>$`, id)

	require.Len(t, d.sent, 1)
	msg := d.sent[0]
	assert.Equal(t, []string{"owner@acme.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"Quick question"}, msg.GetHeader("Subject"))
	assert.Equal(t, []string{id}, msg.GetHeader("Message-ID"))

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Hi there")
}

func TestSend_DialError(t *testing.T) {
	m := NewWithDialer(&recordingDialer{err: errors.New("535 auth failed")}, "a@b.com", "")
	_, err := m.Send(context.Background(), "x@y.com", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailer: send to x@y.com")
}

func TestSend_CancelledContext(t *testing.T) {
	d := &recordingDialer{}
	m := NewWithDialer(d, "a@b.com", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Send(ctx, "x@y.com", "s", "b")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, d.sent)
}

func TestSend_EmptyRecipient(t *testing.T) {
	m := NewWithDialer(&recordingDialer{}, "a@b.com", "")
	_, err := m.Send(context.Background(), "", "s", "b")
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{From: "a@b.com"})
	assert.Error(t, err)

	m, err := New(Config{Host: "smtp.example.com", From: "a@b.com"})
	require.NoError(t, err)
	assert.Equal(t, "b.com", m.domain)
}

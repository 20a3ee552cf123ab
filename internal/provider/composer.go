package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
)

const composeSystem = `You write short, plain-text cold outreach emails.
Reply with the subject on the first line as "Subject: ..." followed by a blank line and the body.
No markdown, no placeholders, no signature block beyond the sender's first name.`

// AnthropicComposer writes messages with the Anthropic Messages API.
type AnthropicComposer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicComposer wraps c.
func NewAnthropicComposer(c anthropic.Client, model string, maxTokens int) *AnthropicComposer {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicComposer{client: c, model: model, maxTokens: int64(maxTokens)}
}

// Compose implements MessageComposer.
func (c *AnthropicComposer) Compose(ctx context.Context, cc ComposeContext) (Message, error) {
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    composeSystem,
		Messages:  []anthropic.Message{{Role: "user", Content: composePrompt(cc)}},
	})
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) && resilience.TransientStatus(apiErr.Code) {
			return Message{}, resilience.Transient(err, apiErr.Code)
		}
		return Message{}, err
	}
	return ParseMessage(resp.Text())
}

func composePrompt(cc ComposeContext) string {
	p := cc.Prospect
	var b strings.Builder
	fmt.Fprintf(&b, "Recipient: %s\n", p.DisplayName())
	if p.Website != "" {
		fmt.Fprintf(&b, "Website: %s\n", p.Website)
	}
	if p.Platform != "" {
		fmt.Fprintf(&b, "Platform: %s\n", p.Platform)
	}
	if p.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", p.Category)
	}
	if p.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", p.Location)
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "About them: %s\n", p.Description)
	}
	fmt.Fprintf(&b, "Sender: %s\n", cc.SenderName)
	fmt.Fprintf(&b, "What we offer: %s\n", cc.Pitch)
	if cc.FollowUp > 0 {
		fmt.Fprintf(&b, "\nThis is follow-up number %d. They have not replied to:\nSubject: %s\n\n%s\n",
			cc.FollowUp, cc.PreviousSubject, cc.PreviousBody)
		b.WriteString("Write a brief, polite follow-up in the same thread.\n")
	} else {
		b.WriteString("\nWrite the first email.\n")
	}
	return b.String()
}

// ParseMessage splits composer output into subject and body.
func ParseMessage(text string) (Message, error) {
	text = strings.TrimSpace(text)
	subject, body, _ := strings.Cut(text, "\n")
	if s, ok := cutPrefixFold(subject, "subject:"); ok {
		subject = strings.TrimSpace(s)
	} else {
		return Message{}, eris.New("provider: composer reply has no subject line")
	}
	body = strings.TrimSpace(body)
	if subject == "" || body == "" {
		return Message{}, eris.New("provider: composer reply is missing subject or body")
	}
	return Message{Subject: subject, Body: body}, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}

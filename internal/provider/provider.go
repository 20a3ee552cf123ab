// Package provider defines the outbound collaborators of the pipeline and
// the guard every call to them goes through.
package provider

import (
	"context"
	"time"

	"github.com/sells-group/outreach-cli/internal/model"
)

// RawResult is one search hit before normalization.
type RawResult struct {
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Snippet  string  `json:"snippet,omitempty"`
	Name     string  `json:"name,omitempty"`
	Category string  `json:"category,omitempty"`
	Location string  `json:"location,omitempty"`
	Rating   float64 `json:"rating,omitempty"`
	Reviews  int     `json:"reviews,omitempty"`
}

// SearchProvider runs a text search, optionally scoped to a location.
type SearchProvider interface {
	Query(ctx context.Context, text, location string) ([]RawResult, error)
}

// CandidateEmail is a possible contact address for a domain.
type CandidateEmail struct {
	Address    string  `json:"address"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

// EmailFinder looks up addresses published for a domain.
type EmailFinder interface {
	FindForDomain(ctx context.Context, domain string) ([]CandidateEmail, error)
}

// VerificationResult is a verifier's verdict on an address.
type VerificationResult string

const (
	Deliverable   VerificationResult = "deliverable"
	Undeliverable VerificationResult = "undeliverable"
	Risky         VerificationResult = "risky"
	Unknown       VerificationResult = "unknown"
)

// Verification is the outcome of verifying one address.
type Verification struct {
	Email  string             `json:"email"`
	Result VerificationResult `json:"result"`
	Score  float64            `json:"score"`
}

// EmailVerifier checks whether an address accepts mail.
type EmailVerifier interface {
	Verify(ctx context.Context, email string) (Verification, error)
}

// ComposeContext is everything a composer sees about a prospect. FollowUp
// is zero for the first message.
type ComposeContext struct {
	Prospect        model.Prospect
	SenderName      string
	Pitch           string
	FollowUp        int
	PreviousSubject string
	PreviousBody    string
}

// Message is a composed email.
type Message struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// MessageComposer writes a message for a prospect.
type MessageComposer interface {
	Compose(ctx context.Context, cc ComposeContext) (Message, error)
}

// SendReceipt confirms a delivered message.
type SendReceipt struct {
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
}

// MessageSender delivers a message.
type MessageSender interface {
	Send(ctx context.Context, to, subject, body string) (SendReceipt, error)
}

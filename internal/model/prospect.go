package model

import (
	"strings"
	"time"
)

// SourceKind distinguishes website prospects from social profiles.
type SourceKind string

const (
	SourceWebsite SourceKind = "website"
	SourceSocial  SourceKind = "social"
)

// Prospect is a candidate outreach target. The natural key is the
// registrable domain for websites and "platform:username" for social
// profiles.
type Prospect struct {
	ID           string     `json:"id"`
	NaturalKey   string     `json:"natural_key"`
	SourceKind   SourceKind `json:"source_kind"`
	Platform     string     `json:"platform,omitempty"`
	Username     string     `json:"username,omitempty"`
	Domain       string     `json:"domain,omitempty"`
	Website      string     `json:"website,omitempty"`
	Name         string     `json:"name,omitempty"`
	Category     string     `json:"category,omitempty"`
	Location     string     `json:"location,omitempty"`
	Keywords     []string   `json:"keywords,omitempty"`
	Description  string     `json:"description,omitempty"`
	Authority    *float64   `json:"authority,omitempty"`
	IsManual     bool       `json:"is_manual"`
	DiscoveredBy string     `json:"discovered_by,omitempty"`

	ContactEmail    string   `json:"contact_email,omitempty"`
	EmailConfidence *float64 `json:"email_confidence,omitempty"`

	DiscoveryStatus    DiscoveryStatus    `json:"discovery_status"`
	ScrapeStatus       ScrapeStatus       `json:"scrape_status"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	DraftStatus        DraftStatus        `json:"draft_status"`
	SendStatus         SendStatus         `json:"send_status"`
	Stage              Stage              `json:"stage"`

	ScrapeChangedAt       *time.Time `json:"scrape_changed_at,omitempty"`
	VerificationChangedAt *time.Time `json:"verification_changed_at,omitempty"`
	DraftChangedAt        *time.Time `json:"draft_changed_at,omitempty"`
	SendChangedAt         *time.Time `json:"send_changed_at,omitempty"`

	DraftSubject   string     `json:"draft_subject,omitempty"`
	DraftBody      string     `json:"draft_body,omitempty"`
	SentSubject    string     `json:"sent_subject,omitempty"`
	SentBody       string     `json:"sent_body,omitempty"`
	MessageID      string     `json:"message_id,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	FollowUps      int        `json:"follow_ups"`
	LastFollowUpAt *time.Time `json:"last_follow_up_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`

	Score    *float64   `json:"score,omitempty"`
	ScoredAt *time.Time `json:"scored_at,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProspect returns a prospect in its initial state for every stage.
func NewProspect(kind SourceKind, naturalKey string) Prospect {
	return Prospect{
		NaturalKey:         naturalKey,
		SourceKind:         kind,
		DiscoveryStatus:    DiscoveryDiscovered,
		ScrapeStatus:       ScrapeDiscovered,
		VerificationStatus: VerificationPending,
		DraftStatus:        DraftNone,
		SendStatus:         SendNone,
		Stage:              StageDiscovered,
	}
}

// HasEmail reports whether a contact email is on record.
func (p *Prospect) HasEmail() bool {
	return strings.TrimSpace(p.ContactEmail) != ""
}

// DisplayName returns the best human label for the prospect.
func (p *Prospect) DisplayName() string {
	switch {
	case p.Name != "":
		return p.Name
	case p.Username != "":
		return "@" + p.Username
	default:
		return p.Domain
	}
}

// Package stage applies named transitions to a prospect's per-stage
// status fields.
package stage

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Kind identifies one of the four mutable pipeline stages.
type Kind string

const (
	KindScrape       Kind = "scrape"
	KindVerification Kind = "verification"
	KindDraft        Kind = "draft"
	KindSend         Kind = "send"
)

// Kinds lists every mutable stage.
var Kinds = []Kind{KindScrape, KindVerification, KindDraft, KindSend}

// Event names a transition.
type Event string

const (
	ScrapeCompleted        Event = "scrape_completed"
	EmailFound             Event = "email_found"
	NoEmailFound           Event = "no_email_found"
	EmailProvided          Event = "email_provided"
	ScrapeFailed           Event = "scrape_failed"
	VerificationSucceeded  Event = "verification_succeeded"
	VerificationUnverified Event = "verification_unverified"
	VerificationFailed     Event = "verification_failed"
	DraftComposed          Event = "draft_composed"
	DraftFailed            Event = "draft_failed"
	MessageSent            Event = "message_sent"
	MessageFailed          Event = "message_failed"
)

// ErrNotApplicable is returned when a transition is illegal from the
// prospect's current status, is missing its payload, or is stale.
var ErrNotApplicable = eris.New("stage: transition not applicable")

// Transition is a request to move one stage of one prospect.
type Transition struct {
	Event Event
	At    time.Time

	Email      string
	Confidence *float64
	Subject    string
	Body       string
	MessageID  string
	Reason     string
}

type rule struct {
	kind Kind
	from []string // nil means any non-terminal status
	to   string
}

var rules = map[Event]rule{
	ScrapeCompleted: {KindScrape, []string{string(model.ScrapeDiscovered)}, string(model.ScrapeScraped)},
	EmailFound:      {KindScrape, []string{string(model.ScrapeScraped)}, string(model.ScrapeEnriched)},
	NoEmailFound:    {KindScrape, []string{string(model.ScrapeScraped)}, string(model.ScrapeNoEmailFound)},
	EmailProvided: {KindScrape, []string{
		string(model.ScrapeDiscovered), string(model.ScrapeScraped), string(model.ScrapeNoEmailFound),
	}, string(model.ScrapeEnriched)},
	ScrapeFailed: {KindScrape, nil, string(model.ScrapeFailed)},

	VerificationSucceeded:  {KindVerification, []string{string(model.VerificationPending)}, string(model.VerificationVerified)},
	VerificationUnverified: {KindVerification, []string{string(model.VerificationPending)}, string(model.VerificationUnverified)},
	VerificationFailed:     {KindVerification, []string{string(model.VerificationPending)}, string(model.VerificationFailed)},

	DraftComposed: {KindDraft, []string{string(model.DraftNone)}, string(model.DraftDrafted)},
	DraftFailed:   {KindDraft, nil, string(model.DraftFailed)},

	MessageSent:   {KindSend, []string{string(model.SendNone)}, string(model.SendSent)},
	MessageFailed: {KindSend, nil, string(model.SendFailed)},
}

// Events lists every known transition.
func Events() []Event {
	return []Event{
		ScrapeCompleted, EmailFound, NoEmailFound, EmailProvided, ScrapeFailed,
		VerificationSucceeded, VerificationUnverified, VerificationFailed,
		DraftComposed, DraftFailed, MessageSent, MessageFailed,
	}
}

// KindOf returns the stage an event mutates.
func KindOf(e Event) (Kind, bool) {
	r, ok := rules[e]
	return r.kind, ok
}

var ranks = map[Kind][]string{
	KindScrape: {
		string(model.ScrapeDiscovered), string(model.ScrapeScraped), string(model.ScrapeNoEmailFound),
		string(model.ScrapeEnriched), string(model.ScrapeFailed),
	},
	KindVerification: {
		string(model.VerificationPending), string(model.VerificationUnverified),
		string(model.VerificationVerified), string(model.VerificationFailed),
	},
	KindDraft: {string(model.DraftNone), string(model.DraftDrafted), string(model.DraftFailed)},
	KindSend:  {string(model.SendNone), string(model.SendSent), string(model.SendFailed)},
}

var terminals = map[Kind]map[string]bool{
	KindScrape:       {string(model.ScrapeEnriched): true, string(model.ScrapeFailed): true},
	KindVerification: {string(model.VerificationUnverified): true, string(model.VerificationVerified): true, string(model.VerificationFailed): true},
	KindDraft:        {string(model.DraftDrafted): true, string(model.DraftFailed): true},
	KindSend:         {string(model.SendSent): true, string(model.SendFailed): true},
}

// Rank returns the position of status within its stage order, or -1.
func Rank(k Kind, status string) int {
	for i, s := range ranks[k] {
		if s == status {
			return i
		}
	}
	return -1
}

// Statuses returns the ordered statuses of a stage.
func Statuses(k Kind) []string {
	return append([]string(nil), ranks[k]...)
}

// Terminal reports whether status is final for its stage.
func Terminal(k Kind, status string) bool {
	return terminals[k][status]
}

// Status reads the current status of stage k.
func Status(p model.Prospect, k Kind) string {
	switch k {
	case KindScrape:
		return string(p.ScrapeStatus)
	case KindVerification:
		return string(p.VerificationStatus)
	case KindDraft:
		return string(p.DraftStatus)
	case KindSend:
		return string(p.SendStatus)
	}
	return ""
}

func setStatus(p *model.Prospect, k Kind, status string, at time.Time) {
	ts := at
	switch k {
	case KindScrape:
		p.ScrapeStatus = model.ScrapeStatus(status)
		p.ScrapeChangedAt = &ts
	case KindVerification:
		p.VerificationStatus = model.VerificationStatus(status)
		p.VerificationChangedAt = &ts
	case KindDraft:
		p.DraftStatus = model.DraftStatus(status)
		p.DraftChangedAt = &ts
	case KindSend:
		p.SendStatus = model.SendStatus(status)
		p.SendChangedAt = &ts
	}
}

func changedAt(p model.Prospect, k Kind) *time.Time {
	switch k {
	case KindScrape:
		return p.ScrapeChangedAt
	case KindVerification:
		return p.VerificationChangedAt
	case KindDraft:
		return p.DraftChangedAt
	case KindSend:
		return p.SendChangedAt
	}
	return nil
}

func legalFrom(r rule, current string) bool {
	if r.from == nil {
		return Rank(r.kind, current) >= 0 && !Terminal(r.kind, current)
	}
	for _, s := range r.from {
		if s == current {
			return true
		}
	}
	return false
}

// Advance applies t to p and returns the updated prospect. It has no side
// effects; on any violation it returns p unchanged and ErrNotApplicable.
func Advance(p model.Prospect, t Transition) (model.Prospect, error) {
	r, ok := rules[t.Event]
	if !ok {
		return p, eris.Wrapf(ErrNotApplicable, "unknown event %q", t.Event)
	}
	current := Status(p, r.kind)
	if !legalFrom(r, current) {
		return p, eris.Wrapf(ErrNotApplicable, "%s from %s=%s", t.Event, r.kind, current)
	}
	if Rank(r.kind, r.to) <= Rank(r.kind, current) {
		return p, eris.Wrapf(ErrNotApplicable, "%s would not advance %s", t.Event, r.kind)
	}
	if last := changedAt(p, r.kind); last != nil && t.At.Before(*last) {
		return p, eris.Wrapf(ErrNotApplicable, "%s is older than last %s change", t.Event, r.kind)
	}

	next := p
	switch t.Event {
	case EmailFound, EmailProvided:
		if t.Email == "" {
			return p, eris.Wrapf(ErrNotApplicable, "%s without email", t.Event)
		}
		next.ContactEmail = t.Email
		next.EmailConfidence = t.Confidence
	case VerificationSucceeded, VerificationUnverified, VerificationFailed:
		if !p.HasEmail() {
			return p, eris.Wrapf(ErrNotApplicable, "%s without email", t.Event)
		}
	case DraftComposed:
		if !p.HasEmail() || t.Body == "" {
			return p, eris.Wrapf(ErrNotApplicable, "%s needs email and body", t.Event)
		}
		next.DraftSubject = t.Subject
		next.DraftBody = t.Body
	case MessageSent:
		body := t.Body
		if body == "" {
			body = p.DraftBody
		}
		subject := t.Subject
		if subject == "" {
			subject = p.DraftSubject
		}
		if !p.HasEmail() || body == "" {
			return p, eris.Wrapf(ErrNotApplicable, "%s needs email and body", t.Event)
		}
		at := t.At
		next.SentSubject = subject
		next.SentBody = body
		next.MessageID = t.MessageID
		next.SentAt = &at
	case ScrapeFailed, DraftFailed, MessageFailed:
		next.LastError = t.Reason
	}
	if t.Event == VerificationFailed {
		next.LastError = t.Reason
	}

	setStatus(&next, r.kind, r.to, t.At)
	next.Stage = model.DeriveStage(next)
	next.UpdatedAt = t.At
	return next, nil
}

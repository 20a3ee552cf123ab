package stage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func withEmail() model.Prospect {
	p := model.NewProspect(model.SourceWebsite, "acme.com")
	p.ContactEmail = "owner@acme.com"
	p.ScrapeStatus = model.ScrapeEnriched
	p.Stage = model.DeriveStage(p)
	return p
}

func fullPayload(e Event) Transition {
	conf := 80.0
	return Transition{
		Event:      e,
		At:         t0,
		Email:      "owner@acme.com",
		Confidence: &conf,
		Subject:    "Hello",
		Body:       "Body text",
		MessageID:  "<id@acme>",
		Reason:     "boom",
	}
}

func setKindStatus(p *model.Prospect, k Kind, s string) {
	switch k {
	case KindScrape:
		p.ScrapeStatus = model.ScrapeStatus(s)
	case KindVerification:
		p.VerificationStatus = model.VerificationStatus(s)
	case KindDraft:
		p.DraftStatus = model.DraftStatus(s)
	case KindSend:
		p.SendStatus = model.SendStatus(s)
	}
}

// Every status of every stage crossed with every event: a transition either
// advances exactly its own stage to a strictly higher rank or is rejected
// without touching the prospect.
func TestAdvance_PropertyAllStatusesAllEvents(t *testing.T) {
	for _, k := range Kinds {
		for _, status := range Statuses(k) {
			for _, e := range Events() {
				p := withEmail()
				setKindStatus(&p, k, status)
				p.Stage = model.DeriveStage(p)

				next, err := Advance(p, fullPayload(e))
				ek, _ := KindOf(e)

				if err != nil {
					require.True(t, errors.Is(err, ErrNotApplicable), "%s/%s/%s: %v", k, status, e, err)
					assert.Equal(t, p, next)
					continue
				}

				before := Status(p, ek)
				after := Status(next, ek)
				assert.Greater(t, Rank(ek, after), Rank(ek, before), "%s from %s", e, before)
				assert.False(t, Terminal(ek, before), "%s applied from terminal %s", e, before)
				for _, other := range Kinds {
					if other != ek {
						assert.Equal(t, Status(p, other), Status(next, other), "%s changed %s", e, other)
					}
				}
				assert.Equal(t, model.DeriveStage(next), next.Stage)
			}
		}
	}
}

func TestAdvance_ScrapePath(t *testing.T) {
	p := model.NewProspect(model.SourceWebsite, "acme.com")

	p, err := Advance(p, Transition{Event: ScrapeCompleted, At: t0})
	require.NoError(t, err)
	assert.Equal(t, model.ScrapeScraped, p.ScrapeStatus)
	assert.Equal(t, model.StageScraped, p.Stage)

	p, err = Advance(p, Transition{Event: NoEmailFound, At: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, model.StageNoEmailFound, p.Stage)

	// Manual email still allowed after no-email.
	p, err = Advance(p, Transition{Event: EmailProvided, At: t0.Add(2 * time.Minute), Email: "a@acme.com"})
	require.NoError(t, err)
	assert.Equal(t, model.ScrapeEnriched, p.ScrapeStatus)
	assert.Equal(t, "a@acme.com", p.ContactEmail)

	_, err = Advance(p, Transition{Event: ScrapeFailed, At: t0.Add(3 * time.Minute)})
	assert.ErrorIs(t, err, ErrNotApplicable, "enriched is terminal")
}

func TestAdvance_EmailFoundRequiresEmail(t *testing.T) {
	p := model.NewProspect(model.SourceWebsite, "acme.com")
	p.ScrapeStatus = model.ScrapeScraped

	_, err := Advance(p, Transition{Event: EmailFound, At: t0})
	assert.ErrorIs(t, err, ErrNotApplicable)
}

func TestAdvance_StaleTransitionRejected(t *testing.T) {
	p := model.NewProspect(model.SourceWebsite, "acme.com")
	p, err := Advance(p, Transition{Event: ScrapeCompleted, At: t0})
	require.NoError(t, err)

	_, err = Advance(p, Transition{Event: EmailFound, At: t0.Add(-time.Second), Email: "a@acme.com"})
	assert.ErrorIs(t, err, ErrNotApplicable)
}

func TestAdvance_MessageSentNeedsEmailAndBody(t *testing.T) {
	p := model.NewProspect(model.SourceWebsite, "acme.com")
	p.DraftStatus = model.DraftDrafted
	p.DraftBody = "Hi"

	_, err := Advance(p, Transition{Event: MessageSent, At: t0})
	assert.ErrorIs(t, err, ErrNotApplicable, "no email")

	p.ContactEmail = "a@acme.com"
	p.DraftBody = ""
	_, err = Advance(p, Transition{Event: MessageSent, At: t0})
	assert.ErrorIs(t, err, ErrNotApplicable, "no body")

	p.DraftBody = "Hi there"
	p.DraftSubject = "Subject"
	next, err := Advance(p, Transition{Event: MessageSent, At: t0, MessageID: "<m1>"})
	require.NoError(t, err)
	assert.Equal(t, model.SendSent, next.SendStatus)
	assert.Equal(t, "Hi there", next.SentBody)
	assert.Equal(t, "Subject", next.SentSubject)
	assert.Equal(t, "<m1>", next.MessageID)
	require.NotNil(t, next.SentAt)
	assert.Equal(t, model.StageSent, next.Stage)

	_, err = Advance(next, Transition{Event: MessageSent, At: t0.Add(time.Second)})
	assert.ErrorIs(t, err, ErrNotApplicable, "sent is terminal")
	_, err = Advance(next, Transition{Event: MessageFailed, At: t0.Add(time.Second)})
	assert.ErrorIs(t, err, ErrNotApplicable, "sent cannot become failed")
}

func TestAdvance_UnknownEvent(t *testing.T) {
	_, err := Advance(withEmail(), Transition{Event: "teleport", At: t0})
	assert.ErrorIs(t, err, ErrNotApplicable)
}

func TestRanksStrictlyIncreaseAlongRules(t *testing.T) {
	for e, r := range rules {
		to := Rank(r.kind, r.to)
		require.GreaterOrEqual(t, to, 0, e)
		for _, from := range r.from {
			assert.Less(t, Rank(r.kind, from), to, "%s from %s", e, from)
		}
	}
}

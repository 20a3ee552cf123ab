package jobs

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/orchestrator"
	"github.com/sells-group/outreach-cli/internal/provider"
	"github.com/sells-group/outreach-cli/internal/stage"
	"github.com/sells-group/outreach-cli/internal/store"
)

type enrichWorker struct {
	d Deps
	c Config
}

func (w *enrichWorker) Type() model.JobType { return model.JobEnrich }

func (w *enrichWorker) Pending(ctx context.Context) (int, error) {
	return pending(ctx, w.d.Store, model.JobEnrich, store.Eligibility{})
}

func (w *enrichWorker) Plan(ctx context.Context, job model.Job) (orchestrator.Batch, error) {
	if w.d.Enricher == nil {
		return nil, orchestrator.Configf("no email enricher configured")
	}
	ps, err := eligible(ctx, w.d.Store, job, store.Eligibility{}, w.c.BatchSize)
	if err != nil {
		return nil, err
	}
	return &prospectBatch{prospects: ps, fn: w.enrich}, nil
}

// enrich scrapes one prospect and records the outcome on the scrape
// stage. Transient failures leave the prospect eligible for the next run.
func (w *enrichWorker) enrich(ctx context.Context, p model.Prospect, t *tally) error {
	res, err := w.d.Enricher.Enrich(ctx, p)
	if err != nil {
		if retryLater(err) {
			t.add("deferred")
			return err
		}
		t.add("scrape_failed")
		return fail(ctx, w.d.Machine, p, stage.ScrapeFailed, err)
	}

	if p.ScrapeStatus == model.ScrapeDiscovered {
		if _, err := w.d.Machine.Apply(ctx, p.ID, stage.Transition{Event: stage.ScrapeCompleted}); err != nil {
			return err
		}
	}

	if !res.Found() {
		t.add("no_email")
		_, err := w.d.Machine.Apply(ctx, p.ID, stage.Transition{Event: stage.NoEmailFound})
		return err
	}

	confidence := res.Confidence
	if _, err := w.d.Machine.Apply(ctx, p.ID, stage.Transition{
		Event:      stage.EmailFound,
		Email:      res.Email,
		Confidence: &confidence,
	}); err != nil {
		return err
	}
	t.add("email_found")
	zap.L().Debug("jobs: email found",
		zap.String("prospect_id", p.ID),
		zap.String("source", res.Source),
		zap.Float64("confidence", res.Confidence),
	)
	return nil
}

type verifyWorker struct {
	d Deps
	c Config
}

func (w *verifyWorker) Type() model.JobType { return model.JobVerify }

func (w *verifyWorker) Pending(ctx context.Context) (int, error) {
	return pending(ctx, w.d.Store, model.JobVerify, store.Eligibility{})
}

func (w *verifyWorker) Plan(ctx context.Context, job model.Job) (orchestrator.Batch, error) {
	if w.d.Verifier == nil {
		return nil, orchestrator.Configf("no email verifier configured")
	}
	ps, err := eligible(ctx, w.d.Store, job, store.Eligibility{}, w.c.BatchSize)
	if err != nil {
		return nil, err
	}
	return &prospectBatch{prospects: ps, fn: w.verify}, nil
}

func (w *verifyWorker) verify(ctx context.Context, p model.Prospect, t *tally) error {
	v, err := w.d.Verifier.Verify(ctx, p.ContactEmail)
	if err != nil {
		if retryLater(err) {
			t.add("deferred")
			return err
		}
		t.add("error")
		return fail(ctx, w.d.Machine, p, stage.VerificationFailed, err)
	}

	event := VerificationEvent(v.Result)
	if _, err := w.d.Machine.Apply(ctx, p.ID, stage.Transition{Event: event, Reason: string(v.Result)}); err != nil {
		return err
	}
	t.add(string(v.Result))
	return nil
}

// VerificationEvent maps a verifier verdict onto the verification stage.
// Risky and unknown addresses stay usable as unverified.
func VerificationEvent(r provider.VerificationResult) stage.Event {
	switch r {
	case provider.Deliverable:
		return stage.VerificationSucceeded
	case provider.Undeliverable:
		return stage.VerificationFailed
	default:
		return stage.VerificationUnverified
	}
}

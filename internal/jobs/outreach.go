package jobs

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/orchestrator"
	"github.com/sells-group/outreach-cli/internal/provider"
	"github.com/sells-group/outreach-cli/internal/ratelimit"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/stage"
	"github.com/sells-group/outreach-cli/internal/store"
)

type draftWorker struct {
	d Deps
	c Config
}

func (w *draftWorker) Type() model.JobType { return model.JobDraft }

func (w *draftWorker) eligibility() store.Eligibility {
	return store.Eligibility{
		Verifications: w.c.DraftVerifications,
		MinScore:      w.c.MinScore,
	}
}

func (w *draftWorker) Pending(ctx context.Context) (int, error) {
	return pending(ctx, w.d.Store, model.JobDraft, w.eligibility())
}

func (w *draftWorker) Plan(ctx context.Context, job model.Job) (orchestrator.Batch, error) {
	if w.d.Composer == nil {
		return nil, orchestrator.Configf("no message composer configured")
	}
	ps, err := eligible(ctx, w.d.Store, job, w.eligibility(), w.c.BatchSize)
	if err != nil {
		return nil, err
	}
	return &prospectBatch{prospects: ps, fn: w.draft}, nil
}

func (w *draftWorker) draft(ctx context.Context, p model.Prospect, t *tally) error {
	msg, err := w.d.Composer.Compose(ctx, provider.ComposeContext{
		Prospect:   p,
		SenderName: w.c.SenderName,
		Pitch:      w.c.Pitch,
	})
	if err != nil {
		if retryLater(err) {
			t.add("deferred")
			return err
		}
		t.add("compose_failed")
		return fail(ctx, w.d.Machine, p, stage.DraftFailed, err)
	}

	if _, err := w.d.Machine.Apply(ctx, p.ID, stage.Transition{
		Event:   stage.DraftComposed,
		Subject: msg.Subject,
		Body:    msg.Body,
	}); err != nil {
		return err
	}
	t.add("drafted")
	return nil
}

type sendWorker struct {
	d Deps
	c Config
}

func (w *sendWorker) Type() model.JobType { return model.JobSend }

func (w *sendWorker) Pending(ctx context.Context) (int, error) {
	return pending(ctx, w.d.Store, model.JobSend, store.Eligibility{})
}

func (w *sendWorker) Plan(ctx context.Context, job model.Job) (orchestrator.Batch, error) {
	if w.d.Sender == nil {
		return nil, orchestrator.Configf("no message sender configured")
	}
	ps, err := eligible(ctx, w.d.Store, job, store.Eligibility{}, w.c.BatchSize)
	if err != nil {
		return nil, err
	}
	return &prospectBatch{prospects: ps, fn: w.send}, nil
}

// send delivers the drafted message at most once. Only failures that
// happened before the message left keep the prospect eligible: an open
// circuit, an exhausted budget or cancellation while waiting for one.
// Anything else marks the send failed rather than risk a duplicate.
func (w *sendWorker) send(ctx context.Context, p model.Prospect, t *tally) error {
	receipt, err := w.d.Sender.Send(ctx, p.ContactEmail, p.DraftSubject, p.DraftBody)
	if err != nil {
		if notSent(ctx, err) {
			t.add("deferred")
			return err
		}
		t.add("send_failed")
		return fail(context.WithoutCancel(ctx), w.d.Machine, p, stage.MessageFailed, err)
	}

	// The message is out; record it even if the job is being cancelled.
	if _, err := w.d.Machine.Apply(context.WithoutCancel(ctx), p.ID, stage.Transition{
		Event:     stage.MessageSent,
		At:        receipt.SentAt,
		Subject:   p.DraftSubject,
		Body:      p.DraftBody,
		MessageID: receipt.MessageID,
	}); err != nil {
		zap.L().Error("jobs: message sent but not recorded",
			zap.String("prospect_id", p.ID),
			zap.String("message_id", receipt.MessageID),
			zap.Error(err),
		)
		return err
	}
	t.add("sent")
	return nil
}

// notSent reports whether a send error proves nothing left the process.
func notSent(ctx context.Context, err error) bool {
	return errors.Is(err, resilience.ErrCircuitOpen) ||
		errors.Is(err, ratelimit.ErrBudgetExhausted) ||
		(ctx.Err() != nil && errors.Is(err, ctx.Err()))
}

type followUpWorker struct {
	d Deps
	c Config
}

func (w *followUpWorker) Type() model.JobType { return model.JobFollowUp }

func (w *followUpWorker) eligibility() store.Eligibility {
	return store.Eligibility{
		SentBefore:   w.d.Now().Add(-w.c.FollowUpDelay),
		MaxFollowUps: w.c.FollowUpMax,
	}
}

func (w *followUpWorker) Pending(ctx context.Context) (int, error) {
	if w.c.FollowUpMax <= 0 {
		return 0, nil
	}
	return pending(ctx, w.d.Store, model.JobFollowUp, w.eligibility())
}

func (w *followUpWorker) Plan(ctx context.Context, job model.Job) (orchestrator.Batch, error) {
	if w.d.Composer == nil {
		return nil, orchestrator.Configf("no message composer configured")
	}
	if w.d.Sender == nil {
		return nil, orchestrator.Configf("no message sender configured")
	}
	if w.c.FollowUpMax <= 0 {
		return &prospectBatch{}, nil
	}
	ps, err := eligible(ctx, w.d.Store, job, w.eligibility(), w.c.BatchSize)
	if err != nil {
		return nil, err
	}
	return &prospectBatch{prospects: ps, fn: w.followUp}, nil
}

// followUp composes the next message, then claims the follow-up slot
// before sending so a retried or resumed job never sends it twice. A send
// that provably never left gives the slot back; any other failure keeps it
// and records the error on the prospect.
func (w *followUpWorker) followUp(ctx context.Context, p model.Prospect, t *tally) error {
	n := p.FollowUps + 1
	msg, err := w.d.Composer.Compose(ctx, provider.ComposeContext{
		Prospect:        p,
		SenderName:      w.c.SenderName,
		Pitch:           w.c.Pitch,
		FollowUp:        n,
		PreviousSubject: p.SentSubject,
		PreviousBody:    p.SentBody,
	})
	if err != nil {
		t.add("compose_failed")
		return err
	}

	claimed, err := w.d.Store.RecordFollowUp(ctx, p.ID, p.FollowUps, w.d.Now().UTC())
	if err != nil {
		return eris.Wrapf(err, "jobs: record follow-up %s", p.ID)
	}
	if !claimed {
		t.add("stale")
		return orchestrator.ErrSkip
	}

	receipt, err := w.d.Sender.Send(ctx, p.ContactEmail, msg.Subject, msg.Body)
	if err != nil {
		return w.sendFailed(ctx, p, n, t, err)
	}
	t.add("sent")
	zap.L().Debug("jobs: follow-up sent",
		zap.String("prospect_id", p.ID),
		zap.Int("follow_up", n),
		zap.String("message_id", receipt.MessageID),
	)
	return nil
}

func (w *followUpWorker) sendFailed(ctx context.Context, p model.Prospect, n int, t *tally, cause error) error {
	cause = eris.Wrapf(cause, "jobs: follow-up %d to %s", n, p.ID)
	bg := context.WithoutCancel(ctx)
	now := w.d.Now().UTC()

	if notSent(ctx, cause) {
		t.add("deferred")
		if _, err := w.d.Store.ReleaseFollowUp(bg, p.ID, n, p.LastFollowUpAt, now); err != nil {
			zap.L().Error("jobs: follow-up not sent and slot not released",
				zap.String("prospect_id", p.ID),
				zap.Int("follow_up", n),
				zap.Error(err),
			)
		}
		return cause
	}

	t.add("send_failed")
	if _, err := w.d.Store.RecordFollowUpError(bg, p.ID, n, cause.Error(), now); err != nil {
		zap.L().Warn("jobs: record follow-up error",
			zap.String("prospect_id", p.ID),
			zap.Error(err),
		)
	}
	return cause
}

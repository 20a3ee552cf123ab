package jobs

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/orchestrator"
	"github.com/sells-group/outreach-cli/internal/store"
)

type scoreWorker struct {
	d Deps
	c Config
}

func (w *scoreWorker) Type() model.JobType { return model.JobScore }

func (w *scoreWorker) Pending(ctx context.Context) (int, error) {
	return pending(ctx, w.d.Store, model.JobScore, store.Eligibility{})
}

func (w *scoreWorker) Plan(ctx context.Context, job model.Job) (orchestrator.Batch, error) {
	if w.d.Scorer == nil {
		if w.d.ScorerErr != nil {
			return nil, &orchestrator.ConfigError{Err: w.d.ScorerErr}
		}
		return nil, orchestrator.Configf("no scoring engine configured")
	}
	ps, err := eligible(ctx, w.d.Store, job, store.Eligibility{}, w.c.BatchSize)
	if err != nil {
		return nil, err
	}
	return &prospectBatch{prospects: ps, fn: w.score}, nil
}

// score writes the rank only if the prospect is unchanged since it was
// planned; a prospect that moved is rescored by its transition anyway.
func (w *scoreWorker) score(ctx context.Context, p model.Prospect, t *tally) error {
	now := w.d.Now().UTC()
	total := w.d.Scorer.Total(p, now)
	ok, err := w.d.Store.UpdateScore(ctx, p.ID, p.Version, total, now)
	if err != nil {
		return eris.Wrapf(err, "jobs: score %s", p.ID)
	}
	if !ok {
		t.add("stale")
		return orchestrator.ErrSkip
	}
	t.add("scored")
	return nil
}

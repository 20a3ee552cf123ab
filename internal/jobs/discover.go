package jobs

import (
	"context"

	"github.com/sells-group/outreach-cli/internal/discovery"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/orchestrator"
)

type discoverWorker struct {
	d Deps
	c Config
}

func (w *discoverWorker) Type() model.JobType { return model.JobDiscover }

// Plan expands the job params, filled from configured defaults, into
// search queries.
func (w *discoverWorker) Plan(_ context.Context, job model.Job) (orchestrator.Batch, error) {
	if w.d.Search == nil {
		return nil, orchestrator.Configf("no search provider configured")
	}
	if w.d.Registry == nil {
		return nil, orchestrator.Configf("no discovery adapters registered")
	}

	params, err := orchestrator.DecodeParams[model.DiscoverParams](job)
	if err != nil {
		return nil, err
	}
	params = discovery.Merge(params, w.c.Discover)
	if len(params.Platforms) == 0 {
		params.Platforms = []string{"website"}
	}
	if len(params.Keywords) == 0 {
		return nil, orchestrator.Configf("no discovery keywords configured")
	}

	queries := discovery.Queries(params)
	session := discovery.NewSession(job.ID, w.d.Search, w.d.Registry, w.d.Store)
	if err := session.Check(queries); err != nil {
		return nil, &orchestrator.ConfigError{Err: err}
	}
	return &discoverBatch{session: session, queries: queries, parallelism: w.c.Parallelism}, nil
}

type discoverBatch struct {
	session     *discovery.Session
	queries     []discovery.Query
	parallelism int
}

func (b *discoverBatch) Len() int { return len(b.queries) }

func (b *discoverBatch) Process(ctx context.Context, i int) error {
	return b.session.Process(ctx, b.queries[i])
}

func (b *discoverBatch) Summary() map[string]any {
	s := b.session.Summary()
	s["queries"] = len(b.queries)
	return s
}

func (b *discoverBatch) Concurrency() int { return b.parallelism }

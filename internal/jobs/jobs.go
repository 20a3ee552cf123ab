// Package jobs implements the orchestrator workers for each job type.
package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/discovery"
	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/orchestrator"
	"github.com/sells-group/outreach-cli/internal/provider"
	"github.com/sells-group/outreach-cli/internal/ratelimit"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/scoring"
	"github.com/sells-group/outreach-cli/internal/stage"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Enricher finds a contact email for a prospect. *enrich.Enricher
// satisfies it.
type Enricher interface {
	Enrich(ctx context.Context, p model.Prospect) (enrich.Result, error)
}

// Deps are the collaborators shared by all workers. A nil provider is
// reported as a configuration error by the jobs that need it.
type Deps struct {
	Store    store.Store
	Machine  *stage.Machine
	Registry *discovery.Registry
	Search   provider.SearchProvider
	Enricher Enricher
	Verifier provider.EmailVerifier
	Composer provider.MessageComposer
	Sender   provider.MessageSender

	Scorer *scoring.Engine
	// ScorerErr is why Scorer is nil, usually invalid weights.
	ScorerErr error

	Now func() time.Time
}

// Config holds the job tunables taken from application config.
type Config struct {
	BatchSize          int
	Parallelism        int
	Discover           model.DiscoverParams
	SenderName         string
	Pitch              string
	DraftVerifications []model.VerificationStatus
	MinScore           float64
	FollowUpDelay      time.Duration
	FollowUpMax        int
}

// ConfigFrom builds job config. Discovery defaults come from the config
// file and, when set, the campaign plan file on top of it.
func ConfigFrom(cfg *config.Config) (Config, error) {
	c := Config{
		BatchSize:   cfg.Jobs.BatchSize,
		Parallelism: cfg.Discovery.Parallelism,
		Discover: model.DiscoverParams{
			Platforms: cfg.Discovery.Platforms,
			Keywords:  cfg.Discovery.Keywords,
			Locations: cfg.Discovery.Locations,
		},
		SenderName:    cfg.Outreach.SenderName,
		Pitch:         cfg.Outreach.Pitch,
		MinScore:      cfg.Outreach.MinScore,
		FollowUpDelay: time.Duration(cfg.Outreach.FollowUpDelayHours) * time.Hour,
		FollowUpMax:   cfg.Outreach.FollowUpMax,
	}

	if cfg.Discovery.PlanFile != "" {
		plan, err := discovery.LoadPlan(cfg.Discovery.PlanFile)
		if err != nil {
			return Config{}, err
		}
		c.Discover = discovery.Merge(plan, c.Discover)
	}

	for _, v := range cfg.Outreach.DraftVerifications {
		switch vs := model.VerificationStatus(v); vs {
		case model.VerificationVerified, model.VerificationUnverified:
			c.DraftVerifications = append(c.DraftVerifications, vs)
		default:
			return Config{}, eris.Errorf("jobs: outreach.draft_verifications: %q is not a draftable status", v)
		}
	}
	return c.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	if len(c.DraftVerifications) == 0 {
		c.DraftVerifications = []model.VerificationStatus{model.VerificationVerified}
	}
	if c.FollowUpDelay <= 0 {
		c.FollowUpDelay = 96 * time.Hour
	}
	return c
}

// Workers returns one worker per job type.
func Workers(d Deps, c Config) []orchestrator.Worker {
	if d.Now == nil {
		d.Now = time.Now
	}
	c = c.withDefaults()
	return []orchestrator.Worker{
		&discoverWorker{d: d, c: c},
		&enrichWorker{d: d, c: c},
		&verifyWorker{d: d, c: c},
		&scoreWorker{d: d, c: c},
		&draftWorker{d: d, c: c},
		&sendWorker{d: d, c: c},
		&followUpWorker{d: d, c: c},
	}
}

// tally counts named outcomes across concurrent items.
type tally struct {
	mu sync.Mutex
	m  map[string]int64
}

func (t *tally) add(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m == nil {
		t.m = make(map[string]int64)
	}
	t.m[key]++
}

func (t *tally) snapshot() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.m))
	for k := range t.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = t.m[k]
	}
	return out
}

// prospectBatch processes a planned list of prospects with fn.
type prospectBatch struct {
	prospects []model.Prospect
	fn        func(ctx context.Context, p model.Prospect, t *tally) error
	tally     tally
}

func (b *prospectBatch) Len() int { return len(b.prospects) }

func (b *prospectBatch) Process(ctx context.Context, i int) error {
	return b.fn(ctx, b.prospects[i], &b.tally)
}

func (b *prospectBatch) Summary() map[string]any {
	s := b.tally.snapshot()
	s["planned"] = len(b.prospects)
	return s
}

// eligible loads the prospects a job should work on.
func eligible(ctx context.Context, st store.Store, job model.Job, e store.Eligibility, batchSize int) ([]model.Prospect, error) {
	params, err := orchestrator.DecodeParams[model.BatchParams](job)
	if err != nil {
		return nil, err
	}
	e.Job = job.Type
	e.Limit = batchSize
	if params.Limit > 0 {
		e.Limit = params.Limit
	}
	ps, err := st.ListEligible(ctx, e)
	if err != nil {
		return nil, eris.Wrapf(err, "jobs: list eligible for %s", job.Type)
	}
	return ps, nil
}

// pending counts the prospects a job of type t would pick up now.
func pending(ctx context.Context, st store.Store, t model.JobType, e store.Eligibility) (int, error) {
	e.Job = t
	n, err := st.CountEligible(ctx, e)
	if err != nil {
		return 0, eris.Wrapf(err, "jobs: count eligible for %s", t)
	}
	return n, nil
}

// retryLater reports whether err leaves the prospect untouched so a later
// run picks it up again.
func retryLater(err error) bool {
	return resilience.IsTransient(err) ||
		errors.Is(err, resilience.ErrCircuitOpen) ||
		errors.Is(err, ratelimit.ErrBudgetExhausted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// fail applies a failure transition for a definitive provider error and
// returns the provider error so the item counts as failed.
func fail(ctx context.Context, m *stage.Machine, p model.Prospect, event stage.Event, cause error) error {
	if _, err := m.Apply(ctx, p.ID, stage.Transition{Event: event, Reason: cause.Error()}); err != nil {
		return err
	}
	return cause
}

package stage

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
)

// ErrContention is returned when a prospect keeps changing underneath the
// machine for longer than the retry budget.
var ErrContention = eris.New("stage: too much write contention")

const maxSwapAttempts = 8

// Store is the persistence the machine needs.
type Store interface {
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	// SwapProspect writes p only if the stored version still equals
	// expectedVersion. It reports whether the write happened.
	SwapProspect(ctx context.Context, p model.Prospect, expectedVersion int64) (bool, error)
}

// Scorer recomputes the rank score for a prospect.
type Scorer interface {
	Total(p model.Prospect, asOf time.Time) float64
}

// Machine applies transitions with optimistic concurrency. Writes to
// different stages of one prospect interleave freely; writes to the same
// stage are serialized and the loser is rejected.
type Machine struct {
	store  Store
	scorer Scorer
	now    func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithScorer recomputes the score on every applied transition.
func WithScorer(s Scorer) Option {
	return func(m *Machine) { m.scorer = s }
}

// WithClock overrides the clock used for transitions without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a Machine over the given store.
func NewMachine(store Store, opts ...Option) *Machine {
	m := &Machine{store: store, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Result is the outcome of Apply.
type Result struct {
	Prospect model.Prospect
	Retries  int
}

// Apply reads the prospect, validates t against its current state and
// writes the result. It returns ErrNotApplicable (possibly wrapped) when
// the transition is illegal, including when a concurrent writer moved the
// same stage first.
func (m *Machine) Apply(ctx context.Context, prospectID string, t Transition) (Result, error) {
	kind, ok := KindOf(t.Event)
	if !ok {
		return Result{}, eris.Wrapf(ErrNotApplicable, "unknown event %q", t.Event)
	}
	if t.At.IsZero() {
		t.At = m.now().UTC()
	}

	var observed string
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		cur, err := m.store.GetProspect(ctx, prospectID)
		if err != nil {
			return Result{}, eris.Wrapf(err, "stage: load prospect %s", prospectID)
		}

		status := Status(*cur, kind)
		if attempt == 0 {
			observed = status
		} else if status != observed {
			return Result{Prospect: *cur, Retries: attempt}, eris.Wrapf(ErrNotApplicable,
				"%s lost race: %s moved %s -> %s", t.Event, kind, observed, status)
		}

		next, err := Advance(*cur, t)
		if err != nil {
			return Result{Prospect: *cur, Retries: attempt}, err
		}
		if m.scorer != nil {
			score := m.scorer.Total(next, t.At)
			scoredAt := t.At
			next.Score = &score
			next.ScoredAt = &scoredAt
		}
		next.Version = cur.Version + 1

		swapped, err := m.store.SwapProspect(ctx, next, cur.Version)
		if err != nil {
			return Result{}, eris.Wrapf(err, "stage: write prospect %s", prospectID)
		}
		if swapped {
			return Result{Prospect: next, Retries: attempt}, nil
		}

		zap.L().Debug("stage: version conflict, retrying",
			zap.String("prospect_id", prospectID),
			zap.String("event", string(t.Event)),
			zap.Int("attempt", attempt+1),
		)
	}
	return Result{}, eris.Wrapf(ErrContention, "prospect %s event %s", prospectID, t.Event)
}

package discovery

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/dedup"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/provider"
)

// Store is the persistence a discovery session needs.
type Store interface {
	ProspectExists(ctx context.Context, naturalKey string) (bool, error)
	InsertProspect(ctx context.Context, p *model.Prospect) (bool, error)
}

// Session is one discovery run. Process is safe for concurrent use; the
// session's Deduplicator guarantees each natural key is inserted at most
// once per run, and the store's unique key covers earlier runs.
type Session struct {
	jobID    string
	search   provider.SearchProvider
	registry *Registry
	store    Store
	seen     *dedup.Deduplicator

	results   atomic.Int64
	inserted  atomic.Int64
	duplicate atomic.Int64
	existing  atomic.Int64
}

// NewSession starts a run. jobID is recorded on inserted prospects.
func NewSession(jobID string, search provider.SearchProvider, registry *Registry, store Store) *Session {
	return &Session{
		jobID:    jobID,
		search:   search,
		registry: registry,
		store:    store,
		seen:     dedup.New(),
	}
}

// Check reports the first query whose platform has no adapter.
func (s *Session) Check(queries []Query) error {
	for _, q := range queries {
		if _, err := s.registry.Get(q.Platform); err != nil {
			return err
		}
	}
	return nil
}

// Process runs one query and persists the prospects it yields.
func (s *Session) Process(ctx context.Context, q Query) error {
	adapter, err := s.registry.Get(q.Platform)
	if err != nil {
		return err
	}

	prospects, err := adapter.Discover(ctx, s.search, q)
	if err != nil {
		return eris.Wrapf(err, "discovery: %s query %q", q.Platform, q.Keyword)
	}
	s.results.Add(int64(len(prospects)))

	log := zap.L().With(zap.String("job_id", s.jobID), zap.String("platform", q.Platform))
	for i := range prospects {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := &prospects[i]
		if s.seen.Admit(p.NaturalKey) == dedup.Duplicate {
			s.duplicate.Add(1)
			monitoring.ProspectsDiscovered.WithLabelValues(q.Platform, "duplicate").Inc()
			continue
		}

		exists, err := s.store.ProspectExists(ctx, p.NaturalKey)
		if err != nil {
			s.seen.Forget(p.NaturalKey)
			return eris.Wrapf(err, "discovery: check %s", p.NaturalKey)
		}
		if exists {
			s.existing.Add(1)
			monitoring.ProspectsDiscovered.WithLabelValues(q.Platform, "existing").Inc()
			continue
		}

		p.DiscoveredBy = s.jobID
		ok, err := s.store.InsertProspect(ctx, p)
		if err != nil {
			s.seen.Forget(p.NaturalKey)
			return eris.Wrapf(err, "discovery: insert %s", p.NaturalKey)
		}
		if !ok {
			// Lost the race with another writer on the unique key.
			s.existing.Add(1)
			monitoring.ProspectsDiscovered.WithLabelValues(q.Platform, "existing").Inc()
			continue
		}
		s.inserted.Add(1)
		monitoring.ProspectsDiscovered.WithLabelValues(q.Platform, "inserted").Inc()
		log.Debug("discovery: prospect inserted", zap.String("natural_key", p.NaturalKey))
	}
	return nil
}

// Summary reports the run's counters.
func (s *Session) Summary() map[string]any {
	return map[string]any{
		"results":   s.results.Load(),
		"inserted":  s.inserted.Load(),
		"duplicate": s.duplicate.Load(),
		"existing":  s.existing.Load(),
		"unique":    s.seen.Len(),
	}
}

// Inserted returns how many prospects this run created.
func (s *Session) Inserted() int64 { return s.inserted.Load() }

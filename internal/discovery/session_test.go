package discovery

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/provider"
	"github.com/sells-group/outreach-cli/internal/store"
)

func newSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "discovery.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// keywordSearch answers every query with the same domain under a
// different URL, the way many phrasings of a search find one business.
type keywordSearch struct{}

func (keywordSearch) Query(_ context.Context, text, _ string) ([]provider.RawResult, error) {
	return []provider.RawResult{
		{Title: "Acme Plumbing", URL: "https://www.acmeplumbing.com/" + text},
		{Title: "Other " + text, URL: "https://" + text + "-co.com"},
	}, nil
}

func TestSession_FiveQueriesSameDomainOneRow(t *testing.T) {
	st := newSQLite(t)
	s := NewSession("job-1", keywordSearch{}, DefaultRegistry(nil), st)

	queries := Queries(model.DiscoverParams{
		Platforms: []string{"website"},
		Keywords:  []string{"plumber", "plumbing", "drain", "pipes", "leak"},
	})
	require.Len(t, queries, 5)
	require.NoError(t, s.Check(queries))

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(3)
	for _, q := range queries {
		g.Go(func() error { return s.Process(ctx, q) })
	}
	require.NoError(t, g.Wait())

	p, err := st.GetProspectByKey(context.Background(), "acmeplumbing.com")
	require.NoError(t, err)
	assert.Equal(t, "job-1", p.DiscoveredBy)

	all, err := st.ListProspects(context.Background(), store.ProspectFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 6)

	sum := s.Summary()
	assert.Equal(t, int64(10), sum["results"])
	assert.Equal(t, int64(6), sum["inserted"])
	assert.Equal(t, int64(4), sum["duplicate"])
	assert.Equal(t, 6, sum["unique"])
}

func TestSession_SkipsExistingProspects(t *testing.T) {
	st := newSQLite(t)
	ctx := context.Background()

	prior := model.NewProspect(model.SourceWebsite, "acmeplumbing.com")
	_, err := st.InsertProspect(ctx, &prior)
	require.NoError(t, err)

	s := NewSession("job-2", keywordSearch{}, DefaultRegistry(nil), st)
	require.NoError(t, s.Process(ctx, Query{Platform: "website", Keyword: "plumber"}))

	assert.Equal(t, int64(1), s.Inserted())
	assert.Equal(t, int64(1), s.Summary()["existing"])
}

func TestSession_UnknownPlatform(t *testing.T) {
	s := NewSession("job-3", keywordSearch{}, DefaultRegistry(nil), newSQLite(t))
	assert.Error(t, s.Check([]Query{{Platform: "website"}, {Platform: "friendster"}}))
	assert.Error(t, s.Process(context.Background(), Query{Platform: "friendster", Keyword: "x"}))
}

// racingStore reports every key as new, then lets the unique constraint
// decide, to exercise the insert-conflict path.
type racingStore struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func (r *racingStore) ProspectExists(context.Context, string) (bool, error) { return false, r.err }

func (r *racingStore) InsertProspect(_ context.Context, p *model.Prospect) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keys[p.NaturalKey] {
		return false, nil
	}
	r.keys[p.NaturalKey] = true
	return true, nil
}

func TestSession_InsertConflictCountsAsExisting(t *testing.T) {
	rs := &racingStore{keys: map[string]bool{"acmeplumbing.com": true}}
	s := NewSession("job-4", keywordSearch{}, DefaultRegistry(nil), rs)

	require.NoError(t, s.Process(context.Background(), Query{Platform: "website", Keyword: "x"}))
	assert.Equal(t, int64(1), s.Summary()["existing"])
	assert.Equal(t, int64(1), s.Inserted())
}

func TestSession_StoreError(t *testing.T) {
	rs := &racingStore{keys: map[string]bool{}, err: errors.New("db down")}
	s := NewSession("job-5", keywordSearch{}, DefaultRegistry(nil), rs)
	assert.Error(t, s.Process(context.Background(), Query{Platform: "website", Keyword: "x"}))
}

// flakyStore fails the first existence check, then behaves.
type flakyStore struct {
	racingStore
	failed bool
}

func (f *flakyStore) ProspectExists(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.failed {
		f.failed = true
		return false, errors.New("db busy")
	}
	return false, nil
}

func TestSession_StoreErrorDoesNotMarkKeySeen(t *testing.T) {
	fs := &flakyStore{racingStore: racingStore{keys: map[string]bool{}}}
	s := NewSession("job-6", keywordSearch{}, DefaultRegistry(nil), fs)
	ctx := context.Background()

	require.Error(t, s.Process(ctx, Query{Platform: "website", Keyword: "plumber"}))
	assert.Equal(t, int64(0), s.Inserted())

	// A later query in the same run finds the same business again.
	require.NoError(t, s.Process(ctx, Query{Platform: "website", Keyword: "drain"}))
	assert.Equal(t, int64(2), s.Inserted())
	assert.Equal(t, int64(0), s.Summary()["duplicate"])
	assert.True(t, fs.keys["acmeplumbing.com"])
}

package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func TestQueries_Product(t *testing.T) {
	qs := Queries(model.DiscoverParams{
		Platforms: []string{"website", "instagram"},
		Keywords:  []string{"bakery", " ", "bakery", "cafe"},
		Locations: []string{"Austin", "Denver"},
	})
	assert.Len(t, qs, 8)
	assert.Equal(t, Query{Platform: "website", Keyword: "bakery", Location: "Austin"}, qs[0])
	assert.Equal(t, Query{Platform: "instagram", Keyword: "cafe", Location: "Denver"}, qs[7])
}

func TestQueries_NoLocationsAndCap(t *testing.T) {
	qs := Queries(model.DiscoverParams{
		Platforms:  []string{"website"},
		Keywords:   []string{"a", "b", "c"},
		MaxQueries: 2,
	})
	assert.Equal(t, []Query{{Platform: "website", Keyword: "a"}, {Platform: "website", Keyword: "b"}}, qs)
}

func TestParsePlan(t *testing.T) {
	p, err := ParsePlan([]byte(`
platforms: [website, tiktok]
keywords:
  - florist
locations: ["Boise, ID"]
max_queries: 10
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"website", "tiktok"}, p.Platforms)
	assert.Equal(t, []string{"florist"}, p.Keywords)
	assert.Equal(t, []string{"Boise, ID"}, p.Locations)
	assert.Equal(t, 10, p.MaxQueries)

	_, err = ParsePlan([]byte("keywordz: [x]\n"))
	assert.Error(t, err)

	empty, err := ParsePlan(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Keywords)
}

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keywords: [roofing]\n"), 0o600))

	p, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"roofing"}, p.Keywords)

	_, err = LoadPlan(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	got := Merge(model.DiscoverParams{Keywords: []string{"x"}}, model.DiscoverParams{
		Platforms: []string{"website"}, Keywords: []string{"y"}, Locations: []string{"z"}, MaxQueries: 5,
	})
	assert.Equal(t, []string{"website"}, got.Platforms)
	assert.Equal(t, []string{"x"}, got.Keywords)
	assert.Equal(t, []string{"z"}, got.Locations)
	assert.Equal(t, 5, got.MaxQueries)
}

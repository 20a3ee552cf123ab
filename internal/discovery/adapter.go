// Package discovery turns search results into prospects. Each platform has
// an Adapter; a run fans many generated queries out through them and a
// Session collapses the results to one insert per natural key.
package discovery

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/provider"
)

// Query is one generated search.
type Query struct {
	Platform string `json:"platform"`
	Keyword  string `json:"keyword"`
	Location string `json:"location,omitempty"`
}

// Adapter discovers prospects on one platform.
type Adapter interface {
	// Platform returns the registry name, e.g. "website" or "instagram".
	Platform() string
	// Discover runs q against search and returns normalized prospects.
	// Results that do not identify a prospect are dropped.
	Discover(ctx context.Context, search provider.SearchProvider, q Query) ([]model.Prospect, error)
}

// Registry is the platform lookup table.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// DefaultRegistry registers the website adapter and every social adapter.
// blocklist extends the built-in directory hosts the website adapter skips.
func DefaultRegistry(blocklist []string) *Registry {
	r := NewRegistry()
	r.Register(NewWebsiteAdapter(blocklist))
	for _, a := range SocialAdapters() {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Platform()] = a
}

// Get returns the adapter for platform.
func (r *Registry) Get(platform string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[platform]
	if !ok {
		return nil, eris.Errorf("discovery: no adapter for platform %q", platform)
	}
	return a, nil
}

// Platforms returns the registered platform names, sorted.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

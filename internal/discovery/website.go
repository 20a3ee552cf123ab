package discovery

import (
	"context"
	"math"
	"strings"

	"github.com/sells-group/outreach-cli/internal/dedup"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/provider"
)

// directoryHosts are listing and social sites that show up in web search
// but are never the prospect's own site.
var directoryHosts = []string{
	"yelp.com", "yellowpages.com", "bbb.org", "mapquest.com", "tripadvisor.com",
	"facebook.com", "instagram.com", "linkedin.com", "twitter.com", "x.com",
	"youtube.com", "tiktok.com", "pinterest.com", "reddit.com", "wikipedia.org",
	"google.com", "amazon.com", "etsy.com", "nextdoor.com", "angi.com",
}

// WebsiteAdapter turns web and places results into website prospects keyed
// by registrable domain.
type WebsiteAdapter struct {
	blocked map[string]bool
}

// NewWebsiteAdapter returns a website adapter that also skips the given
// hosts and their subdomains.
func NewWebsiteAdapter(blocklist []string) *WebsiteAdapter {
	blocked := make(map[string]bool, len(directoryHosts)+len(blocklist))
	for _, h := range directoryHosts {
		blocked[h] = true
	}
	for _, h := range blocklist {
		if key, err := dedup.DomainKey(h); err == nil {
			blocked[key] = true
		}
	}
	return &WebsiteAdapter{blocked: blocked}
}

// Platform implements Adapter.
func (a *WebsiteAdapter) Platform() string { return "website" }

// Discover implements Adapter.
func (a *WebsiteAdapter) Discover(ctx context.Context, search provider.SearchProvider, q Query) ([]model.Prospect, error) {
	results, err := search.Query(ctx, q.Keyword, q.Location)
	if err != nil {
		return nil, err
	}

	out := make([]model.Prospect, 0, len(results))
	for _, r := range results {
		domain, err := dedup.DomainKey(r.URL)
		if err != nil || a.blocked[domain] {
			continue
		}

		p := model.NewProspect(model.SourceWebsite, domain)
		p.Domain = domain
		p.Website = "https://" + domain
		p.Name = firstNonEmpty(r.Name, cleanTitle(r.Title))
		p.Category = r.Category
		p.Location = firstNonEmpty(r.Location, q.Location)
		p.Description = r.Snippet
		p.Keywords = []string{q.Keyword}
		p.Authority = estimateAuthority(r)
		out = append(out, p)
	}
	return out, nil
}

// estimateAuthority derives a 0-100 estimate from review signals. Results
// without reviews leave authority unknown.
func estimateAuthority(r provider.RawResult) *float64 {
	if r.Reviews <= 0 {
		return nil
	}
	// Rating contributes up to 50, review volume up to 50 (1000+ reviews).
	v := (r.Rating/5)*50 + math.Min(math.Log10(float64(r.Reviews)+1)/3, 1)*50
	v = math.Round(math.Max(0, math.Min(100, v))*100) / 100
	return &v
}

// cleanTitle drops the trailing " | Site" or " - Tagline" part of a page title.
func cleanTitle(t string) string {
	for _, sep := range []string{" | ", " - ", " – ", " — "} {
		if i := strings.Index(t, sep); i > 0 {
			t = t[:i]
		}
	}
	return strings.TrimSpace(t)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

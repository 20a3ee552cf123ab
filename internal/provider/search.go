package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/google"
	"github.com/sells-group/outreach-cli/pkg/jina"
)

// JinaSearch adapts the Jina search API.
type JinaSearch struct {
	client jina.Client
}

// NewJinaSearch wraps c.
func NewJinaSearch(c jina.Client) *JinaSearch { return &JinaSearch{client: c} }

// Query implements SearchProvider.
func (s *JinaSearch) Query(ctx context.Context, text, location string) ([]RawResult, error) {
	var opts []jina.SearchOption
	if location != "" {
		opts = append(opts, jina.WithLocation(location))
	}
	resp, err := s.client.Search(ctx, text, opts...)
	if err != nil {
		return nil, classify(err)
	}

	out := make([]RawResult, 0, len(resp.Data))
	for _, r := range resp.Data {
		if r.URL == "" {
			continue
		}
		snippet := r.Description
		if snippet == "" {
			snippet = truncate(r.Content, 300)
		}
		out = append(out, RawResult{
			Title:    r.Title,
			URL:      r.URL,
			Snippet:  snippet,
			Location: location,
		})
	}
	return out, nil
}

// PlacesSearch adapts Google Places text search. Places without a website
// are dropped; they have no natural key.
type PlacesSearch struct {
	client   google.Client
	pageSize int
}

// NewPlacesSearch wraps c.
func NewPlacesSearch(c google.Client) *PlacesSearch { return &PlacesSearch{client: c, pageSize: 20} }

// Query implements SearchProvider.
func (s *PlacesSearch) Query(ctx context.Context, text, location string) ([]RawResult, error) {
	q := text
	if location != "" {
		q = text + " in " + location
	}
	resp, err := s.client.TextSearch(ctx, google.TextSearchRequest{Query: q, PageSize: s.pageSize})
	if err != nil {
		return nil, classify(err)
	}

	out := make([]RawResult, 0, len(resp.Places))
	for _, p := range resp.Places {
		if p.WebsiteURI == "" {
			continue
		}
		out = append(out, RawResult{
			Title:    p.DisplayName.Text,
			URL:      p.WebsiteURI,
			Name:     p.DisplayName.Text,
			Category: p.PrimaryTypeDisplayName.Text,
			Location: p.FormattedAddress,
			Rating:   p.Rating,
			Reviews:  p.UserRatingCount,
		})
	}
	return out, nil
}

// classify marks retryable HTTP statuses from the pkg clients as transient.
func classify(err error) error {
	code := statusCode(err)
	if code != 0 && resilience.TransientStatus(code) {
		return resilience.Transient(err, code)
	}
	return err
}

func statusCode(err error) int {
	var je *jina.StatusError
	if errors.As(err, &je) {
		return je.Code
	}
	var ge *google.StatusError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return hunterStatus(err)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// NewSearch selects the configured search backend.
func NewSearch(name string, j jina.Client, g google.Client) (SearchProvider, error) {
	switch name {
	case "jina":
		if j == nil {
			return nil, eris.New("provider: jina client not configured")
		}
		return NewJinaSearch(j), nil
	case "google":
		if g == nil {
			return nil, eris.New("provider: google client not configured")
		}
		return NewPlacesSearch(g), nil
	}
	return nil, eris.Errorf("provider: unknown search provider %q", name)
}

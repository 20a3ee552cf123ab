package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/provider"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

type mapFetcher struct {
	pages map[string]string
	err   error
	calls []string
}

func (f *mapFetcher) Name() string { return "map" }

func (f *mapFetcher) Fetch(_ context.Context, url string) (*Page, error) {
	f.calls = append(f.calls, url)
	if f.err != nil {
		return nil, f.err
	}
	html, ok := f.pages[url]
	if !ok {
		return nil, errors.New("404")
	}
	return &Page{URL: url, HTML: html}, nil
}

type stubFinder struct {
	found []provider.CandidateEmail
	err   error
	calls int
}

func (f *stubFinder) FindForDomain(context.Context, string) ([]provider.CandidateEmail, error) {
	f.calls++
	return f.found, f.err
}

func site(domain string) model.Prospect {
	p := model.NewProspect(model.SourceWebsite, domain)
	p.Domain = domain
	p.Website = "https://" + domain
	return p
}

func TestEnrich_HomepageHit(t *testing.T) {
	f := &mapFetcher{pages: map[string]string{"https://acme.com": `<a href="mailto:hi@acme.com">mail</a>`}}
	fin := &stubFinder{}

	res, err := New(f, fin, 3).Enrich(context.Background(), site("acme.com"))
	require.NoError(t, err)
	assert.Equal(t, "hi@acme.com", res.Email)
	assert.Equal(t, 95.0, res.Confidence)
	assert.Equal(t, 1, res.Pages)
	assert.Zero(t, fin.calls)
}

func TestEnrich_FollowsContactPage(t *testing.T) {
	f := &mapFetcher{pages: map[string]string{
		"https://acme.com":         `<a href="/contact">Contact</a><a href="/team">Team</a>`,
		"https://acme.com/contact": `<p>reach us: team@acme.com</p>`,
	}}

	res, err := New(f, nil, 3).Enrich(context.Background(), site("acme.com"))
	require.NoError(t, err)
	assert.Equal(t, "team@acme.com", res.Email)
	assert.Equal(t, 2, res.Pages)
}

func TestEnrich_PageLimit(t *testing.T) {
	f := &mapFetcher{pages: map[string]string{
		"https://acme.com":       `<a href="/about">About</a><a href="/contact">Contact</a>`,
		"https://acme.com/about": `<p>nothing</p>`,
	}}

	res, err := New(f, nil, 2).Enrich(context.Background(), site("acme.com"))
	require.NoError(t, err)
	assert.False(t, res.Found())
	assert.Equal(t, []string{"https://acme.com", "https://acme.com/about"}, f.calls)
}

func TestEnrich_FinderFallback(t *testing.T) {
	f := &mapFetcher{pages: map[string]string{"https://acme.com": `<p>no mail</p>`}}
	fin := &stubFinder{found: []provider.CandidateEmail{{Address: "Jane@acme.com", Confidence: 88, Source: "hunter"}}}

	res, err := New(f, fin, 1).Enrich(context.Background(), site("acme.com"))
	require.NoError(t, err)
	assert.Equal(t, "jane@acme.com", res.Email)
	assert.Equal(t, 88.0, res.Confidence)
	assert.Equal(t, "hunter", res.Source)
}

func TestEnrich_NothingFound(t *testing.T) {
	f := &mapFetcher{pages: map[string]string{"https://acme.com": `<p>no mail</p>`}}
	res, err := New(f, &stubFinder{}, 1).Enrich(context.Background(), site("acme.com"))
	require.NoError(t, err)
	assert.False(t, res.Found())
}

func TestEnrich_SiteDownFinderAnswers(t *testing.T) {
	f := &mapFetcher{err: errors.New("dns")}
	res, err := New(f, &stubFinder{}, 1).Enrich(context.Background(), site("acme.com"))
	require.NoError(t, err)
	assert.False(t, res.Found())
}

func TestEnrich_BothFail(t *testing.T) {
	f := &mapFetcher{err: errors.New("dns")}
	_, err := New(f, &stubFinder{err: errors.New("401")}, 1).Enrich(context.Background(), site("acme.com"))
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))

	_, err = New(f, &stubFinder{err: resilience.Transient(errors.New("429"), 429)}, 1).
		Enrich(context.Background(), site("acme.com"))
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestEnrich_TransientFinderAfterScrapeIsRetried(t *testing.T) {
	f := &mapFetcher{pages: map[string]string{"https://acme.com": `<p>no mail</p>`}}
	_, err := New(f, &stubFinder{err: resilience.Transient(errors.New("503"), 503)}, 1).
		Enrich(context.Background(), site("acme.com"))
	assert.True(t, resilience.IsTransient(err))

	_, err = New(f, &stubFinder{err: errors.New("400")}, 1).Enrich(context.Background(), site("acme.com"))
	assert.NoError(t, err)
}

func TestEnrich_SocialUsesBio(t *testing.T) {
	p := model.NewProspect(model.SourceSocial, "instagram:acme")
	p.Description = "Bakery in Austin. Orders: orders@acmebakes.com"
	f := &mapFetcher{}

	res, err := New(f, nil, 1).Enrich(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "orders@acmebakes.com", res.Email)
	assert.Empty(t, f.calls)
}

func TestHTTPFetcher(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte(`<html><body><a href="mailto:a@b.com">x</a></body></html>`))
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/cf":
			w.Header().Set("cf-ray", "abc")
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	f := NewHTTPFetcher()
	page, err := f.Fetch(context.Background(), ts.URL+"/")
	require.NoError(t, err)
	assert.Contains(t, page.HTML, "mailto:a@b.com")
	assert.Equal(t, "http", page.Source)

	_, err = f.Fetch(context.Background(), ts.URL+"/busy")
	assert.True(t, resilience.IsTransient(err))

	_, err = f.Fetch(context.Background(), ts.URL+"/cf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cloudflare")

	_, err = f.Fetch(context.Background(), ts.URL+"/missing")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestChain_FallsThrough(t *testing.T) {
	first := &mapFetcher{err: errors.New("blocked")}
	second := &mapFetcher{pages: map[string]string{"https://x.com": "<p>ok</p>"}}

	page, err := NewChain(first, second).Fetch(context.Background(), "https://x.com")
	require.NoError(t, err)
	assert.Equal(t, "<p>ok</p>", page.HTML)

	_, err = NewChain(first).Fetch(context.Background(), "https://x.com")
	assert.Error(t, err)
	_, err = NewChain().Fetch(context.Background(), "https://x.com")
	assert.Error(t, err)
}

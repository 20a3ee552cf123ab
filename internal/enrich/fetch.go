// Package enrich finds contact emails for prospects by scraping their
// pages before falling back to an email finder.
package enrich

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/provider"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/jina"
)

// Page is fetched HTML.
type Page struct {
	URL    string
	HTML   string
	Source string
}

// Fetcher retrieves one URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
	Name() string
}

// HTTPFetcher fetches pages directly. Free, but bot walls stop it.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher returns a fetcher with conservative timeouts.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

func (f *HTTPFetcher) Name() string { return "http" }

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, target string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; OutreachBot/1.0)")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, eris.Wrap(err, "enrich: read body")
	}
	if blocked, kind := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("enrich: blocked (%s)", kind)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, resilience.Transient(eris.Errorf("enrich: status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("enrich: status %d", resp.StatusCode)
	}
	return &Page{URL: target, HTML: string(body), Source: f.Name()}, nil
}

// BlockType names a bot wall.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// DetectBlock checks a response for anti-bot protection.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("server") == "cloudflare" {
			return true, BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))
	if strings.Contains(lower, "checking your browser") || strings.Contains(lower, "cf-browser-verification") {
		return true, BlockCloudflare
	}
	if strings.Contains(lower, "g-recaptcha") || strings.Contains(lower, "h-captcha") {
		return true, BlockCaptcha
	}
	if len(body) < 2000 && strings.Contains(lower, "<noscript") && strings.Contains(lower, "enable javascript") {
		return true, BlockJSShell
	}
	return false, BlockNone
}

// JinaFetcher renders pages through the Jina reader, which gets past most
// bot walls.
type JinaFetcher struct {
	client jina.Client
}

// NewJinaFetcher wraps c.
func NewJinaFetcher(c jina.Client) *JinaFetcher { return &JinaFetcher{client: c} }

func (f *JinaFetcher) Name() string { return "jina" }

// Fetch implements Fetcher.
func (f *JinaFetcher) Fetch(ctx context.Context, target string) (*Page, error) {
	resp, err := f.client.Read(ctx, target)
	if err != nil {
		var se *jina.StatusError
		if errors.As(err, &se) && resilience.TransientStatus(se.Code) {
			return nil, resilience.Transient(err, se.Code)
		}
		return nil, err
	}
	return &Page{URL: target, HTML: resp.Data.Content, Source: f.Name()}, nil
}

// Guarded runs every fetch through g, budgeted as the named provider.
func Guarded(g *provider.Guard, name string, f Fetcher) Fetcher {
	return guardedFetcher{g: g, name: name, next: f}
}

type guardedFetcher struct {
	g    *provider.Guard
	name string
	next Fetcher
}

func (f guardedFetcher) Name() string { return f.next.Name() }

func (f guardedFetcher) Fetch(ctx context.Context, target string) (*Page, error) {
	return provider.Call(ctx, f.g, f.name, "fetch", func(ctx context.Context) (*Page, error) {
		return f.next.Fetch(ctx, target)
	})
}

// Chain tries fetchers in order and returns the first page.
type Chain struct {
	fetchers []Fetcher
}

// NewChain builds a chain. Order is priority.
func NewChain(fetchers ...Fetcher) *Chain {
	return &Chain{fetchers: fetchers}
}

// Fetch implements Fetcher.
func (c *Chain) Fetch(ctx context.Context, target string) (*Page, error) {
	var lastErr error
	for _, f := range c.fetchers {
		page, err := f.Fetch(ctx, target)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		zap.L().Debug("enrich: fetcher failed, trying next",
			zap.String("fetcher", f.Name()),
			zap.String("url", target),
			zap.Error(err),
		)
		lastErr = err
	}
	if lastErr == nil {
		return nil, eris.New("enrich: no fetchers configured")
	}
	return nil, eris.Wrap(lastErr, "enrich: all fetchers failed")
}

func (c *Chain) Name() string { return "chain" }

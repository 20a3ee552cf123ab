// Package jina provides a client for the Jina AI reader and search API.
package jina

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the Jina AI operations.
type Client interface {
	// Read fetches a URL via Jina AI Reader and returns its content.
	Read(ctx context.Context, targetURL string) (*ReadResponse, error)
	// Search performs a web search and returns ranked results.
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// ReadResponse is the parsed Jina reader response.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

// ReadData holds the content from Jina.
type ReadData struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// SearchResponse is the parsed Jina search response.
type SearchResponse struct {
	Code int            `json:"code"`
	Data []SearchResult `json:"data"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jina: %s status %d: %s", e.Op, e.Code, e.Body)
}

// SearchOption configures a search request.
type SearchOption func(*searchOpts)

type searchOpts struct {
	site     string
	location string
}

// WithSiteFilter restricts results to a domain, e.g. "instagram.com".
func WithSiteFilter(domain string) SearchOption {
	return func(o *searchOpts) { o.site = domain }
}

// WithLocation biases results toward a place name.
func WithLocation(loc string) SearchOption {
	return func(o *searchOpts) { o.location = loc }
}

// Option configures the Jina client.
type Option func(*httpClient)

// WithBaseURL sets a custom reader base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithSearchBaseURL sets a custom search base URL.
func WithSearchBaseURL(u string) Option {
	return func(c *httpClient) { c.searchBaseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey        string
	baseURL       string
	searchBaseURL string
	http          *http.Client
}

// NewClient creates a Jina client. Retries are left to the caller.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:        apiKey,
		baseURL:       "https://r.jina.ai",
		searchBaseURL: "https://s.jina.ai",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) do(req *http.Request, op string, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "jina: %s request", op)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return eris.Wrapf(err, "jina: %s read body", op)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Op: op, Code: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "jina: %s unmarshal", op)
	}
	return nil
}

func (c *httpClient) Read(ctx context.Context, targetURL string) (*ReadResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create read request")
	}
	req.Header.Set("X-Return-Format", "html")

	var out ReadResponse
	if err := c.do(req, "read", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	so := &searchOpts{}
	for _, opt := range opts {
		opt(so)
	}

	q := url.Values{}
	q.Set("q", query)
	if so.site != "" {
		q.Set("site", so.site)
	}
	if so.location != "" {
		q.Set("location", so.location)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchBaseURL+"/?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create search request")
	}

	var out SearchResponse
	if err := c.do(req, "search", &out); err != nil {
		// Jina answers 422 when a query has no results.
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusUnprocessableEntity {
			return &SearchResponse{Code: se.Code}, nil
		}
		return nil, err
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

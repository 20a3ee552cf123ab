// Package hunter provides a client for the Hunter email finder and
// verifier API.
package hunter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.hunter.io/v2"

// Client defines the Hunter operations used by enrichment.
type Client interface {
	DomainSearch(ctx context.Context, domain string) (*DomainSearchResponse, error)
	VerifyEmail(ctx context.Context, email string) (*VerifyResponse, error)
}

// DomainSearchResponse lists addresses Hunter knows for a domain.
type DomainSearchResponse struct {
	Data struct {
		Domain       string  `json:"domain"`
		Organization string  `json:"organization"`
		Emails       []Email `json:"emails"`
	} `json:"data"`
}

// Email is one address found for a domain.
type Email struct {
	Value      string `json:"value"`
	Type       string `json:"type"` // personal or generic
	Confidence int    `json:"confidence"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Position   string `json:"position"`
}

// VerifyResponse is the verifier's verdict.
type VerifyResponse struct {
	Data struct {
		Email  string `json:"email"`
		Status string `json:"status"`
		Result string `json:"result"`
		Score  int    `json:"score"`
	} `json:"data"`
}

// StatusError is returned for non-2xx responses. Hunter answers 202 while
// a verification is still running.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hunter: unexpected status %d: %s", e.Code, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Hunter client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) get(ctx context.Context, path string, q url.Values, out any) error {
	q.Set("api_key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return eris.Wrapf(err, "hunter: create request %s", path)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "hunter: send request %s", path)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "hunter: read response %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "hunter: unmarshal %s", path)
	}
	return nil
}

func (c *httpClient) DomainSearch(ctx context.Context, domain string) (*DomainSearchResponse, error) {
	var out DomainSearchResponse
	if err := c.get(ctx, "/domain-search", url.Values{"domain": {domain}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) VerifyEmail(ctx context.Context, email string) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := c.get(ctx, "/email-verifier", url.Values{"email": {email}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

package hunter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/domain-search", r.URL.Path)
		assert.Equal(t, "acme.com", r.URL.Query().Get("domain"))
		assert.Equal(t, "k", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(`{"data":{"domain":"acme.com","emails":[
			{"value":"jane@acme.com","type":"personal","confidence":94,"position":"Owner"},
			{"value":"info@acme.com","type":"generic","confidence":80}
		]}}`))
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	resp, err := c.DomainSearch(context.Background(), "acme.com")
	require.NoError(t, err)
	require.Len(t, resp.Data.Emails, 2)
	assert.Equal(t, "jane@acme.com", resp.Data.Emails[0].Value)
	assert.Equal(t, 94, resp.Data.Emails[0].Confidence)
	assert.Equal(t, "generic", resp.Data.Emails[1].Type)
}

func TestVerifyEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email-verifier", r.URL.Path)
		assert.Equal(t, "jane@acme.com", r.URL.Query().Get("email"))
		w.Write([]byte(`{"data":{"email":"jane@acme.com","status":"valid","result":"deliverable","score":97}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	resp, err := c.VerifyEmail(context.Background(), "jane@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "deliverable", resp.Data.Result)
	assert.Equal(t, 97, resp.Data.Score)
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"errors":[{"id":"too_many_requests"}]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	_, err := c.VerifyEmail(context.Background(), "jane@acme.com")

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
}

func TestMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`nope`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	_, err := c.DomainSearch(context.Background(), "acme.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

package provider

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/hunter"
)

// Hunter adapts the Hunter API as both EmailFinder and EmailVerifier.
type Hunter struct {
	client hunter.Client
}

// NewHunter wraps c.
func NewHunter(c hunter.Client) *Hunter { return &Hunter{client: c} }

// FindForDomain implements EmailFinder. Generic role addresses sort ahead
// of personal ones at equal confidence; they are the usual inbox for a
// cold first contact.
func (h *Hunter) FindForDomain(ctx context.Context, domain string) ([]CandidateEmail, error) {
	resp, err := h.client.DomainSearch(ctx, domain)
	if err != nil {
		return nil, classify(err)
	}

	out := make([]CandidateEmail, 0, len(resp.Data.Emails))
	generic := make(map[string]bool)
	for _, e := range resp.Data.Emails {
		addr := strings.ToLower(strings.TrimSpace(e.Value))
		if addr == "" {
			continue
		}
		generic[addr] = e.Type == "generic"
		out = append(out, CandidateEmail{
			Address:    addr,
			Confidence: float64(e.Confidence),
			Source:     "hunter",
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return generic[out[i].Address] && !generic[out[j].Address]
	})
	return out, nil
}

// Verify implements EmailVerifier. A 202 means the check is still running
// upstream and is retried.
func (h *Hunter) Verify(ctx context.Context, email string) (Verification, error) {
	resp, err := h.client.VerifyEmail(ctx, email)
	if err != nil {
		if hunterStatus(err) == http.StatusAccepted {
			return Verification{}, resilience.Transient(err, http.StatusAccepted)
		}
		return Verification{}, classify(err)
	}
	return Verification{
		Email:  email,
		Result: verdict(resp.Data.Result, resp.Data.Status),
		Score:  float64(resp.Data.Score),
	}, nil
}

func verdict(result, status string) VerificationResult {
	switch result {
	case "deliverable":
		return Deliverable
	case "undeliverable":
		return Undeliverable
	case "risky":
		return Risky
	}
	switch status {
	case "valid":
		return Deliverable
	case "invalid", "disposable":
		return Undeliverable
	case "accept_all", "webmail":
		return Risky
	}
	return Unknown
}

func hunterStatus(err error) int {
	var he *hunter.StatusError
	if errors.As(err, &he) {
		return he.Code
	}
	return 0
}

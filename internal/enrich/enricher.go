package enrich

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/provider"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Result is the outcome of enriching one prospect.
type Result struct {
	Email      string
	Confidence float64
	Source     string
	// Pages counts fetched pages.
	Pages int
}

// Found reports whether an address was found.
func (r Result) Found() bool { return r.Email != "" }

// Enricher scrapes a prospect's site for an address and falls back to an
// EmailFinder. Either collaborator may be nil.
type Enricher struct {
	fetcher  Fetcher
	finder   provider.EmailFinder
	maxPages int
}

// New returns an Enricher that fetches at most maxPages pages per prospect.
func New(fetcher Fetcher, finder provider.EmailFinder, maxPages int) *Enricher {
	if maxPages <= 0 {
		maxPages = 3
	}
	return &Enricher{fetcher: fetcher, finder: finder, maxPages: maxPages}
}

// Enrich looks for a contact address. A nil error with no email means the
// search was completed and found nothing. An error means no conclusion
// could be reached; IsTransient tells whether a later attempt may succeed.
func (e *Enricher) Enrich(ctx context.Context, p model.Prospect) (Result, error) {
	if p.SourceKind == model.SourceSocial {
		return best(ExtractText(p.Description, ""), 0), nil
	}

	res, fetchErr := e.scrape(ctx, p)
	if res.Found() {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	var findErr error
	if e.finder != nil && p.Domain != "" {
		var found []provider.CandidateEmail
		found, findErr = e.finder.FindForDomain(ctx, p.Domain)
		if findErr == nil && len(found) > 0 {
			r := best(found, res.Pages)
			if r.Source == "" {
				r.Source = "finder"
			}
			return r, nil
		}
	}

	switch {
	case fetchErr == nil && findErr == nil:
		return res, nil
	case fetchErr == nil:
		if resilience.IsTransient(findErr) {
			return res, findErr
		}
		zap.L().Debug("enrich: finder failed after successful scrape",
			zap.String("prospect_id", p.ID), zap.Error(findErr))
		return res, nil
	case findErr == nil && e.finder != nil && p.Domain != "":
		// The finder answered for the domain; an unreachable site does not
		// change that there is no address.
		return res, nil
	default:
		return res, combine(fetchErr, findErr)
	}
}

func (e *Enricher) scrape(ctx context.Context, p model.Prospect) (Result, error) {
	if e.fetcher == nil {
		return Result{}, eris.New("enrich: no fetcher configured")
	}
	home := p.Website
	if home == "" && p.Domain != "" {
		home = "https://" + p.Domain
	}
	if home == "" {
		return Result{}, eris.New("enrich: prospect has no website")
	}

	page, err := e.fetcher.Fetch(ctx, home)
	if err != nil {
		return Result{}, err
	}
	pages := 1
	found := ExtractEmails(page.HTML, p.Domain)
	if len(found) > 0 {
		return best(found, pages), nil
	}

	for _, link := range ContactLinks(page.HTML, home) {
		if pages >= e.maxPages || ctx.Err() != nil {
			break
		}
		sub, err := e.fetcher.Fetch(ctx, link)
		if err != nil {
			continue
		}
		pages++
		if found := ExtractEmails(sub.HTML, p.Domain); len(found) > 0 {
			return best(found, pages), nil
		}
	}
	return Result{Pages: pages}, nil
}

func best(found []provider.CandidateEmail, pages int) Result {
	if len(found) == 0 {
		return Result{Pages: pages}
	}
	c := found[0]
	return Result{
		Email:      strings.ToLower(c.Address),
		Confidence: c.Confidence,
		Source:     c.Source,
		Pages:      pages,
	}
}

// combine keeps the error most worth reporting. Transient wins so the
// prospect is retried instead of failed.
func combine(fetchErr, findErr error) error {
	if findErr == nil {
		return fetchErr
	}
	err := errors.Join(fetchErr, findErr)
	if resilience.IsTransient(fetchErr) || resilience.IsTransient(findErr) {
		return resilience.Transient(err, 0)
	}
	return err
}

package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Acquirer hands out rate limit budget. *ratelimit.Limiter satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context, provider string) error
}

// Guard wraps every provider call: rate limit, per-attempt timeout, bounded
// retry on transient errors, and a circuit breaker per provider.
type Guard struct {
	limiter  Acquirer
	breakers *resilience.Breakers
	retry    resilience.RetryPolicy
	timeout  time.Duration
}

// NewGuard builds a guard. timeout applies to each attempt and must be
// positive.
func NewGuard(limiter Acquirer, breakers *resilience.Breakers, retry resilience.RetryPolicy, timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if breakers == nil {
		breakers = resilience.NewBreakers(resilience.BreakerConfig{})
	}
	return &Guard{limiter: limiter, breakers: breakers, retry: retry, timeout: timeout}
}

// Breakers exposes breaker states for health reporting.
func (g *Guard) Breakers() *resilience.Breakers { return g.breakers }

// Call runs fn under g for the named provider.
func Call[T any](ctx context.Context, g *Guard, name, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	policy := g.retry
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.LogRetries(name, op)
	}
	breaker := g.breakers.Get(name)

	v, err := resilience.RetryVal(ctx, policy, func(ctx context.Context) (T, error) {
		var zero T
		if g.limiter != nil {
			if err := g.limiter.Acquire(ctx, name); err != nil {
				monitoring.ProviderCalls.WithLabelValues(name, "rate_limited").Inc()
				return zero, err
			}
		}
		if err := breaker.Allow(); err != nil {
			monitoring.ProviderCalls.WithLabelValues(name, "circuit_open").Inc()
			return zero, err
		}

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		v, err := fn(callCtx)
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = resilience.Transient(eris.Wrapf(err, "provider: %s %s timed out", name, op), 0)
		}
		breaker.Record(err)
		if err != nil {
			monitoring.ProviderCalls.WithLabelValues(name, "error").Inc()
			return zero, err
		}
		monitoring.ProviderCalls.WithLabelValues(name, "ok").Inc()
		return v, nil
	})
	if err != nil {
		return v, eris.Wrapf(err, "provider: %s %s", name, op)
	}
	return v, nil
}

// Search guards a SearchProvider under the given provider name.
func (g *Guard) Search(name string, p SearchProvider) SearchProvider {
	return guardedSearch{g: g, name: name, next: p}
}

// Finder guards an EmailFinder.
func (g *Guard) Finder(name string, p EmailFinder) EmailFinder {
	return guardedFinder{g: g, name: name, next: p}
}

// Verifier guards an EmailVerifier.
func (g *Guard) Verifier(name string, p EmailVerifier) EmailVerifier {
	return guardedVerifier{g: g, name: name, next: p}
}

// Composer guards a MessageComposer.
func (g *Guard) Composer(name string, p MessageComposer) MessageComposer {
	return guardedComposer{g: g, name: name, next: p}
}

// Sender guards a MessageSender. Sends are never retried: a timed out
// attempt may still have been delivered.
func (g *Guard) Sender(name string, p MessageSender) MessageSender {
	once := *g
	once.retry.Attempts = 1
	return guardedSender{g: &once, name: name, next: p}
}

type guardedSearch struct {
	g    *Guard
	name string
	next SearchProvider
}

func (s guardedSearch) Query(ctx context.Context, text, location string) ([]RawResult, error) {
	return Call(ctx, s.g, s.name, "query", func(ctx context.Context) ([]RawResult, error) {
		return s.next.Query(ctx, text, location)
	})
}

type guardedFinder struct {
	g    *Guard
	name string
	next EmailFinder
}

func (f guardedFinder) FindForDomain(ctx context.Context, domain string) ([]CandidateEmail, error) {
	return Call(ctx, f.g, f.name, "find", func(ctx context.Context) ([]CandidateEmail, error) {
		return f.next.FindForDomain(ctx, domain)
	})
}

type guardedVerifier struct {
	g    *Guard
	name string
	next EmailVerifier
}

func (v guardedVerifier) Verify(ctx context.Context, email string) (Verification, error) {
	return Call(ctx, v.g, v.name, "verify", func(ctx context.Context) (Verification, error) {
		return v.next.Verify(ctx, email)
	})
}

type guardedComposer struct {
	g    *Guard
	name string
	next MessageComposer
}

func (c guardedComposer) Compose(ctx context.Context, cc ComposeContext) (Message, error) {
	return Call(ctx, c.g, c.name, "compose", func(ctx context.Context) (Message, error) {
		return c.next.Compose(ctx, cc)
	})
}

type guardedSender struct {
	g    *Guard
	name string
	next MessageSender
}

func (s guardedSender) Send(ctx context.Context, to, subject, body string) (SendReceipt, error) {
	return Call(ctx, s.g, s.name, "send", func(ctx context.Context) (SendReceipt, error) {
		return s.next.Send(ctx, to, subject, body)
	})
}

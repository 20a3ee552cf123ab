package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/monitoring"
)

// ErrBudgetExhausted is returned by Acquire when waiting for budget would
// outlive the caller's deadline. Nothing was called; retry in a later run.
var ErrBudgetExhausted = eris.New("ratelimit: budget exhausted")

// Limiter hands out per-provider call budgets. It fails open: a provider
// whose budget cannot be parsed, or whose bucket errors for a reason other
// than the caller's context, is let through and the event is logged.
type Limiter struct {
	mu       sync.Mutex
	specs    map[string]string
	buckets  map[string]*rate.Limiter
	fallback string
	warned   map[string]bool
	log      *zap.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used for fail-open warnings.
func WithLogger(log *zap.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

// New builds a limiter from the ratelimit config section. Budgets are
// parsed lazily so a bad entry only affects its own provider.
func New(cfg config.RateLimitConfig, opts ...Option) *Limiter {
	l := &Limiter{
		specs:    make(map[string]string, len(cfg.Providers)),
		buckets:  make(map[string]*rate.Limiter),
		fallback: cfg.Default,
		warned:   make(map[string]bool),
		log:      zap.L(),
	}
	for p, s := range cfg.Providers {
		l.specs[p] = s
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// SetLimit replaces the budget for a provider. The next Acquire starts a
// fresh bucket.
func (l *Limiter) SetLimit(provider, spec string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs[provider] = spec
	delete(l.buckets, provider)
	delete(l.warned, provider)
}

// Acquire blocks until provider has budget for one call. It returns ctx's
// error when ctx ends first and ErrBudgetExhausted when the wait would run
// past ctx's deadline.
func (l *Limiter) Acquire(ctx context.Context, provider string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bucket, err := l.bucket(provider)
	if err != nil {
		l.failOpen(provider, err)
		return nil
	}
	if bucket == nil {
		return nil
	}

	start := time.Now()
	err = bucket.Wait(ctx)
	monitoring.RateLimitWait.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok {
		// The wait would outlive the caller's deadline.
		return eris.Wrapf(ErrBudgetExhausted, "ratelimit: %s", provider)
	}
	l.failOpen(provider, err)
	return nil
}

func (l *Limiter) bucket(provider string) (*rate.Limiter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[provider]; ok {
		return b, nil
	}
	spec, ok := l.specs[provider]
	if !ok {
		spec = l.fallback
	}
	if spec == "" {
		return nil, nil
	}
	budget, err := ParseBudget(spec)
	if err != nil {
		return nil, err
	}
	b := budget.Limiter()
	l.buckets[provider] = b
	return b, nil
}

func (l *Limiter) failOpen(provider string, err error) {
	monitoring.RateLimitFailOpen.WithLabelValues(provider).Inc()

	l.mu.Lock()
	first := !l.warned[provider]
	l.warned[provider] = true
	l.mu.Unlock()

	if first {
		l.log.Warn("ratelimit: failing open",
			zap.String("provider", provider),
			zap.Error(err),
		)
	}
}

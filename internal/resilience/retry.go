package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
)

// RetryPolicy is exponential backoff with jitter.
type RetryPolicy struct {
	// Attempts counts the first try. 1 disables retries.
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is a fraction of the computed delay, applied as +/-.
	Jitter float64

	// Retryable defaults to IsTransient.
	Retryable func(error) bool
	// OnRetry runs before each sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy is three attempts starting at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   3,
		Initial:    500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.25,
	}
}

// RetryPolicyFrom builds a policy from config, keeping defaults for unset
// fields.
func RetryPolicyFrom(c config.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if c.MaxAttempts > 0 {
		p.Attempts = c.MaxAttempts
	}
	if c.InitialBackoffMs > 0 {
		p.Initial = time.Duration(c.InitialBackoffMs) * time.Millisecond
	}
	if c.MaxBackoffMs > 0 {
		p.Max = time.Duration(c.MaxBackoffMs) * time.Millisecond
	}
	if c.Multiplier > 0 {
		p.Multiplier = c.Multiplier
	}
	if c.JitterFraction >= 0 {
		p.Jitter = c.JitterFraction
	}
	return p
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.Multiplier <= 0 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// Backoff returns the delay before retry number attempt (zero based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	delay := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt))
	delay = math.Min(delay, float64(p.Max))
	if p.Jitter > 0 {
		delay += (rand.Float64()*2 - 1) * delay * p.Jitter
	}
	return time.Duration(math.Max(delay, 0))
}

// Retry runs fn until it succeeds, returns a non-retryable error, runs out
// of attempts or ctx ends. The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	_, err := RetryVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryVal is Retry for functions that return a value.
func RetryVal[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	var zero T
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		var v T
		if v, err = fn(ctx); err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !p.Retryable(err) || attempt == p.Attempts-1 {
			return zero, err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
	return zero, err
}

// LogRetries returns an OnRetry hook that logs at warn level.
func LogRetries(provider, op string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("resilience: retrying provider call",
			zap.String("provider", provider),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}

package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

type countingLimiter struct {
	calls atomic.Int32
	err   error
}

func (l *countingLimiter) Acquire(ctx context.Context, _ string) error {
	l.calls.Add(1)
	return l.err
}

type searchFunc func(ctx context.Context, text, location string) ([]RawResult, error)

func (f searchFunc) Query(ctx context.Context, text, location string) ([]RawResult, error) {
	return f(ctx, text, location)
}

type senderFunc func(ctx context.Context, to, subject, body string) (SendReceipt, error)

func (f senderFunc) Send(ctx context.Context, to, subject, body string) (SendReceipt, error) {
	return f(ctx, to, subject, body)
}

func testGuard(l Acquirer, threshold int, timeout time.Duration) *Guard {
	return NewGuard(l,
		resilience.NewBreakers(resilience.BreakerConfig{Threshold: threshold, Cooldown: time.Hour}),
		resilience.RetryPolicy{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond},
		timeout,
	)
}

func TestGuard_RetriesTransientAndAcquiresEachAttempt(t *testing.T) {
	lim := &countingLimiter{}
	g := testGuard(lim, 10, time.Second)

	var calls int
	s := g.Search("jina", searchFunc(func(context.Context, string, string) ([]RawResult, error) {
		calls++
		if calls < 3 {
			return nil, resilience.Transient(errors.New("429"), 429)
		}
		return []RawResult{{URL: "https://acme.com"}}, nil
	}))

	res, err := s.Query(context.Background(), "bakery", "austin")
	require.NoError(t, err)
	assert.Len(t, res, 1)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int32(3), lim.calls.Load())
}

func TestGuard_PermanentErrorNotRetried(t *testing.T) {
	g := testGuard(nil, 10, time.Second)

	var calls int
	s := g.Search("jina", searchFunc(func(context.Context, string, string) ([]RawResult, error) {
		calls++
		return nil, errors.New("401 unauthorized")
	}))

	_, err := s.Query(context.Background(), "bakery", "")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "provider: jina query")
}

func TestGuard_TimeoutPerAttempt(t *testing.T) {
	g := testGuard(nil, 10, 20*time.Millisecond)

	var calls int
	s := g.Search("google", searchFunc(func(ctx context.Context, _, _ string) ([]RawResult, error) {
		calls++
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	start := time.Now()
	_, err := s.Query(context.Background(), "bakery", "")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, 3, calls)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGuard_CircuitOpensAndShortCircuits(t *testing.T) {
	g := testGuard(nil, 2, time.Second)

	var calls int
	s := g.Search("hunter", searchFunc(func(context.Context, string, string) ([]RawResult, error) {
		calls++
		return nil, resilience.Transient(errors.New("503"), 503)
	}))

	_, err := s.Query(context.Background(), "x", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, 2, calls)

	_, err = s.Query(context.Background(), "x", "")
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, 2, calls)
	assert.Equal(t, resilience.Open, g.Breakers().States()["hunter"])
}

func TestGuard_LimiterErrorStopsCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := testGuard(&countingLimiter{err: context.Canceled}, 10, time.Second)

	var calls int
	s := g.Search("jina", searchFunc(func(context.Context, string, string) ([]RawResult, error) {
		calls++
		return nil, nil
	}))
	_, err := s.Query(ctx, "x", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, calls)
}

func TestGuard_SenderNeverRetried(t *testing.T) {
	g := testGuard(nil, 10, time.Second)

	var calls int
	s := g.Sender("smtp", senderFunc(func(context.Context, string, string, string) (SendReceipt, error) {
		calls++
		return SendReceipt{}, resilience.Transient(errors.New("421 try later"), 0)
	}))

	_, err := s.Send(context.Background(), "a@b.com", "hi", "body")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

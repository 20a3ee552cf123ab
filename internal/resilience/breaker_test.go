package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/config"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock, *[]string) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var changes []string
	b := NewBreaker("hunter", BreakerConfig{
		Threshold: threshold,
		Cooldown:  cooldown,
		OnChange: func(name string, from, to State) {
			changes = append(changes, name+":"+from.String()+"->"+to.String())
		},
	})
	b.now = clock.Now
	return b, clock, &changes
}

var errBoom = errors.New("boom")

func fail(context.Context) error { return errBoom }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _, changes := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for range 3 {
		assert.ErrorIs(t, b.Do(ctx, fail), errBoom)
	}
	assert.Equal(t, Open, b.State())

	err := b.Do(ctx, succeed)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, []string{"hunter:closed->open"}, *changes)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	require.NoError(t, b.Do(ctx, succeed))
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock, changes := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	require.Equal(t, Open, b.State())

	clock.Advance(time.Minute)
	assert.Equal(t, HalfOpen, b.State())

	// Failed probe reopens.
	assert.ErrorIs(t, b.Do(ctx, fail), errBoom)
	assert.Equal(t, Open, b.State())

	clock.Advance(time.Minute)
	require.NoError(t, b.Do(ctx, succeed))
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, []string{
		"hunter:closed->open",
		"hunter:open->half-open",
		"hunter:half-open->open",
		"hunter:open->half-open",
		"hunter:half-open->closed",
	}, *changes)
}

func TestBreaker_SingleProbeInFlight(t *testing.T) {
	b, clock, _ := newTestBreaker(1, time.Second)
	_ = b.Do(context.Background(), fail)
	clock.Advance(time.Second)

	require.NoError(t, b.Allow())
	assert.True(t, errors.Is(b.Allow(), ErrCircuitOpen))
	b.Record(nil)
	assert.NoError(t, b.Allow())
	b.Record(nil)
}

func TestBreaker_CancellationDoesNotCount(t *testing.T) {
	b, _, _ := newTestBreaker(1, time.Minute)
	_ = b.Do(context.Background(), func(context.Context) error { return context.Canceled })
	assert.Equal(t, Closed, b.State())
}

func TestBreakers_PerProvider(t *testing.T) {
	bs := NewBreakers(BreakerConfigFrom(config.CircuitConfig{FailureThreshold: 1, ResetTimeoutSecs: 60}))
	ctx := context.Background()

	_ = bs.Get("jina").Do(ctx, fail)
	require.NoError(t, bs.Get("hunter").Do(ctx, succeed))

	assert.Same(t, bs.Get("jina"), bs.Get("jina"))
	assert.Equal(t, map[string]State{"jina": Open, "hunter": Closed}, bs.States())
}

func TestBreakerConfigFrom_Defaults(t *testing.T) {
	bc := BreakerConfigFrom(config.CircuitConfig{})
	assert.Equal(t, 5, bc.Threshold)
	assert.Equal(t, 30*time.Second, bc.Cooldown)
}

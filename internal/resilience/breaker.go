package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/config"
)

// State is a circuit breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned without calling the provider while its breaker is open.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// BreakerConfig controls when a breaker opens and how long it stays open.
type BreakerConfig struct {
	Threshold int
	Cooldown  time.Duration
	OnChange  func(name string, from, to State)
}

// BreakerConfigFrom builds a breaker config from application config.
func BreakerConfigFrom(c config.CircuitConfig) BreakerConfig {
	bc := BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second}
	if c.FailureThreshold > 0 {
		bc.Threshold = c.FailureThreshold
	}
	if c.ResetTimeoutSecs > 0 {
		bc.Cooldown = time.Duration(c.ResetTimeoutSecs) * time.Second
	}
	return bc
}

// Breaker opens after Threshold consecutive failures. After Cooldown one
// probe call is let through; its outcome closes or reopens the circuit.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed. Every nil return must be
// followed by exactly one Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return eris.Wrapf(ErrCircuitOpen, "provider %s", b.name)
		}
		b.setState(HalfOpen)
		b.probing = true
		return nil
	case HalfOpen:
		if b.probing {
			return eris.Wrapf(ErrCircuitOpen, "provider %s probing", b.name)
		}
		b.probing = true
	}
	return nil
}

// Record reports the outcome of an allowed call. Caller cancellation does
// not count against the provider.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil || errors.Is(err, context.Canceled) {
		b.failures = 0
		if b.state != Closed {
			b.setState(Closed)
		}
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
		b.openedAt = b.now()
		if b.state != Open {
			b.setState(Open)
		}
	}
}

// Do runs fn through the breaker.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.Record(err)
	return err
}

// State returns the current state. An open breaker past its cooldown
// reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return HalfOpen
	}
	return b.state
}

func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	if b.cfg.OnChange != nil {
		b.cfg.OnChange(b.name, from, to)
	}
}

// Breakers holds one breaker per provider name.
type Breakers struct {
	cfg BreakerConfig

	mu sync.Mutex
	m  map[string]*Breaker
}

// NewBreakers returns an empty set sharing one config.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, m: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (bs *Breakers) Get(name string) *Breaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.m[name]
	if !ok {
		b = NewBreaker(name, bs.cfg)
		bs.m[name] = b
	}
	return b
}

// States snapshots every known breaker.
func (bs *Breakers) States() map[string]State {
	bs.mu.Lock()
	list := make(map[string]*Breaker, len(bs.m))
	for k, v := range bs.m {
		list[k] = v
	}
	bs.mu.Unlock()

	out := make(map[string]State, len(list))
	for k, b := range list {
		out[k] = b.State()
	}
	return out
}

// Package ratelimit throttles calls to external providers with per-provider
// token buckets.
package ratelimit

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Budget is an allowance of Count calls per Window.
type Budget struct {
	Count  int
	Window time.Duration
}

var units = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "second": time.Second,
	"m": time.Minute, "min": time.Minute, "minute": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hour": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour,
}

// ParseBudget parses strings like "100/hour", "5/second" or "1000/day".
func ParseBudget(s string) (Budget, error) {
	count, unit, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Budget{}, eris.Errorf("ratelimit: budget %q: want <count>/<unit>", s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || n <= 0 {
		return Budget{}, eris.Errorf("ratelimit: budget %q: count must be a positive integer", s)
	}
	unit = strings.ToLower(strings.TrimSpace(unit))
	w, ok := units[unit]
	if !ok {
		w, ok = units[strings.TrimSuffix(unit, "s")]
	}
	if !ok {
		return Budget{}, eris.Errorf("ratelimit: budget %q: unknown unit %q", s, unit)
	}
	return Budget{Count: n, Window: w}, nil
}

// Limiter returns a token bucket refilling Count tokens evenly over
// Window, with a burst of Count.
func (b Budget) Limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(b.Window/time.Duration(b.Count)), b.Count)
}

func (b Budget) String() string {
	return strconv.Itoa(b.Count) + "/" + b.Window.String()
}

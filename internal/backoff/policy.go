// Package backoff computes retry delays for a bounded retry budget.
package backoff

import (
	"math"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	// DefaultMaxAttempts is the number of attempts a single reconciliation gets.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the wait after the first failed attempt.
	DefaultBaseDelay = time.Second

	// DefaultMaxDelay caps the wait between attempts.
	DefaultMaxDelay = 10 * time.Second

	// DefaultFactor multiplies the delay after every failed attempt.
	DefaultFactor = 2.0
)

// Policy describes a bounded exponential retry budget.
// The zero value is not useful; use New or FromWaitBackoff.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// BaseDelay is the delay after attempt 0 fails.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay. Zero means uncapped.
	MaxDelay time.Duration

	// Factor is the growth multiplier. Values below 1 are treated as 1.
	Factor float64
}

// New returns a Policy with default delays and the given attempt budget.
// Budgets below 1 are raised to 1.
func New(maxAttempts int) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Factor:      DefaultFactor,
	}
}

// FromWaitBackoff converts apimachinery backoff parameters into a Policy.
// Steps becomes the attempt budget and Cap the delay ceiling. Jitter is ignored
// so that delays stay deterministic.
func FromWaitBackoff(b wait.Backoff) Policy {
	policy := New(b.Steps)
	policy.BaseDelay = b.Duration
	policy.MaxDelay = b.Cap
	policy.Factor = b.Factor

	return policy
}

// Next reports whether another attempt is allowed after attempt (zero based)
// has failed, and how long to wait before it.
func (p Policy) Next(attempt int) (time.Duration, bool) {
	if attempt < 0 || attempt+1 >= p.MaxAttempts {
		return 0, false
	}

	return p.Delay(attempt), true
}

// Delay returns the wait that follows failed attempt number attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 || p.BaseDelay <= 0 {
		return 0
	}

	factor := p.Factor
	if factor < 1 {
		factor = 1
	}

	delay := float64(p.BaseDelay) * math.Pow(factor, float64(attempt))

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}

	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(delay)
}
